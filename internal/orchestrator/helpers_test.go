package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/techdev-loop/leaderboard-sub002/internal/response"
)

func parseFields(t *testing.T, text string) response.Fields {
	t.Helper()
	r := response.ExtractJSON(text)
	require.True(t, r.OK, "fixture must parse")
	return response.ExtractFields(r.Value)
}
