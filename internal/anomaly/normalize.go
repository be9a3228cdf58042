package anomaly

import (
	"fmt"
	"math"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/techdev-loop/leaderboard-sub002/internal/model"
)

var folder = cases.Fold()

// NormalizeUsername folds case and compatibility forms and collapses
// whitespace, so "Ｊｏｈｎ  Doe" and "john doe" compare equal.
func NormalizeUsername(name string) string {
	s := folder.String(norm.NFKC.String(name))
	return strings.Join(strings.Fields(s), " ")
}

// EntryFingerprint identifies an entry by normalized username, rounded
// wager and prize, and rank.
func EntryFingerprint(e model.Entry) string {
	return fmt.Sprintf("%s|%.0f|%.0f|%d", NormalizeUsername(e.Username), math.Round(e.Wager), math.Round(e.Prize), e.Rank)
}
