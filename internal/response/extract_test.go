package response

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSON_FencedAndPlainAgree(t *testing.T) {
	fenced := ExtractJSON("here is the result: ```json\n{\"a\":1}\n``` thanks")
	plain := ExtractJSON(`{"a":1}`)

	require.True(t, fenced.OK)
	require.True(t, plain.OK)
	assert.Equal(t, map[string]any{"a": float64(1)}, fenced.Value)
	assert.Equal(t, fenced.Value, plain.Value)
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name string
		text string
		want any
	}{
		{"fence without language", "```\n{\"confidence\": 90}\n```", map[string]any{"confidence": float64(90)}},
		{"narrative prefix", `I looked at the page. {"confidence": 70, "finished": true} Done.`,
			map[string]any{"confidence": float64(70), "finished": true}},
		{"array", `entries: [{"rank":1}]`, []any{map[string]any{"rank": float64(1)}}},
		{"braces inside strings", `{"note": "use } and { carefully", "ok": true}`,
			map[string]any{"note": "use } and { carefully", "ok": true}},
		{"escaped quote in string", `{"s": "say \"}\" now"}`, map[string]any{"s": `say "}" now`}},
		{"skips unparsable bracket span", `[see below] {"confidence": 55}`, map[string]any{"confidence": float64(55)}},
		{"nested", `{"a": {"b": [1, 2, {"c": null}]}}`,
			map[string]any{"a": map[string]any{"b": []any{float64(1), float64(2), map[string]any{"c": nil}}}}},
		{"broken fence falls back to scan", "```json\nnot json\n``` but {\"x\": 1}", map[string]any{"x": float64(1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := ExtractJSON(tt.text)
			require.True(t, res.OK, "err: %v", res.Err)
			assert.Equal(t, tt.want, res.Value)
		})
	}
}

func TestExtractJSON_Failures(t *testing.T) {
	for _, text := range []string{
		"",
		"no structure here",
		`{"unterminated": true`,
		`"just a string"`,
		"```json\n42\n```",
	} {
		res := ExtractJSON(text)
		assert.False(t, res.OK, text)
		assert.ErrorIs(t, res.Err, ErrNoJSON, text)
		assert.Nil(t, res.Value)
	}
}

func TestFirstBalanced(t *testing.T) {
	span, ok := firstBalanced(`xx {"a": [1, {"b": "]"}]} yy`, 0)
	require.True(t, ok)
	assert.Equal(t, `{"a": [1, {"b": "]"}]}`, span)

	_, ok = firstBalanced("no brackets", 0)
	assert.False(t, ok)
}
