package response

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidate_Confidence(t *testing.T) {
	tests := []struct {
		name  string
		value any
		valid bool
		err   string
	}{
		{"valid", map[string]any{"confidence": float64(85)}, true, ""},
		{"numeric string", map[string]any{"confidence": "85%"}, true, ""},
		{"missing", map[string]any{}, false, "confidence is required"},
		{"not numeric", map[string]any{"confidence": "high"}, false, "confidence must be numeric"},
		{"above range", map[string]any{"confidence": float64(140)}, false, "out of range"},
		{"below range", map[string]any{"confidence": float64(-1)}, false, "out of range"},
		{"not an object", []any{}, false, "must be a JSON object"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := Validate(tt.value)
			assert.Equal(t, tt.valid, v.Valid)
			if tt.err != "" {
				assert.NotEmpty(t, v.Errors)
				assert.Contains(t, v.Errors[0], tt.err)
			}
		})
	}
}

func TestValidate_Switchers(t *testing.T) {
	v := Validate(map[string]any{
		"confidence": float64(90),
		"switchers": []any{
			map[string]any{"name": "Stake", "selector": "button.stake"},
			map[string]any{"name": "Roobet", "coordinates": map[string]any{"x": float64(10), "y": float64(20)}},
			map[string]any{"selector": ".anon"},
			map[string]any{"name": "Gamdom"},
		},
	})
	assert.False(t, v.Valid)
	assert.Len(t, v.Errors, 1)
	assert.Contains(t, v.Errors[0], "switchers[3]")
	assert.Len(t, v.Warnings, 1)
	assert.Contains(t, v.Warnings[0], "switchers[2]")
}

func TestValidate_ExtractionRules(t *testing.T) {
	ok := Validate(map[string]any{
		"confidence": float64(90),
		"extraction_rules": map[string]any{
			"method":        "API",
			"api_endpoints": []any{"/api/lb/{provider}"},
			"selectors":     map[string]any{"username": ".name"},
		},
	})
	assert.True(t, ok.Valid, ok.Errors)

	bad := Validate(map[string]any{
		"confidence": float64(90),
		"extraction_rules": map[string]any{
			"method":        "ocr",
			"api_endpoints": "/api/lb",
			"selectors":     []any{".name"},
		},
	})
	assert.False(t, bad.Valid)
	assert.Len(t, bad.Errors, 3)
}

func TestValidate_Commands(t *testing.T) {
	v := Validate(map[string]any{
		"confidence": float64(40),
		"commands": []any{
			map[string]any{"action": "click", "selector": "#next"},
			map[string]any{"action": "scroll", "direction": "down"},
			map[string]any{"action": "eval", "script": "alert(1)"},
			map[string]any{"action": "click"},
			map[string]any{"action": "waitForSelector"},
			"click",
		},
	})
	assert.False(t, v.Valid)
	assert.Len(t, v.Errors, 4)
}

func TestValidate_CorrectionsWarning(t *testing.T) {
	v := Validate(map[string]any{"confidence": float64(90), "corrections": "none"})
	assert.True(t, v.Valid)
	assert.Len(t, v.Warnings, 1)
}

func TestNumber(t *testing.T) {
	tests := []struct {
		in   any
		want float64
		ok   bool
	}{
		{float64(3.5), 3.5, true},
		{7, 7, true},
		{"$1,250.50", 1250.5, true},
		{"85%", 85, true},
		{"", 0, false},
		{"n/a", 0, false},
		{true, 0, false},
		{nil, 0, false},
	}
	for _, tt := range tests {
		got, ok := number(tt.in)
		assert.Equal(t, tt.ok, ok, "%v", tt.in)
		assert.InDelta(t, tt.want, got, 0.0001, "%v", tt.in)
	}
}
