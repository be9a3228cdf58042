package response

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/techdev-loop/leaderboard-sub002/internal/browser"
)

// Validation lists problems found in an oracle response. Errors make the
// response unusable; warnings are logged and otherwise ignored.
type Validation struct {
	Valid    bool
	Errors   []string
	Warnings []string
}

var validate = validator.New()

var validMethods = map[string]bool{"api": true, "dom": true, "hybrid": true}

// Validate checks a decoded response: a numeric confidence in [0, 100] is
// required; switchers need a locator; extraction rules need a known method;
// automation commands must pass browser.ParseCommand.
func Validate(value any) Validation {
	v := Validation{}
	obj, ok := value.(map[string]any)
	if !ok {
		v.Errors = append(v.Errors, "response must be a JSON object")
		return v
	}

	raw, present := lookup(obj, "confidence")
	switch conf, isNum := number(raw); {
	case !present:
		v.Errors = append(v.Errors, "confidence is required")
	case !isNum:
		v.Errors = append(v.Errors, "confidence must be numeric")
	default:
		if err := validate.Var(conf, "gte=0,lte=100"); err != nil {
			v.Errors = append(v.Errors, fmt.Sprintf("confidence %.2f out of range 0-100", conf))
		}
	}

	if raw, ok := lookup(obj, "switchers"); ok {
		items, isList := raw.([]any)
		if !isList {
			v.Errors = append(v.Errors, "switchers must be an array")
		}
		for i, it := range items {
			sw, isObj := it.(map[string]any)
			if !isObj {
				v.Errors = append(v.Errors, fmt.Sprintf("switchers[%d] must be an object", i))
				continue
			}
			if !hasLocator(sw) {
				v.Errors = append(v.Errors, fmt.Sprintf("switchers[%d] needs a selector or coordinates", i))
			}
			if str(sw, "name", "keyword") == "" {
				v.Warnings = append(v.Warnings, fmt.Sprintf("switchers[%d] has no name", i))
			}
		}
	}

	if raw, ok := lookup(obj, "extraction_rules", "extractionRules", "rules"); ok {
		rules, isObj := raw.(map[string]any)
		if !isObj {
			v.Errors = append(v.Errors, "extraction_rules must be an object")
		} else {
			if m := str(rules, "method"); m != "" && !validMethods[strings.ToLower(m)] {
				v.Errors = append(v.Errors, fmt.Sprintf("extraction_rules.method %q must be api, dom or hybrid", m))
			}
			if eps, ok := lookup(rules, "api_endpoints", "apiEndpoints"); ok {
				if _, isList := eps.([]any); !isList {
					v.Errors = append(v.Errors, "extraction_rules.api_endpoints must be an array")
				}
			}
			if sels, ok := lookup(rules, "selectors"); ok {
				if _, isObj := sels.(map[string]any); !isObj {
					v.Errors = append(v.Errors, "extraction_rules.selectors must be an object")
				}
			}
		}
	}

	if raw, ok := lookup(obj, "commands", "actions"); ok {
		items, isList := raw.([]any)
		if !isList {
			v.Errors = append(v.Errors, "commands must be an array")
		}
		for i, it := range items {
			cmd, isObj := it.(map[string]any)
			if !isObj {
				v.Errors = append(v.Errors, fmt.Sprintf("commands[%d] must be an object", i))
				continue
			}
			if _, err := browser.ParseCommand(cmd); err != nil {
				v.Errors = append(v.Errors, fmt.Sprintf("commands[%d]: %s", i, err.Error()))
			}
		}
	}

	if raw, ok := lookup(obj, "corrections"); ok {
		if _, isList := raw.([]any); !isList {
			v.Warnings = append(v.Warnings, "corrections is not an array and will be ignored")
		}
	}

	v.Valid = len(v.Errors) == 0
	return v
}

func hasLocator(m map[string]any) bool {
	if str(m, "selector") != "" {
		return true
	}
	if c, ok := m["coordinates"].(map[string]any); ok {
		m = c
	}
	_, okX := number(m["x"])
	_, okY := number(m["y"])
	return okX && okY
}

// lookup returns the first present key.
func lookup(m map[string]any, keys ...string) (any, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func str(m map[string]any, keys ...string) string {
	v, _ := lookup(m, keys...)
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

// number accepts JSON numbers and numeric strings such as "$1,250.50" or "85%".
func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return n, true
	case int:
		return float64(n), true
	case string:
		s := strings.NewReplacer("$", "", ",", "", "%", "", " ", "").Replace(strings.TrimSpace(n))
		if s == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}
