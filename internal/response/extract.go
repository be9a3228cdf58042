// Package response turns free-form oracle output into validated, typed
// fields. Nothing here panics or relies on errors for control flow; each
// stage returns a result value the caller inspects.
package response

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
)

// Result is the outcome of ExtractJSON.
type Result struct {
	OK    bool
	Value any
	Err   error
}

var fencedBlock = regexp.MustCompile("(?s)```(?:json|JSON)?[ \t]*\r?\n?(.*?)```")

// ErrNoJSON is reported when the text contains no parsable JSON at all.
var ErrNoJSON = eris.New("response: no JSON object or array found")

// ExtractJSON finds structured data in oracle text. Fenced code blocks are
// tried first; otherwise each balanced {...} or [...] span is tried in order
// of appearance, skipping brackets inside string literals.
func ExtractJSON(text string) Result {
	for _, m := range fencedBlock.FindAllStringSubmatch(text, -1) {
		if v, ok := parse(m[1]); ok {
			return Result{OK: true, Value: v}
		}
		if span, ok := firstBalanced(m[1], 0); ok {
			if v, ok := parse(span); ok {
				return Result{OK: true, Value: v}
			}
		}
	}

	for start := 0; start < len(text); {
		idx := strings.IndexAny(text[start:], "{[")
		if idx < 0 {
			break
		}
		open := start + idx
		span, ok := firstBalanced(text, open)
		if ok {
			if v, ok := parse(span); ok {
				return Result{OK: true, Value: v}
			}
		}
		start = open + 1
	}

	return Result{Err: ErrNoJSON}
}

func parse(s string) (any, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, false
	}
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, false
	}
	switch v.(type) {
	case map[string]any, []any:
		return v, true
	}
	return nil, false
}

// firstBalanced returns the bracket span opening at or after from, counting
// depth across both bracket kinds and ignoring anything inside strings.
func firstBalanced(s string, from int) (string, bool) {
	idx := strings.IndexAny(s[from:], "{[")
	if idx < 0 {
		return "", false
	}
	start := from + idx

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}
