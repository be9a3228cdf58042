package browser

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// Action is the kind of a Command.
type Action string

const (
	ActionClick           Action = "click"
	ActionScroll          Action = "scroll"
	ActionWait            Action = "wait"
	ActionWaitForSelector Action = "waitForSelector"
	ActionHover           Action = "hover"
)

const (
	defaultScrollAmount = 500
	defaultWait         = time.Second
	maxWait             = 10 * time.Second
	defaultWaitTimeout  = 5 * time.Second
)

// Command is one of Click, Hover, Scroll, Wait or WaitForSelector.
type Command interface {
	Action() Action
	String() string
	isCommand()
}

// Locator addresses an element by selector or by viewport coordinates.
type Locator struct {
	Selector string
	X, Y     int
	HasPoint bool
}

// Valid reports whether the locator can address anything.
func (l Locator) Valid() bool { return l.Selector != "" || l.HasPoint }

func (l Locator) String() string {
	if l.Selector != "" {
		return l.Selector
	}
	return fmt.Sprintf("(%d,%d)", l.X, l.Y)
}

type Click struct{ Target Locator }

type Hover struct{ Target Locator }

type Scroll struct {
	Direction string // up or down
	Amount    int
}

type Wait struct{ Duration time.Duration }

type WaitForSelector struct {
	Selector string
	Timeout  time.Duration
}

func (Click) Action() Action           { return ActionClick }
func (Hover) Action() Action           { return ActionHover }
func (Scroll) Action() Action          { return ActionScroll }
func (Wait) Action() Action            { return ActionWait }
func (WaitForSelector) Action() Action { return ActionWaitForSelector }

func (c Click) String() string           { return "click " + c.Target.String() }
func (c Hover) String() string           { return "hover " + c.Target.String() }
func (c Scroll) String() string          { return fmt.Sprintf("scroll %s %d", c.Direction, c.Amount) }
func (c Wait) String() string            { return "wait " + c.Duration.String() }
func (c WaitForSelector) String() string { return "waitForSelector " + c.Selector }

func (Click) isCommand()           {}
func (Hover) isCommand()           {}
func (Scroll) isCommand()          {}
func (Wait) isCommand()            {}
func (WaitForSelector) isCommand() {}

// ParseCommand converts one decoded JSON command into a Command. The action
// kind is read from "action" or "type"; anything outside the allow-list is
// rejected, as are click and waitForSelector commands without a locator.
func ParseCommand(raw map[string]any) (Command, error) {
	kind, _ := raw["action"].(string)
	if kind == "" {
		kind, _ = raw["type"].(string)
	}

	switch normalizeAction(kind) {
	case ActionClick:
		loc := parseLocator(raw)
		if !loc.Valid() {
			return nil, eris.New("browser: click requires a selector or coordinates")
		}
		return Click{Target: loc}, nil
	case ActionHover:
		loc := parseLocator(raw)
		if !loc.Valid() {
			return nil, eris.New("browser: hover requires a selector or coordinates")
		}
		return Hover{Target: loc}, nil
	case ActionScroll:
		dir := strings.ToLower(stringField(raw, "direction"))
		if dir != "up" {
			dir = "down"
		}
		amount, ok := intField(raw, "amount", "pixels")
		if !ok || amount <= 0 {
			amount = defaultScrollAmount
		}
		return Scroll{Direction: dir, Amount: amount}, nil
	case ActionWait:
		ms, ok := intField(raw, "ms", "duration", "timeout")
		d := defaultWait
		if ok && ms > 0 {
			d = time.Duration(ms) * time.Millisecond
		}
		if d > maxWait {
			d = maxWait
		}
		return Wait{Duration: d}, nil
	case ActionWaitForSelector:
		sel := stringField(raw, "selector")
		if sel == "" {
			return nil, eris.New("browser: waitForSelector requires a selector")
		}
		ms, ok := intField(raw, "timeout", "ms")
		timeout := defaultWaitTimeout
		if ok && ms > 0 {
			timeout = time.Duration(ms) * time.Millisecond
		}
		if timeout > maxWait {
			timeout = maxWait
		}
		return WaitForSelector{Selector: sel, Timeout: timeout}, nil
	}
	return nil, eris.Errorf("browser: unknown action %q", kind)
}

func normalizeAction(kind string) Action {
	switch strings.ToLower(strings.ReplaceAll(kind, "_", "")) {
	case "click":
		return ActionClick
	case "hover":
		return ActionHover
	case "scroll":
		return ActionScroll
	case "wait":
		return ActionWait
	case "waitforselector":
		return ActionWaitForSelector
	}
	return ""
}

func parseLocator(raw map[string]any) Locator {
	loc := Locator{Selector: stringField(raw, "selector")}
	if coords, ok := raw["coordinates"].(map[string]any); ok {
		raw = coords
	}
	x, okX := intField(raw, "x")
	y, okY := intField(raw, "y")
	if okX && okY {
		loc.X, loc.Y, loc.HasPoint = x, y, true
	}
	return loc
}

func stringField(raw map[string]any, key string) string {
	s, _ := raw[key].(string)
	return strings.TrimSpace(s)
}

// intField returns the first of keys holding a number or numeric string.
func intField(raw map[string]any, keys ...string) (int, bool) {
	for _, k := range keys {
		switch v := raw[k].(type) {
		case float64:
			return int(math.Round(v)), true
		case int:
			return v, true
		case string:
			if n, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
				return int(math.Round(n)), true
			}
		}
	}
	return 0, false
}
