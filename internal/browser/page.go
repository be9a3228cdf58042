// Package browser defines the page capability surface consumed from the
// headless browser and the closed set of commands the oracle may issue
// against it.
package browser

import (
	"context"
	"time"
)

// Page is a rendered page owned by one site evaluation. All methods are
// fallible and must respect ctx deadlines.
type Page interface {
	Screenshot(ctx context.Context) ([]byte, error)
	URL(ctx context.Context) (string, error)
	HTML(ctx context.Context) (string, error)

	// Evaluate runs a named inspection script and decodes its JSON result
	// into out.
	Evaluate(ctx context.Context, script string, args map[string]any, out any) error

	Click(ctx context.Context, selector string) error
	ClickAt(ctx context.Context, x, y int) error
	Hover(ctx context.Context, selector string) error
	HoverAt(ctx context.Context, x, y int) error
	Scroll(ctx context.Context, direction string, amount int) error
	WaitForSelector(ctx context.Context, selector string, timeout time.Duration) error
	Wait(ctx context.Context, d time.Duration) error
}
