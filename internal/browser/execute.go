package browser

import (
	"context"

	"github.com/rotisserie/eris"
)

// Execute runs one command against page.
func Execute(ctx context.Context, page Page, cmd Command) error {
	var err error
	switch c := cmd.(type) {
	case Click:
		if c.Target.Selector != "" {
			err = page.Click(ctx, c.Target.Selector)
		} else {
			err = page.ClickAt(ctx, c.Target.X, c.Target.Y)
		}
	case Hover:
		if c.Target.Selector != "" {
			err = page.Hover(ctx, c.Target.Selector)
		} else {
			err = page.HoverAt(ctx, c.Target.X, c.Target.Y)
		}
	case Scroll:
		err = page.Scroll(ctx, c.Direction, c.Amount)
	case Wait:
		err = page.Wait(ctx, c.Duration)
	case WaitForSelector:
		err = page.WaitForSelector(ctx, c.Selector, c.Timeout)
	default:
		return eris.Errorf("browser: unsupported command %T", cmd)
	}
	return eris.Wrapf(err, "browser: %s", cmd)
}
