package actions

import (
	"context"
	"fmt"

	"github.com/chromedp/chromedp"

	"browser-task-scheduler/internal/browser"
	"browser-task-scheduler/internal/media"
	"browser-task-scheduler/internal/models"
	"browser-task-scheduler/internal/observer"
)

// Screenshot captures the current tab (after navigating to payload "url" if
// given) and stores a shrunken copy. The success message is the location.
type Screenshot struct {
	Media   *media.Processor
	capture func(sess browser.Session, full bool) ([]byte, error)
}

func NewScreenshot(proc *media.Processor) Screenshot {
	return Screenshot{Media: proc, capture: captureTab}
}

func captureTab(sess browser.Session, full bool) ([]byte, error) {
	var buf []byte
	var act chromedp.Action = chromedp.CaptureScreenshot(&buf)
	if full {
		act = chromedp.FullScreenshot(&buf, 90)
	}
	if err := sess.Run(act); err != nil {
		return nil, err
	}
	return buf, nil
}

func (s Screenshot) Run(ctx context.Context, sess browser.Session, task models.Task, rep observer.Reporter) models.Outcome {
	if s.Media == nil {
		return models.Errored("screenshot: no media processor")
	}
	capture := s.capture
	if capture == nil {
		capture = captureTab
	}

	if url := payloadString(task, "url"); url != "" {
		rep.Progress("navigating", 0, 3)
		if err := sess.Run(chromedp.Navigate(url)); err != nil {
			return fromBrowserError("navigate", err)
		}
	}
	rep.Progress("capturing", 1, 3)
	buf, err := capture(sess, payloadBool(task, "full_page"))
	if err != nil {
		return fromBrowserError("capture", err)
	}
	if len(buf) == 0 {
		return models.Errored("capture: empty screenshot")
	}

	key := payloadString(task, "key")
	if key == "" {
		key = fmt.Sprintf("screenshots/%s/%s.%s", task.IdentityKey, task.ID, media.Extension(buf))
	}
	rep.Progress("storing", 2, 3)
	loc, err := s.Media.Save(ctx, key, buf)
	if err != nil {
		return models.ErrorFrom(err)
	}
	rep.Progress("stored", 3, 3)
	return models.Success(loc)
}
