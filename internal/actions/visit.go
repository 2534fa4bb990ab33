package actions

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/chromedp/chromedp"

	"browser-task-scheduler/internal/browser"
	"browser-task-scheduler/internal/models"
	"browser-task-scheduler/internal/observer"
)

// Visit opens payload "url", waits for "wait_selector" (default body) and,
// when "expect_text" is set, fails softly if the page does not contain it.
type Visit struct{}

func (Visit) Run(ctx context.Context, sess browser.Session, task models.Task, rep observer.Reporter) models.Outcome {
	url := payloadString(task, "url")
	if url == "" {
		return models.Errored("visit: payload url is required")
	}
	sel := payloadString(task, "wait_selector")
	if sel == "" {
		sel = "body"
	}

	rep.Progress("navigating", 0, 3)
	if err := sess.Run(chromedp.Navigate(url)); err != nil {
		return fromBrowserError("navigate", err)
	}
	rep.Progress("waiting for page", 1, 3)
	if err := sess.Run(waitFor(sel, payloadDuration(task, "wait_timeout", 30*time.Second))); err != nil {
		if errors.Is(err, errWaitTimeout) {
			return models.Failed(err.Error())
		}
		return fromBrowserError("wait", err)
	}

	if want := payloadString(task, "expect_text"); want != "" {
		var text string
		if err := sess.Run(chromedp.Text("body", &text, chromedp.ByQuery)); err != nil {
			return fromBrowserError("read page", err)
		}
		if !strings.Contains(text, want) {
			return models.Failed("page does not contain " + want)
		}
	}
	rep.Progress("page ready", 3, 3)
	return models.Success("visited " + url)
}
