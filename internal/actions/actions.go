// Package actions holds the browser actions the runner and the API register
// with the scheduler.
package actions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"

	"browser-task-scheduler/internal/browser"
	"browser-task-scheduler/internal/media"
	"browser-task-scheduler/internal/models"
	"browser-task-scheduler/internal/scheduler"
)

const (
	NameVisit       = "visit"
	NameScreenshot  = "screenshot"
	NameUploadImage = "upload_image"
)

// Register binds every built-in action. Actions that need media are skipped
// when proc is nil.
func Register(reg scheduler.Registry, proc *media.Processor) {
	reg.Register(NameVisit, Visit{})
	if proc != nil {
		reg.Register(NameScreenshot, NewScreenshot(proc))
		reg.Register(NameUploadImage, UploadImage{Media: proc})
	}
}

// Defaults returns a registry with every built-in action.
func Defaults(proc *media.Processor) scheduler.Registry {
	reg := scheduler.Registry{}
	Register(reg, proc)
	return reg
}

// fromBrowserError maps a chromedp failure to an outcome. Dead proxies are
// retried elsewhere; everything else is an error.
func fromBrowserError(step string, err error) models.Outcome {
	if browser.IsProxyError(err) {
		return models.ProxyNotReady()
	}
	return models.Errorf("%s: %v", step, err)
}

// waitFor bounds a wait on selector so a missing element surfaces as
// errWaitTimeout instead of eating the whole session budget.
func waitFor(sel string, d time.Duration) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		wctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		err := chromedp.WaitReady(sel, chromedp.ByQuery).Do(wctx)
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return fmt.Errorf("%w: %s", errWaitTimeout, sel)
		}
		return err
	})
}

var errWaitTimeout = errors.New("timed out waiting for")

func payloadString(t models.Task, key string) string {
	if t.Payload == nil {
		return ""
	}
	v, ok := t.Payload[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func payloadBool(t models.Task, key string) bool {
	if t.Payload == nil {
		return false
	}
	b, _ := t.Payload[key].(bool)
	return b
}

func payloadDuration(t models.Task, key string, def time.Duration) time.Duration {
	s := payloadString(t, key)
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}
