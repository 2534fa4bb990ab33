package actions

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/chromedp/chromedp"

	"browser-task-scheduler/internal/browser"
	"browser-task-scheduler/internal/media"
	"browser-task-scheduler/internal/models"
	"browser-task-scheduler/internal/observer"
)

// UploadImage fetches payload "source_url", shrinks it and attaches it to the
// file input "selector" on page "url". "submit_selector" is clicked afterwards
// when set.
type UploadImage struct {
	Media *media.Processor
}

func (u UploadImage) Run(ctx context.Context, sess browser.Session, task models.Task, rep observer.Reporter) models.Outcome {
	src := payloadString(task, "source_url")
	if src == "" {
		return models.Errored("upload_image: payload source_url is required")
	}
	if u.Media == nil {
		return models.Errored("upload_image: no media processor")
	}
	sel := payloadString(task, "selector")
	if sel == "" {
		sel = `input[type="file"]`
	}

	rep.Progress("fetching image", 0, 4)
	raw, _, err := u.Media.Fetch(ctx, src)
	if err != nil {
		return models.ErrorFrom(err)
	}
	name := "upload." + media.Extension(raw)
	body, _, err := u.Media.Shrink(raw, name)
	if err != nil {
		return models.ErrorFrom(err)
	}
	dir, err := os.MkdirTemp("", "upload-*")
	if err != nil {
		return models.Errorf("stage upload: %v", err)
	}
	defer os.RemoveAll(dir)
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, body, 0o600); err != nil {
		return models.Errorf("stage upload: %v", err)
	}

	if url := payloadString(task, "url"); url != "" {
		rep.Progress("navigating", 1, 4)
		if err := sess.Run(chromedp.Navigate(url)); err != nil {
			return fromBrowserError("navigate", err)
		}
	}
	rep.Progress("attaching image", 2, 4)
	if err := sess.Run(chromedp.SetUploadFiles(sel, []string{path}, chromedp.ByQuery)); err != nil {
		return fromBrowserError("attach image", err)
	}
	if submit := payloadString(task, "submit_selector"); submit != "" {
		rep.Progress("submitting", 3, 4)
		if err := sess.Run(chromedp.Click(submit, chromedp.ByQuery)); err != nil {
			return fromBrowserError("submit", err)
		}
	}
	rep.Progress("uploaded", 4, 4)
	return models.Success(fmt.Sprintf("uploaded %d bytes", len(body)))
}
