// Package media downloads, shrinks and stores images produced or consumed by
// browser actions.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"

	"browser-task-scheduler/internal/config"
)

// ErrTooLarge is returned when a download exceeds the byte limit.
var ErrTooLarge = errors.New("image too large")

// Store persists encoded images and returns where they landed.
type Store interface {
	Put(ctx context.Context, key string, body []byte, contentType string) (string, error)
}

// Getter fetches objects by URL from a scheme the store owns (s3://).
type Getter interface {
	Get(ctx context.Context, url string) ([]byte, string, error)
}

// Processor fetches images and writes shrunken copies to a store.
type Processor struct {
	store    Store
	getter   Getter
	client   *http.Client
	maxEdge  int
	maxBytes int64
	logger   *zap.Logger
}

type Options struct {
	Store Store
	// Getter serves s3:// sources; nil restricts downloads to http(s).
	Getter     Getter
	HTTPClient *http.Client
	MaxEdge    int
	MaxBytes   int64
	Logger     *zap.Logger
}

func NewProcessor(opts Options) *Processor {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	maxBytes := opts.MaxBytes
	if maxBytes <= 0 {
		maxBytes = 25 * 1024 * 1024
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		store:    opts.Store,
		getter:   opts.Getter,
		client:   client,
		maxEdge:  opts.MaxEdge,
		maxBytes: maxBytes,
		logger:   logger,
	}
}

// FromConfig builds a processor on local disk, or on S3 when a bucket is set.
func FromConfig(ctx context.Context, cfg config.Config, logger *zap.Logger) (*Processor, error) {
	opts := Options{
		HTTPClient: &http.Client{Timeout: cfg.ImageDownloadTimeout},
		MaxEdge:    cfg.ImageMaxEdge,
		MaxBytes:   cfg.ImageMaxBytes,
		Logger:     logger,
	}
	if cfg.ImageS3Bucket != "" {
		s3s, err := NewS3Store(ctx, S3Config{
			Bucket:    cfg.ImageS3Bucket,
			Region:    cfg.ImageS3Region,
			Endpoint:  cfg.ImageS3Endpoint,
			PathStyle: cfg.ImageS3PathStyle,
		})
		if err != nil {
			return nil, err
		}
		opts.Store, opts.Getter = s3s, s3s
	} else {
		opts.Store = &LocalStore{BaseDir: cfg.ImageOutputDir}
	}
	return NewProcessor(opts), nil
}

// Fetch downloads an image from http(s) or, with a Getter, from s3://.
func (p *Processor) Fetch(ctx context.Context, url string) ([]byte, string, error) {
	if strings.HasPrefix(url, "s3://") {
		if p.getter == nil {
			return nil, "", fmt.Errorf("fetch %s: no s3 store configured", url)
		}
		return p.getter.Get(ctx, url)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, "", fmt.Errorf("download image: status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, p.maxBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("read image: %w", err)
	}
	if int64(len(body)) > p.maxBytes {
		return nil, "", fmt.Errorf("%w (>%d bytes)", ErrTooLarge, p.maxBytes)
	}
	return body, resp.Header.Get("Content-Type"), nil
}

// Shrink decodes raw, fits it inside the configured edge and re-encodes it in
// the format implied by key's extension.
func (p *Processor) Shrink(raw []byte, key string) ([]byte, string, error) {
	img, decoded, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, "", fmt.Errorf("decode image: %w", err)
	}
	if b := img.Bounds(); p.maxEdge > 0 && (b.Dx() > p.maxEdge || b.Dy() > p.maxEdge) {
		img = imaging.Fit(img, p.maxEdge, p.maxEdge, imaging.Lanczos)
	}
	format := chooseFormat(key, decoded)
	buf := &bytes.Buffer{}
	if err := imaging.Encode(buf, img, format, imaging.JPEGQuality(85)); err != nil {
		return nil, "", fmt.Errorf("encode image: %w", err)
	}
	return buf.Bytes(), mimeForFormat(format), nil
}

// Save shrinks raw and stores it under key.
func (p *Processor) Save(ctx context.Context, key string, raw []byte) (string, error) {
	if p.store == nil {
		return "", errors.New("save image: no store configured")
	}
	body, contentType, err := p.Shrink(raw, key)
	if err != nil {
		return "", err
	}
	loc, err := p.store.Put(ctx, SanitizeKey(key), body, contentType)
	if err != nil {
		return "", fmt.Errorf("upload: %w", err)
	}
	p.logger.Debug("image stored", zap.String("location", loc), zap.Int("bytes", len(body)))
	return loc, nil
}

func chooseFormat(key, decoded string) imaging.Format {
	switch strings.ToLower(filepath.Ext(key)) {
	case ".png":
		return imaging.PNG
	case ".jpg", ".jpeg":
		return imaging.JPEG
	}
	switch strings.ToLower(decoded) {
	case "png":
		return imaging.PNG
	case "gif":
		return imaging.GIF
	}
	return imaging.JPEG
}

func mimeForFormat(format imaging.Format) string {
	switch format {
	case imaging.PNG:
		return "image/png"
	case imaging.GIF:
		return "image/gif"
	default:
		return "image/jpeg"
	}
}

// Extension returns the file extension Shrink would pick for a decoded format.
func Extension(raw []byte) string {
	_, format, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return "jpg"
	}
	switch format {
	case "png":
		return "png"
	case "gif":
		return "gif"
	default:
		return "jpg"
	}
}

// SanitizeKey keeps keys relative and free of traversal.
func SanitizeKey(key string) string {
	key = filepath.ToSlash(filepath.Clean("/" + key))
	return strings.TrimPrefix(key, "/")
}
