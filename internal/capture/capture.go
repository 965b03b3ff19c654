// File: internal/capture/capture.go
package capture

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"
	"time"

	"go.uber.org/zap"
)

// DefaultQuality matches the controller's expectation of a roughly 70% JPEG.
const DefaultQuality = 70

// GrabFunc produces one frame. A nil image with a nil error means nothing was captured.
type GrabFunc func(ctx context.Context) (image.Image, error)

// Pipeline turns a screen frame into a base64 JPEG string. Each run is bounded
// by a timeout so a slow grab or encode cannot stall the caller.
type Pipeline struct {
	logger  *zap.Logger
	quality int
	timeout time.Duration
}

// New creates a Pipeline. Quality outside 1..100 falls back to DefaultQuality.
func New(logger *zap.Logger, quality int, timeout time.Duration) *Pipeline {
	if quality < 1 || quality > 100 {
		quality = DefaultQuality
	}
	return &Pipeline{
		logger:  logger.Named("capture"),
		quality: quality,
		timeout: timeout,
	}
}

type result struct {
	data string
	err  error
}

// Screenshot grabs and encodes a frame. It returns "" when grab yields no image.
func (p *Pipeline) Screenshot(ctx context.Context, grab GrabFunc) (string, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	// Buffered so the worker can always finish and exit, even after we give up on it.
	done := make(chan result, 1)
	start := time.Now()
	go func() {
		img, err := grab(ctx)
		if err != nil {
			done <- result{err: fmt.Errorf("failed to capture frame: %w", err)}
			return
		}
		if img == nil {
			done <- result{}
			return
		}
		data, err := Encode(img, p.quality)
		done <- result{data: data, err: err}
	}()

	select {
	case res := <-done:
		if res.err == nil {
			p.logger.Debug("Screenshot encoded.",
				zap.Int("base64_len", len(res.data)),
				zap.Duration("took", time.Since(start)))
		}
		return res.data, res.err
	case <-ctx.Done():
		return "", fmt.Errorf("screenshot did not complete: %w", ctx.Err())
	}
}

// Encode renders img as a JPEG and returns it base64 encoded without line wrapping.
func Encode(img image.Image, quality int) (string, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return "", fmt.Errorf("failed to encode jpeg: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
