// Package delivery sends a product's content elements to a contact in
// order, paced with human-like delays.
package delivery

import (
	"context"
	"math/rand/v2"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"shopbot/pkg/catalog"
	"shopbot/pkg/errkind"
	"shopbot/pkg/logger"
	"shopbot/pkg/messaging"
)

// Jitter is a uniform delay window. The zero value never waits.
type Jitter struct {
	Min time.Duration
	Max time.Duration
}

func (j Jitter) Next() time.Duration {
	if j.Max <= j.Min {
		return j.Min
	}
	return j.Min + rand.N(j.Max-j.Min+1)
}

type Options struct {
	Delay         Jitter
	ImageBaseURL  string
	ImageFilename string
	ClosingPrompt string
	// Limiter caps the send rate across all contacts. Nil means unlimited.
	Limiter *rate.Limiter
}

type Sequencer struct {
	sender messaging.Sender
	opts   Options
}

// Report counts the outcome of one delivery.
type Report struct {
	Sent   int
	Failed int
}

func NewSequencer(sender messaging.Sender, opts Options) *Sequencer {
	if opts.ImageFilename == "" {
		opts.ImageFilename = "image.jpg"
	}
	return &Sequencer{sender: sender, opts: opts}
}

// Deliver sends every element of p to the chat address to, in ascending
// order. A failed element is logged and skipped; only a lost session aborts
// the sequence, and that error is returned.
func (s *Sequencer) Deliver(ctx context.Context, to string, p catalog.Product) (Report, error) {
	var report Report
	elements := p.SortedElements()

	logger.InfoCF("delivery", "Delivering product", map[string]interface{}{
		logger.FieldChatID:       to,
		logger.FieldProductID:    p.ID,
		logger.FieldElementCount: len(elements),
	})

	for _, el := range elements {
		if err := s.pause(ctx); err != nil {
			return report, err
		}
		err := s.sendElement(ctx, to, el)
		if err == nil {
			report.Sent++
			continue
		}
		report.Failed++
		if errkind.Is(err, errkind.SessionLost) {
			logger.ErrorCF("delivery", "Session lost during delivery, aborting", map[string]interface{}{
				logger.FieldChatID:    to,
				logger.FieldProductID: p.ID,
				logger.FieldError:     err.Error(),
			})
			return report, err
		}
		logger.WarnCF("delivery", "Element send failed, skipping", map[string]interface{}{
			logger.FieldChatID:    to,
			logger.FieldProductID: p.ID,
			"element_id":          el.ID,
			"order":               el.Order,
			logger.FieldError:     err.Error(),
		})
	}
	return report, nil
}

// DeliverWithPrompt delivers p and then, after one more pause, the closing
// call-to-action.
func (s *Sequencer) DeliverWithPrompt(ctx context.Context, to string, p catalog.Product) (Report, error) {
	report, err := s.Deliver(ctx, to, p)
	if err != nil || s.opts.ClosingPrompt == "" {
		return report, err
	}
	if err := s.pause(ctx); err != nil {
		return report, err
	}
	if err := s.send(ctx, func() error { return s.sender.SendText(ctx, to, s.opts.ClosingPrompt) }); err != nil {
		report.Failed++
		if errkind.Is(err, errkind.SessionLost) {
			return report, err
		}
		logger.WarnCF("delivery", "Closing prompt send failed", map[string]interface{}{
			logger.FieldChatID: to,
			logger.FieldError:  err.Error(),
		})
		return report, nil
	}
	report.Sent++
	return report, nil
}

func (s *Sequencer) sendElement(ctx context.Context, to string, el catalog.Element) error {
	switch el.Type {
	case catalog.ElementText:
		if el.Content == "" {
			return errkind.Errorf(errkind.NotFound, "delivery.text", "element %d has no content", el.ID)
		}
		return s.send(ctx, func() error { return s.sender.SendText(ctx, to, el.Content) })
	case catalog.ElementImage:
		if el.ImageURL == "" {
			return errkind.Errorf(errkind.NotFound, "delivery.image", "element %d has no image", el.ID)
		}
		url := ImageURL(s.opts.ImageBaseURL, el.ImageURL)
		return s.send(ctx, func() error {
			return s.sender.SendImage(ctx, to, url, s.opts.ImageFilename, el.Caption)
		})
	default:
		return errkind.Errorf(errkind.NotFound, "delivery.element", "unknown element type %q", el.Type)
	}
}

func (s *Sequencer) send(ctx context.Context, fn func() error) error {
	if s.opts.Limiter != nil {
		if err := s.opts.Limiter.Wait(ctx); err != nil {
			return errkind.New(errkind.TransientIO, "delivery.rate", err)
		}
	}
	return fn()
}

func (s *Sequencer) pause(ctx context.Context) error {
	d := s.opts.Delay.Next()
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// ImageURL resolves a stored image path against base. Absolute URLs are
// returned unchanged.
func ImageURL(base, path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	if base == "" {
		return path
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}
