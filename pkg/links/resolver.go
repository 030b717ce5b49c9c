// Package links turns a shared Facebook link found in a chat message into
// the page/post identifier pair used to look the product up.
package links

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"shopbot/pkg/errkind"
	"shopbot/pkg/logger"
)

var urlPattern = regexp.MustCompile(`https?://[^\s]+`)

type ResolvedLink struct {
	LongLink string
	PageID   string
	PostID   string
}

// FormattedID is the pageId_postId key used by the page lookup service.
func (l ResolvedLink) FormattedID() string {
	return l.PageID + "_" + l.PostID
}

// ExtractURL returns the first URL-like substring of text.
func ExtractURL(text string) (string, bool) {
	u := urlPattern.FindString(text)
	return u, u != ""
}

// ReelResolver turns a short-video link into a canonical post link.
type ReelResolver interface {
	ResolveReel(ctx context.Context, longLink string) (string, error)
}

type Options struct {
	MaxRedirects int
	Timeout      time.Duration
	UserAgent    string
	Patterns     []Pattern
	Reel         ReelResolver
	// Transport overrides the HTTP transport, mainly for tests.
	Transport http.RoundTripper
}

type Resolver struct {
	client   *resty.Client
	patterns []Pattern
	reel     ReelResolver
}

func NewResolver(opts Options) *Resolver {
	if opts.MaxRedirects <= 0 {
		opts.MaxRedirects = 10
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 8 * time.Second
	}
	if len(opts.Patterns) == 0 {
		opts.Patterns = DefaultPatterns
	}

	client := resty.New().
		SetTimeout(opts.Timeout).
		SetRedirectPolicy(resty.FlexibleRedirectPolicy(opts.MaxRedirects)).
		SetLogger(logger.Printf{Component: "links"})
	if opts.UserAgent != "" {
		client.SetHeader("User-Agent", opts.UserAgent)
	}
	if opts.Transport != nil {
		client.SetTransport(opts.Transport)
	}

	return &Resolver{
		client:   client,
		patterns: opts.Patterns,
		reel:     opts.Reel,
	}
}

// Resolve extracts the first URL from text, follows its redirects and parses
// the page/post ids out of the final link. Every failure is reported as an
// errkind.NotFound error.
func (r *Resolver) Resolve(ctx context.Context, text string) (ResolvedLink, error) {
	shortLink, ok := ExtractURL(text)
	if !ok {
		return ResolvedLink{}, errkind.Errorf(errkind.NotFound, "links.resolve", "no link in message")
	}

	longLink, err := r.followRedirects(ctx, shortLink)
	if err != nil {
		logger.WarnCF("links", "Failed to follow link redirects", map[string]interface{}{
			logger.FieldURL:   shortLink,
			logger.FieldError: err.Error(),
		})
		return ResolvedLink{}, errkind.New(errkind.NotFound, "links.resolve", err)
	}
	logger.DebugCF("links", "Long link resolved", map[string]interface{}{
		logger.FieldURL: longLink,
	})

	if IsReel(longLink) && r.reel != nil {
		resolved, err := r.reel.ResolveReel(ctx, longLink)
		if err != nil {
			logger.WarnCF("links", "Reel resolution failed, keeping long link", map[string]interface{}{
				logger.FieldURL:   longLink,
				logger.FieldError: err.Error(),
			})
		} else if resolved != "" {
			longLink = resolved
		}
	}

	pageID, postID, ok := ParseIDs(longLink, r.patterns)
	if !ok {
		return ResolvedLink{}, errkind.Errorf(errkind.NotFound, "links.resolve", "no identifier pattern matches %s", longLink)
	}

	return ResolvedLink{LongLink: longLink, PageID: pageID, PostID: postID}, nil
}

func (r *Resolver) followRedirects(ctx context.Context, link string) (string, error) {
	resp, err := r.client.R().SetContext(ctx).Head(link)
	if err != nil {
		return "", errkind.New(errkind.TransientIO, "links.head", err)
	}
	if resp.IsError() {
		return "", errkind.Errorf(errkind.TransientIO, "links.head", "unexpected status %d", resp.StatusCode())
	}
	if resp.RawResponse == nil || resp.RawResponse.Request == nil {
		return "", fmt.Errorf("no final request recorded for %s", link)
	}
	return resp.RawResponse.Request.URL.String(), nil
}

// IsReel reports whether link has the short-video path shape.
func IsReel(link string) bool {
	return strings.Contains(link, "/reel/")
}
