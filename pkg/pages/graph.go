// Package pages checks that a Facebook post belongs to one of the shop's
// pages and returns the product id it is published under.
package pages

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/oauth2"

	"shopbot/pkg/errkind"
	"shopbot/pkg/logger"
)

type Options struct {
	BaseURL     string
	AccessToken string
	// PageIDs restricts lookups to the shop's own pages. Empty allows any page.
	PageIDs []string
	Timeout time.Duration
	// Transport overrides the HTTP transport, mainly for tests.
	Transport http.RoundTripper
}

type GraphLookup struct {
	client  *resty.Client
	allowed map[string]struct{}
	online  bool
}

type graphObject struct {
	ID string `json:"id"`
}

type graphError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
	} `json:"error"`
}

func NewGraphLookup(opts Options) *GraphLookup {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}

	base := http.DefaultTransport
	if opts.Transport != nil {
		base = opts.Transport
	}
	httpClient := &http.Client{Transport: base}
	if opts.AccessToken != "" {
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, httpClient)
		httpClient = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: opts.AccessToken}))
	}

	client := resty.NewWithClient(httpClient).
		SetBaseURL(strings.TrimRight(opts.BaseURL, "/")).
		SetTimeout(opts.Timeout).
		SetLogger(logger.Printf{Component: "pages"})

	allowed := make(map[string]struct{}, len(opts.PageIDs))
	for _, id := range opts.PageIDs {
		if id = strings.TrimSpace(id); id != "" {
			allowed[id] = struct{}{}
		}
	}
	return &GraphLookup{client: client, allowed: allowed, online: opts.AccessToken != ""}
}

// Lookup resolves a pageId_postId key to the product id of the post.
// Posts from foreign pages and posts the Graph API does not know are
// reported as NotFound. Without an access token, posts of allowed pages
// resolve to their own key.
func (g *GraphLookup) Lookup(ctx context.Context, formattedID string) (string, error) {
	pageID, postID, ok := strings.Cut(formattedID, "_")
	if !ok || pageID == "" || postID == "" {
		return "", errkind.Errorf(errkind.NotFound, "pages.lookup", "malformed id %q", formattedID)
	}
	if len(g.allowed) > 0 {
		if _, ok := g.allowed[pageID]; !ok {
			return "", errkind.Errorf(errkind.NotFound, "pages.lookup", "page %s is not one of ours", pageID)
		}
	}
	if !g.online {
		return formattedID, nil
	}

	resp, err := g.client.R().
		SetContext(ctx).
		SetQueryParam("fields", "id").
		SetResult(&graphObject{}).
		SetError(&graphError{}).
		Get("/" + url.PathEscape(formattedID))
	if err != nil {
		return "", errkind.New(errkind.TransientIO, "pages.lookup", err)
	}

	if resp.IsError() {
		ge, _ := resp.Error().(*graphError)
		msg := resp.Status()
		if ge != nil && ge.Error.Message != "" {
			msg = ge.Error.Message
		}
		logger.DebugCF("pages", "Graph API rejected lookup", map[string]interface{}{
			logger.FieldFormatted: formattedID,
			"status":              resp.StatusCode(),
			logger.FieldError:     msg,
		})
		// Graph answers 400 code 100 for unknown or inaccessible objects
		if resp.StatusCode() == http.StatusNotFound || resp.StatusCode() == http.StatusBadRequest {
			return "", errkind.Errorf(errkind.NotFound, "pages.lookup", "%s", msg)
		}
		return "", errkind.Errorf(errkind.TransientIO, "pages.lookup", "%s", msg)
	}

	obj, _ := resp.Result().(*graphObject)
	if obj == nil || obj.ID == "" {
		return "", errkind.Errorf(errkind.NotFound, "pages.lookup", "empty response for %s", formattedID)
	}
	return obj.ID, nil
}
