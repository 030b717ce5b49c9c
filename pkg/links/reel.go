package links

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/net/html"

	"shopbot/pkg/errkind"
	"shopbot/pkg/logger"
)

// PageReelResolver fetches a reel page and reads the canonical post link from
// its og:url meta tag or rel=canonical link.
type PageReelResolver struct {
	client *resty.Client
}

func NewPageReelResolver(timeout time.Duration, userAgent string, transport http.RoundTripper) *PageReelResolver {
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	client := resty.New().
		SetTimeout(timeout).
		SetRedirectPolicy(resty.FlexibleRedirectPolicy(10)).
		SetLogger(logger.Printf{Component: "links"})
	if userAgent != "" {
		client.SetHeader("User-Agent", userAgent)
	}
	if transport != nil {
		client.SetTransport(transport)
	}
	return &PageReelResolver{client: client}
}

func (r *PageReelResolver) ResolveReel(ctx context.Context, longLink string) (string, error) {
	resp, err := r.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(longLink)
	if err != nil {
		return "", errkind.New(errkind.TransientIO, "links.reel", err)
	}
	body := resp.RawBody()
	defer body.Close()

	if resp.StatusCode() >= 400 {
		return "", errkind.Errorf(errkind.TransientIO, "links.reel", "unexpected status %d", resp.StatusCode())
	}

	doc, err := html.Parse(body)
	if err != nil {
		return "", fmt.Errorf("parse reel page: %w", err)
	}
	canonical := findCanonical(doc)
	if canonical == "" || IsReel(canonical) {
		return "", errkind.Errorf(errkind.NotFound, "links.reel", "no canonical post link on %s", longLink)
	}
	return canonical, nil
}

func findCanonical(n *html.Node) string {
	var ogURL, relCanonical string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "meta":
				if attr(n, "property") == "og:url" && ogURL == "" {
					ogURL = attr(n, "content")
				}
			case "link":
				if strings.EqualFold(attr(n, "rel"), "canonical") && relCanonical == "" {
					relCanonical = attr(n, "href")
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)

	if ogURL != "" && !IsReel(ogURL) {
		return ogURL
	}
	if relCanonical != "" {
		return relCanonical
	}
	return ogURL
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return strings.TrimSpace(a.Val)
		}
	}
	return ""
}
