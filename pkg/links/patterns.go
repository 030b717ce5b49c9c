package links

import "regexp"

// IDOrder tells which capture group of a pattern holds the page id.
type IDOrder int

const (
	// PageThenPost: group 1 is the page id, group 2 the post id.
	PageThenPost IDOrder = iota
	// PostThenPage: group 1 is the post id, group 2 the page id (story_fbid links).
	PostThenPage
)

type Pattern struct {
	Name  string
	Re    *regexp.Regexp
	Order IDOrder
}

// DefaultPatterns is evaluated in order; the first match wins.
var DefaultPatterns = []Pattern{
	{Name: "video_with_slug", Re: regexp.MustCompile(`facebook\.com/(\d+)/videos/[^/]+/(\d+)`), Order: PageThenPost},
	{Name: "post", Re: regexp.MustCompile(`facebook\.com/(\d+)/posts/(\d+)`), Order: PageThenPost},
	{Name: "video", Re: regexp.MustCompile(`facebook\.com/(\d+)/videos/(\d+)`), Order: PageThenPost},
	{Name: "photo", Re: regexp.MustCompile(`facebook\.com/(\d+)/photos/(\d+)`), Order: PageThenPost},
	{Name: "story", Re: regexp.MustCompile(`story_fbid=(\d+)&id=(\d+)`), Order: PostThenPage},
	{Name: "permalink", Re: regexp.MustCompile(`facebook\.com/permalink\.php\?story_fbid=(\d+)&id=(\d+)`), Order: PostThenPage},
}

// ParseIDs applies patterns to link and returns the page and post ids of the
// first pattern that matches.
func ParseIDs(link string, patterns []Pattern) (pageID, postID string, ok bool) {
	for _, p := range patterns {
		m := p.Re.FindStringSubmatch(link)
		if len(m) < 3 {
			continue
		}
		if p.Order == PostThenPage {
			return m[2], m[1], true
		}
		return m[1], m[2], true
	}
	return "", "", false
}
