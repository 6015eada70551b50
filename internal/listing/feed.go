package listing

import (
	"bytes"
	"fmt"
	"net/url"

	"github.com/mmcdole/gofeed"

	"github.com/JakeFAU/edital-crawler/internal/crawler"
)

// ExtractFeedCandidates returns the RSS/Atom items of a source feed that pass the
// source's keyword rules. Link patterns are not applied to feed items.
func ExtractFeedCandidates(body []byte, feedURL string, src crawler.Source) ([]crawler.Candidate, error) {
	f, err := newFilter(src)
	if err != nil {
		return nil, err
	}
	feed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}
	base, err := url.Parse(feedURL)
	if err != nil {
		return nil, fmt.Errorf("parse feed url: %w", err)
	}
	out := make([]crawler.Candidate, 0, len(feed.Items))
	for _, item := range feed.Items {
		if item == nil {
			continue
		}
		link, ok := crawler.ResolveReference(base, item.Link)
		if !ok {
			continue
		}
		title := collapseSpace(item.Title)
		if !f.keep(title, link) {
			continue
		}
		out = append(out, crawler.Candidate{Title: title, URL: link})
	}
	return out, nil
}
