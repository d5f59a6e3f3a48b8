// Package feed retrieves the show's RSS feed and yields one immutable
// Episode value per item, in feed order.
package feed

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// Fallbacks for items missing the optional elements
const (
	fallbackTitle       = "Untitled"
	fallbackPubDate     = "Unknown date"
	fallbackDescription = "No description available"
)

// OutputExtension is appended to the cleaned title to form the output
// filename, which doubles as the ledger key.
const OutputExtension = ".mp4"

// Episode is one feed item, consumed read-only by the processor
type Episode struct {
	Title       string // cleaned, filesystem-safe
	PubDate     string
	Description string // plain text, converted from the item's HTML
	MediaURL    string // empty means no downloadable media
	MediaLength string // declared byte length as published; unreliable
	MediaType   string
}

// Filename returns the output filename derived from the cleaned title.
// Distinct episodes with the same cleaned title intentionally collide:
// the ledger treats identical titles as the same logical episode.
func (e Episode) Filename() string {
	return e.Title + OutputExtension
}

// DeclaredLength returns the enclosure's declared byte length, or 0
// when absent or not a plain number
func (e Episode) DeclaredLength() int64 {
	n, err := strconv.ParseInt(e.MediaLength, 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// Source fetches and parses a single feed URL
type Source struct {
	URL    string
	Client *http.Client
}

// NewSource creates a Source for the given feed URL
func NewSource(url string) *Source {
	return &Source{
		URL: url,
		Client: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// item mirrors the RSS elements we consume
type item struct {
	Title       string `xml:"title"`
	Description string `xml:"description"`
	PubDate     string `xml:"pubDate"`
	Enclosure   struct {
		URL    string `xml:"url,attr"`
		Length string `xml:"length,attr"`
		Type   string `xml:"type,attr"`
	} `xml:"enclosure"`
}

// Each streams the feed and invokes fn once per item, in document
// order. The feed is fetched once; iteration is single-pass and stops
// at the first error returned by fn.
func (s *Source) Each(ctx context.Context, fn func(Episode) error) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return fmt.Errorf("failed to create feed request: %w", err)
	}

	resp, err := s.Client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("feed returned status %d", resp.StatusCode)
	}

	decoder := xml.NewDecoder(resp.Body)
	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to parse feed: %w", err)
		}

		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "item" {
			continue
		}

		var it item
		if err := decoder.DecodeElement(&it, &start); err != nil {
			return fmt.Errorf("failed to parse feed item: %w", err)
		}

		if err := fn(episodeFromItem(it)); err != nil {
			return err
		}
	}
}

// episodeFromItem normalizes one parsed item into an Episode,
// substituting fallbacks for missing elements
func episodeFromItem(it item) Episode {
	title := fallbackTitle
	if it.Title != "" {
		title = CleanTitle(it.Title)
	}

	pubDate := it.PubDate
	if pubDate == "" {
		pubDate = fallbackPubDate
	}

	description := fallbackDescription
	if it.Description != "" {
		description = HTMLToText(it.Description)
	}

	return Episode{
		Title:       title,
		PubDate:     pubDate,
		Description: description,
		MediaURL:    it.Enclosure.URL,
		MediaLength: it.Enclosure.Length,
		MediaType:   it.Enclosure.Type,
	}
}
