// Package pagemeta summarises a fetched HTML document.
package pagemeta

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

type Summary struct {
	Site      string
	Links     int
	Images    int
	FetchedAt time.Time
}

// IsHTML reports whether a Content-Type header value names an HTML document.
func IsHTML(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	return err == nil && mediaType == "text/html"
}

// Summarize counts anchor and image tags. Nesting is ignored and malformed markup is
// tokenized as leniently as a browser would.
func Summarize(r io.Reader) (Summary, error) {
	var s Summary
	z := html.NewTokenizer(r)
	for {
		switch z.Next() {
		case html.ErrorToken:
			if err := z.Err(); !errors.Is(err, io.EOF) {
				return s, err
			}
			return s, nil
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			switch atom.Lookup(name) {
			case atom.A:
				s.Links++
			case atom.Img:
				s.Images++
			}
		}
	}
}

func SummarizeFile(path, site string, fetchedAt time.Time) (Summary, error) {
	f, err := os.Open(path)
	if err != nil {
		return Summary{}, err
	}
	defer f.Close()
	s, err := Summarize(f)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	s.Site = site
	s.FetchedAt = fetchedAt
	return s, nil
}

func (s Summary) String() string {
	return fmt.Sprintf("site: %s\nnum_links: %d\nimages: %d\nlast_fetch: %s\n",
		s.Site, s.Links, s.Images, s.FetchedAt.Format(time.RFC1123Z))
}
