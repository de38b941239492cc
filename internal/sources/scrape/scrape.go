// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package scrape holds the small helpers the source adapters share: HTML
// text extraction, link resolution, date parsing, id files and pauses.
package scrape

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// Doc parses an HTML page.
func Doc(body []byte) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parsing HTML: %w", err)
	}
	return doc, nil
}

// NodeText returns the concatenated text nodes under n.
func NodeText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n == nil {
			return
		}
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

var innerWhitespace = regexp.MustCompile(`\s+`)

// Clean collapses whitespace and drops non-printable runes.
func Clean(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return ' '
		}
		if !unicode.IsPrint(r) {
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(innerWhitespace.ReplaceAllString(s, " "))
}

// Text returns the cleaned text of every node in sel.
func Text(sel *goquery.Selection) string {
	parts := make([]string, 0, sel.Length())
	for _, n := range sel.Nodes {
		if t := Clean(NodeText(n)); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}

// Resolve makes href absolute against base. Unparseable hrefs are
// returned unchanged.
func Resolve(base, href string) string {
	b, err := url.Parse(base)
	if err != nil {
		return href
	}
	h, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return href
	}
	return b.ResolveReference(h).String()
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	time.DateOnly,
	"02/01/2006",
	"2 January 2006",
	"02 January 2006",
	"January 2, 2006",
	"2006/01/02",
}

// ParseDate tries the date layouts registries use and returns the result
// in UTC.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", s)
}

// DatePtr is ParseDate returning nil for empty or unparseable input.
func DatePtr(s string) *time.Time {
	t, err := ParseDate(s)
	if err != nil {
		return nil
	}
	return &t
}

// ReadIDs reads one identifier per line, skipping blank lines and lines
// starting with '#'.
func ReadIDs(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening id file: %w", err)
	}
	defer f.Close()

	var ids []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		ids = append(ids, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading id file: %w", err)
	}
	return ids, nil
}

// Pause waits d between page fetches, returning early if ctx is done.
func Pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
