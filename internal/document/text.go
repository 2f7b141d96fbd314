package document

import (
	"strings"

	"github.com/rotisserie/eris"
)

// textDocument treats form feeds as page breaks. A trailing form feed does
// not produce an empty final page.
type textDocument struct {
	pages []string
}

func openText(data []byte) *textDocument {
	raw := strings.Split(string(data), "\f")
	// Drop a single empty trailing page produced by a terminal form feed.
	if n := len(raw); n > 1 && strings.TrimSpace(raw[n-1]) == "" {
		raw = raw[:n-1]
	}
	return &textDocument{pages: raw}
}

func (d *textDocument) PageCount() int { return len(d.pages) }

func (d *textDocument) PageText(page int) (string, error) {
	if page < 1 || page > len(d.pages) {
		return "", eris.Errorf("document: page %d out of range 1..%d", page, len(d.pages))
	}
	return d.pages[page-1], nil
}

func (d *textDocument) ExtractPages(from, to int) ([]byte, error) {
	if from < 1 || to > len(d.pages) || from > to {
		return nil, eris.Errorf("document: page range %d..%d out of range 1..%d", from, to, len(d.pages))
	}
	return []byte(strings.Join(d.pages[from-1:to], "\f")), nil
}
