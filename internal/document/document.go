// Package document reads composite artifacts page by page and carves out
// per-unit slices. Two formats are supported: PDF and plain text with
// form-feed page breaks.
package document

import (
	"bytes"

	"github.com/rotisserie/eris"
)

// Document is a paged view over one artifact.
type Document interface {
	// PageCount returns the number of pages.
	PageCount() int

	// PageText returns the text of the 1-based page number.
	PageText(page int) (string, error)

	// ExtractPages returns a standalone artifact holding the inclusive
	// 1-based page range, in the same format as the source.
	ExtractPages(from, to int) ([]byte, error)
}

// Open builds a Document from raw artifact bytes. PDF payloads are detected
// by magic bytes; everything else is treated as plain text.
func Open(data []byte) (Document, error) {
	if len(data) == 0 {
		return nil, eris.New("document: empty artifact")
	}
	if bytes.HasPrefix(data, []byte("%PDF")) {
		return openPDF(data)
	}
	return openText(data), nil
}
