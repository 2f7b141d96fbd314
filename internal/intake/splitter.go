package intake

import (
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/oficio-pipeline/internal/document"
)

// Separator pages carry one of these markers and little else. Marker checks
// run against lowercased page text.
var separatorMarkers = []string{
	"separador de oficios",
	"=====================",
	"separador",
	"divisor",
	"---",
	"===",
}

// separatorMaxChars bounds a separator page; a content page quoting one of
// the markers is longer than this.
const separatorMaxChars = 200

var configKeywords = []string{"cantidad_oficios", "empresa", "configuración", "lote"}

func isSeparatorPage(text string) bool {
	lower := strings.ToLower(text)
	if len(strings.TrimSpace(lower)) >= separatorMaxChars {
		return false
	}
	for _, m := range separatorMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

func isConfigPage(text string, totalPages int) bool {
	if totalPages < 2 {
		return false
	}
	lower := strings.ToLower(text)
	for _, k := range configKeywords {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}

// Split carves a composite artifact into ordered unit artifacts. When
// separator pages are present the document is cut strictly at them and
// marker-only segments are dropped; otherwise each page is one unit. A
// leading configuration page is excluded either way. Zero units is an error.
func Split(doc document.Document) ([][]byte, error) {
	n := doc.PageCount()

	texts := make([]string, n+1) // 1-based
	for p := 1; p <= n; p++ {
		text, err := doc.PageText(p)
		if err != nil {
			return nil, eris.Wrapf(err, "intake: read page %d", p)
		}
		texts[p] = text
	}

	start := 1
	if isConfigPage(texts[1], n) {
		start = 2
	}

	var separators []int
	for p := start; p <= n; p++ {
		if isSeparatorPage(texts[p]) {
			separators = append(separators, p)
		}
	}

	var ranges [][2]int
	if len(separators) > 0 {
		prev := start
		for _, sep := range separators {
			if sep > prev {
				ranges = append(ranges, [2]int{prev, sep - 1})
			}
			prev = sep + 1
		}
		if prev <= n {
			ranges = append(ranges, [2]int{prev, n})
		}
	} else {
		for p := start; p <= n; p++ {
			ranges = append(ranges, [2]int{p, p})
		}
	}

	if len(ranges) == 0 {
		return nil, eris.New("intake: composite artifact yields zero units")
	}

	units := make([][]byte, 0, len(ranges))
	for _, r := range ranges {
		data, err := doc.ExtractPages(r[0], r[1])
		if err != nil {
			return nil, eris.Wrapf(err, "intake: extract pages %d..%d", r[0], r[1])
		}
		units = append(units, data)
	}
	return units, nil
}
