package intake

import (
	"strconv"
	"strings"

	"github.com/sells-group/oficio-pipeline/internal/model"
)

// Header is the parsed batch configuration from the first page of a
// composite artifact.
type Header struct {
	DeclaredCount int
	Company       string
	Origin        string
	Notes         string
	Date          string
	Operator      string
}

// Operators fill the header by hand, so each canonical field accepts the
// spellings seen in production batches. First match wins.
var headerKeys = map[string]string{
	"cantidad_oficios": "count",
	"cantidad":         "count",
	"total_oficios":    "count",
	"oficios":          "count",
	"empresa":          "company",
	"cliente":          "company",
	"organizacion":     "company",
	"origen":           "origin",
	"provincia":        "origin",
	"ubicacion":        "origin",
	"observaciones":    "notes",
	"comentarios":      "notes",
	"notas":            "notes",
	"fecha":            "date",
	"date":             "date",
	"operador":         "operator",
	"usuario":          "operator",
	"procesado_por":    "operator",
}

// ParseHeader reads `key: value` lines from the first-page text. Keys are
// case-insensitive and whitespace-tolerant. The declared count and company
// are required; operator falls back to operatorHint when absent.
func ParseHeader(text, operatorHint string) (*Header, error) {
	fields := map[string]string{}

	for _, line := range strings.Split(text, "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		canonical, known := headerKeys[strings.ToLower(strings.TrimSpace(key))]
		if !known {
			continue
		}
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		if _, seen := fields[canonical]; !seen {
			fields[canonical] = value
		}
	}

	rawCount, ok := fields["count"]
	if !ok {
		return nil, &model.ConfigValidationError{Field: "cantidad_oficios", Reason: "required"}
	}
	count, err := strconv.Atoi(rawCount)
	if err != nil {
		return nil, &model.ConfigValidationError{Field: "cantidad_oficios", Reason: "must be an integer"}
	}
	if count <= 0 {
		return nil, &model.ConfigValidationError{Field: "cantidad_oficios", Reason: "must be positive"}
	}

	company, ok := fields["company"]
	if !ok {
		return nil, &model.ConfigValidationError{Field: "empresa", Reason: "required"}
	}

	operator := fields["operator"]
	if operator == "" {
		operator = operatorHint
	}

	return &Header{
		DeclaredCount: count,
		Company:       company,
		Origin:        fields["origin"],
		Notes:         fields["notes"],
		Date:          fields["date"],
		Operator:      operator,
	}, nil
}
