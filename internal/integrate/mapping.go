package integrate

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/oficio-pipeline/internal/model"
)

// fullTextLimit caps the text stored on the case record.
const fullTextLimit = 4000

// highAmountThreshold and mediumAmountThreshold drive the derived priority.
const (
	highAmountThreshold   = 50000
	mediumAmountThreshold = 10000
)

// urgentKeywords raise priority and the urgent-action flag when the
// extraction found them in the document. Matching folds diacritics because
// scanned text often loses them ("citacion" for "citación").
var urgentKeywords = []string{
	"embargo", "secuestro", "allanamiento", "aprehensión",
	"citación", "urgente", "inmediato",
}

var accentStripper = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

func foldAccents(s string) string {
	out, _, err := transform.String(accentStripper, s)
	if err != nil {
		return s
	}
	return out
}

// Operator-entered dates come in day-first Panamanian formats; the external
// system only accepts ISO.
var dateLayouts = []string{
	"02/01/2006",
	"02-01-2006",
	"02.01.2006",
	"2006-01-02",
	"02/01/06",
	"02-01-06",
}

// CaseFields maps a structured record into the case-level payload. Date
// fields are omitted when absent or unparseable rather than sent empty.
func CaseFields(record *model.OficioRecord, batchID, unitID string) map[string]any {
	fields := map[string]any{
		"DocumentId":             unitID,
		"BatchId":                batchID,
		"DocumentType":           "Oficio Legal",
		"Subject":                caseSubject(record),
		"OficioNumber":           record.OficioNumber,
		"Authority":              record.Authority,
		"ClientTarget":           record.ClientName,
		"ClientIdentification":   record.ClientID,
		"ExpedientNumber":        record.FileNumber,
		"ResolutionNumber":       record.ResolutionNumber,
		"Amount":                 record.Amount,
		"DocumentClassification": record.Classification,
		"ConfidenceLevel":        record.Confidence,
		"Sensitive":              record.Sensitive,
		"KeywordsFound":          strings.Join(record.Keywords, ", "),
		"FullText":               truncate(record.FullText, fullTextLimit),
		"PersonsCount":           len(record.Persons),
		"ProcessedAt":            time.Now().UTC().Format(time.RFC3339),
		"ProcessingSource":       "Automated Extraction",
		"Status":                 "Pending Review",
		"Priority":               casePriority(record),
		"RequiresUrgentAction":   requiresUrgentAction(record),
	}

	setDate(fields, "IssueDate", record.IssueDate)
	setDate(fields, "ReceivedDate", record.ReceivedDate)
	setDate(fields, "DueDate", record.DueDate)
	setDate(fields, "ResolutionDate", record.ResolutionDate)

	return fields
}

// PersonFields maps one person sub-record. The full name is always derived
// from the name parts; the external system never accepts it as input.
func PersonFields(p model.Person) map[string]any {
	return map[string]any{
		"FullName":           p.FullName(),
		"Identification":     p.Identification,
		"IdentificationType": p.IdentificationType,
		"Amount":             p.Amount,
		"ExpedientNumber":    p.FileNumber,
		"Sequence":           p.Sequence,
	}
}

func caseSubject(record *model.OficioRecord) string {
	number := record.OficioNumber
	if number == "" {
		number = "sin número"
	}
	if record.Classification != "" {
		return fmt.Sprintf("Oficio %s - %s", number, record.Classification)
	}
	return "Oficio " + number
}

// casePriority follows the triage rules used by the review team: anything
// with a due date or an urgent keyword is High, large amounts raise it, and
// everything else lands at Medium.
func casePriority(record *model.OficioRecord) string {
	if normalizeDate(record.DueDate) != "" {
		return "High"
	}
	if requiresUrgentAction(record) {
		return "High"
	}
	if record.Amount > highAmountThreshold {
		return "High"
	}
	if record.Amount > mediumAmountThreshold {
		return "Medium"
	}
	return "Medium"
}

func requiresUrgentAction(record *model.OficioRecord) bool {
	for _, k := range record.Keywords {
		folded := foldAccents(strings.TrimSpace(k))
		for _, urgent := range urgentKeywords {
			if strings.EqualFold(folded, foldAccents(urgent)) {
				return true
			}
		}
	}
	return false
}

func setDate(fields map[string]any, key, raw string) {
	if iso := normalizeDate(raw); iso != "" {
		fields[key] = iso
	}
}

func normalizeDate(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	// Keep only digits and separators; stamps sometimes bleed into the
	// extracted value.
	var b strings.Builder
	for _, r := range raw {
		if (r >= '0' && r <= '9') || r == '/' || r == '-' || r == '.' {
			b.WriteRune(r)
		}
	}
	clean := b.String()

	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, clean); err == nil {
			return t.Format("2006-01-02")
		}
	}
	return ""
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}
