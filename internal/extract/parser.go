package extract

import (
	"encoding/json"
	"strconv"
	"strings"
	"unicode"

	"github.com/rotisserie/eris"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/oficio-pipeline/internal/model"
)

// sensitiveKeywords flag an oficio for restricted handling when the analysis
// finds any of them. Matching folds diacritics because scanned text often
// loses them ("aprehension" for "aprehensión").
var sensitiveKeywords = []string{
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

// ParseRecord normalizes the model's response into an OficioRecord. Keys are
// matched case-insensitively; missing strings become empty, missing numbers
// zero, missing booleans false. fullText is the artifact text the analysis
// ran on, retained on the record.
func ParseRecord(response, fullText string) (*model.OficioRecord, error) {
	start := strings.Index(response, "{")
	end := strings.LastIndex(response, "}")
	if start < 0 || end <= start {
		return nil, eris.New("extract: no JSON object in response")
	}

	var raw map[string]any
	if err := json.Unmarshal([]byte(response[start:end+1]), &raw); err != nil {
		return nil, eris.Wrap(err, "extract: parse response JSON")
	}
	doc := lowerKeys(raw)

	record := &model.OficioRecord{
		Classification: getString(doc, "tipo_oficio_detectado"),
		Confidence:     getString(doc, "nivel_confianza"),
		Keywords:       getStringSlice(doc, "palabras_clave_encontradas"),
		FullText:       fullText,
	}

	info := getMap(doc, "informacion_extraida")
	record.OficioNumber = getString(info, "numero_oficio")
	record.Authority = getString(info, "autoridad")
	record.IssueDate = getString(info, "fecha_emision")
	record.ReceivedDate = getString(info, "fecha_recibido")
	record.DueDate = getString(info, "vencimiento")
	record.ResolutionNumber = getString(info, "numero_resolucion")
	record.ResolutionDate = getString(info, "fecha_resolucion")
	record.ClientName = getString(info, "oficiado_cliente")
	record.ClientID = getString(info, "numero_identificacion")
	record.FileNumber = getString(info, "expediente")
	record.Amount = getFloat(info, "monto")

	for i, item := range getSlice(info, "personas") {
		p, ok := item.(map[string]any)
		if !ok {
			continue
		}
		p = lowerKeys(p)
		person := model.Person{
			FirstName:          getString(p, "nombre"),
			LastName:           getString(p, "apellido"),
			Identification:     getString(p, "identificacion"),
			IdentificationType: getString(p, "tipo_identificacion"),
			Amount:             getFloat(p, "monto"),
			FileNumber:         getString(p, "expediente"),
			Sequence:           int(getFloat(p, "secuencia")),
		}
		if person.Sequence == 0 {
			person.Sequence = i + 1
		}
		record.Persons = append(record.Persons, person)
	}

	record.Sensitive = hasSensitiveKeyword(record.Keywords)

	return record, nil
}

func hasSensitiveKeyword(keywords []string) bool {
	for _, k := range keywords {
		folded := foldAccents(strings.TrimSpace(k))
		for _, s := range sensitiveKeywords {
			if strings.EqualFold(folded, foldAccents(s)) {
				return true
			}
		}
	}
	return false
}

func lowerKeys(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[strings.ToLower(k)] = v
	}
	return out
}

func getString(m map[string]any, key string) string {
	v, ok := m[key]
	if !ok || v == nil {
		return ""
	}
	switch s := v.(type) {
	case string:
		if strings.EqualFold(s, "null") || s == "No especificado" {
			return ""
		}
		return strings.TrimSpace(s)
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	}
	return ""
}

func getFloat(m map[string]any, key string) float64 {
	v, ok := m[key]
	if !ok || v == nil {
		return 0
	}
	switch n := v.(type) {
	case float64:
		return n
	case string:
		clean := strings.NewReplacer("B/.", "", "$", "", ",", "").Replace(n)
		f, err := strconv.ParseFloat(strings.TrimSpace(clean), 64)
		if err != nil {
			return 0
		}
		return f
	}
	return 0
}

func getMap(m map[string]any, key string) map[string]any {
	if v, ok := m[key].(map[string]any); ok {
		return lowerKeys(v)
	}
	return map[string]any{}
}

func getSlice(m map[string]any, key string) []any {
	if v, ok := m[key].([]any); ok {
		return v
	}
	return nil
}

func getStringSlice(m map[string]any, key string) []string {
	var out []string
	for _, v := range getSlice(m, key) {
		if s, ok := v.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}
