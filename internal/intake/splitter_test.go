package intake

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/oficio-pipeline/internal/document"
)

func openTextDoc(t *testing.T, pages ...string) document.Document {
	t.Helper()
	doc, err := document.Open([]byte(strings.Join(pages, "\f")))
	require.NoError(t, err)
	return doc
}

const configPage = "CONFIGURACIÓN DEL LOTE\ncantidad_oficios: 2\nempresa: Banco Provincial"

func TestSplitWithSeparators(t *testing.T) {
	doc := openTextDoc(t,
		configPage,
		"OFICIO No. 1 contenido",
		"=== SEPARADOR DE OFICIOS ===",
		"OFICIO No. 2 página uno",
		"OFICIO No. 2 página dos",
	)

	units, err := Split(doc)
	require.NoError(t, err)
	require.Len(t, units, 2)
	assert.Equal(t, "OFICIO No. 1 contenido", string(units[0]))
	assert.Equal(t, "OFICIO No. 2 página uno\fOFICIO No. 2 página dos", string(units[1]))
}

func TestSplitPageFallback(t *testing.T) {
	doc := openTextDoc(t,
		configPage,
		"OFICIO No. 1",
		"OFICIO No. 2",
		"OFICIO No. 3",
	)

	units, err := Split(doc)
	require.NoError(t, err)
	require.Len(t, units, 3)
	assert.Equal(t, "OFICIO No. 2", string(units[1]))
}

func TestSplitWithoutConfigPage(t *testing.T) {
	doc := openTextDoc(t, "OFICIO No. 1", "OFICIO No. 2")

	units, err := Split(doc)
	require.NoError(t, err)
	require.Len(t, units, 2)
	assert.Equal(t, "OFICIO No. 1", string(units[0]))
}

func TestSplitAdjacentSeparatorsDropped(t *testing.T) {
	doc := openTextDoc(t,
		"OFICIO No. 1",
		"--- separador ---",
		"--- divisor ---",
		"OFICIO No. 2",
	)

	units, err := Split(doc)
	require.NoError(t, err)
	require.Len(t, units, 2)
}

func TestSplitLongPageQuotingMarkerIsContent(t *testing.T) {
	long := "El juzgado ordena --- " + strings.Repeat("texto adicional del oficio ", 10)
	require.GreaterOrEqual(t, len(long), separatorMaxChars)

	doc := openTextDoc(t, "OFICIO No. 1", long)

	units, err := Split(doc)
	require.NoError(t, err)
	assert.Len(t, units, 2)
}

func TestSplitSinglePageIsOneUnit(t *testing.T) {
	// One page never counts as a configuration page even with keywords.
	doc := openTextDoc(t, "empresa: Banco\nOFICIO No. 1")

	units, err := Split(doc)
	require.NoError(t, err)
	require.Len(t, units, 1)
}

func TestSplitOnlySeparatorsFails(t *testing.T) {
	doc := openTextDoc(t, "separador", "divisor")

	_, err := Split(doc)
	assert.Error(t, err)
}
