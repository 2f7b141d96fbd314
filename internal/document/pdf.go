package document

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	pdfcpumodel "github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/rotisserie/eris"
)

type pdfDocument struct {
	data   []byte
	reader *pdf.Reader
}

func openPDF(data []byte) (*pdfDocument, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, eris.Wrap(err, "document: parse pdf")
	}
	return &pdfDocument{data: data, reader: r}, nil
}

func (d *pdfDocument) PageCount() int { return d.reader.NumPage() }

func (d *pdfDocument) PageText(page int) (string, error) {
	if page < 1 || page > d.reader.NumPage() {
		return "", eris.Errorf("document: page %d out of range 1..%d", page, d.reader.NumPage())
	}
	p := d.reader.Page(page)
	if p.V.IsNull() {
		return "", nil
	}
	text, err := p.GetPlainText(nil)
	if err != nil {
		return "", eris.Wrapf(err, "document: extract text from page %d", page)
	}
	return text, nil
}

// ExtractPages shells the range out through pdfcpu, which works on files.
func (d *pdfDocument) ExtractPages(from, to int) ([]byte, error) {
	if from < 1 || to > d.reader.NumPage() || from > to {
		return nil, eris.Errorf("document: page range %d..%d out of range 1..%d", from, to, d.reader.NumPage())
	}

	tmp, err := os.MkdirTemp("", "oficio-split-")
	if err != nil {
		return nil, eris.Wrap(err, "document: temp dir")
	}
	defer os.RemoveAll(tmp)

	in := filepath.Join(tmp, "in.pdf")
	out := filepath.Join(tmp, "out.pdf")
	if err := os.WriteFile(in, d.data, 0600); err != nil {
		return nil, eris.Wrap(err, "document: write temp pdf")
	}

	conf := pdfcpumodel.NewDefaultConfiguration()
	conf.ValidationMode = pdfcpumodel.ValidationRelaxed
	pages := []string{fmt.Sprintf("%d-%d", from, to)}
	if err := api.TrimFile(in, out, pages, conf); err != nil {
		return nil, eris.Wrapf(err, "document: trim pages %d..%d", from, to)
	}

	result, err := os.ReadFile(out)
	if err != nil {
		return nil, eris.Wrap(err, "document: read trimmed pdf")
	}
	return result, nil
}
