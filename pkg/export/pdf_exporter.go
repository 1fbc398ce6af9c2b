package export

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
)

// PDFExporter renders datasets as a landscape A4 table with a title band
// and a generation timestamp in the footer.
type PDFExporter struct{}

// NewPDFExporter constructs a PDF exporter.
func NewPDFExporter() *PDFExporter {
	return &PDFExporter{}
}

// Render lays the dataset out as one bordered table. Long tables flow
// across pages with the header row repeated.
func (e *PDFExporter) Render(data Dataset, title string) ([]byte, error) {
	if len(data.Headers) == 0 {
		return nil, fmt.Errorf("pdf export requires headers")
	}

	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetMargins(12, 14, 12)
	pdf.SetAutoPageBreak(true, 18)
	pdf.SetFooterFunc(func() {
		pdf.SetY(-12)
		pdf.SetFont("Arial", "I", 8)
		stamp := time.Now().UTC().Format("2006-01-02 15:04 UTC")
		pdf.CellFormat(0, 8, "Generated "+stamp, "", 0, "R", false, 0, "")
	})

	pageWidth, _ := pdf.GetPageSize()
	left, _, right, _ := pdf.GetMargins()
	colWidth := (pageWidth - left - right) / float64(len(data.Headers))

	writeHeader := func() {
		if title != "" {
			pdf.SetFont("Arial", "B", 13)
			pdf.CellFormat(0, 9, title, "", 1, "L", false, 0, "")
			pdf.Ln(2)
		}
		pdf.SetFont("Arial", "B", 9)
		pdf.SetFillColor(235, 235, 235)
		for _, h := range data.Headers {
			pdf.CellFormat(colWidth, 8, h, "1", 0, "C", true, 0, "")
		}
		pdf.Ln(-1)
	}

	pdf.AddPage()
	writeHeader()

	pdf.SetFont("Arial", "", 8)
	rowHeight := 7.0
	_, pageHeight := pdf.GetPageSize()
	for i, row := range data.Rows {
		if len(row) != len(data.Headers) {
			return nil, fmt.Errorf("pdf row %d has %d cells, want %d", i, len(row), len(data.Headers))
		}
		if pdf.GetY()+rowHeight > pageHeight-18 {
			pdf.AddPage()
			writeHeader()
			pdf.SetFont("Arial", "", 8)
		}
		for _, cell := range row {
			pdf.CellFormat(colWidth, rowHeight, cell, "1", 0, "", false, 0, "")
		}
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}
