package report

import (
	"bytes"
	"fmt"
	"time"

	"github.com/go-pdf/fpdf"

	"github.com/hanno-ai/hanno/internal/analysis"
)

// Color scheme - professional dark blue theme
var (
	colorPrimary     = [3]int{30, 58, 95}    // Dark navy
	colorTextDark    = [3]int{44, 62, 80}    // Dark text
	colorTextMuted   = [3]int{127, 140, 141} // Muted text
	colorTableHeader = [3]int{30, 58, 95}    // Navy header
	colorTableAlt    = [3]int{241, 245, 249} // Alternating row
)

// Generator renders analysis results as PDF reports.
type Generator struct{}

// NewGenerator creates a PDF report generator.
func NewGenerator() *Generator {
	return &Generator{}
}

// Generate creates a PDF report for one analysis result. Labels are kept in
// English since the built-in fpdf fonts cannot render Japanese glyphs.
func (g *Generator) Generate(result *analysis.Result) ([]byte, error) {
	if result == nil {
		return nil, fmt.Errorf("analysis result is required")
	}

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(20, 20, 20)
	pdf.SetAutoPageBreak(true, 25)
	pdf.AddPage()

	g.writeHeader(pdf, result)
	g.writeScores(pdf, result.Scores)

	if cs := result.CompetitorSummary; cs != nil {
		g.writeSummary(pdf, cs)
		g.writeProducts(pdf, cs)
		g.writeCategories(pdf, cs)
	}
	g.writeAdvice(pdf, result.Advice)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("PDF output error: %w", err)
	}
	return buf.Bytes(), nil
}

func (g *Generator) writeHeader(pdf *fpdf.Fpdf, result *analysis.Result) {
	pageWidth, _ := pdf.GetPageSize()

	pdf.SetFillColor(colorPrimary[0], colorPrimary[1], colorPrimary[2])
	pdf.Rect(0, 0, pageWidth, 8, "F")

	pdf.SetY(20)
	pdf.SetFont("Arial", "B", 22)
	pdf.SetTextColor(colorPrimary[0], colorPrimary[1], colorPrimary[2])
	pdf.CellFormat(0, 12, "Store Analysis Report", "", 1, "L", false, 0, "")

	pdf.SetFont("Arial", "", 10)
	pdf.SetTextColor(colorTextMuted[0], colorTextMuted[1], colorTextMuted[2])
	pdf.CellFormat(0, 6, result.URL, "", 1, "L", false, 0, "")
	pdf.CellFormat(0, 6, time.Now().UTC().Format("2006-01-02 15:04 UTC"), "", 1, "L", false, 0, "")
	pdf.Ln(4)
}

func (g *Generator) writeScores(pdf *fpdf.Fpdf, scores *analysis.Scores) {
	if scores == nil {
		return
	}

	g.sectionTitle(pdf, "Diagnostic Scores")

	rows := []struct {
		label string
		value int
	}{
		{"Social Media", scores.SNS},
		{"Site Structure", scores.Structure},
		{"User Experience", scores.UX},
		{"App Integrations", scores.App},
		{"Theme", scores.Theme},
	}

	pdf.SetFont("Arial", "B", 10)
	pdf.SetFillColor(colorTableHeader[0], colorTableHeader[1], colorTableHeader[2])
	pdf.SetTextColor(255, 255, 255)
	pdf.CellFormat(120, 8, "Axis", "1", 0, "L", true, 0, "")
	pdf.CellFormat(50, 8, "Score", "1", 1, "C", true, 0, "")

	pdf.SetFont("Arial", "", 10)
	pdf.SetTextColor(colorTextDark[0], colorTextDark[1], colorTextDark[2])
	for i, row := range rows {
		fill := i%2 == 1
		pdf.SetFillColor(colorTableAlt[0], colorTableAlt[1], colorTableAlt[2])
		pdf.CellFormat(120, 8, row.label, "1", 0, "L", fill, 0, "")
		pdf.CellFormat(50, 8, fmt.Sprintf("%d / 100", row.value), "1", 1, "C", fill, 0, "")
	}
	pdf.Ln(6)
}

func (g *Generator) writeSummary(pdf *fpdf.Fpdf, cs *analysis.CompetitorSummary) {
	g.sectionTitle(pdf, "Overview")

	pdf.SetFont("Arial", "", 10)
	pdf.SetTextColor(colorTextDark[0], colorTextDark[1], colorTextDark[2])

	lines := []string{
		fmt.Sprintf("Products detected: %d", cs.ProductCount),
		fmt.Sprintf("Categories detected: %d", cs.CategoryCount),
		fmt.Sprintf("Prices detected: %d", cs.PriceCount),
	}
	if cs.Theme != "" {
		lines = append(lines, "Theme: "+cs.Theme)
	}
	if len(cs.Apps) > 0 {
		lines = append(lines, fmt.Sprintf("Apps detected: %d", len(cs.Apps)))
	}
	for _, line := range lines {
		pdf.CellFormat(0, 6, line, "", 1, "L", false, 0, "")
	}
	pdf.Ln(4)
}

func (g *Generator) writeProducts(pdf *fpdf.Fpdf, cs *analysis.CompetitorSummary) {
	if len(cs.Products) == 0 {
		return
	}

	g.sectionTitle(pdf, "Products")

	pdf.SetFont("Arial", "B", 10)
	pdf.SetFillColor(colorTableHeader[0], colorTableHeader[1], colorTableHeader[2])
	pdf.SetTextColor(255, 255, 255)
	pdf.CellFormat(120, 8, "Product", "1", 0, "L", true, 0, "")
	pdf.CellFormat(50, 8, "Price", "1", 1, "C", true, 0, "")

	pdf.SetFont("Arial", "", 10)
	pdf.SetTextColor(colorTextDark[0], colorTextDark[1], colorTextDark[2])
	for i, name := range cs.Products {
		price := ""
		if i < len(cs.Prices) {
			price = cs.Prices[i]
		}
		fill := i%2 == 1
		pdf.SetFillColor(colorTableAlt[0], colorTableAlt[1], colorTableAlt[2])
		pdf.CellFormat(120, 8, truncate(name, 70), "1", 0, "L", fill, 0, "")
		pdf.CellFormat(50, 8, price, "1", 1, "C", fill, 0, "")
	}
	pdf.Ln(6)
}

func (g *Generator) writeCategories(pdf *fpdf.Fpdf, cs *analysis.CompetitorSummary) {
	if len(cs.Categories) == 0 {
		return
	}

	g.sectionTitle(pdf, "Categories")

	pdf.SetFont("Arial", "", 10)
	pdf.SetTextColor(colorTextDark[0], colorTextDark[1], colorTextDark[2])
	for _, cat := range cs.Categories {
		pdf.CellFormat(0, 6, "- "+truncate(cat, 90), "", 1, "L", false, 0, "")
	}
	pdf.Ln(4)
}

func (g *Generator) writeAdvice(pdf *fpdf.Fpdf, advice string) {
	if advice == "" {
		return
	}

	g.sectionTitle(pdf, "Recommendations")

	pdf.SetFont("Arial", "", 10)
	pdf.SetTextColor(colorTextDark[0], colorTextDark[1], colorTextDark[2])
	pdf.MultiCell(0, 5.5, advice, "", "L", false)
}

func (g *Generator) sectionTitle(pdf *fpdf.Fpdf, title string) {
	pdf.SetFont("Arial", "B", 13)
	pdf.SetTextColor(colorPrimary[0], colorPrimary[1], colorPrimary[2])
	pdf.CellFormat(0, 9, title, "", 1, "L", false, 0, "")
	pdf.Ln(1)
}

// truncate shortens s to max runes. Product and category names are often
// Japanese, so slicing must not split a multi-byte character.
func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}
