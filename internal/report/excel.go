// Package report renders the spreadsheet workbook with a product sheet and a
// statistics summary sheet.
package report

import (
	"fmt"
	"path/filepath"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/figueredoestupinan2025/rpa-productos/internal/catalog"
	"github.com/figueredoestupinan2025/rpa-productos/internal/clock"
	"github.com/figueredoestupinan2025/rpa-productos/internal/store"
)

const (
	productsSheet = "Productos"
	summarySheet  = "Resumen"

	maxDescriptionLength = 100
)

// Generator writes one dated workbook per run, always regenerated in full
// from the current store state.
type Generator struct {
	dir          string
	includeChart bool
	clock        clock.Clock
	logger       *zap.Logger
}

// NewGenerator builds a Generator writing into dir.
func NewGenerator(dir string, includeChart bool, clk clock.Clock, logger *zap.Logger) *Generator {
	return &Generator{dir: dir, includeChart: includeChart, clock: clk, logger: logger}
}

// Generate writes the workbook and returns its path.
func (g *Generator) Generate(products []catalog.Product, stats store.Statistics) (string, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := g.writeProductsSheet(f, products); err != nil {
		return "", err
	}
	if err := g.writeSummarySheet(f, stats); err != nil {
		return "", err
	}
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return "", fmt.Errorf("drop default sheet: %w", err)
	}

	path := filepath.Join(g.dir, fmt.Sprintf("Reporte_%s.xlsx", g.clock.Now().Format("2006-01-02")))
	if err := f.SaveAs(path); err != nil {
		return "", fmt.Errorf("save workbook %s: %w", path, err)
	}

	g.logger.Info("report generated",
		zap.String("path", path),
		zap.Int("products", len(products)))
	return path, nil
}

func (g *Generator) writeProductsSheet(f *excelize.File, products []catalog.Product) error {
	if _, err := f.NewSheet(productsSheet); err != nil {
		return fmt.Errorf("create products sheet: %w", err)
	}

	headers := []any{"ID", "Titulo", "Precio", "Categoria", "Descripcion", "Fecha Insercion"}
	if err := f.SetSheetRow(productsSheet, "A1", &headers); err != nil {
		return fmt.Errorf("write product headers: %w", err)
	}
	headerStyle, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"CCCCCC"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	if err != nil {
		return fmt.Errorf("build header style: %w", err)
	}
	if err := f.SetCellStyle(productsSheet, "A1", "F1", headerStyle); err != nil {
		return fmt.Errorf("style product headers: %w", err)
	}

	for i, p := range products {
		row := []any{
			p.ID,
			p.Title,
			p.Price,
			p.Category,
			truncate(p.Description, maxDescriptionLength),
			p.InsertedAt.Format("2006-01-02 15:04:05"),
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return fmt.Errorf("cell name for row %d: %w", i+2, err)
		}
		if err := f.SetSheetRow(productsSheet, cell, &row); err != nil {
			return fmt.Errorf("write product row %d: %w", i+2, err)
		}
	}

	priceFormat := "#,##0.00"
	priceStyle, err := f.NewStyle(&excelize.Style{CustomNumFmt: &priceFormat})
	if err != nil {
		return fmt.Errorf("build price style: %w", err)
	}
	if len(products) > 0 {
		last := fmt.Sprintf("C%d", len(products)+1)
		if err := f.SetCellStyle(productsSheet, "C2", last, priceStyle); err != nil {
			return fmt.Errorf("style price column: %w", err)
		}
	}

	widths := map[string]float64{"A": 10, "B": 40, "C": 15, "D": 20, "E": 50, "F": 20}
	for col, width := range widths {
		if err := f.SetColWidth(productsSheet, col, col, width); err != nil {
			return fmt.Errorf("set column width %s: %w", col, err)
		}
	}
	return nil
}

// categoryHeaderRow is where the per-category table starts on the summary
// sheet; the chart references depend on it.
const categoryHeaderRow = 8

func (g *Generator) writeSummarySheet(f *excelize.File, stats store.Statistics) error {
	if _, err := f.NewSheet(summarySheet); err != nil {
		return fmt.Errorf("create summary sheet: %w", err)
	}

	titleStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true, Size: 16}})
	if err != nil {
		return fmt.Errorf("build title style: %w", err)
	}
	if err := f.SetCellValue(summarySheet, "A1", "RESUMEN DE PRODUCTOS"); err != nil {
		return fmt.Errorf("write summary title: %w", err)
	}
	if err := f.SetCellStyle(summarySheet, "A1", "A1", titleStyle); err != nil {
		return fmt.Errorf("style summary title: %w", err)
	}

	sectionStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true, Size: 14}})
	if err != nil {
		return fmt.Errorf("build section style: %w", err)
	}
	cells := map[string]any{
		"A3": "Estadisticas Generales",
		"A4": "Total de productos:",
		"B4": stats.TotalProducts,
		"A5": "Precio promedio general:",
		"B5": stats.AvgPrice,
		"A7": "Estadisticas por Categoria",
	}
	for cell, value := range cells {
		if err := f.SetCellValue(summarySheet, cell, value); err != nil {
			return fmt.Errorf("write summary cell %s: %w", cell, err)
		}
	}
	for _, cell := range []string{"A3", "A7"} {
		if err := f.SetCellStyle(summarySheet, cell, cell, sectionStyle); err != nil {
			return fmt.Errorf("style summary section %s: %w", cell, err)
		}
	}

	headers := []any{"Categoria", "Cantidad", "Precio Promedio", "Precio Minimo", "Precio Maximo"}
	headerCell := fmt.Sprintf("A%d", categoryHeaderRow)
	if err := f.SetSheetRow(summarySheet, headerCell, &headers); err != nil {
		return fmt.Errorf("write category headers: %w", err)
	}
	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"E6E6E6"}, Pattern: 1},
	})
	if err != nil {
		return fmt.Errorf("build category header style: %w", err)
	}
	if err := f.SetCellStyle(summarySheet, headerCell, fmt.Sprintf("E%d", categoryHeaderRow), headerStyle); err != nil {
		return fmt.Errorf("style category headers: %w", err)
	}

	for i, cs := range stats.CategoryStats {
		row := []any{cs.Category, cs.Count, cs.AvgPrice, cs.MinPrice, cs.MaxPrice}
		cell := fmt.Sprintf("A%d", categoryHeaderRow+1+i)
		if err := f.SetSheetRow(summarySheet, cell, &row); err != nil {
			return fmt.Errorf("write category row %s: %w", cs.Category, err)
		}
	}

	currencyFormat := "$#,##0.00"
	currencyStyle, err := f.NewStyle(&excelize.Style{CustomNumFmt: &currencyFormat})
	if err != nil {
		return fmt.Errorf("build currency style: %w", err)
	}
	if err := f.SetCellStyle(summarySheet, "B5", "B5", currencyStyle); err != nil {
		return fmt.Errorf("style average price: %w", err)
	}
	if n := len(stats.CategoryStats); n > 0 {
		first := fmt.Sprintf("C%d", categoryHeaderRow+1)
		last := fmt.Sprintf("E%d", categoryHeaderRow+n)
		if err := f.SetCellStyle(summarySheet, first, last, currencyStyle); err != nil {
			return fmt.Errorf("style category prices: %w", err)
		}
	}

	if g.includeChart && len(stats.CategoryStats) > 0 {
		if err := g.addCategoryChart(f, len(stats.CategoryStats)); err != nil {
			// A missing chart should not sink the report.
			g.logger.Warn("skipping category chart", zap.Error(err))
		}
	}

	footer := fmt.Sprintf("Reporte generado: %s", g.clock.Now().Format("2006-01-02 15:04:05"))
	footerCell := fmt.Sprintf("A%d", categoryHeaderRow+len(stats.CategoryStats)+4)
	if err := f.SetCellValue(summarySheet, footerCell, footer); err != nil {
		return fmt.Errorf("write footer: %w", err)
	}
	return nil
}

func (g *Generator) addCategoryChart(f *excelize.File, categories int) error {
	firstRow := categoryHeaderRow + 1
	lastRow := categoryHeaderRow + categories
	return f.AddChart(summarySheet, fmt.Sprintf("G%d", categoryHeaderRow), &excelize.Chart{
		Type: excelize.Col,
		Series: []excelize.ChartSeries{{
			Name:       fmt.Sprintf("%s!$B$%d", summarySheet, categoryHeaderRow),
			Categories: fmt.Sprintf("%s!$A$%d:$A$%d", summarySheet, firstRow, lastRow),
			Values:     fmt.Sprintf("%s!$B$%d:$B$%d", summarySheet, firstRow, lastRow),
		}},
		Title: []excelize.RichTextRun{{Text: "Productos por Categoria"}},
	})
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}
