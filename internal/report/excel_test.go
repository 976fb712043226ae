package report

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/figueredoestupinan2025/rpa-productos/internal/catalog"
	"github.com/figueredoestupinan2025/rpa-productos/internal/store"
)

type fixedClock struct{ now time.Time }

func (f fixedClock) Now() time.Time { return f.now }

func testData(now time.Time) ([]catalog.Product, store.Statistics) {
	products := []catalog.Product{
		{ID: 1, Title: "Mochila Fjallraven", Price: 109.95, Category: "men's clothing",
			Description: strings.Repeat("descripcion larga ", 10), InsertedAt: now},
		{ID: 2, Title: "Camiseta Premium", Price: 22.3, Category: "men's clothing",
			Description: "Camiseta slim fit", InsertedAt: now},
		{ID: 3, Title: "Anillo de plata", Price: 9.99, Category: "jewelery",
			Description: "Anillo clasico", InsertedAt: now},
	}
	stats := store.Statistics{
		TotalProducts: 3,
		AvgPrice:      47.413,
		CategoryStats: []store.CategoryStat{
			{Category: "jewelery", Count: 1, AvgPrice: 9.99, MinPrice: 9.99, MaxPrice: 9.99},
			{Category: "men's clothing", Count: 2, AvgPrice: 66.125, MinPrice: 22.3, MaxPrice: 109.95},
		},
	}
	return products, stats
}

func TestGenerate(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 3, 14, 10, 30, 0, 0, time.UTC)
	dir := t.TempDir()
	g := NewGenerator(dir, true, fixedClock{now}, zap.NewNop())

	products, stats := testData(now)
	path, err := g.Generate(products, stats)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "Reporte_2025-03-14.xlsx"), path)

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	// The default sheet is gone; only the two report sheets remain.
	require.ElementsMatch(t, []string{"Productos", "Resumen"}, f.GetSheetList())

	header, err := f.GetCellValue("Productos", "B1")
	require.NoError(t, err)
	require.Equal(t, "Titulo", header)

	title, err := f.GetCellValue("Productos", "B2")
	require.NoError(t, err)
	require.Equal(t, "Mochila Fjallraven", title)

	// Long descriptions are truncated with an ellipsis marker.
	desc, err := f.GetCellValue("Productos", "E2")
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(desc, "..."))
	require.LessOrEqual(t, len(desc), maxDescriptionLength+3)

	inserted, err := f.GetCellValue("Productos", "F2")
	require.NoError(t, err)
	require.Equal(t, "2025-03-14 10:30:00", inserted)

	total, err := f.GetCellValue("Resumen", "B4")
	require.NoError(t, err)
	require.Equal(t, "3", total)

	category, err := f.GetCellValue("Resumen", "A9")
	require.NoError(t, err)
	require.Equal(t, "jewelery", category)

	footer, err := f.GetCellValue("Resumen", "A14")
	require.NoError(t, err)
	require.Equal(t, "Reporte generado: 2025-03-14 10:30:00", footer)
}

func TestGenerate_EmptyStore(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 3, 14, 10, 30, 0, 0, time.UTC)
	g := NewGenerator(t.TempDir(), true, fixedClock{now}, zap.NewNop())

	path, err := g.Generate(nil, store.Statistics{})
	require.NoError(t, err)

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows("Productos")
	require.NoError(t, err)
	require.Len(t, rows, 1) // header only
}

func TestGenerate_WithoutChart(t *testing.T) {
	t.Parallel()
	now := time.Now()
	g := NewGenerator(t.TempDir(), false, fixedClock{now}, zap.NewNop())

	products, stats := testData(now)
	path, err := g.Generate(products, stats)
	require.NoError(t, err)

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()
}

func TestTruncate(t *testing.T) {
	t.Parallel()
	require.Equal(t, "corto", truncate("corto", 10))
	require.Equal(t, "abcde...", truncate("abcdefgh", 5))
}
