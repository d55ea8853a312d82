package api

import (
	"bytes"
	"fmt"
	"maps"
	"net/http"
	"slices"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/inventory.report/internal/httputil"
	"github.com/banshee-data/inventory.report/internal/units"
)

// handleSalesChart renders current stock and recorded sales per product as
// a grouped bar chart.
func (s *Server) handleSalesChart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}

	v := s.pipeline.View()
	sales := v.SalesByProduct()
	stock := v.Inventory.Counts()

	products := make(map[string]struct{}, len(sales)+len(stock))
	for name := range sales {
		products[name] = struct{}{}
	}
	for name := range stock {
		products[name] = struct{}{}
	}
	names := slices.Sorted(maps.Keys(products))

	stockBars := make([]opts.BarData, 0, len(names))
	salesBars := make([]opts.BarData, 0, len(names))
	for _, name := range names {
		stockBars = append(stockBars, opts.BarData{Value: stock[name]})
		salesBars = append(salesBars, opts.BarData{Value: sales[name]})
	}

	subtitle := fmt.Sprintf("total sales=%d items on shelf=%d", len(v.Sales), v.Inventory.Total())
	if !v.UpdatedAt.IsZero() {
		subtitle += " updated " + units.FormatLocal(v.UpdatedAt, units.DefaultTimezone)
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Shelf Sales", Width: "100%", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: "Stock and Sales by Product", Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Right: "10%"}),
	)
	bar.SetXAxis(names).
		AddSeries("on shelf", stockBars,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
		).
		AddSeries("sold", salesBars,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
		)

	page := components.NewPage()
	page.AddCharts(bar)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError, fmt.Sprintf("render error: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
