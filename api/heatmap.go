package api

import (
	"fmt"
	"net/http"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// renderHeatmap draws the occupancy grid as a PNG. The grid is a
// point-in-time copy, so a slow client never holds up the engine.
func (s *Server) renderHeatmap(w http.ResponseWriter, r *http.Request) {
	if !s.requireGet(w, r) {
		return
	}

	grid := s.engine.HeatmapPlot()
	hm := plotter.NewHeatMap(grid, palette.Heat(16, 1))
	// A cold (all-zero) grid has Min == Max, which the palette mapping
	// cannot scale; stretch the range so the render still succeeds.
	hm.Min = 0
	if hm.Max <= hm.Min {
		hm.Max = hm.Min + 1
	}

	p := plot.New()
	p.Title.Text = "Lane occupancy"
	p.X.Label.Text = "x (px)"
	p.Y.Label.Text = "y (px)"
	p.Add(hm)

	wt, err := p.WriterTo(8*vg.Inch, 4.5*vg.Inch, "png")
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render heatmap: %v", err))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	if _, err := wt.WriteTo(w); err != nil {
		// Client went away mid-render; nothing useful to do.
		return
	}
}
