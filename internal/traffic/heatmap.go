package traffic

// HeatmapConfig sizes the occupancy grid over the frame's pixel extent.
type HeatmapConfig struct {
	FrameWidthPx  int
	FrameHeightPx int

	// CellPx is the edge length of one grid cell in pixels.
	CellPx int

	// Weight is the contribution added per observation.
	Weight float64

	// Decay is the per-tick multiplicative fade in (0,1]; older occupancy
	// fades but the grid never hard-resets to zero.
	Decay float64
}

// Heatmap accumulates raw spatial occupancy: each observation adds weight
// at its anchor cell, and each tick fades the whole grid. This is the one
// component that keeps a pixel-space representation instead of
// lane-aggregated statistics.
//
// The engine is the single writer; readers take Grid() copies. Heatmap
// satisfies gonum/plot's GridXYZ contract (Dims/Z/X/Y) so the API layer can
// hand it straight to a plotter.
type Heatmap struct {
	cfg   HeatmapConfig
	cols  int
	rows  int
	cells []float64
}

// NewHeatmap allocates the grid. Cell size defaults to 16 px when unset.
func NewHeatmap(cfg HeatmapConfig) *Heatmap {
	if cfg.CellPx <= 0 {
		cfg.CellPx = 16
	}
	if cfg.Weight <= 0 {
		cfg.Weight = 1
	}
	if cfg.Decay <= 0 || cfg.Decay > 1 {
		cfg.Decay = 0.95
	}
	cols := (cfg.FrameWidthPx + cfg.CellPx - 1) / cfg.CellPx
	rows := (cfg.FrameHeightPx + cfg.CellPx - 1) / cfg.CellPx
	if cols < 1 {
		cols = 1
	}
	if rows < 1 {
		rows = 1
	}
	return &Heatmap{
		cfg:   cfg,
		cols:  cols,
		rows:  rows,
		cells: make([]float64, cols*rows),
	}
}

// Add deposits one observation's weight at the cell containing p. Points
// outside the frame extent are clamped to the border cell.
func (h *Heatmap) Add(p Point) {
	c := int(p.X) / h.cfg.CellPx
	r := int(p.Y) / h.cfg.CellPx
	if c < 0 {
		c = 0
	}
	if c >= h.cols {
		c = h.cols - 1
	}
	if r < 0 {
		r = 0
	}
	if r >= h.rows {
		r = h.rows - 1
	}
	h.cells[r*h.cols+c] += h.cfg.Weight
}

// Fade applies the per-tick decay to every cell.
func (h *Heatmap) Fade() {
	for i := range h.cells {
		h.cells[i] *= h.cfg.Decay
	}
}

// Grid returns a row-major copy of the cell values, rows × cols.
func (h *Heatmap) Grid() (cells []float64, cols, rows int) {
	out := make([]float64, len(h.cells))
	copy(out, h.cells)
	return out, h.cols, h.rows
}

// Dims returns the grid dimensions (gonum/plot GridXYZ).
func (h *Heatmap) Dims() (c, r int) { return h.cols, h.rows }

// Z returns the accumulated occupancy at column c, row r.
func (h *Heatmap) Z(c, r int) float64 { return h.cells[r*h.cols+c] }

// X returns the pixel-space x coordinate of column c's center.
func (h *Heatmap) X(c int) float64 {
	return (float64(c) + 0.5) * float64(h.cfg.CellPx)
}

// Y returns the pixel-space y coordinate of row r's center.
func (h *Heatmap) Y(r int) float64 {
	return (float64(r) + 0.5) * float64(h.cfg.CellPx)
}
