// Package visualization renders the analysis products of a 4D-STEM dataset
// to image files: spatial maps over the scan grid, detector-plane patterns,
// the singular value spectrum and the cluster dendrogram.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"stem4d/internal/models"
	"stem4d/pkg/clustering"
)

// Renderer writes plots and maps into a results directory.
type Renderer struct {
	dir string
}

// NewRenderer creates the results directory if needed and returns a renderer
// writing into it.
func NewRenderer(dir string) (*Renderer, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create results directory: %v", err)
	}
	return &Renderer{dir: dir}, nil
}

// Dir returns the results directory.
func (r *Renderer) Dir() string {
	return r.dir
}

// scanGrid adapts a flattened row-major spatial map to the heat map grid
// interface. Row 0 of the scan is drawn at the top of the plot.
type scanGrid struct {
	values []float64
	rows   int
	cols   int
}

func (g scanGrid) Dims() (c, r int)   { return g.cols, g.rows }
func (g scanGrid) X(c int) float64    { return float64(c) }
func (g scanGrid) Y(r int) float64    { return float64(r) }
func (g scanGrid) Z(c, r int) float64 { return g.values[(g.rows-1-r)*g.cols+c] }

// SaveSpatialMap renders a per-position quantity as a heat map over the scan
// grid. A marker position of (-1, -1) draws no marker.
func (r *Renderer) SaveSpatialMap(name, title string, values []float64, scan models.ScanShape, markRow, markCol int) (string, error) {
	if len(values) != scan.NumPositions() {
		return "", fmt.Errorf("spatial map has %d values for a %dx%d scan", len(values), scan.Rows, scan.Cols)
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "scan column"
	p.Y.Label.Text = "scan row"

	hm := plotter.NewHeatMap(scanGrid{values: values, rows: scan.Rows, cols: scan.Cols}, palette.Heat(256, 1))
	p.Add(hm)

	if markRow >= 0 && markCol >= 0 {
		pt := plotter.XYs{{X: float64(markCol), Y: float64(scan.Rows - 1 - markRow)}}
		marker, err := plotter.NewScatter(pt)
		if err != nil {
			return "", fmt.Errorf("failed to place position marker: %v", err)
		}
		marker.GlyphStyle.Color = color.RGBA{G: 255, A: 255}
		marker.GlyphStyle.Radius = vg.Points(5)
		marker.GlyphStyle.Shape = draw.CrossGlyph{}
		p.Add(marker)
	}

	return r.save(p, name, 5*vg.Inch, 5*vg.Inch)
}

// SaveLabelMap renders cluster labels over the scan grid.
func (r *Renderer) SaveLabelMap(name string, labels []int, k int, scan models.ScanShape) (string, error) {
	values := make([]float64, len(labels))
	for i, l := range labels {
		values[i] = float64(l)
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Cluster labels (k=%d)", k)
	p.X.Label.Text = "scan column"
	p.Y.Label.Text = "scan row"

	hm := plotter.NewHeatMap(scanGrid{values: values, rows: scan.Rows, cols: scan.Cols}, palette.Heat(k, 1))
	p.Add(hm)

	return r.save(p, name, 5*vg.Inch, 5*vg.Inch)
}

// SaveRonchigram renders a flattened detector image as a grayscale PNG with
// min-max intensity normalization.
func (r *Renderer) SaveRonchigram(name string, pixels []float64, det models.DetectorShape) (string, error) {
	if len(pixels) != det.NumPixels() {
		return "", fmt.Errorf("ronchigram has %d pixels for a %dx%d detector", len(pixels), det.Rows, det.Cols)
	}

	lo, hi := minMax(pixels)
	span := hi - lo
	if span == 0 {
		span = 1
	}

	img := image.NewGray16(image.Rect(0, 0, det.Cols, det.Rows))
	for y := 0; y < det.Rows; y++ {
		for x := 0; x < det.Cols; x++ {
			v := (pixels[y*det.Cols+x] - lo) / span
			img.SetGray16(x, y, color.Gray16{Y: uint16(v * 65535.0)})
		}
	}

	path, err := r.target(name)
	if err != nil {
		return "", err
	}
	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create image file: %v", err)
	}
	defer file.Close()

	if err := png.Encode(file, img); err != nil {
		return "", fmt.Errorf("failed to encode image: %v", err)
	}

	return path, nil
}

// SaveScree renders the singular value spectrum on a log scale.
func (r *Renderer) SaveScree(name string, values []float64) (string, error) {
	pts := make(plotter.XYs, len(values))
	for i, s := range values {
		pts[i].X = float64(i)
		pts[i].Y = s
	}

	p := plot.New()
	p.Title.Text = "Singular value spectrum"
	p.X.Label.Text = "component"
	p.Y.Label.Text = "singular value"
	p.Y.Scale = plot.LogScale{}
	p.Y.Tick.Marker = plot.LogTicks{Prec: -1}

	line, err := plotter.NewLine(pts)
	if err != nil {
		return "", fmt.Errorf("failed to build scree line: %v", err)
	}
	scatter, err := plotter.NewScatter(pts)
	if err != nil {
		return "", fmt.Errorf("failed to build scree points: %v", err)
	}
	p.Add(line, scatter)

	return r.save(p, name, 6*vg.Inch, 4*vg.Inch)
}

// SaveDendrogram renders the linkage merge sequence as a dendrogram of the
// cluster separations. Leaf nodes carry the cluster labels 0..k-1.
func (r *Renderer) SaveDendrogram(name string, merges []clustering.Merge, k int) (string, error) {
	if len(merges) != k-1 {
		return "", fmt.Errorf("linkage has %d merges for %d clusters", len(merges), k)
	}

	// Children of each internal node; merge i creates node k+i.
	children := make(map[int][2]int, len(merges))
	for i, m := range merges {
		children[k+i] = [2]int{m.A, m.B}
	}

	// Leaf x positions follow an in-order walk from the root so subtrees
	// never overlap.
	xs := make(map[int]float64, 2*k-1)
	heights := make(map[int]float64, 2*k-1)
	nextX := 0.0
	var place func(id int) float64
	place = func(id int) float64 {
		if id < k {
			xs[id] = nextX
			nextX++
			return xs[id]
		}
		c := children[id]
		xa := place(c[0])
		xb := place(c[1])
		xs[id] = (xa + xb) / 2
		return xs[id]
	}
	root := k + len(merges) - 1
	place(root)
	for i, m := range merges {
		heights[k+i] = m.Distance
	}

	p := plot.New()
	p.Title.Text = "Cluster dendrogram"
	p.Y.Label.Text = "separation"
	p.X.Tick.Marker = leafTicks(xs, k)

	for _, m := range merges {
		seg := plotter.XYs{
			{X: xs[m.A], Y: heights[m.A]},
			{X: xs[m.A], Y: m.Distance},
			{X: xs[m.B], Y: m.Distance},
			{X: xs[m.B], Y: heights[m.B]},
		}
		line, err := plotter.NewLine(seg)
		if err != nil {
			return "", fmt.Errorf("failed to build dendrogram segment: %v", err)
		}
		p.Add(line)
	}

	return r.save(p, name, 6*vg.Inch, 4*vg.Inch)
}

// leafTicks labels the dendrogram leaves with their cluster numbers.
func leafTicks(xs map[int]float64, k int) plot.ConstantTicks {
	ticks := make([]plot.Tick, 0, k)
	for leaf := 0; leaf < k; leaf++ {
		ticks = append(ticks, plot.Tick{Value: xs[leaf], Label: fmt.Sprintf("C%d", leaf)})
	}
	return plot.ConstantTicks(ticks)
}

// save writes a plot as PNG into the results directory and returns the path.
func (r *Renderer) save(p *plot.Plot, name string, w, h vg.Length) (string, error) {
	path, err := r.target(name)
	if err != nil {
		return "", err
	}
	if err := p.Save(w, h, path); err != nil {
		return "", fmt.Errorf("failed to save %s: %v", path, err)
	}
	return path, nil
}

// target resolves an output name inside the results directory, creating any
// stage subdirectory it names.
func (r *Renderer) target(name string) (string, error) {
	path := filepath.Join(r.dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory for %s: %v", name, err)
	}
	return path, nil
}

// minMax returns the minimum and maximum values in a slice.
func minMax(data []float64) (float64, float64) {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range data {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi
}
