package visualization

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"stem4d/internal/models"
)

// PositionReader supplies single ronchigrams by position index. It is
// satisfied by the acquisition file's main dataset handle.
type PositionReader interface {
	ReadPosition(i int) ([]float64, error)
}

// Browser renders pairs of views on request: for each scan position it
// writes the mean-response map with a marker at that position next to the
// ronchigram recorded there.
type Browser struct {
	renderer *Renderer
	source   PositionReader
	meanMap  []float64
	scan     models.ScanShape
	detector models.DetectorShape
}

// NewBrowser creates a browser over the given dataset. meanMap is the
// per-position mean intensity, one value per scan position.
func NewBrowser(renderer *Renderer, source PositionReader, meanMap []float64, info models.DatasetInfo) *Browser {
	return &Browser{
		renderer: renderer,
		source:   source,
		meanMap:  meanMap,
		scan:     info.Scan,
		detector: info.Detector,
	}
}

// Run reads "row col" pairs until EOF or "q", rendering the pair of views
// for each valid position.
func (b *Browser) Run(in io.Reader, out io.Writer) error {
	reader := bufio.NewReader(in)

	fmt.Fprintf(out, "Browsing %dx%d scan positions. Enter \"row col\", or q to quit.\n", b.scan.Rows, b.scan.Cols)

	for {
		fmt.Fprint(out, "> ")

		line, err := reader.ReadString('\n')
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read input: %v", err)
		}

		line = strings.TrimSpace(line)
		if line == "q" || line == "Q" {
			return nil
		}

		row, col, err := parsePosition(line)
		if err != nil {
			fmt.Fprintf(out, "Error! %v\n", err)
			continue
		}
		if row < 0 || row >= b.scan.Rows || col < 0 || col >= b.scan.Cols {
			fmt.Fprintf(out, "Error! position (%d, %d) outside %dx%d scan\n", row, col, b.scan.Rows, b.scan.Cols)
			continue
		}

		if err := b.Show(row, col, out); err != nil {
			return err
		}
	}
}

// Show renders the two views for one scan position.
func (b *Browser) Show(row, col int, out io.Writer) error {
	pixels, err := b.source.ReadPosition(row*b.scan.Cols + col)
	if err != nil {
		return fmt.Errorf("failed to read position (%d, %d): %v", row, col, err)
	}

	ronchiPath, err := b.renderer.SaveRonchigram(fmt.Sprintf("ronchigram_r%03d_c%03d.png", row, col), pixels, b.detector)
	if err != nil {
		return err
	}

	mapPath, err := b.renderer.SaveSpatialMap(fmt.Sprintf("mean_map_r%03d_c%03d.png", row, col),
		fmt.Sprintf("Mean response, position (%d, %d)", row, col), b.meanMap, b.scan, row, col)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Saved %s and %s\n", mapPath, ronchiPath)
	return nil
}

// parsePosition parses a "row col" pair.
func parsePosition(line string) (int, int, error) {
	fields := strings.Fields(line)
	if len(fields) != 2 {
		return 0, 0, fmt.Errorf("expected two numbers, got %q", line)
	}

	row, err := strconv.Atoi(fields[0])
	if err != nil {
		return 0, 0, fmt.Errorf("%q is not a number", fields[0])
	}
	col, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0, 0, fmt.Errorf("%q is not a number", fields[1])
	}

	return row, col, nil
}
