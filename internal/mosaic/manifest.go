package mosaic

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gocarina/gocsv"
)

// ManifestRow is one tile of one interval in the CSV manifest.
type ManifestRow struct {
	RunID    string  `csv:"run_id"`
	Interval string  `csv:"interval"`
	Row      int     `csv:"row"`
	Col      int     `csv:"col"`
	MinX     float64 `csv:"min_x"`
	MinY     float64 `csv:"min_y"`
	MaxX     float64 `csv:"max_x"`
	MaxY     float64 `csv:"max_y"`
	Width    int     `csv:"width"`
	Height   int     `csv:"height"`
	Status   string  `csv:"status"`
	Cached   bool    `csv:"cached"`
	Reason   string  `csv:"reason"`
}

func ManifestRows(runID, interval string, outcomes []TileOutcome) []ManifestRow {
	rows := make([]ManifestRow, 0, len(outcomes))
	for _, o := range outcomes {
		r := ManifestRow{
			RunID:    runID,
			Interval: interval,
			Row:      o.Row,
			Col:      o.Col,
			MinX:     o.BBox.Min[0],
			MinY:     o.BBox.Min[1],
			MaxX:     o.BBox.Max[0],
			MaxY:     o.BBox.Max[1],
			Width:    o.Width,
			Height:   o.Height,
			Status:   o.Status.String(),
			Cached:   o.Cached,
		}
		if o.Err != nil {
			r.Reason = o.Err.Error()
		}
		rows = append(rows, r)
	}
	return rows
}

// WriteManifest replaces path with rows.
func WriteManifest(path string, rows []ManifestRow) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create manifest directory: %w", err)
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create manifest: %w", err)
	}
	defer file.Close()
	if err := gocsv.MarshalFile(&rows, file); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}

func ReadManifest(path string) ([]ManifestRow, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	var rows []ManifestRow
	if err := gocsv.UnmarshalFile(file, &rows); err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	return rows, nil
}
