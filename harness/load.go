package harness

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/weiihann/crudbench/dataset"
	"github.com/weiihann/crudbench/store"
)

// LoadConfig controls seeding a store from CSV files.
type LoadConfig struct {
	DataDir  string
	Datasets []dataset.Spec
	Options  store.LoadOptions
}

// LoadReport describes the outcome for one dataset.
type LoadReport struct {
	Dataset string `json:"dataset" yaml:"dataset"`
	File    string `json:"file" yaml:"file"`
	// Missing is set when the CSV file does not exist; nothing is loaded.
	Missing bool  `json:"missing,omitempty" yaml:"missing,omitempty"`
	Rows    int   `json:"rows" yaml:"rows"`
	Skipped int   `json:"skipped" yaml:"skipped"`
	Loaded  int   `json:"loaded" yaml:"loaded"`
	Elapsed int64 `json:"elapsed_ms" yaml:"elapsed_ms"`
}

// Load reads each dataset's CSV from cfg.DataDir and writes it through
// loader. Missing files are reported and skipped; any other error stops
// the load.
func Load(
	ctx context.Context,
	loader store.Loader,
	logger *slog.Logger,
	cfg LoadConfig,
) ([]LoadReport, error) {
	reports := make([]LoadReport, 0, len(cfg.Datasets))

	for _, spec := range cfg.Datasets {
		path := filepath.Join(cfg.DataDir, spec.File)
		rep := LoadReport{Dataset: spec.Name, File: path}
		log := logger.With(slog.String("dataset", spec.Name))

		records, summary, err := dataset.ReadFile(path, spec.KeyField)
		if errors.Is(err, fs.ErrNotExist) {
			log.WarnContext(ctx, "dataset file not found, skipping",
				slog.String("file", path),
			)

			rep.Missing = true
			reports = append(reports, rep)

			continue
		}

		if err != nil {
			return reports, fmt.Errorf("read %s: %w", spec.Name, err)
		}

		rep.Rows = summary.Rows
		rep.Skipped = summary.Skipped

		if summary.Skipped > 0 {
			log.WarnContext(ctx, "skipped malformed rows",
				slog.Int("skipped", summary.Skipped),
			)
		}

		start := time.Now()

		n, err := loader.Load(ctx, spec, records, cfg.Options)
		if err != nil {
			return reports, fmt.Errorf("load %s: %w", spec.Name, err)
		}

		rep.Loaded = n
		rep.Elapsed = time.Since(start).Milliseconds()
		reports = append(reports, rep)

		log.InfoContext(ctx, "dataset loaded",
			slog.Int("rows", n),
			slog.Int64("elapsed_ms", rep.Elapsed),
		)
	}

	return reports, nil
}
