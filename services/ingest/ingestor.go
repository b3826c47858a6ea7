package ingest

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// minViableSize is the smallest CSV worth ingesting. The analysis scripts
// always emit at least a header and one row past this size; anything
// smaller is an empty or truncated run.
const minViableSize = 205

// Ingestor walks downloaded results, appends unseen telemetry to the raw
// store and classifies the affected systems.
type Ingestor struct {
	store       Store
	resultsRoot string
}

// NewIngestor creates an ingestor reading CSVs below resultsRoot.
func NewIngestor(store Store, resultsRoot string) (*Ingestor, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if resultsRoot == "" {
		return nil, errors.New("results root is required")
	}
	return &Ingestor{store: store, resultsRoot: resultsRoot}, nil
}

// IngestAndClassify runs one full pass: discover result CSVs, append the
// viable unseen ones to the raw store and reclassify every system those
// files touched. It returns the distinct sysnames newly ingested so callers
// can scope any follow-up work to the affected systems.
func (i *Ingestor) IngestAndClassify(ctx context.Context) ([]string, error) {
	files, err := discoverCSVs(i.resultsRoot)
	if err != nil {
		return nil, err
	}

	seen, err := i.store.SeenDatasets(ctx)
	if err != nil {
		return nil, err
	}

	touched := map[string]struct{}{}

	for _, path := range files {
		info, err := os.Stat(path)
		if err != nil {
			return nil, err
		}
		if info.Size() <= minViableSize {
			continue
		}

		rows, err := readCSV(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}

		// A file is ingested wholesale when any of its datasets is new;
		// partial files from an interrupted run re-ingest in full.
		unseen := false
		for _, row := range rows {
			if _, ok := seen[row.LogDataset]; !ok {
				unseen = true
				break
			}
		}
		if !unseen {
			continue
		}

		if err := i.store.AppendRaw(ctx, rows); err != nil {
			return nil, err
		}
		for _, row := range rows {
			seen[row.LogDataset] = struct{}{}
			touched[row.Sysname] = struct{}{}
		}
	}

	if len(touched) == 0 {
		return nil, nil
	}

	sysnames := make([]string, 0, len(touched))
	for name := range touched {
		sysnames = append(sysnames, name)
	}
	sort.Strings(sysnames)

	raw, err := i.store.RawBySysnames(ctx, sysnames)
	if err != nil {
		return nil, err
	}

	classified := Classify(raw)
	if err := i.store.AppendDone(ctx, classified.Done); err != nil {
		return nil, err
	}
	if err := i.store.AppendFail(ctx, classified.Fail); err != nil {
		return nil, err
	}
	if err := i.store.AppendGarb(ctx, classified.Garb); err != nil {
		return nil, err
	}
	if err := i.store.AppendLastIpl(ctx, classified.LastIpl); err != nil {
		return nil, err
	}

	return sysnames, nil
}

// discoverCSVs maps filename to path for every resume CSV below root, one
// entry per distinct filename.
func discoverCSVs(root string) (map[string]string, error) {
	files := map[string]string{}

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		name := d.Name()
		if strings.HasSuffix(name, ".CSV") && strings.Contains(name, "resume") {
			files[name] = path
		}
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return files, nil
	}
	if err != nil {
		return nil, err
	}
	return files, nil
}

// readCSV parses one semicolon-separated result file into raw rows, mapping
// columns by header name.
func readCSV(path string) ([]RawRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.Comma = ';'
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, err
	}

	col := map[string]int{}
	for idx, name := range header {
		col[strings.TrimSpace(name)] = idx
	}
	if _, ok := col["sysname"]; !ok {
		return nil, fmt.Errorf("missing sysname column")
	}
	if _, ok := col["log_dataset"]; !ok {
		return nil, fmt.Errorf("missing log_dataset column")
	}

	field := func(record []string, name string) string {
		idx, ok := col[name]
		if !ok || idx >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[idx])
	}

	var rows []RawRow
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		// Blank trailer lines carry neither a system nor a dataset.
		if field(record, "sysname") == "" && field(record, "log_dataset") == "" {
			continue
		}
		rows = append(rows, RawRow{
			Sysname:       field(record, "sysname"),
			LogDataset:    field(record, "log_dataset"),
			ShutdownBegin: field(record, "shutdown_begin"),
			ShutdownEnd:   field(record, "shutdown_end"),
			IplBegin:      field(record, "ipl_begin"),
			IplEnd:        field(record, "ipl_end"),
			PreIpl:        field(record, "pre_ipl"),
			PosIpl:        field(record, "pos_ipl"),
			LastIpl:       field(record, "last_ipl"),
		})
	}
	return rows, nil
}
