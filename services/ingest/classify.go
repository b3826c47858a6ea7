package ingest

import (
	"fmt"
	"time"
)

const (
	// timestampLayout is the format the analysis scripts emit.
	timestampLayout = "2006-01-02 15:04:05"
	// iplDateLayout is the human-readable date carried on done rows.
	iplDateLayout = "Jan 02, 2006"
)

// Classified partitions raw rows into the result buckets.
type Classified struct {
	Done    []DoneRow
	Fail    []FailRow
	Garb    []GarbRow
	LastIpl []LastIplRow
}

// Classify buckets every raw row. A row with four parseable timestamps is
// done and gets its durations computed; a row with at least one timestamp
// present but not all parseable is a failure; a row with none is garbage.
// Rows with a parseable last-IPL field additionally feed the last-IPL
// index, whatever bucket they landed in.
func Classify(rows []RawRow) Classified {
	var out Classified

	for _, row := range rows {
		stamps := [4]string{row.ShutdownBegin, row.ShutdownEnd, row.IplBegin, row.IplEnd}

		var parsed [4]time.Time
		allValid := true
		anyPresent := false
		for i, s := range stamps {
			if s != "" {
				anyPresent = true
			}
			t, err := time.Parse(timestampLayout, s)
			if err != nil {
				allValid = false
				continue
			}
			parsed[i] = t
		}

		switch {
		case allValid:
			out.Done = append(out.Done, DoneRow{
				Sysname:          row.Sysname,
				IplDate:          parsed[0].Format(iplDateLayout),
				LogDataset:       row.LogDataset,
				ShutdownBegin:    row.ShutdownBegin,
				ShutdownEnd:      row.ShutdownEnd,
				IplBegin:         row.IplBegin,
				IplEnd:           row.IplEnd,
				PreIpl:           row.PreIpl,
				PosIpl:           row.PosIpl,
				ShutdownDuration: formatDuration(parsed[1].Sub(parsed[0])),
				PoweroffDuration: formatDuration(parsed[2].Sub(parsed[1])),
				LoadDuration:     formatDuration(parsed[3].Sub(parsed[2])),
				TotalDuration:    formatDuration(parsed[3].Sub(parsed[0])),
			})
		case anyPresent:
			out.Fail = append(out.Fail, FailRow(rowFields(row)))
		default:
			out.Garb = append(out.Garb, GarbRow(rowFields(row)))
		}

		if _, err := time.Parse(timestampLayout, row.LastIpl); err == nil {
			out.LastIpl = append(out.LastIpl, LastIplRow{
				Sysname:    row.Sysname,
				LogDataset: row.LogDataset,
				LastIpl:    row.LastIpl,
			})
		}
	}

	return out
}

func rowFields(row RawRow) FailRow {
	return FailRow{
		Sysname:       row.Sysname,
		LogDataset:    row.LogDataset,
		ShutdownBegin: row.ShutdownBegin,
		ShutdownEnd:   row.ShutdownEnd,
		IplBegin:      row.IplBegin,
		IplEnd:        row.IplEnd,
		PreIpl:        row.PreIpl,
		PosIpl:        row.PosIpl,
	}
}

// formatDuration renders d as HH:MM:SS. Durations past a day keep
// accumulating in the hour field rather than carrying a day component.
func formatDuration(d time.Duration) string {
	total := int(d / time.Second)
	if total < 0 {
		total = 0
	}
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, total%3600/60, total%60)
}
