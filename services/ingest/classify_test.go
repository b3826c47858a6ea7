package ingest

import (
	"testing"
	"time"
)

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		name string
		d    time.Duration
		want string
	}{
		{
			name: "minutes and seconds",
			d:    5*time.Minute + 30*time.Second,
			want: "00:05:30",
		},
		{
			name: "zero",
			d:    0,
			want: "00:00:00",
		},
		{
			name: "hours",
			d:    2*time.Hour + 3*time.Minute + 4*time.Second,
			want: "02:03:04",
		},
		{
			name: "multi-day accumulates hours",
			d:    30 * time.Hour,
			want: "30:00:00",
		},
		{
			name: "negative clamps to zero",
			d:    -time.Minute,
			want: "00:00:00",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := formatDuration(tt.d); got != tt.want {
				t.Fatalf("formatDuration(%v) = %q, want %q", tt.d, got, tt.want)
			}
		})
	}
}

func TestClassifyDone(t *testing.T) {
	rows := []RawRow{{
		Sysname:       "SYSA",
		LogDataset:    "SYSA.LOG.D260301",
		ShutdownBegin: "2026-03-01 22:00:00",
		ShutdownEnd:   "2026-03-01 22:10:30",
		IplBegin:      "2026-03-01 22:15:00",
		IplEnd:        "2026-03-01 22:40:00",
	}}

	out := Classify(rows)
	if len(out.Done) != 1 || len(out.Fail) != 0 || len(out.Garb) != 0 {
		t.Fatalf("buckets = done:%d fail:%d garb:%d, want 1/0/0", len(out.Done), len(out.Fail), len(out.Garb))
	}

	done := out.Done[0]
	if done.IplDate != "Mar 01, 2026" {
		t.Fatalf("ipl_date = %q", done.IplDate)
	}
	if done.ShutdownDuration != "00:10:30" {
		t.Fatalf("shutdown_duration = %q", done.ShutdownDuration)
	}
	if done.PoweroffDuration != "00:04:30" {
		t.Fatalf("poweroff_duration = %q", done.PoweroffDuration)
	}
	if done.LoadDuration != "00:25:00" {
		t.Fatalf("load_duration = %q", done.LoadDuration)
	}
	if done.TotalDuration != "00:40:00" {
		t.Fatalf("total_duration = %q", done.TotalDuration)
	}
}

func TestClassifyBuckets(t *testing.T) {
	tests := []struct {
		name string
		row  RawRow
		want string
	}{
		{
			name: "all timestamps valid",
			row: RawRow{
				ShutdownBegin: "2026-03-01 22:00:00",
				ShutdownEnd:   "2026-03-01 22:10:00",
				IplBegin:      "2026-03-01 22:15:00",
				IplEnd:        "2026-03-01 22:40:00",
			},
			want: "done",
		},
		{
			name: "one timestamp missing",
			row: RawRow{
				ShutdownBegin: "2026-03-01 22:00:00",
				ShutdownEnd:   "2026-03-01 22:10:00",
				IplBegin:      "2026-03-01 22:15:00",
			},
			want: "fail",
		},
		{
			name: "garbled timestamp",
			row: RawRow{
				ShutdownBegin: "2026-03-01 22:00:00",
				ShutdownEnd:   "IEE334I HALT",
				IplBegin:      "2026-03-01 22:15:00",
				IplEnd:        "2026-03-01 22:40:00",
			},
			want: "fail",
		},
		{
			name: "no timestamps at all",
			row:  RawRow{Sysname: "SYSA", LogDataset: "SYSA.LOG"},
			want: "garb",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Classify([]RawRow{tt.row})
			got := ""
			switch {
			case len(out.Done) == 1:
				got = "done"
			case len(out.Fail) == 1:
				got = "fail"
			case len(out.Garb) == 1:
				got = "garb"
			}
			if got != tt.want {
				t.Fatalf("classified as %q, want %q", got, tt.want)
			}
			if len(out.Done)+len(out.Fail)+len(out.Garb) != 1 {
				t.Fatalf("row landed in %d buckets", len(out.Done)+len(out.Fail)+len(out.Garb))
			}
		})
	}
}

func TestClassifyLastIplIndependent(t *testing.T) {
	rows := []RawRow{
		{
			// Garbage row that still carries a usable last IPL.
			Sysname: "SYSA",
			LastIpl: "2026-02-14 03:00:00",
		},
		{
			// Done row with a garbled last IPL.
			Sysname:       "SYSB",
			ShutdownBegin: "2026-03-01 22:00:00",
			ShutdownEnd:   "2026-03-01 22:10:00",
			IplBegin:      "2026-03-01 22:15:00",
			IplEnd:        "2026-03-01 22:40:00",
			LastIpl:       "unknown",
		},
	}

	out := Classify(rows)
	if len(out.LastIpl) != 1 || out.LastIpl[0].Sysname != "SYSA" {
		t.Fatalf("last ipl rows = %+v, want one for SYSA", out.LastIpl)
	}
	if len(out.Garb) != 1 || len(out.Done) != 1 {
		t.Fatalf("buckets = garb:%d done:%d, want 1/1", len(out.Garb), len(out.Done))
	}
}
