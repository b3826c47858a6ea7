package ingest

// RawRow is one line of downloaded IPL telemetry as it appears in the raw
// store. Empty strings stand for fields the analysis scripts left blank.
type RawRow struct {
	Sysname       string
	LogDataset    string
	ShutdownBegin string
	ShutdownEnd   string
	IplBegin      string
	IplEnd        string
	PreIpl        string
	PosIpl        string
	LastIpl       string
}

// DoneRow is a fully-timed IPL cycle with its computed durations.
type DoneRow struct {
	Sysname          string
	IplDate          string
	LogDataset       string
	ShutdownBegin    string
	ShutdownEnd      string
	IplBegin         string
	IplEnd           string
	PreIpl           string
	PosIpl           string
	ShutdownDuration string
	PoweroffDuration string
	LoadDuration     string
	TotalDuration    string
}

// FailRow is a cycle with at least one timestamp present but not all four
// parseable.
type FailRow struct {
	Sysname       string
	LogDataset    string
	ShutdownBegin string
	ShutdownEnd   string
	IplBegin      string
	IplEnd        string
	PreIpl        string
	PosIpl        string
}

// GarbRow is a cycle carrying no timestamps at all.
type GarbRow struct {
	Sysname       string
	LogDataset    string
	ShutdownBegin string
	ShutdownEnd   string
	IplBegin      string
	IplEnd        string
	PreIpl        string
	PosIpl        string
}

// LastIplRow records the most recent IPL instant a row reported for a
// system, independent of how the row itself classified.
type LastIplRow struct {
	Sysname    string
	LogDataset string
	LastIpl    string
}
