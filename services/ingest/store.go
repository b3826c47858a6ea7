package ingest

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgxpool"

	"iplfleet/pkg/db"
)

// Store is the persistence surface for raw telemetry and its classified
// buckets. Every append is deduplicating: rows already present are dropped
// silently.
type Store interface {
	SeenDatasets(ctx context.Context) (map[string]struct{}, error)
	AppendRaw(ctx context.Context, rows []RawRow) error
	RawBySysnames(ctx context.Context, sysnames []string) ([]RawRow, error)
	AppendDone(ctx context.Context, rows []DoneRow) error
	AppendFail(ctx context.Context, rows []FailRow) error
	AppendGarb(ctx context.Context, rows []GarbRow) error
	AppendLastIpl(ctx context.Context, rows []LastIplRow) error
}

// PostgresStore persists results in the shared database. Classified tables
// carry unique indexes over their payload columns, so appends rely on
// ON CONFLICT DO NOTHING for dedup.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a store over the provided pool.
func NewPostgresStore(pool *pgxpool.Pool) (*PostgresStore, error) {
	if pool == nil {
		return nil, errors.New("database pool is required")
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) SeenDatasets(ctx context.Context) (map[string]struct{}, error) {
	var datasets []string
	err := db.Select(ctx, s.pool, &datasets, `SELECT DISTINCT log_dataset FROM raw_results`)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(datasets))
	for _, d := range datasets {
		seen[d] = struct{}{}
	}
	return seen, nil
}

func (s *PostgresStore) AppendRaw(ctx context.Context, rows []RawRow) error {
	return db.WithTimeout(ctx, db.BatchTimeout, func(ctx context.Context) error {
		for _, row := range rows {
			_, err := db.Exec(ctx, s.pool, `
INSERT INTO raw_results (sysname, log_dataset, shutdown_begin, shutdown_end, ipl_begin, ipl_end, pre_ipl, pos_ipl, last_ipl)
VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''), NULLIF($8, ''), NULLIF($9, ''))
`, row.Sysname, row.LogDataset, row.ShutdownBegin, row.ShutdownEnd, row.IplBegin, row.IplEnd, row.PreIpl, row.PosIpl, row.LastIpl)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *PostgresStore) RawBySysnames(ctx context.Context, sysnames []string) ([]RawRow, error) {
	if len(sysnames) == 0 {
		return nil, nil
	}

	var rows []RawRow
	err := db.Select(ctx, s.pool, &rows, `
SELECT sysname,
       log_dataset,
       COALESCE(shutdown_begin, '') AS shutdown_begin,
       COALESCE(shutdown_end, '') AS shutdown_end,
       COALESCE(ipl_begin, '') AS ipl_begin,
       COALESCE(ipl_end, '') AS ipl_end,
       COALESCE(pre_ipl, '') AS pre_ipl,
       COALESCE(pos_ipl, '') AS pos_ipl,
       COALESCE(last_ipl, '') AS last_ipl
FROM raw_results
WHERE sysname = ANY($1)
`, sysnames)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *PostgresStore) AppendDone(ctx context.Context, rows []DoneRow) error {
	return db.WithTimeout(ctx, db.BatchTimeout, func(ctx context.Context) error {
		for _, row := range rows {
			_, err := db.Exec(ctx, s.pool, `
INSERT INTO results_done (sysname, ipl_date, log_dataset, shutdown_begin, shutdown_end, ipl_begin, ipl_end, pre_ipl, pos_ipl, shutdown_duration, poweroff_duration, load_duration, total_duration)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
ON CONFLICT DO NOTHING
`, row.Sysname, row.IplDate, row.LogDataset, row.ShutdownBegin, row.ShutdownEnd, row.IplBegin, row.IplEnd, row.PreIpl, row.PosIpl, row.ShutdownDuration, row.PoweroffDuration, row.LoadDuration, row.TotalDuration)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *PostgresStore) AppendFail(ctx context.Context, rows []FailRow) error {
	return db.WithTimeout(ctx, db.BatchTimeout, func(ctx context.Context) error {
		for _, row := range rows {
			_, err := db.Exec(ctx, s.pool, `
INSERT INTO results_fail (sysname, log_dataset, shutdown_begin, shutdown_end, ipl_begin, ipl_end, pre_ipl, pos_ipl)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT DO NOTHING
`, row.Sysname, row.LogDataset, row.ShutdownBegin, row.ShutdownEnd, row.IplBegin, row.IplEnd, row.PreIpl, row.PosIpl)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *PostgresStore) AppendGarb(ctx context.Context, rows []GarbRow) error {
	return db.WithTimeout(ctx, db.BatchTimeout, func(ctx context.Context) error {
		for _, row := range rows {
			_, err := db.Exec(ctx, s.pool, `
INSERT INTO results_garb (sysname, log_dataset, shutdown_begin, shutdown_end, ipl_begin, ipl_end, pre_ipl, pos_ipl)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT DO NOTHING
`, row.Sysname, row.LogDataset, row.ShutdownBegin, row.ShutdownEnd, row.IplBegin, row.IplEnd, row.PreIpl, row.PosIpl)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *PostgresStore) AppendLastIpl(ctx context.Context, rows []LastIplRow) error {
	return db.WithTimeout(ctx, db.BatchTimeout, func(ctx context.Context) error {
		for _, row := range rows {
			_, err := db.Exec(ctx, s.pool, `
INSERT INTO results_last_ipl (sysname, log_dataset, last_ipl)
VALUES ($1, $2, $3)
ON CONFLICT DO NOTHING
`, row.Sysname, row.LogDataset, row.LastIpl)
			if err != nil {
				return err
			}
		}
		return nil
	})
}
