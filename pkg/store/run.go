package store

import (
	"database/sql"
	"errors"
	"time"

	"github.com/xandeum/ingestor/pkg/domain"
)

// InsertIngestionRun creates the row marking the start of a cycle.
func (s *Store) InsertIngestionRun(token string, startedAt time.Time) (int64, error) {
	const statement = `
		INSERT INTO "IngestionRun" (token, started_at, attempted, success, failed, backoff, observed)
		VALUES ($1, $2, 0, 0, 0, 0, 0) RETURNING id`
	var id int64
	err := s.db.QueryRow(statement, token, startedAt).Scan(&id)
	return id, err
}

// UpdateIngestionRun finalizes the run with its summary counters.
func (s *Store) UpdateIngestionRun(id int64, finishedAt time.Time, summary domain.IngestionRun) error {
	const statement = `
		UPDATE "IngestionRun" SET finished_at = $2, attempted = $3, success = $4,
			failed = $5, backoff = $6, observed = $7
		WHERE id = $1`
	_, err := s.db.Exec(statement, id, finishedAt,
		summary.Attempted, summary.Success, summary.Failed, summary.Backoff, summary.Observed)
	return err
}

// InsertRunSeedStats writes the per-seed counters for a finished run in one
// batch.
func (s *Store) InsertRunSeedStats(runId int64, stats []domain.RunSeedStats) error {
	if len(stats) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}

	const statement = `
		INSERT INTO "IngestionRunSeedStats" (
			ingestion_run_id, seed_base_url, attempted, backoff, success, failed, observed
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`

	stmt, err := tx.Prepare(statement)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, st := range stats {
		if _, err := stmt.Exec(runId, st.SeedBaseURL, st.Attempted, st.Backoff, st.Success, st.Failed, st.Observed); err != nil {
			tx.Rollback()
			return err
		}
	}

	return tx.Commit()
}

// LatestFinishedRun returns the most recently finished run, or nil when no
// run has finished yet. The health endpoint does not use it: the scheduler
// tracks lastSuccessfulIngestion/lastIngestionAttempt in memory.
func (s *Store) LatestFinishedRun() (*domain.IngestionRun, error) {
	const statement = `
		SELECT id, token, started_at, finished_at, attempted, success, failed, backoff, observed
		FROM "IngestionRun"
		WHERE finished_at IS NOT NULL
		ORDER BY started_at DESC
		LIMIT 1`
	var run domain.IngestionRun
	err := s.db.QueryRow(statement).Scan(&run.Id, &run.Token, &run.StartedAt, &run.FinishedAt,
		&run.Attempted, &run.Success, &run.Failed, &run.Backoff, &run.Observed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}
