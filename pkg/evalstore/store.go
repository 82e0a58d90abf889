// Package evalstore persists completed model evaluations in SQLite. Rows are
// append-only: repeated evaluations of the same audio accumulate rather than
// overwrite.
package evalstore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/harunnryd/parlato/pkg/evaluate"
)

// Store wraps the SQLite evaluation history.
type Store struct {
	db    *sql.DB
	log   *slog.Logger
	clock func() time.Time
}

// Open creates or opens the database at path and ensures the schema.
func Open(ctx context.Context, path string, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, log: log, clock: time.Now}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS evaluations (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    ground_truth_text TEXT NOT NULL,
    audio_name TEXT NOT NULL,
    audio_size INTEGER NOT NULL,
    winner TEXT NOT NULL,
    winner_score REAL NOT NULL,
    improvement REAL NOT NULL,
    evaluated_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS evaluation_models (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    evaluation_id INTEGER NOT NULL,
    model_name TEXT NOT NULL,
    message_id TEXT,
    transcription TEXT NOT NULL,
    wer REAL NOT NULL,
    cer REAL NOT NULL,
    substitutions INTEGER NOT NULL,
    insertions INTEGER NOT NULL,
    deletions INTEGER NOT NULL,
    processing_time_ms INTEGER NOT NULL,
    FOREIGN KEY(evaluation_id) REFERENCES evaluations(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_evaluations_evaluated_at ON evaluations(evaluated_at);
CREATE INDEX IF NOT EXISTS idx_evaluation_models_eval ON evaluation_models(evaluation_id);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// Close releases the database handle.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SaveEvaluation writes one evaluation and its per-model rows atomically.
func (s *Store) SaveEvaluation(ctx context.Context, eval *evaluate.Evaluation) error {
	evaluatedAt := eval.EvaluatedAt
	if evaluatedAt.IsZero() {
		evaluatedAt = s.clock()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO evaluations(ground_truth_text, audio_name, audio_size, winner, winner_score, improvement, evaluated_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?)`,
		eval.GroundTruthText, eval.Audio.Name, eval.Audio.Size,
		eval.Comparison.Winner, eval.Comparison.WinnerScore, eval.Comparison.Improvement,
		evaluatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return err
	}
	evalID, err := res.LastInsertId()
	if err != nil {
		return err
	}
	for _, model := range eval.Models {
		messageID := sql.NullString{String: model.MessageID, Valid: model.MessageID != ""}
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO evaluation_models(evaluation_id, model_name, message_id, transcription, wer, cer, substitutions, insertions, deletions, processing_time_ms)
			 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			evalID, model.ModelName, messageID, model.Transcription, model.WER, model.CER,
			model.Substitutions, model.Insertions, model.Deletions,
			model.ProcessingTime.Milliseconds()); err != nil {
			return err
		}
	}
	if err = tx.Commit(); err != nil {
		return err
	}
	s.log.Info("evaluation_saved",
		slog.Int64("evaluation_id", evalID),
		slog.String("winner", eval.Comparison.Winner))
	return nil
}

// ListEvaluations returns up to limit evaluations newest-first, each with its
// model rows in insert order.
func (s *Store) ListEvaluations(ctx context.Context, limit int) ([]*evaluate.Evaluation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, ground_truth_text, audio_name, audio_size, winner, winner_score, improvement, evaluated_at
		 FROM evaluations ORDER BY evaluated_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var (
		out []*evaluate.Evaluation
		ids []int64
	)
	for rows.Next() {
		var (
			id      int64
			eval    evaluate.Evaluation
			created string
		)
		if err := rows.Scan(&id, &eval.GroundTruthText, &eval.Audio.Name, &eval.Audio.Size,
			&eval.Comparison.Winner, &eval.Comparison.WinnerScore, &eval.Comparison.Improvement, &created); err != nil {
			return nil, err
		}
		if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
			eval.EvaluatedAt = ts
		}
		out = append(out, &eval)
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, id := range ids {
		if err := s.loadModels(ctx, id, out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *Store) loadModels(ctx context.Context, evalID int64, eval *evaluate.Evaluation) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT model_name, message_id, transcription, wer, cer, substitutions, insertions, deletions, processing_time_ms
		 FROM evaluation_models WHERE evaluation_id = ? ORDER BY id ASC`, evalID)
	if err != nil {
		return err
	}
	defer rows.Close()

	slot := 0
	for rows.Next() && slot < len(eval.Models) {
		var (
			model     evaluate.ModelResult
			messageID sql.NullString
			ms        int64
		)
		if err := rows.Scan(&model.ModelName, &messageID, &model.Transcription, &model.WER, &model.CER,
			&model.Substitutions, &model.Insertions, &model.Deletions, &ms); err != nil {
			return err
		}
		model.MessageID = messageID.String
		model.ProcessingTime = time.Duration(ms) * time.Millisecond
		eval.Models[slot] = model
		slot++
	}
	return rows.Err()
}

var _ evaluate.Sink = (*Store)(nil)
