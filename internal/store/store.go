package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
	_ "modernc.org/sqlite"

	"github.com/valpere/regiontran/internal"
)

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One writer keeps the credit ledger's conditional updates serial.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}

	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS translation_requests (
		id TEXT PRIMARY KEY,
		payload_kind TEXT NOT NULL,
		source_key TEXT NOT NULL,
		target_lang TEXT NOT NULL,
		structured BOOLEAN DEFAULT FALSE,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	-- attempts holds one row per endpoint call, including skipped endpoints
	CREATE TABLE IF NOT EXISTS attempts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		request_id TEXT NOT NULL,
		endpoint_id TEXT NOT NULL,
		attempt_number INTEGER NOT NULL,
		outcome TEXT NOT NULL,
		reason TEXT,
		latency_ms INTEGER,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (request_id) REFERENCES translation_requests(id)
	);

	CREATE TABLE IF NOT EXISTS translation_memory (
		id TEXT PRIMARY KEY,
		source_key TEXT NOT NULL,
		payload_kind TEXT NOT NULL,
		target_lang TEXT NOT NULL,
		final_text TEXT NOT NULL,
		endpoint_used TEXT,
		usage_count INTEGER DEFAULT 1,
		invalidated BOOLEAN DEFAULT FALSE,
		last_used TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(source_key, target_lang)
	);

	CREATE TABLE IF NOT EXISTS credits (
		account TEXT PRIMARY KEY,
		remaining INTEGER NOT NULL DEFAULT 0,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_memory_lookup ON translation_memory(source_key, target_lang);
	CREATE INDEX IF NOT EXISTS idx_attempts_request ON attempts(request_id);
	CREATE INDEX IF NOT EXISTS idx_attempts_endpoint ON attempts(endpoint_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *Store) SaveRequest(ctx context.Context, req internal.TranslationRequest) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO translation_requests (id, payload_kind, source_key, target_lang, structured, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		req.ID, req.Payload.Kind.String(), SourceKey(req.Payload), req.TargetLanguage, req.Mode == internal.ModeStructured, req.CreatedAt)
	return err
}

// SaveAttempts appends the attempt log of one request in a single transaction.
func (s *Store) SaveAttempts(ctx context.Context, requestID string, outcomes []internal.AttemptOutcome) error {
	if len(outcomes) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO attempts (request_id, endpoint_id, attempt_number, outcome, reason, latency_ms) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, o := range outcomes {
		if _, err := stmt.ExecContext(ctx, requestID, o.EndpointID, o.AttemptNumber, string(o.Kind), o.Reason, o.Latency.Milliseconds()); err != nil {
			return fmt.Errorf("failed to save attempt %s#%d: %w", o.EndpointID, o.AttemptNumber, err)
		}
	}

	return tx.Commit()
}

// EndpointStats aggregates the attempt log of one endpoint.
type EndpointStats struct {
	EndpointID   string
	Attempts     int
	Successes    int
	Transient    int
	Fatal        int
	TimedOut     int
	Skipped      int
	AvgLatencyMs float64
}

func (s *Store) EndpointStats(ctx context.Context) ([]EndpointStats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			endpoint_id,
			COUNT(*),
			COALESCE(SUM(CASE WHEN outcome = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN outcome = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN outcome = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN outcome = ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN outcome = ? THEN 1 ELSE 0 END), 0),
			COALESCE(AVG(CASE WHEN outcome != ? THEN latency_ms END), 0)
		FROM attempts
		GROUP BY endpoint_id
		ORDER BY endpoint_id`,
		internal.OutcomeSuccess, internal.OutcomeTransient, internal.OutcomeFatal,
		internal.OutcomeTimedOut, internal.OutcomeSkipped, internal.OutcomeSkipped)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []EndpointStats
	for rows.Next() {
		var st EndpointStats
		if err := rows.Scan(&st.EndpointID, &st.Attempts, &st.Successes, &st.Transient, &st.Fatal, &st.TimedOut, &st.Skipped, &st.AvgLatencyMs); err != nil {
			return nil, err
		}
		stats = append(stats, st)
	}
	return stats, rows.Err()
}

func (s *Store) Close() error {
	return s.db.Close()
}

// SourceKey identifies a payload for the translation memory. Text is trimmed
// and NFC-normalized; images are keyed by the SHA-256 of their bytes.
func SourceKey(p internal.Payload) string {
	if p.Kind == internal.PayloadImage {
		sum := sha256.Sum256(p.Image)
		return "sha256:" + hex.EncodeToString(sum[:])
	}
	return normalizeText(p.Text)
}

// normalizeText trims whitespace and applies Unicode NFC normalization
// for consistent cache key comparison.
func normalizeText(text string) string {
	return norm.NFC.String(strings.TrimSpace(text))
}

func now() time.Time {
	return time.Now().UTC()
}
