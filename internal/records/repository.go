package records

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

const schema = `CREATE TABLE IF NOT EXISTS matches (
    match_id    TEXT PRIMARY KEY,
    players     JSONB NOT NULL,
    status      TEXT NOT NULL,
    winner_id   TEXT NOT NULL DEFAULT '',
    source      TEXT NOT NULL,
    moves       JSONB NOT NULL DEFAULT '[]'::jsonb,
    started_at  TIMESTAMPTZ NOT NULL,
    ended_at    TIMESTAMPTZ,
    duration_ms BIGINT NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS matches_players_gin ON matches USING GIN (players jsonb_path_ops);`

// Repository is the postgres-backed Store.
type Repository struct {
	db *sql.DB
}

func NewRepository(databaseURL string) (*Repository, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repository{db: db}, nil
}

func (r *Repository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

// Migrate creates the matches table when missing.
func (r *Repository) Migrate(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, schema)
	return err
}

// SaveMatch upserts rec keyed by match id.
func (r *Repository) SaveMatch(ctx context.Context, rec *MatchRecord) error {
	if rec == nil || strings.TrimSpace(rec.MatchID) == "" {
		return ErrInvalidRecord
	}
	players, err := json.Marshal(rec.Players)
	if err != nil {
		return fmt.Errorf("marshal players: %w", err)
	}
	moves, err := json.Marshal(nonNilMoves(rec.Moves))
	if err != nil {
		return fmt.Errorf("marshal moves: %w", err)
	}
	var ended sql.NullTime
	if !rec.EndedAt.IsZero() {
		ended = sql.NullTime{Time: rec.EndedAt, Valid: true}
	}

	const q = `INSERT INTO matches (
        match_id, players, status, winner_id, source, moves,
        started_at, ended_at, duration_ms
      ) VALUES (
        $1,$2::jsonb,$3,$4,$5,$6::jsonb,$7,$8,$9
      ) ON CONFLICT (match_id) DO UPDATE SET
        players=EXCLUDED.players,
        status=EXCLUDED.status,
        winner_id=EXCLUDED.winner_id,
        source=EXCLUDED.source,
        moves=EXCLUDED.moves,
        started_at=EXCLUDED.started_at,
        ended_at=EXCLUDED.ended_at,
        duration_ms=EXCLUDED.duration_ms`

	_, err = r.db.ExecContext(ctx, q,
		rec.MatchID, string(players), string(rec.Status), rec.WinnerID, string(rec.Source), string(moves),
		rec.StartedAt, ended, rec.DurationMS,
	)
	if err != nil {
		return fmt.Errorf("upsert match %s: %w", rec.MatchID, err)
	}
	return nil
}

const selectColumns = `match_id, players, status, winner_id, source, moves, started_at, ended_at, duration_ms`

func (r *Repository) GetMatch(ctx context.Context, matchID string) (*MatchRecord, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM matches WHERE match_id = $1`, strings.TrimSpace(matchID))
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return rec, err
}

func (r *Repository) RecentByUser(ctx context.Context, userID string, limit int) ([]*MatchRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	filter, err := json.Marshal([]map[string]string{{"id": strings.TrimSpace(userID)}})
	if err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM matches WHERE players @> $1::jsonb ORDER BY started_at DESC LIMIT $2`,
		string(filter), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*MatchRecord, 0, limit)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (*MatchRecord, error) {
	var (
		rec            MatchRecord
		players, moves []byte
		status, source string
		ended          sql.NullTime
	)
	if err := s.Scan(&rec.MatchID, &players, &status, &rec.WinnerID, &source, &moves, &rec.StartedAt, &ended, &rec.DurationMS); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(players, &rec.Players); err != nil {
		return nil, fmt.Errorf("decode players: %w", err)
	}
	if len(moves) > 0 {
		if err := json.Unmarshal(moves, &rec.Moves); err != nil {
			return nil, fmt.Errorf("decode moves: %w", err)
		}
	}
	rec.Status = Status(status)
	rec.Source = Source(source)
	if ended.Valid {
		rec.EndedAt = ended.Time
	}
	return &rec, nil
}

func nonNilMoves(m []int) []int {
	if m == nil {
		return []int{}
	}
	return m
}
