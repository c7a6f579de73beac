package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Store is the persistence boundary: user stats, game and tournament
// snapshots, matchmaking wait times. All gameplay callers treat writes
// as best-effort; the in-memory manager stays the source of truth.
type Store struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

func NewStore(pool *pgxpool.Pool, logger *zap.Logger) *Store {
	return &Store{pool: pool, logger: logger}
}

// User mirrors the users row. Fields missing in older rows come back as
// the schema defaults.
type User struct {
	Token                   string   `json:"token"`
	GamesWon                int      `json:"gamesWon"`
	GamesLost               int      `json:"gamesLost"`
	TournamentPlacements    []string `json:"tournamentPlacements"`
	TournamentWins          int      `json:"tournamentWins"`
	BestTournamentPlacement string   `json:"bestTournamentPlacement"`
	XP                      int      `json:"xp"`
}

// CreateTables bootstraps the schema at startup so a fresh database
// works without a separate migration step.
func (s *Store) CreateTables(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS users (
			token TEXT PRIMARY KEY,
			games_won INT NOT NULL DEFAULT 0,
			games_lost INT NOT NULL DEFAULT 0,
			tournament_placements JSONB NOT NULL DEFAULT '[]',
			tournament_wins INT NOT NULL DEFAULT 0,
			best_tournament_placement TEXT NOT NULL DEFAULT '',
			xp INT NOT NULL DEFAULT 0,
			date_created TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS games (
			room_id TEXT PRIMARY KEY,
			snapshot JSONB NOT NULL,
			last_modified TIMESTAMPTZ NOT NULL DEFAULT now(),
			date_created TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS tournaments (
			tour_id TEXT PRIMARY KEY,
			shard INT NOT NULL,
			snapshot JSONB NOT NULL,
			last_modified TIMESTAMPTZ NOT NULL DEFAULT now(),
			date_created TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS archived_tournaments (
			tour_id TEXT PRIMARY KEY,
			shard INT NOT NULL,
			snapshot JSONB NOT NULL,
			last_modified TIMESTAMPTZ NOT NULL,
			date_created TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS wait_times (
			id BIGSERIAL PRIMARY KEY,
			match_date DATE NOT NULL DEFAULT CURRENT_DATE,
			seconds INT NOT NULL,
			recorded_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create tables: %w", err)
		}
	}
	return nil
}

// GetUser returns the stats row for a token, creating the default row
// on first access.
func (s *Store) GetUser(ctx context.Context, token string) (User, error) {
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO users (token) VALUES ($1) ON CONFLICT (token) DO NOTHING`, token); err != nil {
		return User{}, fmt.Errorf("failed to ensure user %s: %w", token, err)
	}

	user := User{Token: token}
	var placements []byte
	err := s.pool.QueryRow(ctx,
		`SELECT games_won, games_lost, COALESCE(tournament_placements, '[]'),
			tournament_wins, COALESCE(best_tournament_placement, ''), xp
		 FROM users WHERE token = $1`, token).
		Scan(&user.GamesWon, &user.GamesLost, &placements,
			&user.TournamentWins, &user.BestTournamentPlacement, &user.XP)
	if err != nil {
		return User{}, fmt.Errorf("failed to load user %s: %w", token, err)
	}
	if err := json.Unmarshal(placements, &user.TournamentPlacements); err != nil {
		return User{}, fmt.Errorf("failed to decode placements for %s: %w", token, err)
	}
	return user, nil
}

// RecordWin bumps the aggregate counters on both sides of a decided
// game.
func (s *Store) RecordWin(ctx context.Context, winnerToken, loserToken string) error {
	for token, column := range map[string]string{
		winnerToken: "games_won",
		loserToken:  "games_lost",
	} {
		if token == "" {
			continue
		}
		query := fmt.Sprintf(
			`INSERT INTO users (token, %s) VALUES ($1, 1)
			 ON CONFLICT (token) DO UPDATE SET %s = users.%s + 1`, column, column, column)
		if _, err := s.pool.Exec(ctx, query, token); err != nil {
			return fmt.Errorf("failed to record win for %s: %w", token, err)
		}
	}
	return nil
}

// RecordTournamentPlacement appends a "rank/total" placement, updates
// the best-ever placement, and counts championships.
func (s *Store) RecordTournamentPlacement(ctx context.Context, token, placement string) error {
	rank, _, ok := parsePlacement(placement)
	if !ok {
		return fmt.Errorf("malformed placement %q", placement)
	}

	user, err := s.GetUser(ctx, token)
	if err != nil {
		return err
	}

	if _, err := s.pool.Exec(ctx,
		`UPDATE users SET tournament_placements = tournament_placements || to_jsonb($2::text)
		 WHERE token = $1`, token, placement); err != nil {
		return fmt.Errorf("failed to append placement for %s: %w", token, err)
	}

	if rank == 1 {
		if _, err := s.pool.Exec(ctx,
			`UPDATE users SET tournament_wins = tournament_wins + 1 WHERE token = $1`, token); err != nil {
			return fmt.Errorf("failed to bump tournament wins for %s: %w", token, err)
		}
	}

	if betterPlacement(placement, user.BestTournamentPlacement) {
		if _, err := s.pool.Exec(ctx,
			`UPDATE users SET best_tournament_placement = $2 WHERE token = $1`, token, placement); err != nil {
			return fmt.Errorf("failed to update best placement for %s: %w", token, err)
		}
	}
	return nil
}

func parsePlacement(placement string) (rank, total int, ok bool) {
	parts := strings.SplitN(placement, "/", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	rank, err1 := strconv.Atoi(parts[0])
	total, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || total == 0 {
		return 0, 0, false
	}
	return rank, total, true
}

// betterPlacement compares "rank/total" strings by rank ratio, ties
// broken by the smaller absolute rank. An empty old value always loses.
func betterPlacement(newPlacement, oldPlacement string) bool {
	if oldPlacement == "" {
		return true
	}
	newN, newD, ok := parsePlacement(newPlacement)
	if !ok {
		return false
	}
	oldN, oldD, ok := parsePlacement(oldPlacement)
	if !ok {
		return true
	}
	newRatio := float64(newN) / float64(newD)
	oldRatio := float64(oldN) / float64(oldD)
	if newRatio > oldRatio {
		return false
	}
	if newRatio == oldRatio && newN > oldN {
		return false
	}
	return true
}

// SaveGame upserts a JSON snapshot of a room session.
func (s *Store) SaveGame(ctx context.Context, roomID string, snapshot interface{}) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to serialize game %s: %w", roomID, err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO games (room_id, snapshot, last_modified) VALUES ($1, $2, now())
		 ON CONFLICT (room_id) DO UPDATE SET snapshot = $2, last_modified = now()`,
		roomID, data)
	if err != nil {
		return fmt.Errorf("failed to save game %s: %w", roomID, err)
	}
	return nil
}

func (s *Store) GetGame(ctx context.Context, roomID string) ([]byte, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT snapshot FROM games WHERE room_id = $1`, roomID).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("game not found: %s", roomID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load game %s: %w", roomID, err)
	}
	return data, nil
}

// SaveTournament upserts a JSON snapshot of a tournament, keyed to its
// shard for cold-start rehydration.
func (s *Store) SaveTournament(ctx context.Context, tourID string, shard int, snapshot interface{}) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to serialize tournament %s: %w", tourID, err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO tournaments (tour_id, shard, snapshot, last_modified) VALUES ($1, $2, $3, now())
		 ON CONFLICT (tour_id) DO UPDATE SET shard = $2, snapshot = $3, last_modified = now()`,
		tourID, shard, data)
	if err != nil {
		return fmt.Errorf("failed to save tournament %s: %w", tourID, err)
	}
	return nil
}

func (s *Store) GetTournament(ctx context.Context, tourID string) ([]byte, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT snapshot FROM tournaments WHERE tour_id = $1`, tourID).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("tournament not found: %s", tourID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load tournament %s: %w", tourID, err)
	}
	return data, nil
}

// ScanTournamentsByShard returns every stored tournament snapshot for
// one shard, keyed by tournament id.
func (s *Store) ScanTournamentsByShard(ctx context.Context, shard int) (map[string][]byte, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT tour_id, snapshot FROM tournaments WHERE shard = $1`, shard)
	if err != nil {
		return nil, fmt.Errorf("failed to scan tournaments for shard %d: %w", shard, err)
	}
	defer rows.Close()

	snapshots := make(map[string][]byte)
	for rows.Next() {
		var id string
		var data []byte
		if err := rows.Scan(&id, &data); err != nil {
			return nil, fmt.Errorf("failed to scan tournament row: %w", err)
		}
		snapshots[id] = data
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tournament rows: %w", err)
	}
	return snapshots, nil
}

// ArchiveIdleTournaments moves tournaments untouched for longer than
// olderThan into the archive table. Runs from the nightly cron job.
func (s *Store) ArchiveIdleTournaments(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan)
	tag, err := s.pool.Exec(ctx,
		`WITH moved AS (
			DELETE FROM tournaments WHERE last_modified < $1
			RETURNING tour_id, shard, snapshot, last_modified, date_created
		)
		INSERT INTO archived_tournaments SELECT * FROM moved
		ON CONFLICT (tour_id) DO UPDATE SET
			snapshot = EXCLUDED.snapshot, last_modified = EXCLUDED.last_modified`,
		cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to archive idle tournaments: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// CleanupStaleGames deletes game snapshots untouched for longer than
// olderThan.
func (s *Store) CleanupStaleGames(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan)
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM games WHERE last_modified < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup stale games: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// RecordWaitTime stores the seconds elapsed between two consecutive
// matchmaking pairings.
func (s *Store) RecordWaitTime(ctx context.Context, seconds int) error {
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO wait_times (seconds) VALUES ($1)`, seconds); err != nil {
		return fmt.Errorf("failed to record wait time: %w", err)
	}
	return nil
}

// TodaysAverageWaitTime returns today's average pairing delay in
// seconds, or 0 when nobody has matched yet today.
func (s *Store) TodaysAverageWaitTime(ctx context.Context) (int, error) {
	var avg *float64
	err := s.pool.QueryRow(ctx,
		`SELECT AVG(seconds) FROM wait_times WHERE match_date = CURRENT_DATE`).Scan(&avg)
	if err != nil {
		return 0, fmt.Errorf("failed to read wait times: %w", err)
	}
	if avg == nil {
		return 0, nil
	}
	return int(*avg + 0.5), nil
}
