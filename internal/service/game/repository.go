package game

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/park285/cheese-board/internal/domain"
)

var ErrDuplicateGame = errors.New("game already archived")

// Repository stores finished games.
type Repository interface {
	InsertGame(ctx context.Context, game *domain.ArchivedGame) (int64, error)
	RecentGames(ctx context.Context, limit int) ([]*domain.ArchivedGame, error)
	GetGame(ctx context.Context, id int64) (*domain.ArchivedGame, error)
	GetGameBySession(ctx context.Context, sessionID string) (*domain.ArchivedGame, error)
}

const defaultRecentLimit = 10

const schema = `
	CREATE TABLE IF NOT EXISTS chess_archive (
		id            BIGSERIAL PRIMARY KEY,
		session_id    TEXT NOT NULL UNIQUE,
		mode          TEXT NOT NULL,
		difficulty    TEXT NOT NULL DEFAULT '',
		player_side   TEXT NOT NULL DEFAULT '',
		initial_fen   TEXT NOT NULL,
		result        TEXT NOT NULL,
		result_method TEXT NOT NULL DEFAULT '',
		moves_uci     JSONB NOT NULL,
		moves_san     JSONB NOT NULL,
		pgn           TEXT NOT NULL,
		opening_eco   TEXT NOT NULL DEFAULT '',
		opening_name  TEXT NOT NULL DEFAULT '',
		started_at    TIMESTAMPTZ NOT NULL,
		ended_at      TIMESTAMPTZ NOT NULL,
		duration_ms   BIGINT
	)`

const selectColumns = `
	id,
	session_id,
	mode,
	difficulty,
	player_side,
	initial_fen,
	result,
	result_method,
	moves_uci,
	moves_san,
	pgn,
	opening_eco,
	opening_name,
	started_at,
	ended_at,
	duration_ms`

type repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &repository{db: db}
}

// OpenPostgres connects to databaseURL and makes sure the archive table exists.
func OpenPostgres(ctx context.Context, databaseURL string) (*sql.DB, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("database url is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create archive table: %w", err)
	}
	return db, nil
}

func (r *repository) InsertGame(ctx context.Context, game *domain.ArchivedGame) (int64, error) {
	if game == nil {
		return 0, fmt.Errorf("nil archived game payload")
	}

	movesUCI, err := json.Marshal(nonNil(game.MovesUCI))
	if err != nil {
		return 0, fmt.Errorf("marshal moves_uci: %w", err)
	}
	movesSAN, err := json.Marshal(nonNil(game.MovesSAN))
	if err != nil {
		return 0, fmt.Errorf("marshal moves_san: %w", err)
	}

	const query = `
		INSERT INTO chess_archive (
			session_id,
			mode,
			difficulty,
			player_side,
			initial_fen,
			result,
			result_method,
			moves_uci,
			moves_san,
			pgn,
			opening_eco,
			opening_name,
			started_at,
			ended_at,
			duration_ms
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb, $9::jsonb, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (session_id) DO NOTHING
		RETURNING id`

	var id sql.NullInt64
	err = r.db.QueryRowContext(
		ctx,
		query,
		game.SessionID,
		game.Mode,
		game.Difficulty,
		game.PlayerSide,
		game.InitialFEN,
		game.Result,
		game.ResultMethod,
		movesUCI,
		movesSAN,
		game.PGN,
		game.OpeningECO,
		game.OpeningName,
		game.StartedAt,
		game.EndedAt,
		game.Duration.Milliseconds(),
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && !id.Valid) {
		return 0, ErrDuplicateGame
	}
	if err != nil {
		return 0, fmt.Errorf("insert archived game: %w", err)
	}
	return id.Int64, nil
}

func (r *repository) RecentGames(ctx context.Context, limit int) ([]*domain.ArchivedGame, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	query := `SELECT ` + selectColumns + `
		FROM chess_archive
		ORDER BY ended_at DESC, id DESC
		LIMIT $1`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("select archived games: %w", err)
	}
	defer rows.Close()

	games := make([]*domain.ArchivedGame, 0, limit)
	for rows.Next() {
		game, err := scanGame(rows)
		if err != nil {
			return nil, err
		}
		games = append(games, game)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate archived games: %w", err)
	}
	return games, nil
}

func (r *repository) GetGame(ctx context.Context, id int64) (*domain.ArchivedGame, error) {
	query := `SELECT ` + selectColumns + `
		FROM chess_archive
		WHERE id = $1`

	game, err := scanGame(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return game, err
}

func (r *repository) GetGameBySession(ctx context.Context, sessionID string) (*domain.ArchivedGame, error) {
	query := `SELECT ` + selectColumns + `
		FROM chess_archive
		WHERE session_id = $1`

	game, err := scanGame(r.db.QueryRowContext(ctx, query, strings.TrimSpace(sessionID)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return game, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGame(row rowScanner) (*domain.ArchivedGame, error) {
	var (
		game         domain.ArchivedGame
		movesUCIJSON []byte
		movesSANJSON []byte
		durationMS   sql.NullInt64
	)
	err := row.Scan(
		&game.ID,
		&game.SessionID,
		&game.Mode,
		&game.Difficulty,
		&game.PlayerSide,
		&game.InitialFEN,
		&game.Result,
		&game.ResultMethod,
		&movesUCIJSON,
		&movesSANJSON,
		&game.PGN,
		&game.OpeningECO,
		&game.OpeningName,
		&game.StartedAt,
		&game.EndedAt,
		&durationMS,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan archived game: %w", err)
	}
	if durationMS.Valid {
		game.Duration = time.Duration(durationMS.Int64) * time.Millisecond
	}
	if err := json.Unmarshal(movesUCIJSON, &game.MovesUCI); err != nil {
		return nil, fmt.Errorf("unmarshal moves_uci: %w", err)
	}
	if err := json.Unmarshal(movesSANJSON, &game.MovesSAN); err != nil {
		return nil, fmt.Errorf("unmarshal moves_san: %w", err)
	}
	return &game, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
