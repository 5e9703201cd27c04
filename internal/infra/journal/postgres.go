package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx via database/sql
)

// Config holds journal database configuration. An empty URL selects the
// in-memory store.
type Config struct {
	URL      string `yaml:"url"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// PostgresStore journals commands to Postgres so queued mutations survive a
// client restart.
type PostgresStore struct {
	db *sqlx.DB
}

type journalRow struct {
	ID          uuid.UUID `db:"id"`
	Kind        string    `db:"kind"`
	Payload     []byte    `db:"payload"`
	Description string    `db:"description"`
	MaxRetries  int       `db:"max_retries"`
	CreatedAt   time.Time `db:"created_at"`
}

// NewPostgresStore opens the database and verifies the connection.
func NewPostgresStore(ctx context.Context, cfg Config) (*PostgresStore, error) {
	db, err := sqlx.Open("pgx", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxConns > 0 {
		db.SetMaxOpenConns(cfg.MaxConns)
	} else {
		db.SetMaxOpenConns(10)
	}
	if cfg.MinConns > 0 {
		db.SetMaxIdleConns(cfg.MinConns)
	} else {
		db.SetMaxIdleConns(2)
	}
	db.SetConnMaxLifetime(time.Hour)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// DB exposes the underlying connection for migrations.
func (s *PostgresStore) DB() *sqlx.DB { return s.db }

// Close closes the database connection.
func (s *PostgresStore) Close() error { return s.db.Close() }

func (s *PostgresStore) Append(ctx context.Context, rec Record) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO mutation_journal (id, kind, payload, description, max_retries, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.ID, rec.Command.Kind, []byte(rec.Command.Payload), rec.Description, rec.MaxRetries, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("append journal record: %w", err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM mutation_journal WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete journal record: %w", err)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context) ([]Record, error) {
	var rows []journalRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, kind, payload, description, max_retries, created_at
		FROM mutation_journal
		ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list journal records: %w", err)
	}

	out := make([]Record, 0, len(rows))
	for _, row := range rows {
		out = append(out, Record{
			ID:          row.ID,
			Command:     Command{Kind: row.Kind, Payload: json.RawMessage(row.Payload)},
			Description: row.Description,
			MaxRetries:  row.MaxRetries,
			CreatedAt:   row.CreatedAt,
		})
	}
	return out, nil
}
