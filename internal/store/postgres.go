package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/Lllllllleong/medicaldocumentflow/internal/common"
	"github.com/Lllllllleong/medicaldocumentflow/internal/models"
)

//go:embed migrations/*.sql
var migrations embed.FS

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// Postgres stores each Record as a JSONB document next to the columns used
// for ownership listing.
type Postgres struct {
	db  *sql.DB
	now func() time.Time
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// OpenPostgres connects through the pgx stdlib driver and runs migrations.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	if err := RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return NewPostgres(db), nil
}

// RunMigrations applies the embedded schema migrations.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	if err := gooseUpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

func (p *Postgres) Close() error {
	return p.db.Close()
}

func (p *Postgres) Create(ctx context.Context, rec *models.Record) (string, error) {
	prepareNew(rec, p.now())
	doc, err := toDoc(rec)
	if err != nil {
		return "", err
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("failed to encode record: %w", err)
	}

	id := uuid.New().String()
	query := `INSERT INTO records (id, user_id, created_at, doc) VALUES ($1, $2, $3, $4)`
	if _, err := p.db.ExecContext(ctx, query, id, rec.UserID, rec.CreatedAt, string(raw)); err != nil {
		return "", fmt.Errorf("db error: %w: %v", common.ErrStorage, err)
	}
	rec.ID = id
	return id, nil
}

func (p *Postgres) FindByID(ctx context.Context, id string) (*models.Record, error) {
	var raw []byte
	err := p.db.QueryRowContext(ctx, `SELECT doc FROM records WHERE id = $1`, id).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("record %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("db error: %w: %v", common.ErrStorage, err)
	}
	return decodeRecord(id, raw)
}

// UpdateFields is a read-modify-write under a row lock.
func (p *Postgres) UpdateFields(ctx context.Context, id string, updates []Update) (err error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("db error: %w: %v", common.ErrStorage, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var raw []byte
	if err = tx.QueryRowContext(ctx, `SELECT doc FROM records WHERE id = $1 FOR UPDATE`, id).Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("record %s: %w", id, ErrNotFound)
		}
		return fmt.Errorf("db error: %w: %v", common.ErrStorage, err)
	}

	doc := map[string]any{}
	if err = json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("failed to decode record %s: %w", id, err)
	}
	if err = ApplyUpdates(doc, withUpdatedAt(updates, p.now())); err != nil {
		return err
	}
	next, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode record %s: %w", id, err)
	}

	if _, err = tx.ExecContext(ctx, `UPDATE records SET doc = $2 WHERE id = $1`, id, string(next)); err != nil {
		return fmt.Errorf("db error: %w: %v", common.ErrStorage, err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("db error: %w: %v", common.ErrStorage, err)
	}
	return nil
}

func (p *Postgres) ListByUser(ctx context.Context, userID string) ([]*models.Record, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id, doc FROM records WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w: %v", common.ErrStorage, err)
	}
	defer rows.Close()

	var out []*models.Record
	for rows.Next() {
		var id string
		var raw []byte
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("db error: %w: %v", common.ErrStorage, err)
		}
		rec, err := decodeRecord(id, raw)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w: %v", common.ErrStorage, err)
	}
	return out, nil
}

func (p *Postgres) Delete(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM records WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("db error: %w: %v", common.ErrStorage, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w: %v", common.ErrStorage, err)
	}
	if n == 0 {
		return fmt.Errorf("record %s: %w", id, ErrNotFound)
	}
	return nil
}
