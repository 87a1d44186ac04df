package medicine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
)

const (
	pingTimeout  = 1 * time.Second
	queryTimeout = 3 * time.Second
	pgUniqueCode = "23505"
)

const schemaSQL = `
	CREATE TABLE IF NOT EXISTS medicines (
		seq      BIGSERIAL PRIMARY KEY,
		name     TEXT NOT NULL,
		name_key TEXT NOT NULL UNIQUE,
		price    DOUBLE PRECISION NOT NULL
	)
`

// PoolOptions tunes the database/sql connection pool.
type PoolOptions struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// OpenPostgres opens a pgx-backed *sql.DB and checks connectivity.
func OpenPostgres(ctx context.Context, dsn string, opts PoolOptions) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}

	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		db.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}

	if err := withTimeout(ctx, 5*time.Second, db.PingContext); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

// PostgresStore keeps one row per medicine. name_key holds the folded name and
// carries the uniqueness constraint; seq preserves insertion order. Every
// operation is a single statement, so the database provides the atomicity.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the medicines table when it is missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	err := withTimeout(ctx, queryTimeout, func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, schemaSQL)
		return err
	})
	if err != nil {
		return &StorageError{Op: "init", Err: err}
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return withTimeout(ctx, pingTimeout, func(ctx context.Context) error {
		return s.db.PingContext(ctx)
	})
}

func (s *PostgresStore) Close() error { return s.db.Close() }

func (s *PostgresStore) ListAll(ctx context.Context) ([]Record, error) {
	out := make([]Record, 0, 16)

	err := withTimeout(ctx, queryTimeout, func(ctx context.Context) error {
		rows, err := s.db.QueryContext(ctx, `
			SELECT name, price
			FROM medicines
			ORDER BY seq ASC
		`)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			r, err := scanRecord(rows)
			if err != nil {
				return err
			}
			out = append(out, r)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, &StorageError{Op: "list", Err: err}
	}
	return out, nil
}

func (s *PostgresStore) GetByName(ctx context.Context, name string) (Record, Outcome, error) {
	var r Record

	err := withTimeout(ctx, queryTimeout, func(ctx context.Context) error {
		row := s.db.QueryRowContext(ctx, `
			SELECT name, price
			FROM medicines
			WHERE name_key = $1
		`, foldName(name))

		var err error
		r, err = scanRecord(row)
		return err
	})
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, NotFound, nil
	}
	if err != nil {
		return Record{}, OK, &StorageError{Op: "get", Err: err}
	}
	return r, OK, nil
}

func (s *PostgresStore) Create(ctx context.Context, name string, price float64) (Outcome, error) {
	if _, err := NewPrice(price); err != nil {
		return OK, err
	}

	err := withTimeout(ctx, queryTimeout, func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO medicines (name, name_key, price)
			VALUES ($1, $2, $3)
		`, name, foldName(name), price)
		return err
	})
	if isUniqueViolation(err) {
		return AlreadyExists, nil
	}
	if err != nil {
		return OK, &StorageError{Op: "create", Err: err}
	}
	return OK, nil
}

func (s *PostgresStore) UpdatePrice(ctx context.Context, name string, price float64) (Outcome, error) {
	if _, err := NewPrice(price); err != nil {
		return OK, err
	}
	return s.execOne(ctx, "update", `
		UPDATE medicines
		SET price = $2
		WHERE name_key = $1
	`, foldName(name), price)
}

func (s *PostgresStore) Delete(ctx context.Context, name string) (Outcome, error) {
	return s.execOne(ctx, "delete", `
		DELETE FROM medicines
		WHERE name_key = $1
	`, foldName(name))
}

// AveragePrice aggregates in the database. The price column is NOT NULL
// DOUBLE PRECISION, so every row counts as a valid price.
func (s *PostgresStore) AveragePrice(ctx context.Context) (float64, Outcome, error) {
	var (
		n   int64
		avg sql.NullFloat64
	)

	err := withTimeout(ctx, queryTimeout, func(ctx context.Context) error {
		return s.db.QueryRowContext(ctx, `
			SELECT COUNT(*), AVG(price)
			FROM medicines
		`).Scan(&n, &avg)
	})
	if err != nil {
		return 0, OK, &StorageError{Op: "average", Err: err}
	}
	if n == 0 {
		return 0, Empty, nil
	}
	if !avg.Valid {
		return 0, NoValidPrices, nil
	}
	return roundPrice(avg.Float64), OK, nil
}

func (s *PostgresStore) execOne(ctx context.Context, op, query string, args ...any) (Outcome, error) {
	var affected int64

	err := withTimeout(ctx, queryTimeout, func(ctx context.Context) error {
		res, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return OK, &StorageError{Op: op, Err: err}
	}
	if affected == 0 {
		return NotFound, nil
	}
	return OK, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var (
		name  string
		price float64
	)
	if err := row.Scan(&name, &price); err != nil {
		return Record{}, err
	}
	p, err := NewPrice(price)
	if err != nil {
		return Record{}, fmt.Errorf("%w: %s: %v", ErrCorrupt, name, err)
	}
	return Record{Name: name, Price: p}, nil
}

func withTimeout(parent context.Context, d time.Duration, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(parent, d)
	defer cancel()
	return fn(ctx)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueCode
}
