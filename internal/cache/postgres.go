package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/wegman-software/changepipe/internal/logger"
)

// PostgresStore keeps the entity cache in four tables: one expiry row per
// key plus field, list and set rows. Expired keys are wiped lazily on the
// next write and in bulk by Purge.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
	ttl    time.Duration
	now    func() time.Time
}

// OpenPostgres connects to PostgreSQL and creates the cache tables
func OpenPostgres(ctx context.Context, connString, schema string, ttl time.Duration) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	s := NewPostgresStore(pool, schema, ttl)
	if err := s.EnsureTables(ctx, false); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgresStore wraps an existing pool
func NewPostgresStore(pool *pgxpool.Pool, schema string, ttl time.Duration) *PostgresStore {
	if schema == "" {
		schema = "public"
	}
	return &PostgresStore{pool: pool, schema: schema, ttl: ttl, now: time.Now}
}

func (s *PostgresStore) table(name string) string {
	return fmt.Sprintf("%s.changepipe_%s", s.schema, name)
}

// EnsureTables creates the cache tables if they don't exist
func (s *PostgresStore) EnsureTables(ctx context.Context, dropExisting bool) error {
	log := logger.Get()

	tables := []struct {
		name   string
		schema string
	}{
		{
			name: "keys",
			schema: `
				CREATE UNLOGGED TABLE IF NOT EXISTS %s (
					key TEXT PRIMARY KEY,
					expires_at TIMESTAMPTZ NOT NULL
				)`,
		},
		{
			name: "fields",
			schema: `
				CREATE UNLOGGED TABLE IF NOT EXISTS %s (
					key TEXT NOT NULL,
					field TEXT NOT NULL,
					value TEXT NOT NULL,
					PRIMARY KEY (key, field)
				)`,
		},
		{
			name: "lists",
			schema: `
				CREATE UNLOGGED TABLE IF NOT EXISTS %s (
					key TEXT NOT NULL,
					pos INTEGER NOT NULL,
					value TEXT NOT NULL,
					PRIMARY KEY (key, pos)
				)`,
		},
		{
			name: "sets",
			schema: `
				CREATE UNLOGGED TABLE IF NOT EXISTS %s (
					key TEXT NOT NULL,
					member TEXT NOT NULL,
					PRIMARY KEY (key, member)
				)`,
		},
	}

	for _, t := range tables {
		fullName := s.table(t.name)

		if dropExisting {
			log.Info("Dropping cache table", zap.String("table", fullName))
			if _, err := s.pool.Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", fullName)); err != nil {
				return fmt.Errorf("failed to drop table %s: %w", fullName, err)
			}
		}

		log.Debug("Creating cache table", zap.String("table", fullName))
		if _, err := s.pool.Exec(ctx, fmt.Sprintf(t.schema, fullName)); err != nil {
			return fmt.Errorf("failed to create table %s: %w", fullName, err)
		}
	}

	idx := fmt.Sprintf("CREATE INDEX IF NOT EXISTS changepipe_keys_expires_idx ON %s (expires_at)", s.table("keys"))
	if _, err := s.pool.Exec(ctx, idx); err != nil {
		return fmt.Errorf("failed to create expiry index: %w", err)
	}

	return nil
}

// wipeExpired queues removal of key and all its rows if it has expired
func (s *PostgresStore) wipeExpired(pb *pgx.Batch, key string, now time.Time) {
	pb.Queue(fmt.Sprintf(`
		WITH expired AS (
			DELETE FROM %s WHERE key = $1 AND expires_at <= $2 RETURNING key
		), f AS (
			DELETE FROM %s WHERE key IN (SELECT key FROM expired)
		), l AS (
			DELETE FROM %s WHERE key IN (SELECT key FROM expired)
		)
		DELETE FROM %s WHERE key IN (SELECT key FROM expired)`,
		s.table("keys"), s.table("fields"), s.table("lists"), s.table("sets")), key, now)
}

func (s *PostgresStore) touch(pb *pgx.Batch, key string, now time.Time) {
	pb.Queue(fmt.Sprintf(`
		INSERT INTO %s (key, expires_at) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET expires_at = EXCLUDED.expires_at`, s.table("keys")),
		key, now.Add(s.ttl))
}

// Write applies the batch inside one transaction
func (s *PostgresStore) Write(ctx context.Context, b *Batch) error {
	if b.Len() == 0 {
		return nil
	}

	now := s.now()
	pb := &pgx.Batch{}

	for _, o := range b.ops {
		switch o.kind {
		case opPutFields:
			if len(o.fields) == 0 {
				continue
			}
			s.wipeExpired(pb, o.key, now)
			for k, v := range o.fields {
				pb.Queue(fmt.Sprintf(`
					INSERT INTO %s (key, field, value) VALUES ($1, $2, $3)
					ON CONFLICT (key, field) DO UPDATE SET value = EXCLUDED.value`, s.table("fields")),
					o.key, k, v)
			}
			s.touch(pb, o.key, now)

		case opReplaceList:
			pb.Queue(fmt.Sprintf("DELETE FROM %s WHERE key = $1", s.table("lists")), o.key)
			if len(o.values) == 0 {
				pb.Queue(fmt.Sprintf("DELETE FROM %s WHERE key = $1", s.table("keys")), o.key)
				continue
			}
			for i, v := range o.values {
				pb.Queue(fmt.Sprintf("INSERT INTO %s (key, pos, value) VALUES ($1, $2, $3)", s.table("lists")),
					o.key, i, v)
			}
			s.touch(pb, o.key, now)

		case opReplaceMembers, opAddMembers:
			if o.kind == opReplaceMembers {
				pb.Queue(fmt.Sprintf("DELETE FROM %s WHERE key = $1", s.table("sets")), o.key)
				if len(o.values) == 0 {
					pb.Queue(fmt.Sprintf("DELETE FROM %s WHERE key = $1", s.table("keys")), o.key)
				}
			} else {
				s.wipeExpired(pb, o.key, now)
			}
			if len(o.values) == 0 {
				continue
			}
			for _, v := range o.values {
				pb.Queue(fmt.Sprintf(`
					INSERT INTO %s (key, member) VALUES ($1, $2)
					ON CONFLICT DO NOTHING`, s.table("sets")), o.key, v)
			}
			s.touch(pb, o.key, now)

		case opDeleteFields:
			if len(o.values) == 0 {
				continue
			}
			pb.Queue(fmt.Sprintf("DELETE FROM %s WHERE key = $1 AND field = ANY($2)", s.table("fields")),
				o.key, o.values)
		}
	}

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return tx.SendBatch(ctx, pb).Close()
	})
	if err != nil {
		return fmt.Errorf("postgres batch failed: %w", err)
	}
	return nil
}

// Fields reads the requested fields of a live key
func (s *PostgresStore) Fields(ctx context.Context, key string, fields ...string) (map[string]string, error) {
	out := make(map[string]string, len(fields))
	if len(fields) == 0 {
		return out, nil
	}

	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT f.field, f.value
		FROM %s f JOIN %s k ON k.key = f.key
		WHERE f.key = $1 AND k.expires_at > $2 AND f.field = ANY($3)`,
		s.table("fields"), s.table("keys")), key, s.now(), fields)
	if err != nil {
		return nil, fmt.Errorf("failed to read fields of %s: %w", key, err)
	}
	defer rows.Close()

	for rows.Next() {
		var field, value string
		if err := rows.Scan(&field, &value); err != nil {
			return nil, fmt.Errorf("failed to scan field of %s: %w", key, err)
		}
		out[field] = value
	}
	return out, rows.Err()
}

// List returns the ordered list at a live key
func (s *PostgresStore) List(ctx context.Context, key string) ([]string, error) {
	return s.collect(ctx, key, fmt.Sprintf(`
		SELECT l.value
		FROM %s l JOIN %s k ON k.key = l.key
		WHERE l.key = $1 AND k.expires_at > $2
		ORDER BY l.pos`, s.table("lists"), s.table("keys")))
}

// Members returns the set at a live key
func (s *PostgresStore) Members(ctx context.Context, key string) ([]string, error) {
	return s.collect(ctx, key, fmt.Sprintf(`
		SELECT m.member
		FROM %s m JOIN %s k ON k.key = m.key
		WHERE m.key = $1 AND k.expires_at > $2`, s.table("sets"), s.table("keys")))
}

func (s *PostgresStore) collect(ctx context.Context, key, sql string) ([]string, error) {
	rows, err := s.pool.Query(ctx, sql, key, s.now())
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	vals, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", key, err)
	}
	return vals, nil
}

// Exists reports whether key is live and holds any data
func (s *PostgresStore) Exists(ctx context.Context, key string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, fmt.Sprintf(`
		SELECT EXISTS (
			SELECT 1 FROM %s k
			WHERE k.key = $1 AND k.expires_at > $2 AND (
				EXISTS (SELECT 1 FROM %s WHERE key = $1) OR
				EXISTS (SELECT 1 FROM %s WHERE key = $1) OR
				EXISTS (SELECT 1 FROM %s WHERE key = $1)
			)
		)`, s.table("keys"), s.table("fields"), s.table("lists"), s.table("sets")),
		key, s.now()).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check %s: %w", key, err)
	}
	return exists, nil
}

// Purge deletes every expired key and its rows, returning the number of keys removed
func (s *PostgresStore) Purge(ctx context.Context) (int64, error) {
	var removed int64
	sql := fmt.Sprintf(`
		WITH expired AS (
			DELETE FROM %s WHERE expires_at <= $1 RETURNING key
		), f AS (
			DELETE FROM %s WHERE key IN (SELECT key FROM expired)
		), l AS (
			DELETE FROM %s WHERE key IN (SELECT key FROM expired)
		), m AS (
			DELETE FROM %s WHERE key IN (SELECT key FROM expired)
		)
		SELECT count(*) FROM expired`,
		s.table("keys"), s.table("fields"), s.table("lists"), s.table("sets"))

	if err := s.pool.QueryRow(ctx, sql, s.now()).Scan(&removed); err != nil {
		return 0, fmt.Errorf("failed to purge expired keys: %w", err)
	}

	if removed > 0 {
		logger.Get().Info("Purged expired cache keys", zap.Int64("keys", removed))
	}
	return removed, nil
}

// TTL returns the expiration window
func (s *PostgresStore) TTL() time.Duration {
	return s.ttl
}

// Close closes the pool
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
