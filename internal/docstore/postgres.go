package docstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// Postgres stores documents in a single jsonb table keyed by path, with
// a denormalized parent column for collection queries.
type Postgres struct {
	db *sql.DB
}

// OpenPostgres opens and pings a database handle.
func OpenPostgres(ctx context.Context, databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetMaxIdleConns(10)
	db.SetMaxOpenConns(20)

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return db, nil
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS documents (
	path TEXT PRIMARY KEY,
	parent TEXT NOT NULL,
	data JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS documents_parent_idx ON documents (parent);
CREATE INDEX IF NOT EXISTS documents_data_idx ON documents USING gin (data);
`

func NewPostgres(ctx context.Context, db *sql.DB) (*Postgres, error) {
	if _, err := db.ExecContext(ctx, postgresSchema); err != nil {
		return nil, fmt.Errorf("ensure documents table: %w", err)
	}
	return &Postgres{db: db}, nil
}

func (s *Postgres) Get(ctx context.Context, path string) (Doc, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM documents WHERE path=$1`, path).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", path, err)
	}
	var doc Doc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return doc, nil
}

func (s *Postgres) Create(ctx context.Context, path string, doc Doc) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (path, parent, data)
		VALUES ($1, $2, $3)
		ON CONFLICT (path) DO NOTHING
	`, path, Parent(path), raw)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if affected == 0 {
		return fmt.Errorf("create %s: %w", path, ErrExists)
	}
	return nil
}

func (s *Postgres) Set(ctx context.Context, path string, doc Doc) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO documents (path, parent, data)
		VALUES ($1, $2, $3)
		ON CONFLICT (path) DO UPDATE SET data = documents.data || EXCLUDED.data, updated_at = now()
	`, path, Parent(path), raw)
	if err != nil {
		return fmt.Errorf("set %s: %w", path, err)
	}
	return nil
}

func (s *Postgres) Delete(ctx context.Context, path string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE path=$1`, path); err != nil {
		return fmt.Errorf("delete %s: %w", path, err)
	}
	return nil
}

func (s *Postgres) DeleteCollection(ctx context.Context, path string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM documents WHERE parent = $1 OR parent LIKE $1 || '/%'
	`, path)
	if err != nil {
		return fmt.Errorf("delete collection %s: %w", path, err)
	}
	return nil
}

func (s *Postgres) Query(ctx context.Context, collection string, q Query) ([]Document, error) {
	sqlQuery, args, err := buildCollectionQuery(collection, q)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", collection, err)
	}
	defer rows.Close()

	docs := make([]Document, 0)
	for rows.Next() {
		var path string
		var raw []byte
		if err := rows.Scan(&path, &raw); err != nil {
			return nil, fmt.Errorf("scan %s: %w", collection, err)
		}
		var doc Doc
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
		docs = append(docs, Document{ID: LastSegment(path), Data: doc})
	}
	return docs, rows.Err()
}

// buildCollectionQuery translates a Query into SQL over the jsonb data
// column. Field names travel as bind parameters, never as SQL text.
func buildCollectionQuery(collection string, q Query) (string, []any, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT path, data FROM documents WHERE parent = $1`)
	args := []any{collection}

	next := func(arg any) int {
		args = append(args, arg)
		return len(args)
	}

	for _, f := range q.Where {
		switch f.Op {
		case "==":
			raw, err := json.Marshal(f.Value)
			if err != nil {
				return "", nil, fmt.Errorf("encode filter value: %w", err)
			}
			fmt.Fprintf(&sb, " AND data -> $%d = $%d::jsonb", next(f.Field), next(string(raw)))
		case "!=":
			raw, err := json.Marshal(f.Value)
			if err != nil {
				return "", nil, fmt.Errorf("encode filter value: %w", err)
			}
			field := next(f.Field)
			fmt.Fprintf(&sb, " AND jsonb_exists(data, $%d) AND data -> $%d <> $%d::jsonb", field, field, next(string(raw)))
		case "<", "<=", ">", ">=":
			if n, isNumber := asFloat(f.Value); isNumber {
				// Type guard first: the in-memory matcher drops documents
				// whose field is not comparable, and a bare ::numeric cast
				// would instead error the whole query.
				field := next(f.Field)
				fmt.Fprintf(&sb, " AND jsonb_typeof(data -> $%d) = 'number' AND (data ->> $%d)::numeric %s $%d", field, field, f.Op, next(n))
			} else {
				fmt.Fprintf(&sb, " AND data ->> $%d %s $%d", next(f.Field), f.Op, next(f.Value))
			}
		case "array-contains":
			raw, err := json.Marshal(f.Value)
			if err != nil {
				return "", nil, fmt.Errorf("encode filter value: %w", err)
			}
			fmt.Fprintf(&sb, " AND data -> $%d @> $%d::jsonb", next(f.Field), next(string(raw)))
		default:
			return "", nil, fmt.Errorf("unsupported filter op %q", f.Op)
		}
	}

	if q.OrderBy != "" {
		direction := "ASC"
		if q.Order == "desc" {
			direction = "DESC"
		}
		fmt.Fprintf(&sb, " AND jsonb_exists(data, $%d)", next(q.OrderBy))
		fmt.Fprintf(&sb, " ORDER BY data -> $%d %s", next(q.OrderBy), direction)
	}

	if q.Limit > 0 {
		fmt.Fprintf(&sb, " LIMIT $%d", next(q.Limit))
	}
	return sb.String(), args, nil
}

func (s *Postgres) Batch() Batch {
	return &postgresBatch{store: s}
}

type postgresBatch struct {
	store  *Postgres
	paths  []string
	writes []Doc
}

func (b *postgresBatch) Set(path string, doc Doc) {
	b.paths = append(b.paths, path)
	b.writes = append(b.writes, doc)
}

func (b *postgresBatch) Commit(ctx context.Context) error {
	if len(b.paths) > MaxBatchSize {
		return fmt.Errorf("batch of %d exceeds max of %d operations", len(b.paths), MaxBatchSize)
	}
	tx, err := b.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}
	defer tx.Rollback()

	for i, path := range b.paths {
		raw, err := json.Marshal(b.writes[i])
		if err != nil {
			return fmt.Errorf("encode %s: %w", path, err)
		}
		// Batched writes replace the document wholesale.
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO documents (path, parent, data)
			VALUES ($1, $2, $3)
			ON CONFLICT (path) DO UPDATE SET data = EXCLUDED.data, updated_at = now()
		`, path, Parent(path), raw); err != nil {
			return fmt.Errorf("batch set %s: %w", path, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

func (s *Postgres) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
