package sourcemap

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	// Pure-Go SQLite driver for database/sql.
	_ "github.com/glebarez/sqlite"

	"github.com/cryguy/taskworker/internal/wire"
)

// ErrNoMap is returned by Store.Load when no map is stored for an id.
var ErrNoMap = errors.New("no source map stored")

// ErrNotInMap is returned for an original url the source map does not list.
var ErrNotInMap = errors.New("url not listed in source map")

const schema = `
CREATE TABLE IF NOT EXISTS source_maps (
	generated_id TEXT PRIMARY KEY,
	url          TEXT NOT NULL,
	data         BLOB NOT NULL
);
CREATE TABLE IF NOT EXISTS original_urls (
	url          TEXT NOT NULL,
	generated_id TEXT NOT NULL,
	PRIMARY KEY (url, generated_id)
);`

// maxMapBytes bounds a decompressed stored map.
const maxMapBytes = 256 << 20

// Store persists loaded source maps in SQLite, brotli-compressed, keyed by
// the id of the generated source they belong to.
type Store struct {
	DB *sql.DB
}

// OpenStore opens (or creates) the store at dsn. ":memory:" keeps the maps
// for the life of the process.
func OpenStore(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening source map store: %w", err)
	}
	if dsn == ":memory:" {
		// every pooled connection would get its own empty database
		db.SetMaxOpenConns(1)
	} else {
		_, _ = db.Exec("PRAGMA journal_mode=WAL")
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating source map schema: %w", err)
	}
	return &Store{DB: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s.DB != nil {
		return s.DB.Close()
	}
	return nil
}

// Save stores m for generatedID, replacing an earlier map.
func (s *Store) Save(ctx context.Context, generatedID, url string, m *Map) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encoding source map: %w", err)
	}
	blob, err := wire.Compress(raw)
	if err != nil {
		return fmt.Errorf("compressing source map: %w", err)
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO source_maps (generated_id, url, data) VALUES (?, ?, ?)`,
		generatedID, url, blob); err != nil {
		return fmt.Errorf("saving source map %s: %w", generatedID, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM original_urls WHERE generated_id = ?`, generatedID); err != nil {
		return err
	}
	for _, src := range m.Sources {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO original_urls (url, generated_id) VALUES (?, ?)`,
			src, generatedID); err != nil {
			return fmt.Errorf("indexing original url %s: %w", src, err)
		}
	}
	return tx.Commit()
}

// Load returns the map stored for generatedID and the url of its generated
// source, or ErrNoMap.
func (s *Store) Load(ctx context.Context, generatedID string) (*Map, string, error) {
	var (
		url  string
		blob []byte
	)
	err := s.DB.QueryRowContext(ctx,
		`SELECT url, data FROM source_maps WHERE generated_id = ?`, generatedID).Scan(&url, &blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", ErrNoMap
	}
	if err != nil {
		return nil, "", fmt.Errorf("loading source map %s: %w", generatedID, err)
	}
	raw, err := wire.Decompress(blob, maxMapBytes)
	if err != nil {
		return nil, "", fmt.Errorf("decompressing source map %s: %w", generatedID, err)
	}
	m, err := Parse(raw)
	if err != nil {
		return nil, "", err
	}
	return m, url, nil
}

// HasOriginalURL reports whether any stored map lists url as a source.
func (s *Store) HasOriginalURL(ctx context.Context, url string) (bool, error) {
	var n int
	err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM original_urls WHERE url = ?`, url).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("looking up original url: %w", err)
	}
	return n > 0, nil
}

// Clear removes every stored map.
func (s *Store) Clear(ctx context.Context) error {
	for _, table := range []string{"original_urls", "source_maps"} {
		if _, err := s.DB.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("clearing %s: %w", table, err)
		}
	}
	return nil
}
