// Package sqlite provides a persistent, process-shareable implementation of
// the router Index backed by SQLite (modernc.org/sqlite, no cgo).
//
// Vectors are stored L2-normalized as little-endian float32 blobs, so query
// scoring is a dot product over a linear scan in insertion (rowid) order.
// Table creation and teardown are serialized across processes by stable
// 64-bit advisory lock IDs held in a lock table for the duration of the DDL
// transaction.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/liliang-cn/semroute/internal/encoding"
	"github.com/liliang-cn/semroute/pkg/embedding"
	"github.com/liliang-cn/semroute/pkg/router"

	_ "modernc.org/sqlite" // SQLite driver
)

// Stable advisory lock IDs guarding DDL. Multiple processes booting against
// the same database file contend on these rows, never on half-created
// tables.
const (
	lockIDRouteTable     int64 = 8674665223082153551
	lockIDEmbeddingTable int64 = 8674665223082153552
	lockIDTeardown       int64 = 8674665223082153553
)

// Index implements router.Index on a SQLite database.
type Index struct {
	db     *sql.DB
	path   string
	logger router.Logger

	mu     sync.RWMutex
	closed bool
	dim    int
}

// Option configures an Index.
type Option func(*Index)

// WithLogger sets the logger used for non-fatal events.
func WithLogger(logger router.Logger) Option {
	return func(idx *Index) {
		if logger != nil {
			idx.logger = logger
		}
	}
}

// New creates a SQLite index handle for the given database path. Call Init
// before use.
func New(path string, opts ...Option) (*Index, error) {
	if path == "" {
		return nil, wrapError("init", fmt.Errorf("database path cannot be empty"))
	}

	idx := &Index{
		path:   path,
		logger: router.NopLogger(),
	}
	for _, opt := range opts {
		opt(idx)
	}
	return idx, nil
}

// Init opens the database, applies the connection pragmas and creates the
// schema under advisory locks. Safe to call from multiple processes
// concurrently.
func (idx *Index) Init(ctx context.Context) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.closed {
		return wrapError("init", router.ErrIndexClosed)
	}

	// _journal_mode=WAL: better concurrency
	// _busy_timeout=5000: wait up to 5s for a lock instead of failing
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000", idx.path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return wrapError("init", fmt.Errorf("failed to open database: %w", err))
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(2 * time.Hour)

	idx.db = db

	if _, err := idx.db.ExecContext(ctx, "PRAGMA foreign_keys = ON;"); err != nil {
		return wrapError("init", fmt.Errorf("failed to enable foreign keys: %w", err))
	}

	if err := idx.createTables(ctx); err != nil {
		return wrapError("init", err)
	}

	if err := idx.loadDimension(ctx); err != nil {
		return wrapError("init", err)
	}

	return nil
}

// createTables bootstraps the lock table, then creates the data tables
// while holding their advisory locks.
func (idx *Index) createTables(ctx context.Context) error {
	// The lock table itself must exist before anything can be locked.
	// CREATE TABLE IF NOT EXISTS is idempotent and SQLite serializes the
	// write internally.
	_, err := idx.db.ExecContext(ctx, `
	CREATE TABLE IF NOT EXISTS semroute_locks (
		id INTEGER PRIMARY KEY,
		acquired_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);`)
	if err != nil {
		return fmt.Errorf("failed to create lock table: %w", err)
	}

	err = idx.withAdvisoryLock(ctx, lockIDRouteTable, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS semroute_routes (
			name TEXT PRIMARY KEY,
			description TEXT,
			threshold REAL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);`)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to create routes table: %w", err)
	}

	err = idx.withAdvisoryLock(ctx, lockIDEmbeddingTable, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS semroute_embeddings (
			id TEXT PRIMARY KEY,
			route_name TEXT NOT NULL REFERENCES semroute_routes(name) ON DELETE CASCADE,
			position INTEGER NOT NULL,
			utterance TEXT,
			vector BLOB NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_semroute_embeddings_route ON semroute_embeddings(route_name);`)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to create embeddings table: %w", err)
	}

	return nil
}

// withAdvisoryLock runs fn inside a transaction that holds the advisory
// lock row for the given ID. The row exists only while the transaction is
// open; a competing transaction blocks on the row insert until commit.
func (idx *Index) withAdvisoryLock(ctx context.Context, lockID int64, fn func(*sql.Tx) error) error {
	tx, err := idx.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "INSERT INTO semroute_locks (id) VALUES (?)", lockID); err != nil {
		return fmt.Errorf("failed to acquire advisory lock %d: %w", lockID, err)
	}

	if err := fn(tx); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM semroute_locks WHERE id = ?", lockID); err != nil {
		return fmt.Errorf("failed to release advisory lock %d: %w", lockID, err)
	}

	return tx.Commit()
}

// loadDimension pins the vector dimension from an existing database.
func (idx *Index) loadDimension(ctx context.Context) error {
	var blob []byte
	err := idx.db.QueryRowContext(ctx, "SELECT vector FROM semroute_embeddings ORDER BY rowid LIMIT 1").Scan(&blob)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return err
	}

	vec, err := encoding.DecodeVector(blob)
	if err != nil {
		return err
	}
	idx.dim = len(vec)
	return nil
}

// Add inserts all utterance vectors of the given routes inside a single
// transaction: either every entry becomes visible or none do. Re-adding an
// existing route replaces its entries.
func (idx *Index) Add(ctx context.Context, routes []router.Route) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.closed {
		return wrapError("add", router.ErrIndexClosed)
	}

	for i := range routes {
		if len(routes[i].Embeddings) == 0 {
			return wrapError("add", &router.MissingEmbeddingError{Route: routes[i].Name})
		}
	}

	tx, err := idx.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapError("add", err)
	}
	defer func() { _ = tx.Rollback() }()

	dim := idx.dim
	for i := range routes {
		route := routes[i]

		var threshold sql.NullFloat64
		if route.Threshold != nil {
			threshold.Float64 = *route.Threshold
			threshold.Valid = true
		}
		var description sql.NullString
		if route.Description != "" {
			description.String = route.Description
			description.Valid = true
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO semroute_routes (name, description, threshold) VALUES (?, ?, ?)
			ON CONFLICT(name) DO UPDATE SET description = excluded.description, threshold = excluded.threshold`,
			route.Name, description, threshold); err != nil {
			return wrapError("add", err)
		}

		// Replace semantics: old entries of a re-added route go away.
		if _, err := tx.ExecContext(ctx, "DELETE FROM semroute_embeddings WHERE route_name = ?", route.Name); err != nil {
			return wrapError("add", err)
		}

		for j, vec := range route.Embeddings {
			if dim == 0 {
				dim = len(vec)
			}
			if len(vec) != dim {
				return wrapError("add", fmt.Errorf("%w: route %q vector %d has dimension %d, expected %d",
					router.ErrInvalidConfiguration, route.Name, j, len(vec), dim))
			}

			blob, err := encoding.EncodeVector(embedding.NormalizeL2(vec))
			if err != nil {
				return wrapError("add", err)
			}

			var utterance sql.NullString
			if j < len(route.Utterances) {
				utterance.String = route.Utterances[j]
				utterance.Valid = true
			}

			if _, err := tx.ExecContext(ctx, `
				INSERT INTO semroute_embeddings (id, route_name, position, utterance, vector)
				VALUES (?, ?, ?, ?, ?)`,
				uuid.NewString(), route.Name, j, utterance, blob); err != nil {
				return wrapError("add", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return wrapError("add", err)
	}
	idx.dim = dim
	return nil
}

// Delete removes the named route and all its entries. Unknown names succeed
// silently.
func (idx *Index) Delete(ctx context.Context, routeName string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.closed {
		return wrapError("delete", router.ErrIndexClosed)
	}

	result, err := idx.db.ExecContext(ctx, "DELETE FROM semroute_routes WHERE name = ?", routeName)
	if err != nil {
		return wrapError("delete", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		idx.logger.Warn("route not found in the index", "route", routeName)
	}
	return nil
}

// Query scans all stored vectors in insertion order and returns the topK
// best hits by dot product over normalized vectors, descending, ties kept in
// insertion order.
func (idx *Index) Query(ctx context.Context, vector []float32, topK int) ([]router.Score, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if idx.closed {
		return nil, wrapError("query", router.ErrIndexClosed)
	}
	if topK < 1 {
		return nil, wrapError("query", router.ErrInvalidConfiguration)
	}

	query := embedding.NormalizeL2(vector)

	rows, err := idx.db.QueryContext(ctx, "SELECT route_name, vector FROM semroute_embeddings ORDER BY rowid")
	if err != nil {
		return nil, wrapError("query", err)
	}
	defer rows.Close()

	var all []router.Score
	for rows.Next() {
		var name string
		var blob []byte
		if err := rows.Scan(&name, &blob); err != nil {
			return nil, wrapError("query", err)
		}
		vec, err := encoding.DecodeVector(blob)
		if err != nil {
			return nil, wrapError("query", err)
		}
		all = append(all, router.Score{
			Route: name,
			Score: clampScore(embedding.DotProduct(query, vec)),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, wrapError("query", err)
	}

	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Score > all[j].Score
	})
	if len(all) > topK {
		all = all[:topK]
	}
	return all, nil
}

// Routes returns the committed routes with their stored vectors and
// utterances, in insertion order.
func (idx *Index) Routes(ctx context.Context) ([]router.Route, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if idx.closed {
		return nil, wrapError("get_routes", router.ErrIndexClosed)
	}

	rows, err := idx.db.QueryContext(ctx, `
		SELECT r.name, r.description, r.threshold, e.utterance, e.vector
		FROM semroute_routes r
		JOIN semroute_embeddings e ON e.route_name = r.name
		ORDER BY r.rowid, e.position`)
	if err != nil {
		return nil, wrapError("get_routes", err)
	}
	defer rows.Close()

	var (
		routes []router.Route
		byName = make(map[string]int)
	)
	for rows.Next() {
		var (
			name        string
			description sql.NullString
			threshold   sql.NullFloat64
			utterance   sql.NullString
			blob        []byte
		)
		if err := rows.Scan(&name, &description, &threshold, &utterance, &blob); err != nil {
			return nil, wrapError("get_routes", err)
		}
		vec, err := encoding.DecodeVector(blob)
		if err != nil {
			return nil, wrapError("get_routes", err)
		}

		pos, seen := byName[name]
		if !seen {
			route := router.Route{Name: name}
			if description.Valid {
				route.Description = description.String
			}
			if threshold.Valid {
				t := threshold.Float64
				route.Threshold = &t
			}
			routes = append(routes, route)
			pos = len(routes) - 1
			byName[name] = pos
		}
		if utterance.Valid {
			routes[pos].Utterances = append(routes[pos].Utterances, utterance.String)
		}
		routes[pos].Embeddings = append(routes[pos].Embeddings, vec)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapError("get_routes", err)
	}
	return routes, nil
}

// DeleteIndex drops the data tables under the teardown advisory lock and
// marks the handle closed. Re-initialize with New + Init to start over.
func (idx *Index) DeleteIndex(ctx context.Context) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.closed {
		return wrapError("delete_index", router.ErrIndexClosed)
	}

	err := idx.withAdvisoryLock(ctx, lockIDTeardown, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS semroute_embeddings"); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS semroute_routes")
		return err
	})
	if err != nil {
		return wrapError("delete_index", err)
	}

	idx.closed = true
	return nil
}

// Dimension returns the pinned vector dimension, 0 before the first Add on
// a fresh database.
func (idx *Index) Dimension() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.dim
}

// Close closes the underlying database without dropping any data.
func (idx *Index) Close() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.closed = true
	if idx.db != nil {
		return idx.db.Close()
	}
	return nil
}

// clampScore keeps similarity scores inside [-1, 1] and maps NaN to 0.
func clampScore(score float64) float64 {
	switch {
	case score != score:
		return 0.0
	case score > 1.0:
		return 1.0
	case score < -1.0:
		return -1.0
	default:
		return score
	}
}

// wrapError wraps an error with operation context in the router's error
// shape so callers can match sentinels across backends.
func wrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &router.RouterError{Op: "sqlite." + op, Err: err}
}
