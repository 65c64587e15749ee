package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/toleds/rag-bot/internal/agent/model"
)

const snapshotSchema = `
CREATE TABLE IF NOT EXISTS collections (
	name TEXT PRIMARY KEY
);
CREATE TABLE IF NOT EXISTS fragments (
	collection TEXT NOT NULL,
	id TEXT NOT NULL,
	content TEXT NOT NULL,
	source TEXT NOT NULL,
	page INTEGER,
	seq INTEGER NOT NULL,
	vector BLOB NOT NULL,
	PRIMARY KEY (collection, id)
);`

// snapshot stores memory collections in a SQLite file.
type snapshot struct {
	db *sql.DB
}

func openSnapshot(path string) (*snapshot, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot: %w", err)
	}
	// one writer; avoids SQLITE_BUSY between concurrent Persist calls
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping snapshot: %w", err)
	}
	if _, err := db.Exec(snapshotSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create snapshot tables: %w", err)
	}
	return &snapshot{db: db}, nil
}

func (s *snapshot) load(ctx context.Context) (map[string]map[string]memEntry, error) {
	out := make(map[string]map[string]memEntry)

	names, err := s.db.QueryContext(ctx, `SELECT name FROM collections`)
	if err != nil {
		return nil, fmt.Errorf("failed to query collections: %w", err)
	}
	for names.Next() {
		var name string
		if err := names.Scan(&name); err != nil {
			names.Close()
			return nil, fmt.Errorf("failed to scan collection: %w", err)
		}
		out[name] = make(map[string]memEntry)
	}
	names.Close()
	if err := names.Err(); err != nil {
		return nil, fmt.Errorf("failed to read collections: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT collection, id, content, source, page, seq, vector FROM fragments`)
	if err != nil {
		return nil, fmt.Errorf("failed to query fragments: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			collection string
			f          model.Fragment
			page       sql.NullInt64
			blob       []byte
		)
		if err := rows.Scan(&collection, &f.DerivedID, &f.Content, &f.SourceID, &page, &f.SequenceIndex, &blob); err != nil {
			return nil, fmt.Errorf("failed to scan fragment: %w", err)
		}
		if page.Valid {
			f.Page = model.PageOf(int(page.Int64))
		}
		entries, ok := out[collection]
		if !ok {
			entries = make(map[string]memEntry)
			out[collection] = entries
		}
		entries[f.DerivedID] = memEntry{fragment: f, vector: decodeVector(blob)}
	}
	return out, rows.Err()
}

// save replaces the snapshot contents with collections in one transaction.
func (s *snapshot) save(ctx context.Context, collections map[string][]memEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin snapshot: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM fragments`); err != nil {
		return fmt.Errorf("failed to clear fragments: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM collections`); err != nil {
		return fmt.Errorf("failed to clear collections: %w", err)
	}

	insCol, err := tx.PrepareContext(ctx, `INSERT INTO collections (name) VALUES (?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare collection insert: %w", err)
	}
	defer insCol.Close()
	insFrag, err := tx.PrepareContext(ctx, `INSERT INTO fragments (collection, id, content, source, page, seq, vector) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare fragment insert: %w", err)
	}
	defer insFrag.Close()

	for name, entries := range collections {
		if _, err := insCol.ExecContext(ctx, name); err != nil {
			return fmt.Errorf("failed to insert collection %q: %w", name, err)
		}
		for _, e := range entries {
			var page sql.NullInt64
			if e.fragment.Page != nil {
				page = sql.NullInt64{Int64: int64(*e.fragment.Page), Valid: true}
			}
			if _, err := insFrag.ExecContext(ctx, name, e.fragment.DerivedID, e.fragment.Content,
				e.fragment.SourceID, page, e.fragment.SequenceIndex, encodeVector(e.vector)); err != nil {
				return fmt.Errorf("failed to insert fragment %q: %w", e.fragment.DerivedID, err)
			}
		}
	}
	return tx.Commit()
}

func (s *snapshot) close() error {
	return s.db.Close()
}

func encodeVector(v []float64) []byte {
	buf := make([]byte, 8*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(f))
	}
	return buf
}

func decodeVector(b []byte) []float64 {
	v := make([]float64, len(b)/8)
	for i := range v {
		v[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[i*8:]))
	}
	return v
}
