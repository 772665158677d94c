package layout

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const positionSchema = `
CREATE TABLE IF NOT EXISTS layout_positions (
	entity_id  TEXT PRIMARY KEY,
	x          REAL NOT NULL,
	y          REAL NOT NULL,
	z          REAL NOT NULL DEFAULT 0,
	manual     INTEGER NOT NULL DEFAULT 0,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// PositionStore persists per-entity positions across sessions, keyed by
// entity id. The z column exists for renderers that want a third axis; the
// core reads and writes only x and y.
type PositionStore struct {
	db *sql.DB
}

// OpenPositionStore opens (and initializes) the layout database at path.
// Use ":memory:" for an ephemeral store.
func OpenPositionStore(path string) (*PositionStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open layout db: %w", err)
	}
	if _, err := db.Exec(positionSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init layout schema: %w", err)
	}
	return &PositionStore{db: db}, nil
}

// Save writes one entity's position, replacing any prior value.
func (s *PositionStore) Save(id string, p Position) error {
	manual := 0
	if p.Manual {
		manual = 1
	}
	_, err := s.db.Exec(`
		INSERT INTO layout_positions (entity_id, x, y, manual, updated_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(entity_id) DO UPDATE SET
			x = excluded.x, y = excluded.y,
			manual = excluded.manual, updated_at = CURRENT_TIMESTAMP;
	`, id, p.X, p.Y, manual)
	if err != nil {
		return fmt.Errorf("save position: %w", err)
	}
	return nil
}

// Load returns all persisted positions.
func (s *PositionStore) Load() (map[string]Position, error) {
	rows, err := s.db.Query(`SELECT entity_id, x, y, manual FROM layout_positions;`)
	if err != nil {
		return nil, fmt.Errorf("load positions: %w", err)
	}
	defer rows.Close()

	out := make(map[string]Position)
	for rows.Next() {
		var id string
		var p Position
		var manual int
		if err := rows.Scan(&id, &p.X, &p.Y, &manual); err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		p.Manual = manual != 0
		out[id] = p
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load positions: iterate: %w", err)
	}
	return out, nil
}

// Clear removes every persisted position (the "reset layout" action).
func (s *PositionStore) Clear() error {
	if _, err := s.db.Exec(`DELETE FROM layout_positions;`); err != nil {
		return fmt.Errorf("clear positions: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *PositionStore) Close() error {
	return s.db.Close()
}
