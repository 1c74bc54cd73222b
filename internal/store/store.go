package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pavelanni/autograde/internal/model"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a named key does not exist.
var ErrNotFound = errors.New("not found")

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// A single connection keeps ":memory:" databases shared across queries.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS answer_keys (
		name TEXT PRIMARY KEY,
		body TEXT NOT NULL,
		questions INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS imported_files (
		path TEXT PRIMARY KEY,
		hash TEXT NOT NULL,
		imported_at DATETIME NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// PutKey inserts or replaces a named answer key.
func (s *Store) PutKey(name string, key *model.AnswerKey) error {
	body, err := json.Marshal(key)
	if err != nil {
		return fmt.Errorf("encode key %s: %w", name, err)
	}
	now := time.Now()
	_, err = s.db.Exec(
		`INSERT INTO answer_keys (name, body, questions, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET body = ?, questions = ?, updated_at = ?`,
		name, string(body), key.Len(), now, now,
		string(body), key.Len(), now,
	)
	return err
}

// GetKey returns a named answer key, or ErrNotFound.
func (s *Store) GetKey(name string) (model.StoredKey, error) {
	var body string
	sk := model.StoredKey{Name: name}
	err := s.db.QueryRow(
		`SELECT body, updated_at FROM answer_keys WHERE name = ?`, name,
	).Scan(&body, &sk.UpdatedAt)
	if err == sql.ErrNoRows {
		return sk, fmt.Errorf("answer key %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return sk, err
	}
	sk.Key = model.NewAnswerKey()
	if err := json.Unmarshal([]byte(body), sk.Key); err != nil {
		return sk, fmt.Errorf("decode key %s: %w", name, err)
	}
	return sk, nil
}

// KeySummary describes a stored key without its body.
type KeySummary struct {
	Name      string    `json:"name"`
	Questions int       `json:"questions"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ListKeys returns all stored keys ordered by name.
func (s *Store) ListKeys() ([]KeySummary, error) {
	rows, err := s.db.Query(`SELECT name, questions, updated_at FROM answer_keys ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var keys []KeySummary
	for rows.Next() {
		var k KeySummary
		if err := rows.Scan(&k.Name, &k.Questions, &k.UpdatedAt); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// DeleteKey removes a named key.
func (s *Store) DeleteKey(name string) error {
	res, err := s.db.Exec(`DELETE FROM answer_keys WHERE name = ?`, name)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("answer key %q: %w", name, ErrNotFound)
	}
	return nil
}

// KeyCount returns the number of stored keys.
func (s *Store) KeyCount() (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM answer_keys`).Scan(&count)
	return count, err
}
