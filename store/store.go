// Package store persists students, mess entries, enrolled cards and system
// logs in SQLite. Mess entries and logs go to one database file per month,
// matching the retention scheme of the deployment; students and cards live
// in fixed files. The core never talks to this package directly: it only
// sees the lookup/record/has-consumed functions wired in at startup.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Config holds storage settings.
type Config struct {
	Dir string `yaml:"dir"` // base directory; databases land in <dir>/databases
}

const timeFormat = "2006-01-02 15:04:05"

const studentsSchema = `
CREATE TABLE IF NOT EXISTS students (
	ID   TEXT PRIMARY KEY,
	NAME TEXT
);`

const cardsSchema = `
CREATE TABLE IF NOT EXISTS cards (
	student_id TEXT NOT NULL,
	card_uid   TEXT NOT NULL,
	timestamp  DATETIME DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (student_id, card_uid)
);`

const entriesSchema = `
CREATE TABLE IF NOT EXISTS entries (
	CUIDV2     TEXT PRIMARY KEY,
	STUDENT_ID TEXT,
	SESSION    TEXT,
	TIMESTAMP  DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_entries_student ON entries(STUDENT_ID, SESSION);`

const logsSchema = `
CREATE TABLE IF NOT EXISTS logs (
	CUIDV2     TEXT PRIMARY KEY,
	LOG        TEXT,
	STUDENT_ID TEXT,
	TIMESTAMP  DATETIME DEFAULT CURRENT_TIMESTAMP
);`

// Store owns every database handle. Safe for concurrent use; database/sql
// pools connections and the monthly map has its own lock.
type Store struct {
	dir      string
	students *sql.DB
	cards    *sql.DB

	mu      sync.Mutex
	monthly map[string]*sql.DB

	now func() time.Time
}

// Open creates the database directory if needed and opens the fixed
// databases. Monthly files open lazily on first use.
func Open(cfg Config) (*Store, error) {
	dir := filepath.Join(cfg.Dir, "databases")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("store: create %s: %w", dir, err)
	}

	s := &Store{
		dir:     dir,
		monthly: make(map[string]*sql.DB),
		now:     time.Now,
	}

	var err error
	if s.students, err = openDB(filepath.Join(dir, "students.db"), studentsSchema); err != nil {
		return nil, err
	}
	if s.cards, err = openDB(filepath.Join(dir, "cards.db"), cardsSchema); err != nil {
		s.students.Close()
		return nil, err
	}
	return s, nil
}

// openDB opens one SQLite file with the production pragmas applied via
// EXEC, then installs the schema.
func openDB(path, schema string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	pragmas := `
PRAGMA foreign_keys = ON;
PRAGMA journal_mode = WAL;
PRAGMA busy_timeout = 10000;
PRAGMA synchronous = NORMAL;`
	if _, err := db.Exec(pragmas); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: pragmas %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: schema %s: %w", path, err)
	}
	return db, nil
}

// monthlyDB returns the handle for <prefix>-YYYY-MM.db, opening and
// initializing it on first use.
func (s *Store) monthlyDB(prefix, schema string, month time.Time) (*sql.DB, error) {
	name := fmt.Sprintf("%s-%d-%02d.db", prefix, month.Year(), int(month.Month()))

	s.mu.Lock()
	defer s.mu.Unlock()

	if db, ok := s.monthly[name]; ok {
		return db, nil
	}
	db, err := openDB(filepath.Join(s.dir, name), schema)
	if err != nil {
		return nil, err
	}
	s.monthly[name] = db
	return db, nil
}

// Close closes every open handle.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var first error
	for _, db := range s.monthly {
		if err := db.Close(); err != nil && first == nil {
			first = err
		}
	}
	s.monthly = make(map[string]*sql.DB)
	if err := s.cards.Close(); err != nil && first == nil {
		first = err
	}
	if err := s.students.Close(); err != nil && first == nil {
		first = err
	}
	return first
}

// Student is one row of the roster.
type Student struct {
	ID   string
	Name string
}

// Student looks up a roster entry. The second return is false when the
// identity is unknown.
func (s *Store) Student(id string) (Student, bool, error) {
	var st Student
	err := s.students.QueryRow("SELECT ID, NAME FROM students WHERE ID = ?", id).Scan(&st.ID, &st.Name)
	if err == sql.ErrNoRows {
		return Student{}, false, nil
	}
	if err != nil {
		return Student{}, false, fmt.Errorf("store: lookup student: %w", err)
	}
	return st, true, nil
}

// UpsertStudent inserts or updates a roster entry. Used by the admin API
// and test fixtures.
func (s *Store) UpsertStudent(st Student) error {
	_, err := s.students.Exec(
		"INSERT INTO students (ID, NAME) VALUES (?, ?) ON CONFLICT(ID) DO UPDATE SET NAME = excluded.NAME",
		st.ID, st.Name)
	if err != nil {
		return fmt.Errorf("store: upsert student: %w", err)
	}
	return nil
}

// RecordEntry logs one mess entry for the current month.
func (s *Store) RecordEntry(session, studentID string) error {
	now := s.now()
	db, err := s.monthlyDB("mess", entriesSchema, now)
	if err != nil {
		return err
	}
	_, err = db.Exec(
		"INSERT INTO entries (CUIDV2, STUDENT_ID, SESSION, TIMESTAMP) VALUES (?, ?, ?, ?)",
		uuid.NewString(), studentID, session, now.Format(timeFormat))
	if err != nil {
		return fmt.Errorf("store: record entry: %w", err)
	}
	return nil
}

// HasConsumed reports whether the identity already has an entry for the
// session on the given calendar day.
func (s *Store) HasConsumed(studentID, session string, day time.Time) (bool, error) {
	db, err := s.monthlyDB("mess", entriesSchema, day)
	if err != nil {
		return false, err
	}
	var n int
	err = db.QueryRow(
		"SELECT COUNT(*) FROM entries WHERE STUDENT_ID = ? AND SESSION = ? AND date(TIMESTAMP) = ?",
		studentID, session, day.Format("2006-01-02")).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("store: has consumed: %w", err)
	}
	return n > 0, nil
}

// RecordCard logs an enrolled (identity, card UID) pair. Returns false when
// the pair was already on file.
func (s *Store) RecordCard(studentID, cardUID string) (bool, error) {
	res, err := s.cards.Exec(
		"INSERT OR IGNORE INTO cards (student_id, card_uid) VALUES (?, ?)",
		studentID, cardUID)
	if err != nil {
		return false, fmt.Errorf("store: record card: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: record card: %w", err)
	}
	return n > 0, nil
}

// Log appends a system message to the current month's log database.
func (s *Store) Log(level, message, studentID string) error {
	now := s.now()
	db, err := s.monthlyDB("logs", logsSchema, now)
	if err != nil {
		return err
	}
	_, err = db.Exec(
		"INSERT INTO logs (CUIDV2, LOG, STUDENT_ID, TIMESTAMP) VALUES (?, ?, ?, ?)",
		uuid.NewString(), fmt.Sprintf("[%s] %s", level, message), studentID, now.Format(timeFormat))
	if err != nil {
		return fmt.Errorf("store: log: %w", err)
	}
	return nil
}
