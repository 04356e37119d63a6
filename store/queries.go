package store

import (
	"fmt"
	"time"
)

// Entry is one mess entry joined with the roster name. Timestamp keeps the
// stored "YYYY-MM-DD HH:MM:SS" form.
type Entry struct {
	StudentID string
	Name      string
	Session   string
	Timestamp string
}

// fillName resolves the display name the way the UI shows it: roster name,
// "Guest User" for the shared guest identity, "Unknown" otherwise.
func (s *Store) fillName(e *Entry, guestID string) {
	if e.StudentID == guestID {
		e.Name = "Guest User"
		return
	}
	st, ok, err := s.Student(e.StudentID)
	if err == nil && ok {
		e.Name = st.Name
	} else {
		e.Name = "Unknown"
	}
}

// RecentEntries returns today's newest entries for the session.
func (s *Store) RecentEntries(session, guestID string, limit int) ([]Entry, error) {
	now := s.now()
	db, err := s.monthlyDB("mess", entriesSchema, now)
	if err != nil {
		return nil, err
	}
	rows, err := db.Query(
		"SELECT STUDENT_ID, SESSION, TIMESTAMP FROM entries WHERE SESSION = ? AND date(TIMESTAMP) = ? ORDER BY TIMESTAMP DESC LIMIT ?",
		session, now.Format("2006-01-02"), limit)
	if err != nil {
		return nil, fmt.Errorf("store: recent entries: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var ts time.Time
		if err := rows.Scan(&e.StudentID, &e.Session, &ts); err != nil {
			return nil, fmt.Errorf("store: recent entries: %w", err)
		}
		// DATETIME columns scan as time.Time; keep the stored wall-clock
		// text form.
		e.Timestamp = ts.Format(timeFormat)
		s.fillName(&e, guestID)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Stats summarizes one month of entries.
type Stats struct {
	Month      string         `json:"month"`
	Total      int            `json:"total"`
	Students   int            `json:"unique_students"`
	PerSession map[string]int `json:"per_session"`
}

// MonthStats aggregates entry counts for the given month. The zero time
// means the current month.
func (s *Store) MonthStats(month time.Time) (Stats, error) {
	if month.IsZero() {
		month = s.now()
	}
	st := Stats{
		Month:      fmt.Sprintf("%d-%02d", month.Year(), int(month.Month())),
		PerSession: make(map[string]int),
	}

	db, err := s.monthlyDB("mess", entriesSchema, month)
	if err != nil {
		return st, err
	}

	rows, err := db.Query("SELECT SESSION, COUNT(*) FROM entries GROUP BY SESSION")
	if err != nil {
		return st, fmt.Errorf("store: stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var sess string
		var n int
		if err := rows.Scan(&sess, &n); err != nil {
			return st, fmt.Errorf("store: stats: %w", err)
		}
		st.PerSession[sess] = n
		st.Total += n
	}
	if err := rows.Err(); err != nil {
		return st, err
	}

	err = db.QueryRow("SELECT COUNT(DISTINCT STUDENT_ID) FROM entries").Scan(&st.Students)
	if err != nil {
		return st, fmt.Errorf("store: stats: %w", err)
	}
	return st, nil
}

// ExportRows returns every entry of the month, oldest first, for CSV
// export. The zero time means the current month.
func (s *Store) ExportRows(month time.Time, guestID string) ([]Entry, error) {
	if month.IsZero() {
		month = s.now()
	}
	db, err := s.monthlyDB("mess", entriesSchema, month)
	if err != nil {
		return nil, err
	}
	rows, err := db.Query("SELECT STUDENT_ID, SESSION, TIMESTAMP FROM entries ORDER BY TIMESTAMP")
	if err != nil {
		return nil, fmt.Errorf("store: export: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var ts time.Time
		if err := rows.Scan(&e.StudentID, &e.Session, &ts); err != nil {
			return nil, fmt.Errorf("store: export: %w", err)
		}
		e.Timestamp = ts.Format(timeFormat)
		s.fillName(&e, guestID)
		out = append(out, e)
	}
	return out, rows.Err()
}
