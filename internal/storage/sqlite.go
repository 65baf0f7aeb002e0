package storage

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"

	"github.com/tazhate/familycal/internal/domain"
)

//go:embed migrations/*.sql
var migrations embed.FS

type Storage struct {
	db *sql.DB
}

func New(dbPath string) (*Storage, error) {
	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// One connection keeps ":memory:" databases alive across queries.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}

	s := &Storage{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) migrate() error {
	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		return err
	}
	return goose.Up(s.db, "migrations")
}

// ==================== Calendars ====================

func (s *Storage) CreateCalendar(c *domain.Calendar) error {
	res, err := s.db.Exec(
		`INSERT INTO calendars (name, share_code, created_at) VALUES (?, ?, ?)`,
		c.Name, c.ShareCode, time.Now().UTC(),
	)
	if err != nil {
		return err
	}
	id, _ := res.LastInsertId()
	c.ID = id
	c.CreatedAt = time.Now().UTC()
	return nil
}

func (s *Storage) GetCalendar(id int64) (*domain.Calendar, error) {
	c := &domain.Calendar{}
	err := s.db.QueryRow(
		`SELECT id, name, share_code, created_at FROM calendars WHERE id = ?`, id,
	).Scan(&c.ID, &c.Name, &c.ShareCode, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

func (s *Storage) GetCalendarByShareCode(code string) (*domain.Calendar, error) {
	c := &domain.Calendar{}
	err := s.db.QueryRow(
		`SELECT id, name, share_code, created_at FROM calendars WHERE share_code = ?`,
		domain.NormalizeShareCode(code),
	).Scan(&c.ID, &c.Name, &c.ShareCode, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

func (s *Storage) ShareCodeExists(code string) (bool, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM calendars WHERE share_code = ?`, code).Scan(&count)
	return count > 0, err
}

// ==================== Events ====================

const eventColumns = `id, calendar_id, title, COALESCE(description, ''), start_time, end_time, all_day, reminder_minutes, created_at, updated_at`

func (s *Storage) CreateEvent(e *domain.Event) error {
	now := time.Now().UTC().Truncate(time.Second)
	res, err := s.db.Exec(
		`INSERT INTO events (calendar_id, title, description, start_time, end_time, all_day, reminder_minutes, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.CalendarID, e.Title, e.Description, dbTime(e.StartTime), dbTime(e.EndTime), e.AllDay, e.ReminderMinutes, now, now,
	)
	if err != nil {
		return err
	}
	id, _ := res.LastInsertId()
	e.ID = id
	e.CreatedAt = now
	e.UpdatedAt = now
	return nil
}

func (s *Storage) GetEvent(id int64) (*domain.Event, error) {
	row := s.db.QueryRow(`SELECT `+eventColumns+` FROM events WHERE id = ?`, id)
	e, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return e, err
}

func (s *Storage) UpdateEvent(e *domain.Event) error {
	now := time.Now().UTC().Truncate(time.Second)
	_, err := s.db.Exec(
		`UPDATE events SET title = ?, description = ?, start_time = ?, end_time = ?, all_day = ?, reminder_minutes = ?, updated_at = ?
		 WHERE id = ?`,
		e.Title, e.Description, dbTime(e.StartTime), dbTime(e.EndTime), e.AllDay, e.ReminderMinutes, now, e.ID,
	)
	if err != nil {
		return err
	}
	e.UpdatedAt = now
	return nil
}

func (s *Storage) DeleteEvent(id int64) error {
	_, err := s.db.Exec(`DELETE FROM events WHERE id = ?`, id)
	return err
}

// ListEvents returns the calendar's events ordered by start. Zero bounds are open.
func (s *Storage) ListEvents(calendarID int64, from, to time.Time) ([]*domain.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE calendar_id = ?`
	args := []any{calendarID}
	if !from.IsZero() {
		query += ` AND start_time >= ?`
		args = append(args, dbTime(from))
	}
	if !to.IsZero() {
		query += ` AND start_time <= ?`
		args = append(args, dbTime(to))
	}
	query += ` ORDER BY start_time, id`

	return s.queryEvents(query, args...)
}

// ListUpcomingEvents returns up to limit events starting in (from, until].
func (s *Storage) ListUpcomingEvents(calendarID int64, from, until time.Time, limit int) ([]*domain.Event, error) {
	return s.queryEvents(
		`SELECT `+eventColumns+` FROM events WHERE calendar_id = ? AND start_time > ? AND start_time <= ? ORDER BY start_time, id LIMIT ?`,
		calendarID, dbTime(from), dbTime(until), limit,
	)
}

func (s *Storage) CountEvents(calendarID int64) (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM events WHERE calendar_id = ?`, calendarID).Scan(&count)
	return count, err
}

// RecentEventTitles returns the titles of the most recently created events.
func (s *Storage) RecentEventTitles(calendarID int64, limit int) ([]string, error) {
	rows, err := s.db.Query(
		`SELECT title FROM events WHERE calendar_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`,
		calendarID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var titles []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		titles = append(titles, t)
	}
	return titles, rows.Err()
}

func (s *Storage) queryEvents(query string, args ...any) ([]*domain.Event, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*domain.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(row scanner) (*domain.Event, error) {
	e := &domain.Event{}
	err := row.Scan(&e.ID, &e.CalendarID, &e.Title, &e.Description, &e.StartTime, &e.EndTime, &e.AllDay, &e.ReminderMinutes, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return e, nil
}

// dbTime stores instants in UTC at second precision so text comparison in
// SQL matches chronological order.
func dbTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}

// ==================== Reminder deliveries ====================

// WasNotified reports whether the reminder for (eventID, fireTime) was delivered.
func (s *Storage) WasNotified(eventID int64, fireTime time.Time) (bool, error) {
	var count int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM reminder_deliveries WHERE event_id = ? AND fire_time = ?`,
		eventID, fireTime.Unix(),
	).Scan(&count)
	return count > 0, err
}

func (s *Storage) MarkNotified(eventID int64, fireTime time.Time) error {
	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO reminder_deliveries (event_id, fire_time, notified_at) VALUES (?, ?, ?)`,
		eventID, fireTime.Unix(), time.Now().UTC(),
	)
	return err
}

// Forget drops every delivery record of eventID, so an edited event can fire again.
func (s *Storage) Forget(eventID int64) error {
	_, err := s.db.Exec(`DELETE FROM reminder_deliveries WHERE event_id = ?`, eventID)
	return err
}

// PruneDeliveries removes records whose fire time is older than before.
func (s *Storage) PruneDeliveries(before time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM reminder_deliveries WHERE fire_time < ?`, before.Unix())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// IsUniqueViolation reports whether err is a sqlite UNIQUE constraint failure.
func IsUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
