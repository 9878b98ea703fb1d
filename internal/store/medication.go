package store

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/dukerupert/pillbox/internal/model"
)

const medicationColumns = `id, name, dose, amount, time, type, user_id, last_taken, skipped_today, skipped_on, active_reminder, reminder_sent_at, follow_up_sent_at, created_at`

type MedicationStore struct {
	db *sql.DB
}

func NewMedicationStore(db *sql.DB) *MedicationStore {
	return &MedicationStore{db: db}
}

// NewMedicationID derives a stable id from the name, owner and creation time.
func NewMedicationID(name, userID string, createdAt time.Time) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s-%s-%d", name, userID, createdAt.UnixMilli())))
	return hex.EncodeToString(sum[:])[:16]
}

func (s *MedicationStore) Create(m model.Medication) (*model.Medication, error) {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	if m.ID == "" {
		m.ID = NewMedicationID(m.Name, m.UserID, m.CreatedAt)
	}
	_, err := s.db.Exec(
		`INSERT INTO medications (id, name, dose, amount, time, type, user_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.Name, m.Dose, m.Amount, m.Time, string(m.Type), m.UserID, m.CreatedAt.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("create medication: %w", err)
	}
	return s.Get(m.ID)
}

// Get returns the medication with the given id, or nil if it does not exist.
func (s *MedicationStore) Get(id string) (*model.Medication, error) {
	row := s.db.QueryRow(`SELECT `+medicationColumns+` FROM medications WHERE id = ?`, id)
	m, err := scanMedication(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get medication: %w", err)
	}
	return m, nil
}

func (s *MedicationStore) ListAll() ([]model.Medication, error) {
	rows, err := s.db.Query(`SELECT ` + medicationColumns + ` FROM medications ORDER BY time, name`)
	if err != nil {
		return nil, fmt.Errorf("list medications: %w", err)
	}
	defer rows.Close()
	return scanMedications(rows)
}

func (s *MedicationStore) ListByUser(userID string) ([]model.Medication, error) {
	rows, err := s.db.Query(
		`SELECT `+medicationColumns+` FROM medications WHERE user_id = ? ORDER BY time, name`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list medications by user: %w", err)
	}
	defer rows.Close()
	return scanMedications(rows)
}

// FindByName looks up one of the user's medications by name, ignoring case.
func (s *MedicationStore) FindByName(userID, name string) (*model.Medication, error) {
	row := s.db.QueryRow(
		`SELECT `+medicationColumns+` FROM medications
		 WHERE user_id = ? AND LOWER(name) = LOWER(?)
		 ORDER BY created_at LIMIT 1`,
		userID, strings.TrimSpace(name),
	)
	m, err := scanMedication(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find medication by name: %w", err)
	}
	return m, nil
}

// Remove deletes a medication. It reports false if the id did not exist.
func (s *MedicationStore) Remove(id string) (bool, error) {
	result, err := s.db.Exec(`DELETE FROM medications WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("remove medication: %w", err)
	}
	n, _ := result.RowsAffected()
	return n > 0, nil
}

// Update applies the non-nil fields of u in a single statement. It reports
// false if the id did not exist.
func (s *MedicationStore) Update(id string, u model.MedicationUpdate) (bool, error) {
	var (
		sets []string
		args []any
	)
	if u.LastTaken != nil {
		sets = append(sets, "last_taken = ?")
		args = append(args, u.LastTaken.UTC())
	}
	if u.SkippedToday != nil {
		sets = append(sets, "skipped_today = ?", "skipped_on = ?")
		args = append(args, boolToInt(*u.SkippedToday), nullString(*u.SkippedToday, u.SkippedOn))
	}
	switch {
	case u.ClearReminder:
		sets = append(sets, "active_reminder = NULL", "reminder_sent_at = NULL", "follow_up_sent_at = NULL")
	case u.ActiveReminder != nil:
		sets = append(sets, "active_reminder = ?", "follow_up_sent_at = NULL")
		args = append(args, *u.ActiveReminder)
		if u.ReminderSentAt != nil {
			sets = append(sets, "reminder_sent_at = ?")
			args = append(args, u.ReminderSentAt.UTC())
		}
	case u.FollowUpSentAt != nil:
		sets = append(sets, "follow_up_sent_at = ?")
		args = append(args, u.FollowUpSentAt.UTC())
	}

	if len(sets) == 0 {
		var exists int
		err := s.db.QueryRow(`SELECT COUNT(*) FROM medications WHERE id = ?`, id).Scan(&exists)
		if err != nil {
			return false, fmt.Errorf("update medication: %w", err)
		}
		return exists > 0, nil
	}

	args = append(args, id)
	result, err := s.db.Exec(
		`UPDATE medications SET `+strings.Join(sets, ", ")+` WHERE id = ?`,
		args...,
	)
	if err != nil {
		return false, fmt.Errorf("update medication: %w", err)
	}
	n, _ := result.RowsAffected()
	return n > 0, nil
}

// ResetSkipped clears every skip recorded before today (a YYYY-MM-DD date
// key) and returns how many were cleared. Skips without a date are always
// cleared.
func (s *MedicationStore) ResetSkipped(today string) (int64, error) {
	result, err := s.db.Exec(
		`UPDATE medications SET skipped_today = 0, skipped_on = NULL
		 WHERE skipped_today = 1 AND (skipped_on IS NULL OR skipped_on < ?)`,
		today,
	)
	if err != nil {
		return 0, fmt.Errorf("reset skipped medications: %w", err)
	}
	return result.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMedication(row rowScanner) (*model.Medication, error) {
	var (
		m              model.Medication
		medType        string
		skipped        int
		lastTaken      sql.NullTime
		skippedOn      sql.NullString
		activeReminder sql.NullString
		sentAt         sql.NullTime
		followUpAt     sql.NullTime
	)
	err := row.Scan(&m.ID, &m.Name, &m.Dose, &m.Amount, &m.Time, &medType, &m.UserID,
		&lastTaken, &skipped, &skippedOn, &activeReminder, &sentAt, &followUpAt, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	m.Type = model.MedicationType(medType)
	m.SkippedToday = skipped != 0
	if lastTaken.Valid {
		t := lastTaken.Time
		m.LastTaken = &t
	}
	if activeReminder.Valid && activeReminder.String != "" {
		token := activeReminder.String
		m.ActiveReminder = &token
	}
	if sentAt.Valid {
		t := sentAt.Time
		m.ReminderSentAt = &t
	}
	if followUpAt.Valid {
		t := followUpAt.Time
		m.FollowUpSentAt = &t
	}
	m.SkippedOn = skippedOn.String
	return &m, nil
}

func scanMedications(rows *sql.Rows) ([]model.Medication, error) {
	var meds []model.Medication
	for rows.Next() {
		m, err := scanMedication(rows)
		if err != nil {
			return nil, fmt.Errorf("scan medication: %w", err)
		}
		meds = append(meds, *m)
	}
	return meds, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// nullString stores s only when set is true and s is non-empty.
func nullString(set bool, s string) sql.NullString {
	return sql.NullString{String: s, Valid: set && s != ""}
}
