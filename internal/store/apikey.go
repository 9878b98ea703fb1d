package store

import (
	"database/sql"
	"fmt"

	"github.com/dukerupert/pillbox/internal/model"
)

type APIKeyStore struct {
	db *sql.DB
}

func NewAPIKeyStore(db *sql.DB) *APIKeyStore {
	return &APIKeyStore{db: db}
}

// Set stores the hash for a user, replacing any previous key.
func (s *APIKeyStore) Set(userID, keyHash string) error {
	_, err := s.db.Exec(
		`INSERT INTO api_keys (user_id, key_hash) VALUES (?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET key_hash = excluded.key_hash, created_at = CURRENT_TIMESTAMP`,
		userID, keyHash,
	)
	if err != nil {
		return fmt.Errorf("set api key: %w", err)
	}
	return nil
}

func (s *APIKeyStore) Get(userID string) (*model.APIKey, error) {
	var k model.APIKey
	err := s.db.QueryRow(
		`SELECT user_id, key_hash, created_at FROM api_keys WHERE user_id = ?`, userID,
	).Scan(&k.UserID, &k.KeyHash, &k.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get api key: %w", err)
	}
	return &k, nil
}

func (s *APIKeyStore) Delete(userID string) error {
	_, err := s.db.Exec(`DELETE FROM api_keys WHERE user_id = ?`, userID)
	if err != nil {
		return fmt.Errorf("delete api key: %w", err)
	}
	return nil
}
