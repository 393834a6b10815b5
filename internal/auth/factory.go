package auth

import "strings"

// NewService picks a backend from the database URL: postgres:// or
// postgresql:// selects lib/pq, anything else is treated as a sqlite path
// (":memory:" included).
func NewService(databaseURL string) (Service, error) {
	url := strings.TrimSpace(databaseURL)
	if strings.HasPrefix(url, "postgres://") || strings.HasPrefix(url, "postgresql://") {
		return NewPostgresService(url)
	}
	return NewSQLiteService(url)
}
