// Package store is the MySQL persistence layer for the chat server. All
// queries run on the chat loop goroutine; the *sqlx.DB handle is never
// shared with other goroutines.
package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"

	"github.com/kcstream/kcchat/internal/config"
)

// Auth levels stored in users.auth_level.
const (
	LevelUser   = 0
	LevelMember = 20
	LevelMod    = 50
	LevelAdmin  = 100
)

// Store wraps the database handle with the queries the chat server needs.
type Store struct {
	db *sqlx.DB
}

// Open connects to MySQL using the db_* config keys and verifies the
// connection with a ping.
func Open(cfg *config.Config) (*Store, error) {
	db, err := sqlx.Connect("mysql", dsn(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return &Store{db: db}, nil
}

// New wraps an existing handle. Used by tests to inject a mock.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

func dsn(cfg *config.Config) string {
	port := cfg.Int("db_port")
	if port == 0 {
		port = 3306
	}

	mc := mysql.NewConfig()
	mc.Net = "tcp"
	mc.Addr = fmt.Sprintf("%s:%d", cfg.String("db_host"), port)
	mc.DBName = cfg.String("db_name")
	mc.User = cfg.String("db_user")
	mc.Passwd = cfg.String("db_pass")
	return mc.FormatDSN()
}

// Close closes the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// IsDuplicate reports whether err is a MySQL duplicate-key error (1062).
// Renames racing a taken display_name and replayed transaction order ids
// both surface this way.
func IsDuplicate(err error) bool {
	var mysqlErr *mysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == 1062
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// SetConfigValue updates a named row in the config table.
func (s *Store) SetConfigValue(name, value string) error {
	_, err := s.db.Exec("UPDATE config SET value = ? WHERE name = ?", value, name)
	return err
}
