// Copyright (c) 2025 Quest
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package dsn parses and normalizes connection strings for databases that speak the
// PostgreSQL wire protocol. QuestDB and CrateDB DSNs are accepted with their own schemes and
// default ports and are normalized to postgresql:// so any pg-wire driver can use them.
package dsn

import "fmt"

// DBType represents the type of database
type DBType string

const (
	DBTypePostgreSQL DBType = "postgresql"
	DBTypeQuestDB    DBType = "questdb"
	DBTypeCrateDB    DBType = "cratedb"
	DBTypeUnknown    DBType = "unknown"
)

// DefaultPort returns the pg-wire port the database listens on out of the box.
func (t DBType) DefaultPort() string {
	if t == DBTypeQuestDB {
		return "8812"
	}
	return "5432"
}

// defaultDatabase is used when the DSN names no database; empty means one is required.
func (t DBType) defaultDatabase() string {
	switch t {
	case DBTypeQuestDB:
		return "qdb"
	case DBTypeCrateDB:
		return "doc"
	}
	return ""
}

// DSNInfo contains parsed information from a DSN string
type DSNInfo struct {
	Type     DBType
	Host     string
	Port     string
	User     string
	Password string
	Database string
	Params   map[string]string
	Original string
}

// String returns the normalized DSN string
func (d *DSNInfo) String() string {
	return d.Original
}

// Key identifies a connection across reconnects: "<name> <user>@<host>:<port>".
func (d *DSNInfo) Key(name string) string {
	return fmt.Sprintf("%s %s@%s:%s", name, d.User, d.Host, d.Port)
}

// Resolver is an interface for database-specific DSN resolution
type Resolver interface {
	// Parse parses a DSN string and returns normalized DSN info
	Parse(dsn string) (*DSNInfo, error)

	// Normalize converts DSN info to a properly formatted connection string
	Normalize(info *DSNInfo) (string, error)

	// Validate checks if the DSN is valid for the database type
	Validate(dsn string) error
}

// ParseError represents an error that occurred during DSN parsing
type ParseError struct {
	DSN    string
	Reason string
	Hint   string
}

func (e *ParseError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("invalid DSN format: %s\nHint: %s", e.Reason, e.Hint)
	}
	return fmt.Sprintf("invalid DSN format: %s", e.Reason)
}

// NewParseError creates a new ParseError
func NewParseError(dsn, reason, hint string) *ParseError {
	return &ParseError{
		DSN:    dsn,
		Reason: reason,
		Hint:   hint,
	}
}
