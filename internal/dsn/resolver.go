// Copyright (c) 2025 Quest
// Licensed under the MIT License. See LICENSE file in the project root for details.

package dsn

import (
	"strings"
)

// schemes maps accepted URL schemes to the database they select.
var schemes = []struct {
	prefix string
	dbType DBType
}{
	{"postgresql://", DBTypePostgreSQL},
	{"postgres://", DBTypePostgreSQL},
	{"questdb://", DBTypeQuestDB},
	{"crate://", DBTypeCrateDB},
	{"cratedb://", DBTypeCrateDB},
}

// DetectDBType detects the database type from a DSN string
func DetectDBType(dsn string) DBType {
	lower := strings.ToLower(dsn)
	for _, s := range schemes {
		if strings.HasPrefix(lower, s.prefix) {
			return s.dbType
		}
	}
	return DBTypeUnknown
}

func resolverFor(dsn string) (Resolver, error) {
	if dsn == "" {
		return nil, NewParseError(dsn, "empty DSN", "provide a valid database connection string")
	}
	dbType := DetectDBType(dsn)
	if dbType == DBTypeUnknown {
		return nil, NewParseError(dsn, "unknown database type", "use postgres://, questdb:// or crate://")
	}
	return NewPgWireResolver(dbType), nil
}

// Parse parses a DSN string and returns the normalized postgresql:// connection string.
// This is the main entry point for DSN parsing
func Parse(dsn string) (string, error) {
	resolver, err := resolverFor(dsn)
	if err != nil {
		return "", err
	}

	info, err := resolver.Parse(dsn)
	if err != nil {
		return "", err
	}

	return resolver.Normalize(info)
}

// Validate validates a DSN string without normalizing it
func Validate(dsn string) error {
	resolver, err := resolverFor(dsn)
	if err != nil {
		return err
	}
	return resolver.Validate(dsn)
}

// ParseInfo parses a DSN string and returns detailed DSN info
// Useful for inspecting connection details
func ParseInfo(dsn string) (*DSNInfo, error) {
	resolver, err := resolverFor(dsn)
	if err != nil {
		return nil, err
	}
	return resolver.Parse(dsn)
}
