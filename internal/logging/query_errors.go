// Copyright (c) 2025 Quest
// Licensed under the MIT License. See LICENSE file in the project root for details.

package logging

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/pterm/pterm"

	qerrors "quest/cli/internal/errors"
)

// QueryErrorType represents the category of a query or connection error
type QueryErrorType int

const (
	QueryErrorUnknown QueryErrorType = iota
	QueryErrorSyntax
	QueryErrorAuth
	QueryErrorNetwork
	QueryErrorTimeout
	QueryErrorCancelled
	QueryErrorNotOpen
)

func (t QueryErrorType) String() string {
	switch t {
	case QueryErrorSyntax:
		return "syntax"
	case QueryErrorAuth:
		return "auth"
	case QueryErrorNetwork:
		return "network"
	case QueryErrorTimeout:
		return "timeout"
	case QueryErrorCancelled:
		return "cancelled"
	case QueryErrorNotOpen:
		return "not_open"
	}
	return "unknown"
}

// ClassifyQueryError categorizes an error returned by the engine or a connection.
// Server errors are classified by SQLSTATE class for both pgx and lib/pq.
func ClassifyQueryError(err error) QueryErrorType {
	if err == nil {
		return QueryErrorUnknown
	}

	switch qerrors.KindOf(err) {
	case qerrors.Cancelled:
		return QueryErrorCancelled
	case qerrors.ProbeTimeout:
		return QueryErrorTimeout
	case qerrors.ConnectionNotOpen:
		return QueryErrorNotOpen
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return classifySQLState(pgErr.Code)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return classifySQLState(string(pqErr.Code))
	}

	if errors.Is(err, context.Canceled) {
		return QueryErrorCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) {
		return QueryErrorTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return QueryErrorTimeout
		}
		return QueryErrorNetwork
	}

	lower := strings.ToLower(err.Error())
	if strings.Contains(lower, "connection refused") || strings.Contains(lower, "connection reset") ||
		strings.Contains(lower, "broken pipe") || strings.Contains(lower, "conn closed") {
		return QueryErrorNetwork
	}
	return QueryErrorUnknown
}

func classifySQLState(code string) QueryErrorType {
	switch {
	case code == "57014": // query_canceled
		return QueryErrorCancelled
	case strings.HasPrefix(code, "42"):
		return QueryErrorSyntax
	case strings.HasPrefix(code, "28"):
		return QueryErrorAuth
	case strings.HasPrefix(code, "08"):
		return QueryErrorNetwork
	}
	return QueryErrorUnknown
}

// FormatQueryError formats a query error in a user-friendly way
func FormatQueryError(err error) string {
	if err == nil {
		return ""
	}
	errType := ClassifyQueryError(err)

	var builder strings.Builder

	title := "Query Failed"
	switch errType {
	case QueryErrorCancelled:
		title = "Query Cancelled"
	case QueryErrorNetwork, QueryErrorNotOpen:
		title = "Connection Lost"
	}
	builder.WriteString(pterm.NewStyle(pterm.FgRed, pterm.Bold).Sprint(title))
	builder.WriteString("\n\n")

	switch errType {
	case QueryErrorSyntax:
		builder.WriteString("The database rejected the statement.\n")
		builder.WriteString("Check table and column names and the SQL dialect of the server.\n")

	case QueryErrorAuth:
		builder.WriteString("The database refused the credentials.\n")
		builder.WriteString("Run 'quest connect <name>' to store a new connection string.\n")

	case QueryErrorNetwork:
		builder.WriteString("The connection to the database was interrupted.\n")
		builder.WriteString("The server may be down or a proxy closed the session.\n")

	case QueryErrorTimeout:
		builder.WriteString("The database did not answer in time.\n")

	case QueryErrorCancelled:
		builder.WriteString("The statement was cancelled before it finished.\n")

	case QueryErrorNotOpen:
		builder.WriteString("The connection is closed.\n")
		builder.WriteString("It was closed explicitly or failed a validity check.\n")

	default:
		builder.WriteString("The statement could not be executed.\n")
	}

	if msg := strings.TrimSpace(err.Error()); msg != "" {
		builder.WriteString("\n")
		builder.WriteString(pterm.NewStyle(pterm.FgGray).Sprint("Technical details: " + Mask(msg)))
	}

	return builder.String()
}

// PresentQueryError displays a formatted query error
func PresentQueryError(err error) {
	fmt.Println()
	fmt.Println(FormatQueryError(err))
	fmt.Println()
}
