package logging

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"

	qerrors "quest/cli/internal/errors"
)

func TestClassifyQueryError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want QueryErrorType
	}{
		{"nil", nil, QueryErrorUnknown},
		{"pgx syntax", &pgconn.PgError{Code: "42601"}, QueryErrorSyntax},
		{"pgx undefined table wrapped", fmt.Errorf("run: %w", &pgconn.PgError{Code: "42P01"}), QueryErrorSyntax},
		{"pgx auth", &pgconn.PgError{Code: "28P01"}, QueryErrorAuth},
		{"pgx canceled", &pgconn.PgError{Code: "57014"}, QueryErrorCancelled},
		{"pq syntax", &pq.Error{Code: "42601"}, QueryErrorSyntax},
		{"pq connection", &pq.Error{Code: "08006"}, QueryErrorNetwork},
		{"engine cancelled", qerrors.ErrCancelled, QueryErrorCancelled},
		{"probe timeout", qerrors.Wrap(qerrors.ProbeTimeout, "probe", context.DeadlineExceeded), QueryErrorTimeout},
		{"not open", qerrors.ErrConnectionNotOpen, QueryErrorNotOpen},
		{"query execution wraps pg error", qerrors.Wrap(qerrors.QueryExecution, "fetch", &pgconn.PgError{Code: "42703"}), QueryErrorSyntax},
		{"context deadline", context.DeadlineExceeded, QueryErrorTimeout},
		{"net op error", &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}, QueryErrorNetwork},
		{"message fallback", errors.New("write: broken pipe"), QueryErrorNetwork},
		{"other", errors.New("boom"), QueryErrorUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyQueryError(tt.err))
		})
	}
}

func TestFormatQueryError_MasksDetails(t *testing.T) {
	err := fmt.Errorf("connect postgres://u:secret@h/db: %w", &pgconn.PgError{Code: "28P01", Message: "password authentication failed"})

	out := FormatQueryError(err)
	assert.Contains(t, out, "quest connect")
	assert.NotContains(t, out, "secret")
	assert.Empty(t, FormatQueryError(nil))
}
