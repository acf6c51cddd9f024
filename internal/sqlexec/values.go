package sqlexec

import (
	sqldriver "database/sql/driver"
	"fmt"
	"unicode/utf8"

	"github.com/google/uuid"
)

// normalizeNative converts values decoded by pgx into printable values. UUIDs arrive as
// [16]byte and bytea as []byte; numeric, interval and similar pgtype values are converted
// through their Valuer.
func normalizeNative(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case [16]byte:
		return uuid.UUID(x).String()
	case []byte:
		return hexBytes(x)
	case string, bool, int16, int32, int64, float32, float64:
		return v
	case sqldriver.Valuer:
		dv, err := x.Value()
		if err != nil {
			return fmt.Sprint(v)
		}
		if b, ok := dv.([]byte); ok {
			return hexBytes(b)
		}
		return dv
	}
	return v
}

// normalizeText converts values scanned through database/sql. lib/pq returns most text
// columns as []byte.
func normalizeText(v any) any {
	if b, ok := v.([]byte); ok {
		if utf8.Valid(b) {
			return string(b)
		}
		return hexBytes(b)
	}
	return v
}

func hexBytes(b []byte) string {
	return fmt.Sprintf("\\x%x", b)
}
