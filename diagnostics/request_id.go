// Package diagnostics produces the per-request trail every job leaves in the
// log: a request ID, one record per phase transition, and a single terminal
// metrics line.
package diagnostics

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// RequestIDPrefix starts every request ID.
const RequestIDPrefix = "req_"

// NewRequestID returns "req_<unix-millis>_<8 hex>". The millisecond part
// keeps IDs sortable in the log; the random suffix keeps IDs minted in the
// same millisecond distinct.
func NewRequestID() string {
	return newRequestID(time.Now())
}

func newRequestID(now time.Time) string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	hex := strings.ReplaceAll(id.String(), "-", "")
	return fmt.Sprintf("%s%d_%s", RequestIDPrefix, now.UnixMilli(), hex[len(hex)-8:])
}
