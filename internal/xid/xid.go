package xid

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// New returns a random record id carrying the given prefix.
func New(prefix string) string {
	return fmt.Sprintf("%s-%s", prefix, uuid.NewString())
}

// Number returns a human readable, time ordered document number such as
// S-20261019-143005-9f3a.
func Number(prefix string, at time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:4]
	return fmt.Sprintf("%s-%s-%s", prefix, at.UTC().Format("20060102-150405"), suffix)
}
