package utils

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NewID returns a random UUID string. All entity identifiers use this.
func NewID() string {
	return uuid.NewString()
}

// NewPaymentID returns a prefixed, human-scannable payment identifier.
func NewPaymentID() string {
	return fmt.Sprintf("pay_%d_%s", time.Now().Unix(), uuid.NewString()[:8])
}
