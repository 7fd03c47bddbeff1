package common

import (
	"fmt"

	"github.com/google/uuid"
)

// NewCatalogEntryID generates a unique identifier for a catalog entry.
func NewCatalogEntryID() string {
	return fmt.Sprintf("cat_%s", uuid.New().String())
}

// NewFencingToken generates a lock fencing token. A lock holder must present
// its token to release; a stale holder's release is a no-op.
func NewFencingToken() string {
	return uuid.New().String()
}
