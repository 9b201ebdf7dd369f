package xid

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// New returns "<prefix>-<uuid v7>". v7 ids sort by creation time.
func New(prefix string) string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return fmt.Sprintf("%s-%s", prefix, strings.ReplaceAll(id.String(), "-", ""))
}
