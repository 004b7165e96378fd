package dbusutil

import (
	"strings"

	"github.com/google/uuid"
)

// NewPath generates a unique object path below prefix. The dashes of
// the embedded UUID are replaced with delim, since '-' is not valid in
// D-Bus object paths.
func NewPath(prefix string, delim rune) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", string(delim))
	if prefix == "" {
		return id
	}
	return prefix + "/" + id
}
