package proto

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

var ErrInvalidPath = errors.New("invalid path")

// ValidatePath checks that p is usable as a message or record path.
func ValidatePath(p string) error {
	if strings.TrimSpace(p) == "" {
		return fmt.Errorf("%w: path is required", ErrInvalidPath)
	}
	if !strings.HasPrefix(p, "/") {
		return fmt.Errorf("%w: %q must start with '/'", ErrInvalidPath, p)
	}
	if p == "/" {
		return fmt.Errorf("%w: root path is reserved", ErrInvalidPath)
	}
	if strings.IndexFunc(p, unicode.IsSpace) >= 0 {
		return fmt.Errorf("%w: %q contains whitespace", ErrInvalidPath, p)
	}
	return nil
}
