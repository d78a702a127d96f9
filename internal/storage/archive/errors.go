package archive

import (
	"fmt"

	"github.com/newthinker/catalyst/internal/core"
)

// WrapNotFound tags a missing key with ErrNotFound
func WrapNotFound(key string) error {
	return core.WrapError(ErrNotFound, fmt.Errorf("key %s", key))
}
