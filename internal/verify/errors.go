package verify

import (
	"fmt"

	"discnorm/internal/services"
)

// MismatchError reports a file whose hash, name, and size have no catalog entry.
type MismatchError struct {
	File string
	SHA1 string
	Size int64
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("%s (sha1 %s, %d bytes) does not match any catalog rom", e.File, e.SHA1, e.Size)
}

func (e *MismatchError) Unwrap() error {
	return services.ErrVerification
}
