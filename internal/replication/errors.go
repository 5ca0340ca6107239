package replication

import (
	"errors"
	"fmt"
)

// Integrity stages, in the order Decode checks them.
const (
	StageHMAC       = "hmac"
	StageChecksum   = "checksum"
	StageDecompress = "decompress"
	StageDecode     = "decode"
)

// IntegrityError reports a payload that failed verification or decoding.
type IntegrityError struct {
	Stage string
	Err   error
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("replication payload %s: %v", e.Stage, e.Err)
}

func (e *IntegrityError) Unwrap() error {
	return e.Err
}

// IsIntegrityError reports whether err is an IntegrityError.
func IsIntegrityError(err error) bool {
	var ie *IntegrityError
	return errors.As(err, &ie)
}

// StageOf returns the failing stage of an IntegrityError, or "".
func StageOf(err error) string {
	var ie *IntegrityError
	if errors.As(err, &ie) {
		return ie.Stage
	}
	return ""
}

// ErrUnknownClient is returned for operations on an unregistered client.
var ErrUnknownClient = errors.New("unknown replication client")
