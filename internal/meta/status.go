package meta

import (
	"errors"
	"fmt"
)

// Status is the outcome code of a metadata operation. Every non-success
// Status is also an error, so callers can test with errors.Is.
type Status int32

const (
	StatusSuccess Status = iota

	// Admission failures.
	StatusLeaseExists
	StatusBadMetaSeqno
	StatusBadLtime
	StatusContainerExists
	StatusShardDoesNotExist
	StatusUpdateDuplicate

	// Resource failures.
	StatusOutOfMem

	// Decode failures.
	StatusMetaDataInvalid
	StatusVersionTooNew

	// Lifecycle.
	StatusShutdown

	// Operational outcomes.
	StatusNotFound
	StatusTimeout
	StatusNodeDead
	StatusUnsupported
	StatusFlashError
)

var statusNames = map[Status]string{
	StatusSuccess:           "SUCCESS",
	StatusLeaseExists:       "LEASE_EXISTS",
	StatusBadMetaSeqno:      "BAD_META_SEQNO",
	StatusBadLtime:          "BAD_LTIME",
	StatusContainerExists:   "CONTAINER_EXISTS",
	StatusShardDoesNotExist: "SHARD_DOES_NOT_EXIST",
	StatusUpdateDuplicate:   "UPDATE_DUPLICATE",
	StatusOutOfMem:          "OUT_OF_MEM",
	StatusMetaDataInvalid:   "META_DATA_INVALID",
	StatusVersionTooNew:     "META_DATA_VERSION_TOO_NEW",
	StatusShutdown:          "SHUTDOWN",
	StatusNotFound:          "NOT_FOUND",
	StatusTimeout:           "TIMEOUT",
	StatusNodeDead:          "NODE_DEAD",
	StatusUnsupported:       "UNSUPPORTED",
	StatusFlashError:        "FLASH_ERROR",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("STATUS(%d)", int32(s))
}

func (s Status) Error() string { return s.String() }

// OK reports whether s is StatusSuccess.
func (s Status) OK() bool { return s == StatusSuccess }

// Err returns nil for success and s otherwise.
func (s Status) Err() error {
	if s == StatusSuccess {
		return nil
	}
	return s
}

// ParseStatus maps a status name back to its code.
func ParseStatus(name string) (Status, bool) {
	for s, n := range statusNames {
		if n == name {
			return s, true
		}
	}
	return 0, false
}

// StatusOf extracts the Status carried by err. Errors that carry no Status
// map to StatusFlashError.
func StatusOf(err error) Status {
	if err == nil {
		return StatusSuccess
	}
	var s Status
	if errors.As(err, &s) {
		return s
	}
	return StatusFlashError
}
