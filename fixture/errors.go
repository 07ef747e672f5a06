package fixture

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"

	mssql "github.com/denisenkom/go-mssqldb"
)

// Kind classifies why a fixture operation failed
type Kind int

const (
	// KindConnection covers network and transport failures. These are retried while connecting.
	KindConnection Kind = iota + 1
	// KindConflict covers privilege and schema conflicts, usually a pre-existing environment.
	KindConflict
	// KindData covers failures writing rows, usually a generator or schema bug.
	KindData
)

func (k Kind) String() string {
	switch k {
	case KindConnection:
		return "connection failure"
	case KindConflict:
		return "schema or privilege conflict"
	case KindData:
		return "data error"
	default:
		return "unknown failure"
	}
}

// Error is returned by every fixture operation
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// SQL Server error numbers that indicate the environment is not in the expected state
var conflictNumbers = map[int32]bool{
	208:   true, // invalid object name
	229:   true, // permission denied on object
	262:   true, // permission denied in database
	1801:  true, // database already exists
	2714:  true, // object already exists
	3702:  true, // database in use
	4060:  true, // cannot open database
	15023: true, // user already exists
	15025: true, // server principal already exists
	15151: true, // principal does not exist or no permission
	15247: true, // no permission to perform action
	18456: true, // login failed
}

// Transient SQL Server / Azure SQL error numbers
var transientNumbers = map[int32]bool{
	40197: true,
	40501: true,
	40613: true,
	49918: true,
	49919: true,
	49920: true,
}

// Classify decides the Kind of err. Errors that are not recognised are data errors.
func Classify(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}

	if number, ok := sqlErrorNumber(err); ok {
		switch {
		case transientNumbers[number]:
			return KindConnection
		case conflictNumbers[number]:
			return KindConflict
		default:
			return KindData
		}
	}

	var netErr net.Error
	switch {
	case errors.Is(err, driver.ErrBadConn),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &netErr):
		return KindConnection
	}

	msg := strings.ToLower(err.Error())
	for _, fragment := range []string{"connection refused", "i/o timeout", "no such host", "connection reset", "unable to open tcp connection"} {
		if strings.Contains(msg, fragment) {
			return KindConnection
		}
	}

	return KindData
}

// IsRetryable reports whether err is worth another connection attempt
func IsRetryable(err error) bool {
	return err != nil && !errors.Is(err, context.Canceled) && Classify(err) == KindConnection
}

// wrap tags err with op and its classification. Errors already tagged are returned unchanged.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		return err
	}
	return &Error{Kind: Classify(err), Op: op, Err: err}
}

// wrapAs tags err with op and an explicit kind
func wrapAs(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

func sqlErrorNumber(err error) (int32, bool) {
	var msErr mssql.Error
	if errors.As(err, &msErr) {
		return msErr.Number, true
	}
	var msErrPtr *mssql.Error
	if errors.As(err, &msErrPtr) && msErrPtr != nil {
		return msErrPtr.Number, true
	}
	return 0, false
}
