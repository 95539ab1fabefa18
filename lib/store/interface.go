package store

import (
	"errors"
	"fmt"

	"github.com/ValentinKolb/sKV/lib/db"
)

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// AutoCommit can be passed as transaction id to run a single operation in its own
// transaction. Reads use a fresh read transaction, writes commit immediately.
const AutoCommit uint64 = 0

// KeyValue is one entry returned by Scan.
type KeyValue struct {
	Key   []byte `json:"key"`
	Value []byte `json:"value"`
}

// IStore exposes the transactional key-value store through numeric transaction handles,
// which makes it usable across process boundaries (see the rpc packages).
// All methods return a *Error (nil on success) as error value.
//
// A handle returned by Begin stays valid until Commit or Rollback is called with it, or
// until the implementation drops it (e.g. an idle timeout). Operations on an unknown
// handle fail with RetCTxNotFound.
type IStore interface {
	// Begin opens a transaction and returns its handle. At most one writable
	// transaction exists at a time.
	Begin(writable bool) (txID uint64, err error)
	// Get returns the value for key as seen by the transaction.
	Get(txID uint64, key []byte) (value []byte, found bool, err error)
	// Set inserts or replaces a key-value pair.
	Set(txID uint64, key, value []byte) (err error)
	// Delete removes a key and reports whether it existed.
	Delete(txID uint64, key []byte) (existed bool, err error)
	// Scan returns up to limit entries starting at start in the given direction.
	// A nil start begins at the first (or, backwards, the last) key. A limit <= 0 means no limit.
	Scan(txID uint64, start []byte, backward bool, limit int) (pairs []KeyValue, err error)
	// Commit makes the transaction's changes durable and releases the handle.
	Commit(txID uint64) (err error)
	// Rollback discards the transaction and releases the handle.
	Rollback(txID uint64) (err error)
	// Compact runs one compaction pass and reports whether more work remains. With full
	// set, every segment is rewritten in one call and moreWork is always false.
	Compact(full bool) (moreWork bool, err error)
	// Stats returns the storage report of the underlying database.
	Stats() (stats db.Stats, err error)
	// Close rolls back open transactions and releases the store.
	Close() (err error)
}

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error is a custom error type that wraps a return code (of type RetCode)
// and an error message.
type Error struct {
	Code RetCode // The return code
	Msg  string  // The error message.

	cause error // original error, only set in the process that created the Error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("KVStoreError (code %s): %s", e.Code, e.Msg)
}

// RetCode returns the numeric return code.
func (e *Error) RetCode() uint64 {
	return uint64(e.Code)
}

// Message returns the message without the code prefix.
func (e *Error) Message() string {
	return e.Msg
}

// Unwrap returns the original error if the Error was created locally. Errors received
// over RPC carry no cause, their return code is mapped back to the matching db error, so
// that errors.Is(err, db.ErrReadOnly) holds on both sides.
func (e *Error) Unwrap() error {
	if e.cause != nil {
		return e.cause
	}
	switch e.Code {
	case RetCConflict:
		return db.ErrTransactionConflict
	case RetCCorruption:
		return db.ErrCorruptSegment
	case RetCClosed:
		return db.ErrClosed
	case RetCReadOnly:
		return db.ErrReadOnly
	case RetCTxClosed:
		return db.ErrTxClosed
	case RetCKeyTooLarge:
		return db.ErrKeyTooLarge
	case RetCIOFailure:
		return db.ErrIOFailure
	default:
		return nil
	}
}

// NewError creates a new KVStoreError with the given code and message.
func NewError(code RetCode, msg string) *Error {
	return &Error{
		Code: code,
		Msg:  msg,
	}
}

// FromDBError converts an error of the db layer into a *Error with a matching code.
// A nil input yields a nil error.
func FromDBError(err error) error {
	if err == nil {
		return nil
	}
	var storeErr *Error
	if errors.As(err, &storeErr) {
		return storeErr
	}

	code := RetCInternalError
	switch {
	case errors.Is(err, db.ErrTransactionConflict):
		code = RetCConflict
	case errors.Is(err, db.ErrReadOnly):
		code = RetCReadOnly
	case errors.Is(err, db.ErrTxClosed):
		code = RetCTxClosed
	case errors.Is(err, db.ErrKeyTooLarge):
		code = RetCKeyTooLarge
	case errors.Is(err, db.ErrCorruptSegment):
		code = RetCCorruption
	case errors.Is(err, db.ErrIOFailure):
		code = RetCIOFailure
	case errors.Is(err, db.ErrClosed):
		code = RetCClosed
	}
	return &Error{Code: code, Msg: err.Error(), cause: err}
}

// --------------------------------------------------------------------------
// Return Codes
// --------------------------------------------------------------------------

type RetCode uint64

const (
	RetCSuccess              RetCode = iota // 0: Command executed successfully.
	RetCInternalError                       // 1: Command failed due to an internal error.
	RetCUnsupportedOperation                // 2: Operation is not supported by underlying database.
	RetCInvalidOperation                    // 3: Invalid operation.
	RetCConflict                            // 4: Another write transaction is active.
	RetCTxNotFound                          // 5: Unknown or expired transaction handle.
	RetCCorruption                          // 6: Stored data failed validation.
	RetCClosed                              // 7: The store was closed.
	RetCReadOnly                            // 8: Write in a read-only transaction.
	RetCTxClosed                            // 9: Transaction already finished.
	RetCKeyTooLarge                         // 10: Key exceeds the node size limit.
	RetCIOFailure                           // 11: The storage failed.
)

func (c RetCode) String() string {
	switch c {
	case RetCSuccess:
		return "Success"
	case RetCInternalError:
		return "InternalError"
	case RetCUnsupportedOperation:
		return "UnsupportedOperation"
	case RetCInvalidOperation:
		return "InvalidOperation"
	case RetCConflict:
		return "Conflict"
	case RetCTxNotFound:
		return "TxNotFound"
	case RetCCorruption:
		return "Corruption"
	case RetCClosed:
		return "Closed"
	case RetCReadOnly:
		return "ReadOnly"
	case RetCTxClosed:
		return "TxClosed"
	case RetCKeyTooLarge:
		return "KeyTooLarge"
	case RetCIOFailure:
		return "IOFailure"
	default:
		return "Unknown"
	}
}
