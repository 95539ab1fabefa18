package db

import "errors"

var (
	// ErrTransactionConflict is returned when a second writer is requested under the fail-fast policy.
	ErrTransactionConflict = errors.New("db: another write transaction is active")
	// ErrTxClosed is returned by operations on a committed or rolled back transaction.
	ErrTxClosed = errors.New("db: transaction already finished")
	// ErrReadOnly is returned by write operations on a read transaction.
	ErrReadOnly = errors.New("db: transaction is read-only")
	// ErrCorruptSegment reports a segment whose content fails validation.
	ErrCorruptSegment = errors.New("db: corrupt segment")
	// ErrIOFailure wraps errors of the underlying storage.
	ErrIOFailure = errors.New("db: i/o failure")
	// ErrClosed is returned after the store was closed.
	ErrClosed = errors.New("db: store closed")
	// ErrKeyTooLarge is returned for keys exceeding the engine's node size limit.
	ErrKeyTooLarge = errors.New("db: key too large")
	// ErrInvalidExport is returned by Import for input that is not an export stream.
	ErrInvalidExport = errors.New("db: invalid export stream")
)
