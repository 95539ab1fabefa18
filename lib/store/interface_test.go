package store

import (
	"errors"
	"fmt"
	"testing"

	"github.com/ValentinKolb/sKV/lib/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromDBErrorCodes(t *testing.T) {
	testCases := []struct {
		err  error
		code RetCode
	}{
		{db.ErrTransactionConflict, RetCConflict},
		{db.ErrReadOnly, RetCReadOnly},
		{db.ErrTxClosed, RetCTxClosed},
		{fmt.Errorf("%w: 9000 bytes, limit is 1024", db.ErrKeyTooLarge), RetCKeyTooLarge},
		{fmt.Errorf("read segment 3: %w", db.ErrCorruptSegment), RetCCorruption},
		{fmt.Errorf("%w: sync segment 3: disk full", db.ErrIOFailure), RetCIOFailure},
		{db.ErrClosed, RetCClosed},
		{errors.New("something else"), RetCInternalError},
	}

	for _, tc := range testCases {
		t.Run(tc.code.String(), func(t *testing.T) {
			err := FromDBError(tc.err)

			var storeErr *Error
			require.True(t, errors.As(err, &storeErr))
			assert.Equal(t, tc.code, storeErr.Code)
			assert.Equal(t, tc.err.Error(), storeErr.Msg)
			// the original error stays in the chain
			assert.ErrorIs(t, err, tc.err)

			// an error rebuilt from code and message (as the RPC client does) still
			// matches the db sentinel
			remote := NewError(storeErr.Code, storeErr.Msg)
			if storeErr.Code != RetCInternalError {
				assert.True(t, errors.Is(err, errors.Unwrap(remote)))
			} else {
				assert.Nil(t, errors.Unwrap(remote))
			}
		})
	}
}

func TestRemoteErrorIdentity(t *testing.T) {
	assert.ErrorIs(t, NewError(RetCReadOnly, "x"), db.ErrReadOnly)
	assert.ErrorIs(t, NewError(RetCTxClosed, "x"), db.ErrTxClosed)
	assert.ErrorIs(t, NewError(RetCKeyTooLarge, "x"), db.ErrKeyTooLarge)
	assert.ErrorIs(t, NewError(RetCIOFailure, "x"), db.ErrIOFailure)
	assert.NotErrorIs(t, NewError(RetCTxNotFound, "x"), db.ErrTxClosed)
}

func TestFromDBErrorKeepsStoreErrors(t *testing.T) {
	orig := NewError(RetCTxNotFound, "unknown transaction 7")
	assert.Same(t, orig, FromDBError(fmt.Errorf("commit: %w", orig)))
	assert.NoError(t, FromDBError(nil))
}
