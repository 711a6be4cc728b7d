package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestChainError_RendersCodeAndMessageOnly(t *testing.T) {
	cause := stderrors.New("disk exploded at /var/lib/node")
	err := Storage(ErrMsgStorageFailure, cause)

	require.Equal(t, `{"code":"storage_failure","message":"Storage operation failed"}`, err.Error())
	require.NotContains(t, err.Error(), "/var/lib/node")
	require.Contains(t, Detail(err), "/var/lib/node")
	require.ErrorIs(t, err, cause)
}

func TestChainError_KindAndCodeSurviveWrapping(t *testing.T) {
	inner := ReorgAbort(ErrCodeReorgDepthExceeded, ErrMsgReorgDepthExceeded, nil)
	wrapped := fmt.Errorf("handle fork: %w", inner)

	require.True(t, IsKind(wrapped, KindReorgAbort))
	require.False(t, IsKind(wrapped, KindValidation))
	require.True(t, HasCode(wrapped, ErrCodeReorgDepthExceeded))
	require.False(t, HasCode(wrapped, ErrCodeForkPointNotFound))

	ce, ok := AsChainError(wrapped)
	require.True(t, ok)
	require.Equal(t, ErrMsgReorgDepthExceeded, ce.Message)
}

func TestDetail_PlainError(t *testing.T) {
	require.Equal(t, "", Detail(nil))
	require.Equal(t, "boom", Detail(stderrors.New("boom")))
	require.Equal(t, "validation/double_vote: Validator already voted for this block",
		Detail(Validation(ErrCodeDoubleVote, ErrMsgDoubleVote)))
}
