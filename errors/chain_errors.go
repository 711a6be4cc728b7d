package errors

import (
	stderrors "errors"
	"fmt"

	"github.com/mezonai/mmnchain/jsonx"
)

// ErrorKind is the coarse class of a chain failure; it decides how a caller reacts.
type ErrorKind string

const (
	// KindConfiguration is fatal at construction time.
	KindConfiguration ErrorKind = "configuration"
	// KindValidation is a rejected input; never crashes the process.
	KindValidation ErrorKind = "validation"
	// KindStorage is a disk or database failure surfaced to the caller.
	KindStorage ErrorKind = "storage"
	// KindReorgAbort means the whole reorganization was abandoned.
	KindReorgAbort ErrorKind = "reorg_abort"
)

// ErrorCode is a stable machine-readable reason.
type ErrorCode string

const (
	// Configuration
	ErrCodeInvalidConfig     ErrorCode = "invalid_config"
	ErrCodeEmptyValidatorSet ErrorCode = "empty_validator_set"
	ErrCodeInvalidThreshold  ErrorCode = "invalid_threshold"

	// Validation
	ErrCodeUnknownValidator  ErrorCode = "unknown_validator"
	ErrCodeInvalidSignature  ErrorCode = "invalid_signature"
	ErrCodeDoubleVote        ErrorCode = "double_vote"
	ErrCodeDoubleSign        ErrorCode = "double_sign"
	ErrCodeStaleVote         ErrorCode = "stale_vote"
	ErrCodeInvalidBlock      ErrorCode = "invalid_block"
	ErrCodeNotContiguous     ErrorCode = "not_contiguous"
	ErrCodeInvalidPoW        ErrorCode = "invalid_pow"
	ErrCodeInvalidMerkleRoot ErrorCode = "invalid_merkle_root"
	ErrCodeInvalidTx         ErrorCode = "invalid_transaction"
	ErrCodeMissingOutput     ErrorCode = "missing_output"
	ErrCodeDuplicateTx       ErrorCode = "duplicate_transaction"
	ErrCodeMempoolFull       ErrorCode = "mempool_full"

	// Storage
	ErrCodeStorageFailure ErrorCode = "storage_failure"

	// Reorg
	ErrCodeForkPointNotFound    ErrorCode = "fork_point_not_found"
	ErrCodeReorgDepthExceeded   ErrorCode = "reorg_depth_exceeded"
	ErrCodeReorgCrossesFinality ErrorCode = "reorg_crosses_finality"
	ErrCodeCandidateInvalid     ErrorCode = "candidate_invalid"
	ErrCodeBlockLoadFailed      ErrorCode = "block_load_failed"
	ErrCodeApplyFailed          ErrorCode = "apply_failed"
	ErrCodeRollbackFailed       ErrorCode = "rollback_failed"
	ErrCodeCompensationFailed   ErrorCode = "reorg_compensation_failed"
	ErrCodeReorgAlreadyInFlight ErrorCode = "reorg_in_progress"
)

// Error message constants - user-facing and concise
const (
	ErrMsgInvalidConfig        = "Chain configuration is invalid"
	ErrMsgEmptyValidatorSet    = "Validator set must not be empty"
	ErrMsgInvalidThreshold     = "Finality threshold must be in (0, 1]"
	ErrMsgUnknownValidator     = "Vote is from an unknown validator"
	ErrMsgInvalidSignature     = "Signature is invalid"
	ErrMsgDoubleVote           = "Validator already voted for this block"
	ErrMsgDoubleSign           = "Validator signed a conflicting block at the same height"
	ErrMsgStaleVote            = "Vote is for a height too far below finality"
	ErrMsgInvalidBlock         = "Block is invalid"
	ErrMsgNotContiguous        = "Block does not extend the chain"
	ErrMsgInvalidPoW           = "Block hash does not satisfy its difficulty"
	ErrMsgInvalidMerkleRoot    = "Merkle root does not match transactions"
	ErrMsgInvalidTx            = "Transaction is invalid"
	ErrMsgMissingOutput        = "Referenced output is not unspent"
	ErrMsgDuplicateTx          = "This transaction already exists"
	ErrMsgMempoolFull          = "Mempool is full"
	ErrMsgStorageFailure       = "Storage operation failed"
	ErrMsgForkPointNotFound    = "Candidate chain shares no block with the current chain"
	ErrMsgReorgDepthExceeded   = "Reorg depth exceeds maximum"
	ErrMsgReorgCrossesFinality = "Reorg would roll back a finalized block"
	ErrMsgCandidateInvalid     = "Candidate chain failed validation"
	ErrMsgBlockLoadFailed      = "Block body could not be loaded"
	ErrMsgApplyFailed          = "Block could not be applied"
	ErrMsgRollbackFailed       = "Block could not be rolled back"
	ErrMsgCompensationFailed   = "Reorg failed and chain state could not be restored; operator attention required"
	ErrMsgReorgAlreadyInFlight = "A previous reorganization did not complete"
)

// ChainError carries the taxonomy of a chain state machine failure.
type ChainError struct {
	Kind    ErrorKind `json:"kind"`
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
}

// Error implements the error interface. The wrapped cause is not rendered so
// internal details never reach API consumers; use Unwrap or Detail for logs.
func (e *ChainError) Error() string {
	out, _ := jsonx.Marshal(struct {
		Code    ErrorCode `json:"code"`
		Message string    `json:"message"`
	}{
		Code:    e.Code,
		Message: e.Message,
	})
	return string(out)
}

func (e *ChainError) Unwrap() error {
	return e.Err
}

// Detail renders the error including its cause, for logs only.
func (e *ChainError) Detail() string {
	if e.Err == nil {
		return fmt.Sprintf("%s/%s: %s", e.Kind, e.Code, e.Message)
	}
	return fmt.Sprintf("%s/%s: %s: %v", e.Kind, e.Code, e.Message, e.Err)
}

// NewError creates a new ChainError and returns it as error interface
func NewError(kind ErrorKind, code ErrorCode, message string) error {
	return &ChainError{Kind: kind, Code: code, Message: message}
}

// Wrap attaches a cause to a new ChainError.
func Wrap(kind ErrorKind, code ErrorCode, message string, cause error) error {
	return &ChainError{Kind: kind, Code: code, Message: message, Err: cause}
}

func Validation(code ErrorCode, message string) error {
	return NewError(KindValidation, code, message)
}

func Configuration(code ErrorCode, message string) error {
	return NewError(KindConfiguration, code, message)
}

func Storage(message string, cause error) error {
	return Wrap(KindStorage, ErrCodeStorageFailure, message, cause)
}

func ReorgAbort(code ErrorCode, message string, cause error) error {
	return Wrap(KindReorgAbort, code, message, cause)
}

// AsChainError finds the first ChainError in err's chain.
func AsChainError(err error) (*ChainError, bool) {
	var ce *ChainError
	if stderrors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// IsKind reports whether err (or anything it wraps) is a ChainError of kind.
func IsKind(err error, kind ErrorKind) bool {
	ce, ok := AsChainError(err)
	return ok && ce.Kind == kind
}

// HasCode reports whether err (or anything it wraps) carries code.
func HasCode(err error, code ErrorCode) bool {
	ce, ok := AsChainError(err)
	return ok && ce.Code == code
}

// Detail returns the log rendering of any error.
func Detail(err error) string {
	if ce, ok := AsChainError(err); ok {
		return ce.Detail()
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
