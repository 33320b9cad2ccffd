package errors

import (
	stderrors "errors"
	"fmt"
)

// Kind groups failures by how a caller should react to them.
type Kind int

const (
	KindUnknown Kind = iota
	KindAuthorization
	KindState
	KindArithmetic
	KindExternal
)

func (k Kind) String() string {
	switch k {
	case KindAuthorization:
		return "authorization"
	case KindState:
		return "state"
	case KindArithmetic:
		return "arithmetic"
	case KindExternal:
		return "external"
	default:
		return "unknown"
	}
}

// VaultError is a sentinel failure raised by the vault core. Compare with errors.Is.
type VaultError struct {
	Kind Kind
	Code Code
	Msg  string
}

func (e *VaultError) Error() string {
	return e.Msg
}

func newVaultError(kind Kind, code Code, msg string) *VaultError {
	return &VaultError{Kind: kind, Code: code, Msg: msg}
}

var (
	ErrUnauthorized = newVaultError(KindAuthorization, CodeUnauthorized, "caller not authorized")

	ErrUnsupportedAsset            = newVaultError(KindState, CodeUnsupportedAsset, "asset not supported")
	ErrAssetExists                 = newVaultError(KindState, CodeAssetExists, "asset already supported")
	ErrTransactionNotFound         = newVaultError(KindState, CodeTransactionNotFound, "transaction not found")
	ErrTransactionAlreadyCompleted = newVaultError(KindState, CodeTransactionAlreadyComplete, "transaction already completed")
	ErrDuplicateSequence           = newVaultError(KindState, CodeDuplicateSequence, "sequence already recorded")
	ErrStrategyUnavailable         = newVaultError(KindState, CodeStrategyUnavailable, "strategy pool unavailable")
	ErrNotActive                   = newVaultError(KindState, CodeNotActive, "strategy not active")
	ErrAssetMismatch               = newVaultError(KindState, CodeAssetMismatch, "strategy asset mismatch")
	ErrHarvestTooSoon              = newVaultError(KindState, CodeHarvestTooSoon, "harvest too soon")
	ErrNoYield                     = newVaultError(KindState, CodeNoYield, "no yield to distribute")
	ErrReentrantCall               = newVaultError(KindState, CodeReentrantCall, "reentrant call")
	ErrInsufficientLiquidity       = newVaultError(KindState, CodeInsufficientLiquidity, "insufficient idle liquidity")
	ErrUnknownProtocol             = newVaultError(KindState, CodeUnknownProtocol, "unknown protocol")

	ErrZeroAmount          = newVaultError(KindArithmetic, CodeZeroAmount, "zero amount")
	ErrWeightExceeded      = newVaultError(KindArithmetic, CodeWeightExceeded, "weight exceeds 100%")
	ErrInvalidRatio        = newVaultError(KindArithmetic, CodeInvalidRatio, "ratio exceeds 100%")
	ErrInsufficientBalance = newVaultError(KindArithmetic, CodeInsufficientBalance, "insufficient balance")
	ErrInsufficientFee     = newVaultError(KindArithmetic, CodeInsufficientFee, "delivery fee not covered")
	ErrInsufficientAllow   = newVaultError(KindArithmetic, CodeInsufficientAllow, "insufficient allowance")
	ErrInvalidRate         = newVaultError(KindArithmetic, CodeInvalidRate, "exchange rate must be positive")
	ErrIndexOutOfRange     = newVaultError(KindArithmetic, CodeIndexOutOfRange, "strategy index out of range")
)

type AppError struct {
	Code Code
	Op   string
	Err  error
}

func (e *AppError) Error() string {
	return fmt.Sprintf("[%s] %s: %v", e.Code, e.Op, e.Err)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func WrapWithCode(code Code, op string, err error) error {
	if err == nil {
		return nil
	}
	return &AppError{
		Code: code,
		Op:   op,
		Err:  err,
	}
}

// KindOf classifies err. Anything that is not a VaultError is treated as an
// external failure, which is how adapter and transport errors surface.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var ve *VaultError
	if stderrors.As(err, &ve) {
		return ve.Kind
	}
	return KindExternal
}

// CodeOf returns the most specific code found in err's chain.
func CodeOf(err error) Code {
	var ve *VaultError
	if stderrors.As(err, &ve) {
		return ve.Code
	}
	var ae *AppError
	if stderrors.As(err, &ae) {
		return ae.Code
	}
	return ""
}
