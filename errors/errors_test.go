package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindAuthorization, KindOf(ErrUnauthorized))
	assert.Equal(t, KindState, KindOf(fmt.Errorf("confirm: %w", ErrTransactionAlreadyCompleted)))
	assert.Equal(t, KindArithmetic, KindOf(ErrZeroAmount))
	assert.Equal(t, KindExternal, KindOf(stderrors.New("venue paused")))
	assert.Equal(t, KindUnknown, KindOf(nil))
}

func TestWrapWithCode(t *testing.T) {
	assert.NoError(t, WrapWithCode(SendTxErr, "send", nil))

	cause := stderrors.New("nonce too low")
	err := WrapWithCode(SendTxErr, "SendTransaction", cause)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, SendTxErr, CodeOf(err))
	assert.Equal(t, "[SEND_TX_ERROR] SendTransaction: nonce too low", err.Error())
}

func TestCodeOfPrefersVaultError(t *testing.T) {
	err := WrapWithCode(CodeCustody, "pull", ErrInsufficientBalance)
	assert.Equal(t, CodeInsufficientBalance, CodeOf(err))
	assert.Equal(t, KindArithmetic, KindOf(err))
}
