package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMetadataTransactionTypes(t *testing.T) {
	// TransferMetadata backs both direct charge types; the tag must follow
	// the charge that produced it.
	assert.Equal(t, TxChatPayment, TransferMetadata{Type: TxChatPayment}.TransactionType())
	assert.Equal(t, TxCallPayment, TransferMetadata{Type: TxCallPayment}.TransactionType())

	assert.Equal(t, TxHoldFunds, HoldMetadata{}.TransactionType())
	assert.Equal(t, TxSettleFunds, SettlementMetadata{}.TransactionType())
	assert.Equal(t, TxRefund, RefundMetadata{}.TransactionType())
	assert.Equal(t, TxTopUp, TopUpMetadata{}.TransactionType())
	assert.Equal(t, TxWithdrawal, WithdrawalMetadata{}.TransactionType())
}

func TestTransactionStatusIsTerminal(t *testing.T) {
	assert.False(t, StatusPending.IsTerminal())
	assert.False(t, StatusHeld.IsTerminal())
	assert.True(t, StatusCompleted.IsTerminal())
	assert.True(t, StatusFailed.IsTerminal())
	assert.True(t, StatusCancelled.IsTerminal())
}
