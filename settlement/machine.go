// Package settlement tracks asynchronous cross-chain operations from issuance
// to their single terminal confirmation, and provides the strategy adapter
// for venues that only settle through such operations.
package settlement

import (
	"sync"
	"time"

	"github.com/linlinbupt123-crypto/vault_service/entity"
	wrapErrors "github.com/linlinbupt123-crypto/vault_service/errors"
)

// Machine is the append-only register of pending transactions. A record moves
// Issued -> ConfirmedSuccess or Issued -> ConfirmedFailure exactly once;
// confirmations may arrive in any order.
type Machine struct {
	mu    sync.Mutex
	txs   map[uint64]*entity.PendingTransaction
	order []uint64
	last  uint64
}

func NewMachine() *Machine {
	return &Machine{txs: make(map[uint64]*entity.PendingTransaction)}
}

// Record registers a newly issued transaction under its relayer sequence.
func (m *Machine) Record(tx entity.PendingTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.txs[tx.Sequence]; ok {
		return wrapErrors.ErrDuplicateSequence
	}
	m.put(tx)
	return nil
}

// Assign registers tx under its sequence, or under the next key above every
// recorded one when that sequence is taken. It returns the key used.
func (m *Machine) Assign(tx entity.PendingTransaction) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.txs[tx.Sequence]; ok {
		tx.Sequence = m.last + 1
	}
	m.put(tx)
	return tx.Sequence
}

func (m *Machine) put(tx entity.PendingTransaction) {
	rec := tx.Clone()
	rec.State = entity.StateIssued
	rec.ResolvedAt = time.Time{}
	m.txs[tx.Sequence] = &rec
	m.order = append(m.order, tx.Sequence)
	if tx.Sequence > m.last {
		m.last = tx.Sequence
	}
}

// Pending returns the record for seq if it exists and is still unresolved.
func (m *Machine) Pending(seq uint64) (entity.PendingTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.txs[seq]
	if !ok {
		return entity.PendingTransaction{}, wrapErrors.ErrTransactionNotFound
	}
	if tx.Completed() {
		return entity.PendingTransaction{}, wrapErrors.ErrTransactionAlreadyCompleted
	}
	return tx.Clone(), nil
}

// Resolve moves seq to its terminal state.
func (m *Machine) Resolve(seq uint64, success bool, at time.Time) (entity.PendingTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.txs[seq]
	if !ok {
		return entity.PendingTransaction{}, wrapErrors.ErrTransactionNotFound
	}
	if tx.Completed() {
		return entity.PendingTransaction{}, wrapErrors.ErrTransactionAlreadyCompleted
	}
	if success {
		tx.State = entity.StateConfirmedSuccess
	} else {
		tx.State = entity.StateConfirmedFailure
	}
	tx.ResolvedAt = at
	return tx.Clone(), nil
}

func (m *Machine) Get(seq uint64) (entity.PendingTransaction, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.txs[seq]
	if !ok {
		return entity.PendingTransaction{}, false
	}
	return tx.Clone(), true
}

// Outstanding lists unresolved transactions in issuance order.
func (m *Machine) Outstanding() []entity.PendingTransaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []entity.PendingTransaction
	for _, seq := range m.order {
		if tx := m.txs[seq]; !tx.Completed() {
			out = append(out, tx.Clone())
		}
	}
	return out
}

// History lists every transaction ever recorded, in issuance order.
func (m *Machine) History() []entity.PendingTransaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]entity.PendingTransaction, 0, len(m.order))
	for _, seq := range m.order {
		out = append(out, m.txs[seq].Clone())
	}
	return out
}
