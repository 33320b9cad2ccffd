// Package chaintest provides in-memory stand-ins for the relayer and chain
// height source.
package chaintest

import (
	"context"
	"math/big"
	"sync"
)

type Sent struct {
	Domain   uint32
	Payload  []byte
	Fee      *big.Int
	Sequence uint64
}

// Messenger records sent payloads and hands out increasing sequence numbers.
type Messenger struct {
	mu       sync.Mutex
	fee      *big.Int
	next     uint64
	sent     []Sent
	SendErr  error
	QuoteErr error
	// Repeat, when set, is returned by every Send instead of a fresh number.
	Repeat uint64
}

func NewMessenger(fee int64) *Messenger {
	return &Messenger{fee: big.NewInt(fee)}
}

func (m *Messenger) SetFee(fee int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fee = big.NewInt(fee)
}

func (m *Messenger) QuoteDeliveryFee(context.Context, uint32, uint64) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.QuoteErr != nil {
		return nil, m.QuoteErr
	}
	return new(big.Int).Set(m.fee), nil
}

func (m *Messenger) Send(_ context.Context, domain uint32, payload []byte, fee *big.Int) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SendErr != nil {
		return 0, m.SendErr
	}
	seq := m.Repeat
	if seq == 0 {
		m.next++
		seq = m.next
	}
	m.sent = append(m.sent, Sent{Domain: domain, Payload: payload, Fee: new(big.Int).Set(fee), Sequence: seq})
	return seq, nil
}

func (m *Messenger) Sent() []Sent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Sent(nil), m.sent...)
}

// Heights is a fixed block height.
type Heights uint64

func (h Heights) BlockNumber(context.Context) (uint64, error) { return uint64(h), nil }
