// Package oracle provides exchange-rate sources for remote venues.
package oracle

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	wrapErrors "github.com/linlinbupt123-crypto/vault_service/errors"
)

// Static serves rates pushed in by an operator or a price feed poller.
type Static struct {
	mu    sync.RWMutex
	rates map[string]decimal.Decimal
}

func NewStatic() *Static {
	return &Static{rates: make(map[string]decimal.Decimal)}
}

func (s *Static) Set(protocolID string, rate decimal.Decimal) error {
	if !rate.IsPositive() {
		return wrapErrors.ErrInvalidRate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rates[protocolID] = rate
	return nil
}

func (s *Static) ExchangeRate(_ context.Context, protocolID string) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rate, ok := s.rates[protocolID]
	if !ok {
		return decimal.Zero, wrapErrors.WrapWithCode(wrapErrors.CodeOracle, "exchange rate", fmt.Errorf("no rate for %q", protocolID))
	}
	return rate, nil
}
