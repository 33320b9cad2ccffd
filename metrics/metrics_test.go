package metrics

import (
	"errors"
	"math/big"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAndCount(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Operations.WithLabelValues("deposit", Result(nil)).Inc()
	m.Operations.WithLabelValues("deposit", Result(errors.New("x"))).Inc()
	m.Operations.WithLabelValues("deposit", "ok").Inc()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Operations.WithLabelValues("deposit", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Operations.WithLabelValues("deposit", "error")))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)

	assert.Panics(t, func() { New(reg) })
}

func TestFloat(t *testing.T) {
	assert.Equal(t, 0.0, Float(nil))
	assert.Equal(t, 1e18, Float(new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)))
}
