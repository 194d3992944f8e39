package rules

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockledger/internal/shared"
)

func scenarioPolicy() Policy {
	p := DefaultPolicy(1)
	p.LowStockThreshold = 10
	p.CriticalStockThreshold = 5
	return p
}

func TestEvaluateClassifiesThresholds(t *testing.T) {
	p := scenarioPolicy()

	v, err := Evaluate(p, Check{ProductID: 1, WarehouseID: 1, Current: 0, Quantity: 100, Operation: OperationAdd})
	require.NoError(t, err)
	require.Equal(t, int64(100), v.NewStock)
	require.Empty(t, v.Warnings)

	v, err = Evaluate(p, Check{ProductID: 1, WarehouseID: 1, Current: 100, Quantity: 95, Operation: OperationDeduct})
	require.NoError(t, err)
	require.Equal(t, int64(5), v.NewStock)
	require.Len(t, v.Warnings, 1)
	require.Equal(t, WarningCritical, v.Warnings[0].Level)

	v, err = Evaluate(p, Check{ProductID: 1, WarehouseID: 1, Current: 100, Quantity: 92, Operation: OperationDeduct})
	require.NoError(t, err)
	require.Equal(t, WarningLow, v.Warnings[0].Level)
}

func TestEvaluateBlocksNegativeWhenDisallowed(t *testing.T) {
	v, err := Evaluate(scenarioPolicy(), Check{ProductID: 1, WarehouseID: 2, Current: 5, Quantity: 10, Operation: OperationDeduct})
	require.ErrorIs(t, err, shared.ErrInsufficientStock)
	require.False(t, v.Allowed)
	require.Equal(t, int64(5), v.CurrentStock)
	require.Equal(t, int64(-5), v.NewStock)
}

func TestEvaluateAllowsNegativeWithWarning(t *testing.T) {
	p := scenarioPolicy()
	p.AllowNegativeStock = true
	v, err := Evaluate(p, Check{ProductID: 1, WarehouseID: 2, Current: 5, Quantity: 10, Operation: OperationDeduct})
	require.NoError(t, err)
	require.True(t, v.Allowed)
	require.Equal(t, int64(-5), v.NewStock)
	require.Equal(t, WarningNegative, v.Warnings[0].Level)
}

func TestEvaluateWithoutThresholdsHasNoWarnings(t *testing.T) {
	p := DefaultPolicy(1)
	p.LowStockThreshold = 0
	p.CriticalStockThreshold = 0
	v, err := Evaluate(p, Check{Current: 3, Quantity: 2, Operation: OperationDeduct})
	require.NoError(t, err)
	require.Empty(t, v.Warnings)

	p = scenarioPolicy()
	p.EnableLowStockAlert = false
	v, err = Evaluate(p, Check{Current: 3, Quantity: 2, Operation: OperationDeduct})
	require.NoError(t, err)
	require.Empty(t, v.Warnings)
}

func TestEvaluateRejectsMalformedInput(t *testing.T) {
	_, err := Evaluate(scenarioPolicy(), Check{Quantity: 0, Operation: OperationAdd})
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = Evaluate(scenarioPolicy(), Check{Quantity: 1, Operation: "move"})
	require.ErrorIs(t, err, shared.ErrValidation)
}
