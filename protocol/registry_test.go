package protocol

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/ibapi-go/tws/wire"
)

func TestLookupKnownAndUnknown(t *testing.T) {
	spec, ok := Lookup(InCurrentTime)
	require.True(t, ok)
	require.Equal(t, RouteByField, spec.Mode)
	require.Equal(t, 1, spec.FieldIndex)

	_, ok = Lookup(-1)
	require.False(t, ok)
}

func TestErrorClassDualRouted(t *testing.T) {
	spec, ok := Lookup(InErrMsg)
	require.True(t, ok)
	require.Equal(t, RouteError, spec.Mode)
	require.True(t, spec.DualRouted)
}

func TestMinVersionKnownAndUnknown(t *testing.T) {
	v, ok := MinVersion(FeaturePositions)
	require.True(t, ok)
	require.Equal(t, 67, v)

	_, ok = MinVersion(Feature("not_a_real_feature"))
	require.False(t, ok)
}

func TestDecodeServerTime(t *testing.T) {
	f := wire.NewFrame("49", "9000", "1705319445")
	v, err := DecodeServerTime(f)
	require.NoError(t, err)
	require.Equal(t, int64(1705319445), v)
}

func TestDecodeServerTimeTooShort(t *testing.T) {
	_, err := DecodeServerTime(wire.NewFrame("49"))
	require.Error(t, err)
}

func TestDecodePosition(t *testing.T) {
	p, err := DecodePosition(wire.NewFrame(
		"61", "DU1234", "AAPL", "10.5",
	))
	require.NoError(t, err)
	require.Equal(t, "DU1234", p.Account)
	require.Equal(t, "AAPL", p.Symbol)
	require.Equal(t, 10.5, p.Quantity)
}
