package ir

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalWireRoundsToFiveDigits(t *testing.T) {
	got, err := MarshalWire(Number(0.123456789))
	require.NoError(t, err)
	assert.Equal(t, "0.12346", string(got))
}

func TestRoundWire(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{0.123456789, 0.12346},
		{1.000004, 1},
		{12.5, 12.5},
		{-0.000016, -0.00002},
		{7, 7},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, RoundWire(tt.in), "RoundWire(%v)", tt.in)
	}
	assert.True(t, math.IsNaN(RoundWire(math.NaN())))
}

func TestMarshalWireOmitsFalsyFields(t *testing.T) {
	obj := NewObject(
		O("keep", String("x")),
		O("zero", Number(0)),
		O("null", Null{}),
		O("absent", nil),
		O("no", Bool(false)),
		O("yes", Bool(true)),
		O("empty", String("")),
		O("list", NewArray()),
		O("map", NewObject()),
		O("nan", Number(math.NaN())),
	)

	got, err := MarshalWire(obj)
	require.NoError(t, err)
	assert.Equal(t, `{"keep":"x","yes":true,"zero":0}`, string(got))
}

func TestMarshalWireKeepsArrayPositions(t *testing.T) {
	got, err := MarshalWire(NewArray(Null{}, Bool(false), String("")))
	require.NoError(t, err)
	assert.Equal(t, `[null,false,""]`, string(got))
}

func TestMarshalWireNested(t *testing.T) {
	obj := NewObject(
		O("session", NewObject(O("route", String("/cart")), O("cpu", Number(8)))),
		O("components", NewArray(NewObject(O("totalTime", Number(3.1415926))))),
	)

	got, err := MarshalWire(obj)
	require.NoError(t, err)
	assert.Equal(t, `{"components":[{"totalTime":3.14159}],"session":{"cpu":8,"route":"/cart"}}`, string(got))
}

func TestMarshalWireRejectsOpaque(t *testing.T) {
	_, err := MarshalWire(NewObject(O("fn", Func("f"))))
	assert.Error(t, err)
}
