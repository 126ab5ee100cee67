package amount_test

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polywager/internal/amount"
)

func TestAddOverflow(t *testing.T) {
	v, err := amount.Amount(40).Add(2)
	require.NoError(t, err)
	assert.Equal(t, amount.Amount(42), v)

	_, err = amount.Amount(math.MaxUint64).Add(1)
	assert.ErrorIs(t, err, amount.ErrOverflow)
}

func TestSubUnderflow(t *testing.T) {
	v, err := amount.Amount(10).Sub(10)
	require.NoError(t, err)
	assert.True(t, v.IsZero())

	_, err = amount.Amount(1).Sub(2)
	assert.ErrorIs(t, err, amount.ErrUnderflow)
}

func TestMul(t *testing.T) {
	v, err := amount.Amount(1 << 31).Mul(4)
	require.NoError(t, err)
	assert.Equal(t, amount.Amount(1<<33), v)

	_, err = amount.Amount(1 << 40).Mul(1 << 30)
	assert.ErrorIs(t, err, amount.ErrOverflow)
}

func TestMulDiv(t *testing.T) {
	tests := []struct {
		name    string
		a       amount.Amount
		num     uint64
		den     uint64
		want    amount.Amount
		wantErr error
	}{
		{name: "exact", a: 100, num: 100, den: 100, want: 100},
		{name: "rounds down", a: 10, num: 1, den: 3, want: 3},
		{name: "wide intermediate", a: math.MaxUint64, num: 3, den: 4, want: amount.Amount(3<<62 - 1)},
		{name: "quotient overflow", a: math.MaxUint64, num: 2, den: 1, wantErr: amount.ErrOverflow},
		{name: "zero divisor", a: 1, num: 1, den: 0, wantErr: amount.ErrDivideByZero},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.a.MulDiv(tt.num, tt.den)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestApplyBps(t *testing.T) {
	fee, err := amount.Amount(100).ApplyBps(500)
	require.NoError(t, err)
	assert.Equal(t, amount.Amount(5), fee)

	// 199 * 5% = 9.95, floored.
	fee, err = amount.Amount(199).ApplyBps(500)
	require.NoError(t, err)
	assert.Equal(t, amount.Amount(9), fee)

	fee, err = amount.Amount(123_456).ApplyBps(10_000)
	require.NoError(t, err)
	assert.Equal(t, amount.Amount(123_456), fee)
}

func TestSum(t *testing.T) {
	s, err := amount.Sum(1, 2, 3)
	require.NoError(t, err)
	assert.Equal(t, amount.Amount(6), s)

	_, err = amount.Sum(math.MaxUint64, 1)
	assert.ErrorIs(t, err, amount.ErrOverflow)
}

func TestStringAndParse(t *testing.T) {
	assert.Equal(t, "195.000000", amount.Amount(195_000_000).String())
	assert.Equal(t, "0.000001", amount.Amount(1).String())

	v, err := amount.Parse("100.5")
	require.NoError(t, err)
	assert.Equal(t, amount.Amount(100_500_000), v)

	_, err = amount.Parse("0.0000001")
	assert.ErrorIs(t, err, amount.ErrInvalidAmount)
	_, err = amount.Parse("-1")
	assert.ErrorIs(t, err, amount.ErrInvalidAmount)
	_, err = amount.Parse("abc")
	assert.ErrorIs(t, err, amount.ErrInvalidAmount)
	_, err = amount.Parse("99999999999999999999")
	assert.ErrorIs(t, err, amount.ErrOverflow)
}

func TestJSONUsesWholeUnits(t *testing.T) {
	type body struct {
		Stake amount.Amount `json:"stake"`
	}
	raw, err := json.Marshal(body{Stake: 2_500_000})
	require.NoError(t, err)
	assert.JSONEq(t, `{"stake":"2.500000"}`, string(raw))

	var out body
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, amount.Amount(2_500_000), out.Stake)
}
