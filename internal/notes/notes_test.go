package notes

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseChangeRate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw  string
		want ChangeRate
		ok   bool
	}{
		{raw: "low", want: RateLow, ok: true},
		{raw: " Medium ", want: RateMedium, ok: true},
		{raw: "HIGH", want: RateHigh, ok: true},
		{raw: "", ok: false},
		{raw: "extreme", ok: false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseChangeRate(tt.raw)
			if !tt.ok {
				require.ErrorIs(t, err, ErrInvalidRate)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestZeroRateIsInvalid(t *testing.T) {
	t.Parallel()
	var r ChangeRate
	assert.False(t, r.Valid())
	assert.True(t, DefaultRate.Valid())
}

func TestOracleFunc(t *testing.T) {
	t.Parallel()
	o := OracleFunc(func(_ context.Context, title, content string, rate ChangeRate) (string, string) {
		return title, content + "/" + rate.String()
	})
	title, content := o.Mutate(context.Background(), "t", "c", RateHigh)
	assert.Equal(t, "t", title)
	assert.Equal(t, "c/high", content)
}
