package money_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yummspb13/kiddeo22-sub010/internal/money"
)

func TestParseMajor(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{in: "1500.00", want: 150000},
		{in: "1500", want: 150000},
		{in: "1500.5", want: 150050},
		{in: "0.01", want: 1},
		{in: "0.00", want: 0},
		{in: "", wantErr: true},
		{in: "1500.", wantErr: true},
		{in: "1500.000", wantErr: true},
		{in: "-10.00", wantErr: true},
		{in: "+10.00", wantErr: true},
		{in: "10.-1", wantErr: true},
		{in: "abc", wantErr: true},
		{in: "15,00", wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			got, err := money.ParseMajor(tc.in)
			if tc.wantErr {
				require.ErrorIs(t, err, money.ErrMalformedAmount)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestFormatMinor(t *testing.T) {
	assert.Equal(t, "1500.00", money.FormatMinor(150000))
	assert.Equal(t, "0.05", money.FormatMinor(5))
	assert.Equal(t, "0.00", money.FormatMinor(0))
	assert.Equal(t, "-12.34", money.FormatMinor(-1234))
}

func TestRoundTrip(t *testing.T) {
	for _, minor := range []int64{0, 1, 99, 100, 150000, 999999999} {
		got, err := money.ParseMajor(money.FormatMinor(minor))
		require.NoError(t, err)
		assert.Equal(t, minor, got)
	}
}
