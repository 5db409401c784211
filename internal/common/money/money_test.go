package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestRound(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"1.005", "1.01"},
		{"1.004", "1"},
		{"2.675", "2.68"},
		{"-1.005", "-1.01"},
		{"-2.345", "-2.35"},
		{"0.125", "0.13"},
		{"100", "100"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := Round(MustParse(tt.in))
			assert.True(t, MustParse(tt.want).Equal(got), "got %s", got)
		})
	}
}

func TestPercent(t *testing.T) {
	assert.True(t, MustParse("100").Equal(Percent(MustParse("1000"), MustParse("10"))))
	assert.True(t, MustParse("0.03").Equal(Percent(MustParse("1"), MustParse("2.5"))))
	// 1.5% of 33.33 = 0.49995 -> 0.50
	assert.True(t, MustParse("0.5").Equal(Percent(MustParse("33.33"), MustParse("1.5"))))
}

func TestClamp(t *testing.T) {
	two := Bound(MustParse("2"))
	fiveHundred := Bound(MustParse("500"))

	t.Run("区间内不变", func(t *testing.T) {
		assert.True(t, MustParse("100").Equal(Clamp(MustParse("100"), two, fiveHundred)))
	})
	t.Run("低于下限取下限", func(t *testing.T) {
		assert.True(t, MustParse("2").Equal(Clamp(MustParse("0.5"), two, fiveHundred)))
	})
	t.Run("高于上限取上限", func(t *testing.T) {
		assert.True(t, MustParse("500").Equal(Clamp(MustParse("800"), two, fiveHundred)))
	})
	t.Run("未设置边界不限制", func(t *testing.T) {
		assert.True(t, MustParse("9999").Equal(Clamp(MustParse("9999"), Unbounded(), Unbounded())))
		assert.True(t, MustParse("0.01").Equal(Clamp(MustParse("0.01"), Unbounded(), fiveHundred)))
	})
}

func TestIsPositive(t *testing.T) {
	assert.True(t, IsPositive(MustParse("0.01")))
	assert.False(t, IsPositive(decimal.Zero))
	assert.False(t, IsPositive(MustParse("-1")))
}
