package adapters

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParsePrice(t *testing.T) {
	tests := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"$348.00", 348, true},
		{"CDN$ 1,299.99", 1299.99, true},
		{"$25", 25, true},
		{"Currently unavailable", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		got, ok := ParsePrice(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestParseRating(t *testing.T) {
	got, ok := ParseRating("4.5 out of 5 stars")
	assert.True(t, ok)
	assert.Equal(t, 4.5, got)

	_, ok = ParseRating("7 out of 10")
	assert.False(t, ok)

	_, ok = ParseRating("no reviews")
	assert.False(t, ok)
}

func TestParseCount(t *testing.T) {
	tests := []struct {
		in   string
		want int
		ok   bool
	}{
		{"12,345", 12345, true},
		{"(87)", 87, true},
		{"1.2K", 1200, true},
		{"3m", 3000000, true},
		{"", 0, false},
	}
	for _, tt := range tests {
		got, ok := ParseCount(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestDiscountPercent(t *testing.T) {
	p := func(v float64) *float64 { return &v }

	assert.Equal(t, 30, DiscountPercent(p(348), p(499.99)))
	assert.Equal(t, 50, DiscountPercent(p(50), p(100)))
	assert.Equal(t, 0, DiscountPercent(p(100), p(100)))
	assert.Equal(t, 0, DiscountPercent(p(120), p(100)))
	assert.Equal(t, 0, DiscountPercent(nil, p(100)))
	assert.Equal(t, 0, DiscountPercent(p(10), nil))
}
