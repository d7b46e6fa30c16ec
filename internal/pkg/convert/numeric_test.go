package convert

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFloat64(t *testing.T) {
	cases := []struct {
		name string
		in   any
		want float64
		ok   bool
	}{
		{"float64", 1.5, 1.5, true},
		{"int", 42, 42, true},
		{"numeric string", " 25 ", 25, true},
		{"json number", json.Number("0.187"), 0.187, true},
		{"garbage string", "not-a-number", 0, false},
		{"nil", nil, 0, false},
		{"bool", true, 0, false},
		{"NaN", math.NaN(), 0, false},
		{"Inf", math.Inf(1), 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := Float64(tc.in)
			assert.Equal(t, tc.ok, ok)
			if tc.ok {
				assert.Equal(t, tc.want, got)
			}
		})
	}
}

func TestBool(t *testing.T) {
	got, ok := Bool(true)
	assert.True(t, ok)
	assert.True(t, got)

	got, ok = Bool("false")
	assert.True(t, ok)
	assert.False(t, got)

	_, ok = Bool("maybe")
	assert.False(t, ok)

	_, ok = Bool(1.0)
	assert.False(t, ok)
}
