package mathexpr_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/RolldeoDev/Rolldeo-sub002/internal/engine/mathexpr"
)

func TestEval_Basic(t *testing.T) {
	cases := []struct {
		in   string
		want float64
	}{
		{"1+2", 3},
		{"2*3+4", 10},
		{"2+3*4", 14},
		{"(2+3)*4", 20},
		{"10/4", 2.5},
		{"-5+3", -2},
		{"2 * (3 + 1) - 4", 4},
		{"1.5*2", 3},
		{"--3", 3},
	}
	for _, tc := range cases {
		got, err := mathexpr.Eval(tc.in)
		require.NoError(t, err, "Eval(%q)", tc.in)
		assert.InDelta(t, tc.want, got, 1e-9, "Eval(%q)", tc.in)
	}
}

func TestEval_Errors(t *testing.T) {
	for _, in := range []string{"", "1+", "(1+2", "1+2)", "foo", "1/0", "2**3"} {
		_, err := mathexpr.Eval(in)
		assert.Error(t, err, "Eval(%q) must fail", in)
	}
}

// TestEval_AdditionProperty checks that a rendered "a+b" always evaluates
// to the sum, for arbitrary integer operands.
func TestEval_AdditionProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		a := rapid.IntRange(-1000, 1000).Draw(rt, "a")
		b := rapid.IntRange(0, 1000).Draw(rt, "b")
		got, err := mathexpr.Eval(fmt.Sprintf("%d+%d", a, b))
		require.NoError(rt, err)
		assert.InDelta(rt, float64(a+b), got, 1e-9)
	})
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "3", mathexpr.Format(3.0))
	assert.Equal(t, "-12", mathexpr.Format(-12.0))
	assert.Equal(t, "2.5", mathexpr.Format(2.5))
}

func TestIsNumeric(t *testing.T) {
	assert.True(t, mathexpr.IsNumeric("42"))
	assert.True(t, mathexpr.IsNumeric(" 3.5 "))
	assert.False(t, mathexpr.IsNumeric("goblin"))
	assert.False(t, mathexpr.IsNumeric(""))
}
