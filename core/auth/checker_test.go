package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sushant-115/policytxn/core/simtime"
)

func sample(c Checker, n int) []bool {
	s := simtime.New(simtime.Logical)
	out := make([]bool, 0, n)
	for i := 0; i < n; i++ {
		if i%2 == 0 {
			out = append(out, c.LocalAuth(s))
		} else {
			out = append(out, c.Integrity(s))
		}
	}
	return out
}

func TestProbabilistic_DeterministicForSeed(t *testing.T) {
	g := Gate{SuccessRate: 0.5}
	a := sample(NewProbabilistic(7, g, g), 200)
	b := sample(NewProbabilistic(7, g, g), 200)
	require.Equal(t, a, b)

	c := sample(NewProbabilistic(8, g, g), 200)
	require.NotEqual(t, a, c)
}

func TestProbabilistic_Extremes(t *testing.T) {
	c := NewProbabilistic(1, Gate{SuccessRate: 1}, Gate{SuccessRate: 0})
	s := simtime.New(simtime.Logical)
	for i := 0; i < 100; i++ {
		require.True(t, c.LocalAuth(s))
		require.False(t, c.Integrity(s))
	}
}

func TestProbabilistic_ChargesLatency(t *testing.T) {
	c := NewProbabilistic(1,
		Gate{SuccessRate: 1, Latency: 3 * time.Millisecond},
		Gate{SuccessRate: 1, Latency: 5 * time.Millisecond})
	s := simtime.New(simtime.Logical)
	c.LocalAuth(s)
	c.Integrity(s)
	c.Integrity(s)
	require.Equal(t, 13*time.Millisecond, s.Elapsed())
}
