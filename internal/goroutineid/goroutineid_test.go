package goroutineid

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	for _, tc := range []struct {
		name  string
		stack string
		want  int64
	}{
		{"header", "goroutine 123 [running]:\n", 123},
		{"no trailing status", "goroutine 7", 7},
		{"wrong prefix", "something else\n", 0},
		{"empty", "", 0},
		{"prefix only", "goroutine ", 0},
	} {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, parse([]byte(tc.stack)))
		})
	}
}

func TestGet(t *testing.T) {
	id := Get()
	require.Greater(t, id, int64(0))
	require.Equal(t, id, Get())

	other := make(chan int64)
	go func() { other <- Get() }()
	require.NotEqual(t, id, <-other)
}
