package ringchan

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain[T any](rc *RingChannel[T]) []T {
	var out []T
	for v := range rc.C() {
		out = append(out, v)
	}
	return out
}

func TestRingChannel_OverwritesOldest(t *testing.T) {
	rc := New[int](3)
	for i := 0; i < 10; i++ {
		assert.True(t, rc.Send(i))
	}
	assert.Equal(t, 3, rc.Len())
	assert.Equal(t, 3, rc.Cap())

	rc.Close()
	assert.Equal(t, []int{7, 8, 9}, drain(rc), "MUST keep the newest elements in order")
	assert.Equal(t, Metrics{Written: 10, Overwritten: 7}, rc.Metrics())
}

func TestRingChannel_Close(t *testing.T) {
	rc := New[string](2)
	rc.Send("a")
	rc.Close()
	rc.Close()

	assert.True(t, rc.Closed())
	assert.False(t, rc.Send("b"), "Send after Close MUST be refused")
	assert.Equal(t, []string{"a"}, drain(rc), "buffered values MUST survive Close")
}

func TestRingChannel_ConcurrentSenders(t *testing.T) {
	rc := New[int](4)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				rc.Send(i)
			}
		}()
	}
	wg.Wait()
	rc.Close()

	assert.Len(t, drain(rc), 4)
	m := rc.Metrics()
	assert.Equal(t, int64(800), m.Written)
	assert.Equal(t, int64(796), m.Overwritten)
}

func TestNew_PanicsOnZeroCapacity(t *testing.T) {
	require.Panics(t, func() { New[int](0) })
}
