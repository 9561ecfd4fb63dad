package engine

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestByteCounterConcurrentAdds(t *testing.T) {
	var c ByteCounter
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				c.Add(3)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, uint64(24_000), c.Load())
}

func TestByteCounterDrain(t *testing.T) {
	var c ByteCounter
	c.Add(100)
	c.Add(-5)
	c.Add(0)
	require.Equal(t, uint64(100), c.Drain())
	require.Zero(t, c.Drain())
	c.Add(7)
	require.Equal(t, uint64(7), c.Load())
}

func TestByteCounterDrainLosesNothing(t *testing.T) {
	var c ByteCounter
	var total uint64
	stop := make(chan struct{})
	drained := make(chan uint64)
	go func() {
		var sum uint64
		for {
			select {
			case <-stop:
				drained <- sum + c.Drain()
				return
			default:
				sum += c.Drain()
			}
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 5000; j++ {
				c.Add(2)
			}
		}()
	}
	wg.Wait()
	close(stop)
	total = <-drained
	require.Equal(t, uint64(40_000), total)
}
