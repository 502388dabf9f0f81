package pool

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"idxsync/internal/errs"
)

func TestCheckoutFIFOAndRelease(t *testing.T) {
	p := New([]string{"a", "b"}, Options{Attempts: 1})
	require.Equal(t, 2, p.Size())

	g1, err := p.Checkout(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "a", g1.Value())

	g1.Release()
	g1.Release()
	assert.Equal(t, 2, p.Len(), "double release must not duplicate the handle")

	g2, err := p.Checkout(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "b", g2.Value())
	g2.Release()
}

func TestThirdCallerWaitsForRelease(t *testing.T) {
	p := New([]int{1, 2}, Options{Attempts: 200, Interval: 5 * time.Millisecond})
	ctx := context.Background()

	g1, err := p.Checkout(ctx)
	require.NoError(t, err)
	g2, err := p.Checkout(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, p.Len())

	got := make(chan int, 1)
	go func() {
		g3, err := p.Checkout(ctx)
		if err != nil {
			got <- -1
			return
		}
		defer g3.Release()
		got <- g3.Value()
	}()

	select {
	case v := <-got:
		t.Fatalf("third checkout returned early: %d", v)
	case <-time.After(30 * time.Millisecond):
	}

	g1.Release()
	select {
	case v := <-got:
		assert.Equal(t, 1, v)
	case <-time.After(2 * time.Second):
		t.Fatal("third checkout never completed")
	}
	g2.Release()
}

func TestCheckoutExhausted(t *testing.T) {
	p := New([]int{}, Options{Attempts: 3, Interval: time.Millisecond})

	start := time.Now()
	_, err := p.Checkout(context.Background())
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindConnectionExhausted))
	assert.Contains(t, err.Error(), "3 attempts")
	assert.Less(t, time.Since(start), time.Second)
}

func TestCheckoutHonorsContext(t *testing.T) {
	p := New([]int{}, Options{Attempts: 10, Interval: time.Hour})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := p.Checkout(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDoReleasesOnError(t *testing.T) {
	p := New([]int{7}, Options{Attempts: 1})
	boom := errors.New("boom")

	err := Do(context.Background(), p, func(v int) error {
		assert.Equal(t, 7, v)
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, p.Len())
}

func TestConcurrentCheckoutsNeverShareHandle(t *testing.T) {
	p := New([]int{1, 2, 3}, Options{Attempts: 1000, Interval: time.Millisecond})

	var mu sync.Mutex
	inUse := map[int]bool{}
	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := Do(context.Background(), p, func(v int) error {
				mu.Lock()
				if inUse[v] {
					mu.Unlock()
					return errors.New("handle shared")
				}
				inUse[v] = true
				mu.Unlock()

				time.Sleep(time.Millisecond)

				mu.Lock()
				inUse[v] = false
				mu.Unlock()
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 3, p.Len())
}
