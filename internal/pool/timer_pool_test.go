package pool

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimerPool_GetPut(t *testing.T) {
	timer1 := GetTimer(time.Second)
	require.NotNil(t, timer1)
	PutTimer(timer1)

	begin := time.Now()
	timer2 := GetTimer(30 * time.Millisecond)
	require.NotNil(t, timer2)

	select {
	case fired := <-timer2.C:
		assert.GreaterOrEqual(t, fired.Sub(begin), 25*time.Millisecond)
	case <-time.After(time.Second):
		t.Fatal("timer2 should have fired")
	}
	PutTimer(timer2)
}

func TestTimerPool_Concurrency(t *testing.T) {
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			timer := GetTimer(5 * time.Millisecond)
			defer PutTimer(timer)
			<-timer.C
		}()
	}
	wg.Wait()
}

func TestSleep(t *testing.T) {
	begin := time.Now()
	require.NoError(t, Sleep(context.Background(), 20*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(begin), 15*time.Millisecond)

	require.NoError(t, Sleep(context.Background(), 0))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	begin = time.Now()
	err := Sleep(ctx, 5*time.Second)
	require.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(begin), time.Second)
}

func TestWaitClosed(t *testing.T) {
	ch := make(chan struct{})
	assert.False(t, WaitClosed(ch, 10*time.Millisecond))

	go func() {
		time.Sleep(5 * time.Millisecond)
		close(ch)
	}()
	assert.True(t, WaitClosed(ch, time.Second))
}
