package uiloop

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestLoop_RunsInOrder(t *testing.T) {
	l := New(zaptest.NewLogger(t), 4)
	defer l.Close()

	var got []int
	for i := 0; i < 100; i++ {
		require.NoError(t, l.Post(func() { got = append(got, i) }))
	}
	require.NoError(t, l.Call(func() {}))

	want := make([]int, 100)
	for i := range want {
		want[i] = i
	}
	assert.Equal(t, want, got)
}

func TestLoop_CallWaits(t *testing.T) {
	l := New(zaptest.NewLogger(t), 0)
	defer l.Close()

	var value int
	require.NoError(t, l.Call(func() { value = 42 }))
	assert.Equal(t, 42, value)
}

func TestLoop_SingleGoroutineFromManyCallers(t *testing.T) {
	l := New(zaptest.NewLogger(t), 8)
	defer l.Close()

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, l.Call(func() { counter++ }))
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, counter)
}

func TestLoop_PanicDoesNotStopLoop(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	l := New(zap.New(core), 4)
	defer l.Close()

	require.NoError(t, l.Call(func() { panic("sink exploded") }))
	ran := false
	require.NoError(t, l.Call(func() { ran = true }))

	assert.True(t, ran)
	assert.Equal(t, 1, logs.FilterMessage("UI task panicked; loop continues.").Len())
}

func TestLoop_CloseDrainsAndRejects(t *testing.T) {
	l := New(zaptest.NewLogger(t), 16)

	ran := 0
	for i := 0; i < 10; i++ {
		require.NoError(t, l.Post(func() { ran++ }))
	}
	l.Close()
	l.Close()

	assert.Equal(t, 10, ran)
	assert.ErrorIs(t, l.Post(func() {}), ErrClosed)
	assert.ErrorIs(t, l.Call(func() {}), ErrClosed)
}
