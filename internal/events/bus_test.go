package events

import (
	"bytes"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_SubscribeEmit(t *testing.T) {
	bus := NewBus()

	var got []*Event
	unsubscribe := bus.Subscribe(OptimizationCompleted, func(e *Event) {
		got = append(got, e)
	})
	bus.Subscribe(OptimizationFailed, func(*Event) {
		t.Fatal("wrong type delivered")
	})

	bus.Emit(OptimizationCompleted, "portfolio", &OptimizationCompletedData{RunID: "r1", Success: true})
	require.Len(t, got, 1)
	assert.Equal(t, OptimizationCompleted, got[0].Type)
	assert.Equal(t, "portfolio", got[0].Module)
	assert.Equal(t, "r1", got[0].Data.(*OptimizationCompletedData).RunID)
	assert.False(t, got[0].Timestamp.IsZero())

	unsubscribe()
	unsubscribe()
	bus.Emit(OptimizationCompleted, "portfolio", &OptimizationCompletedData{RunID: "r2"})
	assert.Len(t, got, 1)
	assert.Equal(t, 0, bus.SubscriberCount(OptimizationCompleted))
}

func TestBus_UnsubscribeKeepsOthers(t *testing.T) {
	bus := NewBus()
	var a, b int
	unsubA := bus.Subscribe(CacheCleaned, func(*Event) { a++ })
	bus.Subscribe(CacheCleaned, func(*Event) { b++ })

	unsubA()
	bus.Emit(CacheCleaned, "scheduler", &CacheCleanedData{Deleted: 3})
	assert.Equal(t, 0, a)
	assert.Equal(t, 1, b)
}

func TestBus_Concurrent(t *testing.T) {
	bus := NewBus()
	var mu sync.Mutex
	count := 0
	bus.Subscribe(BetasEstimated, func(*Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unsub := bus.Subscribe(BetasEstimated, func(*Event) {})
			bus.Emit(BetasEstimated, "betas", &BetasEstimatedData{Assets: 1})
			unsub()
		}()
	}
	wg.Wait()
	assert.Equal(t, 20, count)
}

func TestManager_EmitLogs(t *testing.T) {
	var buf bytes.Buffer
	bus := NewBus()
	m := NewManager(bus, zerolog.New(&buf))

	var received *Event
	bus.Subscribe(ErrorOccurred, func(e *Event) { received = e })

	m.EmitError("server", errors.New("boom"), map[string]interface{}{"path": "/x"})
	require.NotNil(t, received)
	assert.Equal(t, "boom", received.Data.(*ErrorEventData).Error)
	assert.Contains(t, buf.String(), `"event_type":"ERROR_OCCURRED"`)
	assert.Contains(t, buf.String(), `"error":"boom"`)
	assert.Same(t, bus, m.Bus())
}
