package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotAndReset(t *testing.T) {
	t.Parallel()
	m := New()

	m.IncDispatched()
	m.IncDispatched()
	m.IncCompleted()
	m.IncFailed()
	m.IncRetried()
	m.IncDeadLettered()
	m.IncRateLimited()
	m.SetQueueDepth(4)
	m.SetTrackedTasks(9)
	m.ObserveModel(2, 1500*time.Millisecond, 10, 5, 15)
	m.ObserveModel(0, time.Second, 1, 1, 2)

	assert.Equal(t, Snapshot{
		Dispatched: 2, Completed: 1, Failed: 1, Retried: 1, DeadLettered: 1, RateLimited: 1,
		QueueDepth: 4, TrackedTasks: 9,
		ModelCalls: 2, PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15,
	}, m.Snapshot())

	m.Reset()
	assert.Equal(t, Snapshot{}, m.Snapshot())
}

func TestConcurrentIncrements(t *testing.T) {
	t.Parallel()
	m := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.IncDispatched()
			m.ObserveModel(1, time.Millisecond, 1, 1, 2)
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(50), m.Snapshot().Dispatched)
	assert.Equal(t, int64(100), m.Snapshot().TotalTokens)
}

func TestHandlerExposition(t *testing.T) {
	t.Parallel()
	m := New()
	m.IncDeadLettered()
	m.SetQueueDepth(3)
	m.ObserveModel(1, 2*time.Second, 4, 6, 10)
	m.Reset()
	m.SetQueueDepth(3)
	m.ObserveModel(1, 2*time.Second, 4, 6, 10)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	text := string(body)
	assert.Contains(t, text, "orchestrator_queue_depth 3")
	assert.Contains(t, text, "orchestrator_tasks_dead_lettered_total 0")
	assert.Contains(t, text, "orchestrator_model_tokens_total 10")
	assert.Contains(t, text, "orchestrator_model_latency_seconds_count 1")
	assert.Contains(t, text, "go_goroutines")
}
