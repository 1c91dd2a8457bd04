package async

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestState_Counters(t *testing.T) {
	s := NewState("run-1", ModeIncremental, NewQueue())

	s.AddScraped(500, 12)
	s.AddScraped(300, 0)
	s.AddIndexed(488)
	s.AddEnriched(12)
	s.AddPruned(3)

	snap := s.Snapshot()
	assert.Equal(t, StatusRunning, snap.Status)
	assert.Equal(t, ModeIncremental, snap.Mode)
	assert.Equal(t, "run-1", snap.RunID)
	assert.Equal(t, 800, snap.ScrapeTotal)
	assert.Equal(t, 12, snap.ScrapeNew)
	assert.Equal(t, 488, snap.Indexed)
	assert.Equal(t, 12, snap.Enriched)
	assert.Equal(t, 3, snap.Pruned)
	assert.False(t, snap.StartedAt.IsZero())
	assert.True(t, snap.EndedAt.IsZero())
}

func TestState_Transitions(t *testing.T) {
	s := NewState("run-1", ModeClean, NewQueue())
	assert.Equal(t, StatusRunning, s.Snapshot().Status)

	s.SetScrapeComplete()
	assert.True(t, s.ScrapeComplete())

	s.Cancel()
	assert.True(t, s.Cancelled())

	s.SetIdle()
	snap := s.Snapshot()
	assert.Equal(t, StatusIdle, snap.Status)
	assert.False(t, snap.EndedAt.IsZero())

	s2 := NewState("run-2", ModeClean, NewQueue())
	s2.SetError("boom")
	assert.Equal(t, StatusError, s2.Snapshot().Status)
	assert.Equal(t, "boom", s2.Snapshot().Error)

	s3 := NewState("run-3", ModeClean, NewQueue())
	s3.SetDone()
	assert.Equal(t, StatusDone, s3.Snapshot().Status)
}

func TestState_LogRingIsBounded(t *testing.T) {
	s := NewState("run-1", ModeIncremental, nil)

	for i := 0; i < maxLogLines+250; i++ {
		s.Logf("line %d", i)
	}

	snap := s.Snapshot()
	require.Len(t, snap.Log, maxLogLines)
	// Oldest lines are dropped, newest kept.
	assert.Contains(t, snap.Log[len(snap.Log)-1], fmt.Sprintf("line %d", maxLogLines+249))
	assert.Contains(t, snap.Log[0], "line 250")
}

func TestState_SnapshotIncludesQueueSize(t *testing.T) {
	q := NewQueue()
	q.Push(QueueItem{ID: 1, GameName: "a"}, QueueItem{ID: 2, GameName: "b"})
	s := NewState("run-1", ModeIncremental, q)

	assert.Equal(t, 2, s.Snapshot().QueueSize)
	q.PopBatch(1)
	assert.Equal(t, 1, s.Snapshot().QueueSize)
}

func TestQueue_PushPop(t *testing.T) {
	q := NewQueue()
	assert.Nil(t, q.PopBatch(10))

	q.Push(QueueItem{ID: 1}, QueueItem{ID: 2}, QueueItem{ID: 3})
	assert.Equal(t, 3, q.Len())

	batch := q.PopBatch(2)
	require.Len(t, batch, 2)
	assert.EqualValues(t, 1, batch[0].ID)
	assert.EqualValues(t, 2, batch[1].ID)
	assert.Equal(t, 1, q.Len())

	batch = q.PopBatch(10)
	require.Len(t, batch, 1)
	assert.EqualValues(t, 3, batch[0].ID)
	assert.Zero(t, q.Len())
}

func TestQueue_Reset(t *testing.T) {
	q := NewQueue()
	q.Push(QueueItem{ID: 1})
	q.Reset()
	assert.Zero(t, q.Len())
}

func TestQueue_ConcurrentPopsAreDisjoint(t *testing.T) {
	q := NewQueue()
	const total = 1000
	for i := 0; i < total; i++ {
		q.Push(QueueItem{ID: int64(i)})
	}

	var mu sync.Mutex
	seen := make(map[int64]int)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				batch := q.PopBatch(10)
				if len(batch) == 0 {
					return
				}
				mu.Lock()
				for _, it := range batch {
					seen[it.ID]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, seen, total)
	for id, n := range seen {
		assert.Equal(t, 1, n, "item %d popped %d times", id, n)
	}
}
