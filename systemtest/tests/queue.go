package tests

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twinlink/broker/internal/queue"
)

func newQueuedMessage(userID, text string, priority int, ttl time.Duration) queue.Message {
	now := time.Now().UTC()
	return queue.Message{
		ID:        uuid.NewString(),
		UserID:    userID,
		Text:      text,
		Priority:  priority,
		Status:    queue.StatusQueued,
		QueuedAt:  now,
		ExpiresAt: now.Add(ttl),
	}
}

func TestQueueStore(t *testing.T, store queue.Store) {
	ctx := context.Background()

	t.Run("count and claim ordering", func(t *testing.T) {
		userID := "queue-suite-" + uuid.NewString()

		first := newQueuedMessage(userID, "first", queue.PriorityNormal, time.Hour)
		second := newQueuedMessage(userID, "second", queue.PriorityNormal, time.Hour)
		second.QueuedAt = first.QueuedAt.Add(time.Millisecond)
		urgent := newQueuedMessage(userID, "urgent", queue.PriorityUrgent, time.Hour)
		urgent.QueuedAt = first.QueuedAt.Add(2 * time.Millisecond)

		require.NoError(t, store.InsertMessage(ctx, first))
		require.NoError(t, store.InsertMessage(ctx, second))
		require.NoError(t, store.InsertMessage(ctx, urgent))

		n, err := store.CountQueued(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, 3, n)

		claimed, err := store.ClaimQueued(ctx, userID, 10, time.Now().UTC())
		require.NoError(t, err)
		require.Len(t, claimed, 3)
		assert.Equal(t, "urgent", claimed[0].Text)
		assert.Equal(t, "first", claimed[1].Text)
		assert.Equal(t, "second", claimed[2].Text)

		// Claimed rows left the queued state.
		again, err := store.ClaimQueued(ctx, userID, 10, time.Now().UTC())
		require.NoError(t, err)
		assert.Empty(t, again)
	})

	t.Run("expired rows are swept, not claimed", func(t *testing.T) {
		userID := "queue-suite-" + uuid.NewString()
		stale := newQueuedMessage(userID, "stale", queue.PriorityNormal, -time.Minute)
		require.NoError(t, store.InsertMessage(ctx, stale))

		claimed, err := store.ClaimQueued(ctx, userID, 10, time.Now().UTC())
		require.NoError(t, err)
		assert.Empty(t, claimed)

		n, err := store.CountQueued(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, 0, n)
	})

	t.Run("delivered and purge", func(t *testing.T) {
		userID := "queue-suite-" + uuid.NewString()
		m := newQueuedMessage(userID, "hello", queue.PriorityNormal, time.Hour)
		require.NoError(t, store.InsertMessage(ctx, m))

		claimed, err := store.ClaimQueued(ctx, userID, 10, time.Now().UTC())
		require.NoError(t, err)
		require.Len(t, claimed, 1)

		require.NoError(t, store.MarkDelivered(ctx, m.ID))
		assert.ErrorIs(t, store.MarkDelivered(ctx, uuid.NewString()), queue.ErrMessageNotFound)

		removed, err := store.PurgeOld(ctx, userID, time.Now().UTC().Add(time.Minute))
		require.NoError(t, err)
		assert.Equal(t, 1, removed)
	})

	t.Run("concurrent drains never double-claim", func(t *testing.T) {
		userID := "queue-suite-" + uuid.NewString()
		const total = 20
		for i := 0; i < total; i++ {
			require.NoError(t, store.InsertMessage(ctx, newQueuedMessage(userID, "msg", queue.PriorityNormal, time.Hour)))
		}

		var mu sync.Mutex
		seen := make(map[string]int)
		var wg sync.WaitGroup
		for i := 0; i < 4; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					claimed, err := store.ClaimQueued(ctx, userID, 3, time.Now().UTC())
					require.NoError(t, err)
					if len(claimed) == 0 {
						return
					}
					mu.Lock()
					for _, m := range claimed {
						seen[m.ID]++
					}
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		assert.Len(t, seen, total)
		for id, count := range seen {
			assert.Equal(t, 1, count, "message %s claimed more than once", id)
		}
	})
}
