package ports

import (
	"context"
	"testing"
	"time"

	"github.com/aretw0/threadline/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunStateStoreContract runs a suite of tests to verify that a StateStore implementation
// adheres to the defined interface contract.
func RunStateStoreContract(t *testing.T, store StateStore) {
	ctx := context.Background()
	threadID := "contract-test-thread-" + time.Now().Format("20060102150405")

	t.Run("Save and Load", func(t *testing.T) {
		state := domain.NewConversation(threadID)
		state.BeginTurn("What's the weather in Pune?", time.Now().UTC())
		require.NoError(t, state.Apply(domain.Delta{
			Verdict:              domain.Ptr(domain.VerdictInsufficient),
			SelectedCapabilities: []domain.CapabilityName{domain.CapabilityWeather},
			RetrievedContext:     []domain.Fragment{{Source: domain.CapabilityWeather, Text: "Pune: 31C, clear"}},
			FinalAnswer:          domain.Ptr("It is 31C and clear in Pune."),
			Messages:             []domain.Message{{Role: domain.RoleAssistant, Content: "It is 31C and clear in Pune."}},
		}))

		err := store.Save(ctx, threadID, state)
		require.NoError(t, err, "Save should not return error")

		loaded, err := store.Load(ctx, threadID)
		require.NoError(t, err, "Load should not return error")
		assert.Equal(t, state.ThreadID, loaded.ThreadID)
		assert.Equal(t, state.Turn, loaded.Turn)
		assert.Equal(t, state.FinalAnswer, loaded.FinalAnswer)
		assert.Equal(t, state.SelectedCapabilities, loaded.SelectedCapabilities)
		assert.Equal(t, state.RetrievedContext, loaded.RetrievedContext)
		require.Len(t, loaded.Messages, 2)
		assert.Equal(t, domain.RoleUser, loaded.Messages[0].Role)
		assert.Equal(t, domain.RoleAssistant, loaded.Messages[1].Role)
	})

	t.Run("Save Overwrites", func(t *testing.T) {
		state := domain.NewConversation(threadID)
		state.BeginTurn("first", time.Now().UTC())
		require.NoError(t, store.Save(ctx, threadID, state))

		state.BeginTurn("second", time.Now().UTC())
		require.NoError(t, store.Save(ctx, threadID, state))

		loaded, err := store.Load(ctx, threadID)
		require.NoError(t, err)
		assert.Equal(t, 2, loaded.Turn)
		assert.Equal(t, "second", loaded.CurrentQuery)
	})

	t.Run("Load Returns Copy", func(t *testing.T) {
		state := domain.NewConversation(threadID)
		state.BeginTurn("q", time.Now().UTC())
		require.NoError(t, store.Save(ctx, threadID, state))

		loaded, err := store.Load(ctx, threadID)
		require.NoError(t, err)
		loaded.Messages = append(loaded.Messages, domain.Message{Role: domain.RoleAssistant, Content: "local"})

		again, err := store.Load(ctx, threadID)
		require.NoError(t, err)
		assert.Len(t, again.Messages, 1, "mutating a loaded state must not leak into the store")
	})

	t.Run("Load Non-Existent", func(t *testing.T) {
		_, err := store.Load(ctx, "non-existent-"+threadID)
		assert.ErrorIs(t, err, domain.ErrThreadNotFound)
	})

	t.Run("Delete", func(t *testing.T) {
		err := store.Save(ctx, threadID, domain.NewConversation(threadID))
		require.NoError(t, err)

		err = store.Delete(ctx, threadID)
		require.NoError(t, err, "Delete should not return error")

		_, err = store.Load(ctx, threadID)
		assert.ErrorIs(t, err, domain.ErrThreadNotFound, "Load after Delete should return ErrThreadNotFound")
	})

	t.Run("List", func(t *testing.T) {
		id1 := threadID + "-1"
		id2 := threadID + "-2"
		_ = store.Save(ctx, id1, domain.NewConversation(id1))
		_ = store.Save(ctx, id2, domain.NewConversation(id2))

		defer func() {
			_ = store.Delete(ctx, id1)
			_ = store.Delete(ctx, id2)
		}()

		threads, err := store.List(ctx)
		require.NoError(t, err)
		assert.Contains(t, threads, id1)
		assert.Contains(t, threads, id2)
	})
}

// RunLeaserContract verifies that a Leaser grants exclusive, non-blocking,
// renewable leases.
func RunLeaserContract(t *testing.T, leaser Leaser) {
	ctx := context.Background()
	key := "contract-lease-" + time.Now().Format("20060102150405")

	t.Run("Exclusive", func(t *testing.T) {
		lease, err := leaser.Acquire(ctx, key, time.Minute)
		require.NoError(t, err)

		_, err = leaser.Acquire(ctx, key, time.Minute)
		assert.ErrorIs(t, err, domain.ErrBusy)

		require.NoError(t, lease.Release(ctx))

		lease2, err := leaser.Acquire(ctx, key, time.Minute)
		require.NoError(t, err, "lease must be acquirable after release")
		require.NoError(t, lease2.Release(ctx))
	})

	t.Run("Independent Keys", func(t *testing.T) {
		l1, err := leaser.Acquire(ctx, key+"-a", time.Minute)
		require.NoError(t, err)
		defer func() { _ = l1.Release(ctx) }()

		l2, err := leaser.Acquire(ctx, key+"-b", time.Minute)
		require.NoError(t, err)
		defer func() { _ = l2.Release(ctx) }()
	})

	t.Run("Extend", func(t *testing.T) {
		lease, err := leaser.Acquire(ctx, key+"-e", time.Minute)
		require.NoError(t, err)
		require.NoError(t, lease.Extend(ctx, 2*time.Minute))

		_, err = leaser.Acquire(ctx, key+"-e", time.Minute)
		assert.ErrorIs(t, err, domain.ErrBusy, "extending keeps the lease exclusive")

		require.NoError(t, lease.Release(ctx))
		assert.ErrorIs(t, lease.Extend(ctx, time.Minute), domain.ErrLeaseLost, "a released lease cannot be extended")
	})

	t.Run("Release After Cancel", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		lease, err := leaser.Acquire(cctx, key+"-c", time.Minute)
		require.NoError(t, err)
		cancel()

		require.NoError(t, lease.Release(context.WithoutCancel(cctx)))
		l, err := leaser.Acquire(ctx, key+"-c", time.Minute)
		require.NoError(t, err)
		_ = l.Release(ctx)
	})
}
