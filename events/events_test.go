package events

import (
	"testing"
	"time"

	"github.com/mezonai/mmnchain/block"
	"github.com/stretchr/testify/require"
)

func TestEventBus_PublishSubscribe(t *testing.T) {
	eventBus := NewEventBus()

	id, ch := eventBus.Subscribe()
	require.Equal(t, 1, eventBus.SubscriberCount())

	b := &block.Block{Header: block.BlockHeader{Index: 3, Hash: block.Hash{3}}}
	eventBus.Publish(NewBlockAdded(b))

	select {
	case ev := <-ch:
		require.Equal(t, EventBlockAdded, ev.Type())
		require.Equal(t, block.Hash{3}, ev.BlockHash())
		require.Equal(t, uint64(3), ev.(*BlockAdded).Index)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	require.True(t, eventBus.Unsubscribe(id))
	require.False(t, eventBus.Unsubscribe(id))
	require.Zero(t, eventBus.SubscriberCount())
	_, open := <-ch
	require.False(t, open)
}

func TestEventBus_FullSubscriberDoesNotBlock(t *testing.T) {
	eventBus := NewEventBus()
	_, ch := eventBus.Subscribe()

	for i := 0; i < SubscriberBuffer+10; i++ {
		eventBus.Publish(NewBlockFinalized(block.Hash{byte(i)}, uint64(i), 10, 3))
	}
	require.Len(t, ch, SubscriberBuffer)
}

func TestEventBus_NilIsNoop(t *testing.T) {
	var eventBus *EventBus
	require.Zero(t, eventBus.SubscriberCount())

	id, ch := eventBus.Subscribe()
	_, open := <-ch
	require.False(t, open)
	require.False(t, eventBus.Unsubscribe(id))
	eventBus.Publish(NewValidatorMisbehavior("v1", 1, block.Hash{1}, block.Hash{2}))
}
