package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBusDeliversToSubscribers(t *testing.T) {
	bus := NewMemoryBus()
	defer bus.Close()

	sub, err := bus.Subscribe(context.Background(), LedgerEntryCreated("42"))
	require.NoError(t, err)
	defer sub.Close()

	payload := map[string]string{"entryId": "evt-1:debit"}
	require.NoError(t, bus.Publish(context.Background(), LedgerEntryCreated("42"), payload))

	select {
	case raw := <-sub.Messages():
		var got map[string]string
		require.NoError(t, json.Unmarshal(raw, &got))
		assert.Equal(t, "evt-1:debit", got["entryId"])
	case <-time.After(time.Second):
		t.Fatal("expected a message")
	}
}

func TestMemoryBusTopicIsolation(t *testing.T) {
	bus := NewMemoryBus()
	defer bus.Close()

	sub, err := bus.Subscribe(context.Background(), CycleCheckpointClosed("7"))
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, bus.Publish(context.Background(), CycleCheckpointClosed("8"), "other cycle"))

	select {
	case raw := <-sub.Messages():
		t.Fatalf("unexpected message: %s", raw)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemoryBusClosedSubscriptionStopsDelivery(t *testing.T) {
	bus := NewMemoryBus()
	defer bus.Close()

	sub, err := bus.Subscribe(context.Background(), TopicLedgerEntryAll)
	require.NoError(t, err)
	require.NoError(t, sub.Close())

	_, open := <-sub.Messages()
	assert.False(t, open)

	assert.NoError(t, bus.Publish(context.Background(), TopicLedgerEntryAll, "after close"))
}

func TestTopicNames(t *testing.T) {
	assert.Equal(t, "ledger.entry.42", LedgerEntryCreated("42"))
	assert.Equal(t, TopicLedgerEntryAll, LedgerEntryCreated(""))
	assert.Equal(t, "cycle.checkpoint.9", CycleCheckpointClosed("9"))
	assert.Equal(t, TopicCycleCheckpointAll, CycleCheckpointClosed("  "))
	assert.Equal(t, "license.updated.work-1", LicenseUpdated("work-1"))
	assert.Equal(t, "export.progress.job-1", ExportProgress("job-1"))
}
