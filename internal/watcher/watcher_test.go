package watcher

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStop_Idempotent(t *testing.T) {
	w, err := New(Options{})
	require.NoError(t, err)

	assert.NoError(t, w.Stop())
	assert.NoError(t, w.Stop())
}

// A batch the debouncer flushed before Stop stays readable from its
// buffered output afterward. Forwarding it must drop the batch, not
// panic, and the forwarder must exit.
func TestStop_PendingBatchIsDroppedNotSent(t *testing.T) {
	w, err := New(Options{DebounceWindow: 10 * time.Millisecond})
	require.NoError(t, err)

	w.debouncer.Add(FileEvent{Path: "/tmp/a.txt", Folder: "/tmp", Operation: OpModify})

	// Let the debounce window elapse so the batch lands in the output buffer.
	require.Eventually(t, func() bool {
		return len(w.debouncer.Output()) > 0
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, w.Stop())

	done := make(chan struct{})
	go func() {
		defer close(done)
		w.forwardDebounced(context.Background())
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("forwarder did not exit after Stop")
	}

	select {
	case batch := <-w.events:
		t.Fatalf("unexpected batch after Stop: %v", batch)
	default:
	}
}

func TestDeliver_AfterStopIsNoOp(t *testing.T) {
	w, err := New(Options{})
	require.NoError(t, err)
	require.NoError(t, w.Stop())

	w.deliver([]FileEvent{{Path: "/tmp/b.txt", Operation: OpCreate}})
	assert.Empty(t, w.events)
}
