package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zurustar/son-net/pkg/midi"
)

func noteOn(note uint8) midi.Event {
	return midi.Event{Kind: midi.KindNoteOn, Note: note, Velocity: 100}
}

func TestBusDeliversInOrder(t *testing.T) {
	b := New(8)
	sub := b.Subscribe()

	for i := uint8(0); i < 5; i++ {
		b.Publish(noteOn(60 + i))
	}

	dst := make([]midi.Event, 8)
	n := sub.Poll(dst)
	require.Equal(t, 5, n)
	for i := 0; i < 5; i++ {
		assert.Equal(t, uint8(60+i), dst[i].Note)
	}
	assert.Zero(t, sub.Dropped())
}

func TestBusOverflowDropsOldest(t *testing.T) {
	b := New(4)
	sub := b.Subscribe()

	for i := uint8(0); i < 10; i++ {
		b.Publish(noteOn(i))
	}

	dst := make([]midi.Event, 16)
	n := sub.Poll(dst)
	require.Equal(t, 4, n)
	// Only the newest window survives; the oldest six are counted dropped.
	assert.Equal(t, uint8(6), dst[0].Note)
	assert.Equal(t, uint8(9), dst[3].Note)
	assert.Equal(t, uint64(6), sub.Dropped())
}

func TestBusPublishNeverBlocks(t *testing.T) {
	b := New(2)
	b.Subscribe() // a subscriber that never reads

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10000; i++ {
			b.Publish(noteOn(uint8(i % 128)))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}
}

func TestBusBroadcastToIndependentSubscribers(t *testing.T) {
	b := New(8)
	audio := b.Subscribe()
	display := b.Subscribe()

	b.Publish(noteOn(60))
	b.Publish(noteOn(64))

	dst := make([]midi.Event, 8)
	require.Equal(t, 2, audio.Poll(dst))

	// The display subscriber still sees both events; consumption is not
	// competing.
	require.Equal(t, 2, display.Poll(dst))
	assert.Equal(t, uint8(60), dst[0].Note)
	assert.Equal(t, uint8(64), dst[1].Note)
}

func TestBusSubscriberSeesOnlyFutureEvents(t *testing.T) {
	b := New(8)
	b.Publish(noteOn(60))

	sub := b.Subscribe()
	b.Publish(noteOn(64))

	dst := make([]midi.Event, 8)
	n := sub.Poll(dst)
	require.Equal(t, 1, n)
	assert.Equal(t, uint8(64), dst[0].Note)
}

func TestBusPollBoundedWork(t *testing.T) {
	b := New(64)
	sub := b.Subscribe()
	for i := 0; i < 20; i++ {
		b.Publish(noteOn(uint8(i)))
	}

	dst := make([]midi.Event, 8)
	assert.Equal(t, 8, sub.Poll(dst))
	assert.Equal(t, 12, sub.Pending())
	assert.Equal(t, 8, sub.Poll(dst))
	assert.Equal(t, 4, sub.Poll(dst))
	assert.Equal(t, 0, sub.Poll(dst))
}

func TestBusNextBlocksAndWakes(t *testing.T) {
	b := New(8)
	sub := b.Subscribe()

	got := make(chan midi.Event, 1)
	go func() {
		if ev, ok := sub.Next(context.Background()); ok {
			got <- ev
		}
	}()

	select {
	case <-got:
		t.Fatal("Next returned before any publish")
	case <-time.After(20 * time.Millisecond):
	}

	b.Publish(noteOn(72))
	select {
	case ev := <-got:
		assert.Equal(t, uint8(72), ev.Note)
	case <-time.After(time.Second):
		t.Fatal("Next did not wake on publish")
	}
}

func TestBusNextContextCancellation(t *testing.T) {
	b := New(8)
	sub := b.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, ok := sub.Next(ctx)
	assert.False(t, ok)
}
