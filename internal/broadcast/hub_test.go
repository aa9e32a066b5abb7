package broadcast

import (
	"context"
	"testing"
	"time"

	"github.com/pjsph/slam/internal/models"
	"github.com/pjsph/slam/internal/protocol"
	"github.com/pjsph/slam/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func match(ids ...models.PlayerID) *models.Match {
	half := len(ids) / 2
	return &models.Match{Groups: []models.Group{
		{Players: ids[:half], TotalRating: 200},
		{Players: ids[half:], TotalRating: 200},
	}}
}

func startHub(t *testing.T, m *metrics.Metrics) *Hub {
	t.Helper()
	h := NewHub(16, m, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	t.Cleanup(cancel)
	return h
}

func receive(t *testing.T, mb *Mailbox) []byte {
	t.Helper()
	select {
	case f := <-mb.Frames():
		return f
	case <-time.After(time.Second):
		t.Fatal("no frame delivered")
		return nil
	}
}

func assertNothing(t *testing.T, mb *Mailbox) {
	t.Helper()
	select {
	case f := <-mb.Frames():
		t.Fatalf("unexpected frame %v", f)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_FiltersByIdentity(t *testing.T) {
	h := startHub(t, nil)

	spectator := NewMailbox("spectator", 4)
	player := NewMailbox("player-1", 4)
	player.Identify(1)
	other := NewMailbox("player-9", 4)
	other.Identify(9)

	h.Register(spectator)
	h.Register(player)
	h.Register(other)

	m := match(1, 2, 3, 4)
	require.NoError(t, h.Publish(context.Background(), m))

	want := protocol.EncodeMatch(m)
	assert.Equal(t, want, receive(t, spectator))
	assert.Equal(t, want, receive(t, player))
	assertNothing(t, other)
}

func TestHub_Unregister(t *testing.T) {
	h := startHub(t, nil)
	mb := NewMailbox("a", 4)
	h.Register(mb)
	h.Unregister(mb)

	require.NoError(t, h.Publish(context.Background(), match(1, 2)))
	assertNothing(t, mb)
}

func TestHub_FullBacklogDropsFrame(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	h := startHub(t, m)

	mb := NewMailbox("slow", 1)
	h.Register(mb)
	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(m.Connections) == 1
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, h.Publish(context.Background(), match(1, 2)))
	require.NoError(t, h.Publish(context.Background(), match(3, 4)))

	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(m.DroppedFrames) == 1
	}, time.Second, 10*time.Millisecond)

	got := receive(t, mb)
	assert.Equal(t, protocol.EncodeMatch(match(1, 2)), got)
}

func TestHub_StoppedHub(t *testing.T) {
	h := NewHub(0, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(stopped)
	}()
	cancel()
	<-stopped

	h.Register(NewMailbox("late", 1))
	h.Unregister(NewMailbox("late", 1))

	// the publish buffer is empty, yet every call must report the stop
	for i := 0; i < 100; i++ {
		require.ErrorIs(t, h.Publish(context.Background(), match(1, 2)), ErrHubStopped)
	}
}

func TestMailbox_Accepts(t *testing.T) {
	mb := NewMailbox("x", 1)
	assert.True(t, mb.Accepts(match(1, 2)))

	mb.Identify(5)
	assert.Equal(t, 1, mb.Players())
	assert.False(t, mb.Accepts(match(1, 2)))
	assert.True(t, mb.Accepts(match(1, 5)))
}
