package transport

import (
	"context"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/pjsph/slam/internal/broadcast"
	"github.com/pjsph/slam/internal/models"
	"github.com/pjsph/slam/internal/protocol"
	"github.com/pjsph/slam/pkg/metrics"
	"github.com/pjsph/slam/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeResults struct {
	mu      sync.Mutex
	reports []models.ResultReport
	status  models.ResultStatus
}

func (f *fakeResults) HandleResult(ctx context.Context, r models.ResultReport) (models.ResultStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reports = append(f.reports, r)
	return f.status, nil
}

type testServer struct {
	hub     *broadcast.Hub
	results *fakeResults
	metrics *metrics.Metrics
	addr    string
}

func startServer(t *testing.T, limiter ratelimit.Limiter) *testServer {
	t.Helper()
	m := metrics.New(prometheus.NewRegistry())
	hub := broadcast.NewHub(16, m, nil)
	results := &fakeResults{}

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := NewServer(Config{Backlog: 16}, protocol.NewCodec(2), hub, results, limiter, m, nil)
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Error("server did not stop")
		}
	})
	return &testServer{hub: hub, results: results, metrics: m, addr: ln.Addr().String()}
}

func (ts *testServer) dial(t *testing.T, want int) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", ts.addr)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(ts.metrics.Connections) == float64(want)
	}, 2*time.Second, 5*time.Millisecond)
	return conn
}

func readN(t *testing.T, conn net.Conn, n int) []byte {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, n)
	_, err := io.ReadFull(conn, buf)
	require.NoError(t, err)
	return buf
}

func knownMatch() *models.Match {
	return &models.Match{Groups: []models.Group{
		{Players: []models.PlayerID{1, 2}, TotalRating: 210},
		{Players: []models.PlayerID{3, 4}, TotalRating: 220},
	}}
}

func TestServer_BroadcastsMatchBytes(t *testing.T) {
	ts := startServer(t, nil)
	conn := ts.dial(t, 1)

	require.NoError(t, ts.hub.Publish(context.Background(), knownMatch()))

	want := []byte{
		0, 0, 0, 0,
		0, 0, 0, 2,
		0, 0, 0, 0, 0, 0, 0, 1,
		0, 0, 0, 0, 0, 0, 0, 2,
		0, 0, 0, 0, 0, 0, 0, 210,
		0, 0, 0, 2,
		0, 0, 0, 0, 0, 0, 0, 3,
		0, 0, 0, 0, 0, 0, 0, 4,
		0, 0, 0, 0, 0, 0, 0, 220,
	}
	assert.Equal(t, want, readN(t, conn, len(want)))
}

func TestServer_ResultAckAcrossSplitWrites(t *testing.T) {
	ts := startServer(t, nil)
	ts.results.mu.Lock()
	ts.results.status = models.ResultUnknownMatch
	ts.results.mu.Unlock()
	conn := ts.dial(t, 1)

	pkt := protocol.EncodeResult(models.ResultReport{MatchID: 99, Winner: 1})
	_, err := conn.Write(pkt[:3])
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)
	_, err = conn.Write(pkt[3:])
	require.NoError(t, err)

	ack := readN(t, conn, protocol.HeaderSize+12)
	assert.Equal(t, protocol.EncodeResultAck(99, models.ResultUnknownMatch), ack)

	ts.results.mu.Lock()
	defer ts.results.mu.Unlock()
	assert.Equal(t, []models.ResultReport{{MatchID: 99, Winner: 1}}, ts.results.reports)
}

func TestServer_SubscribedConnectionOnlyGetsItsMatches(t *testing.T) {
	ts := startServer(t, nil)
	conn := ts.dial(t, 1)

	// the ack only arrives once the subscribe has been processed
	_, err := conn.Write(append(protocol.EncodeSubscribe(9), protocol.EncodeResult(models.ResultReport{MatchID: 1})...))
	require.NoError(t, err)
	readN(t, conn, protocol.HeaderSize+12)

	other := knownMatch()
	mine := &models.Match{Groups: []models.Group{
		{Players: []models.PlayerID{9, 10}, TotalRating: 200},
		{Players: []models.PlayerID{11, 12}, TotalRating: 200},
	}}
	require.NoError(t, ts.hub.Publish(context.Background(), other))
	require.NoError(t, ts.hub.Publish(context.Background(), mine))

	got := readN(t, conn, len(protocol.EncodeMatch(mine)))
	assert.Equal(t, protocol.EncodeMatch(mine), got)
}

func TestServer_UnknownPacketClosesOnlyThatConnection(t *testing.T) {
	ts := startServer(t, nil)
	bad := ts.dial(t, 1)
	good := ts.dial(t, 2)

	_, err := bad.Write([]byte{0, 0, 0, 42, 1, 2, 3, 4})
	require.NoError(t, err)

	require.NoError(t, bad.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err = bad.Read(make([]byte, 1))
	assert.Error(t, err, "server closes the connection")

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(ts.metrics.ProtocolErrors) == 1
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, ts.hub.Publish(context.Background(), knownMatch()))
	assert.Equal(t, protocol.EncodeMatch(knownMatch()), readN(t, good, 60))
}

func TestServer_RateLimitDropsPackets(t *testing.T) {
	ts := startServer(t, ratelimit.NewRateLimiter(1, 0.001))
	conn := ts.dial(t, 1)

	stream := append(
		protocol.EncodeResult(models.ResultReport{MatchID: 1}),
		protocol.EncodeResult(models.ResultReport{MatchID: 2})...,
	)
	_, err := conn.Write(stream)
	require.NoError(t, err)

	assert.Equal(t, protocol.EncodeResultAck(1, models.ResultApplied), readN(t, conn, 16))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	_, err = conn.Read(make([]byte, 1))
	var ne net.Error
	require.ErrorAs(t, err, &ne)
	assert.True(t, ne.Timeout())
}

func TestServer_PeerCloseUnregisters(t *testing.T) {
	ts := startServer(t, nil)
	conn := ts.dial(t, 1)
	require.NoError(t, conn.Close())

	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(ts.metrics.Connections) == 0
	}, 2*time.Second, 5*time.Millisecond)
}
