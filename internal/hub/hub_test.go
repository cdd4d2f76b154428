package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/samber/lo"
	"github.com/stretchr/testify/require"

	"mensageria_assinada/internal/identity"
	"mensageria_assinada/internal/lobby"
	"mensageria_assinada/internal/protocol"
)

const readTimeout = 2 * time.Second

type testServer struct {
	hub      *Hub
	registry *lobby.Registry
	metrics  *Metrics
	url      string
}

func startServer(t *testing.T) *testServer {
	t.Helper()
	return startServerWith(t, DefaultConfig())
}

func startServerWith(t *testing.T, cfg Config) *testServer {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	metrics, err := NewMetrics(prometheus.NewRegistry())
	require.NoError(t, err)
	registry := lobby.NewRegistry(lobby.WithObserver(metrics))
	h := NewHub(ctx, cfg, registry, nil, metrics)

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		h.Connect(conn)
	}))
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})

	return &testServer{
		hub:      h,
		registry: registry,
		metrics:  metrics,
		url:      "ws" + strings.TrimPrefix(srv.URL, "http"),
	}
}

type peer struct {
	t    *testing.T
	conn *websocket.Conn
	key  *identity.KeyPair
}

func (s *testServer) dial(t *testing.T, key *identity.KeyPair) *peer {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(s.url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return &peer{t: t, conn: conn, key: key}
}

// join dials, authenticates and consumes the lobby snapshot.
func (s *testServer) join(t *testing.T) (*peer, protocol.LobbyFrame) {
	t.Helper()
	p := s.dial(t, mustKey(t))
	p.authenticate()
	snapshot, ok := p.read().(protocol.LobbyFrame)
	require.True(t, ok, "expected lobby snapshot")
	return p, snapshot
}

func (p *peer) authenticate() {
	p.t.Helper()
	sig, err := identity.Sign(identity.AuthLiteral, p.key)
	require.NoError(p.t, err)
	p.sendFrame(protocol.AuthFrame{
		PublicKey: p.key.PublicKey().String(),
		Signature: sig.String(),
	})
}

func (p *peer) sendFrame(f protocol.Frame) {
	p.t.Helper()
	raw, err := protocol.Encode(f)
	require.NoError(p.t, err)
	p.write(raw)
}

func (p *peer) write(raw []byte) {
	p.t.Helper()
	require.NoError(p.t, p.conn.WriteMessage(websocket.TextMessage, raw))
}

func (p *peer) readRaw() []byte {
	p.t.Helper()
	require.NoError(p.t, p.conn.SetReadDeadline(time.Now().Add(readTimeout)))
	_, raw, err := p.conn.ReadMessage()
	require.NoError(p.t, err)
	return raw
}

func (p *peer) read() protocol.Frame {
	p.t.Helper()
	frame, err := protocol.Decode(p.readRaw())
	require.NoError(p.t, err)
	return frame
}

func (p *peer) readError() protocol.ErrorFrame {
	p.t.Helper()
	frame, ok := p.read().(protocol.ErrorFrame)
	require.True(p.t, ok, "expected error frame")
	return frame
}

func (p *peer) expectClosed() {
	p.t.Helper()
	require.NoError(p.t, p.conn.SetReadDeadline(time.Now().Add(readTimeout)))
	for {
		if _, _, err := p.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func keysOf(users []protocol.User) []string {
	return lo.Map(users, func(u protocol.User, _ int) string { return u.PublicKey })
}

func TestHub_AuthenticateJoinsLobby(t *testing.T) {
	srv := startServer(t)

	alice, snapshot := srv.join(t)
	require.Equal(t, []string{alice.key.PublicKey().String()}, keysOf(snapshot.Users))

	bob, snapshot := srv.join(t)
	require.ElementsMatch(t, []string{alice.key.PublicKey().String(), bob.key.PublicKey().String()}, keysOf(snapshot.Users))

	update, ok := alice.read().(protocol.LobbyUpdateFrame)
	require.True(t, ok)
	require.Equal(t, []string{bob.key.PublicKey().String()}, keysOf(update.Joined))
	require.Empty(t, update.Left)

	require.Equal(t, 2, srv.registry.Len())
	require.Equal(t, 2.0, testutil.ToFloat64(srv.metrics.authResults.WithLabelValues("authenticated")))
}

func TestHub_AuthFailureClosesConnection(t *testing.T) {
	srv := startServer(t)
	p := srv.dial(t, mustKey(t))

	// signed with some other key
	sig, err := identity.Sign(identity.AuthLiteral, mustKey(t))
	require.NoError(t, err)
	p.sendFrame(protocol.AuthFrame{
		PublicKey: p.key.PublicKey().String(),
		Signature: sig.String(),
	})

	errFrame := p.readError()
	require.Equal(t, protocol.ReasonAuthFailed, errFrame.Reason)
	p.expectClosed()

	require.Zero(t, srv.registry.Len())
	require.Equal(t, 1.0, testutil.ToFloat64(srv.metrics.authResults.WithLabelValues("failed")))
}

func TestHub_FramesBeforeAuthAreRejected(t *testing.T) {
	srv := startServer(t)
	p := srv.dial(t, mustKey(t))

	p.write([]byte("{definitely not json"))
	require.Equal(t, protocol.ReasonAuthRequired, p.readError().Reason)

	p.write(signedMessage(t, p.key, mustKey(t).PublicKey(), "too early"))
	require.Equal(t, protocol.ReasonAuthRequired, p.readError().Reason)

	// the connection stays usable
	p.authenticate()
	_, ok := p.read().(protocol.LobbyFrame)
	require.True(t, ok)
}

func TestHub_SecondAuthIsRejected(t *testing.T) {
	srv := startServer(t)
	alice, _ := srv.join(t)

	alice.authenticate()
	require.Equal(t, protocol.ReasonAuthFailed, alice.readError().Reason)

	// still authenticated and routable
	require.Equal(t, 1, srv.registry.Len())
	alice.write(signedMessage(t, alice.key, mustKey(t).PublicKey(), "still here"))
	require.Equal(t, protocol.ReasonOffline, alice.readError().Reason)
}

func TestHub_ForwardsMessageUnmodified(t *testing.T) {
	srv := startServer(t)
	alice, _ := srv.join(t)
	bob, _ := srv.join(t)
	_ = alice.read() // bob joined

	contents := []string{"", "Hello, Bob!", "   \t", "你好 🔐", "line\r\nbreak", strings.Repeat("x", 10_240)}
	for _, content := range contents {
		raw := signedMessage(t, alice.key, bob.key.PublicKey(), content)
		alice.write(raw)

		got := bob.readRaw()
		require.Equal(t, raw, got)

		var msg protocol.MessageFrame
		require.NoError(t, json.Unmarshal(got, &msg))
		require.True(t, identity.VerifyHex(msg.Message, msg.Signature, msg.SenderPublicKey))
	}
}

func TestHub_RejectsTamperedSignature(t *testing.T) {
	srv := startServer(t)
	alice, _ := srv.join(t)
	bob, _ := srv.join(t)
	_ = alice.read()

	raw := signedMessage(t, alice.key, bob.key.PublicKey(), "pay 10")
	raw = []byte(replaceOnce(string(raw), `"message":"pay 10"`, `"message":"pay 1000"`))
	alice.write(raw)

	require.Equal(t, protocol.ReasonSignatureInvalid, alice.readError().Reason)

	// bob receives nothing
	require.NoError(t, bob.conn.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, _, err := bob.conn.ReadMessage()
	require.Error(t, err)
}

func TestHub_OfflineRecipient(t *testing.T) {
	srv := startServer(t)
	alice, _ := srv.join(t)
	ghost := mustKey(t).PublicKey()

	alice.write(signedMessage(t, alice.key, ghost, "anyone there?"))

	require.Equal(t, protocol.ReasonOffline, alice.readError().Reason)
	notification, ok := alice.read().(protocol.NotificationFrame)
	require.True(t, ok)
	require.Equal(t, protocol.EventRecipientOffline, notification.Event)
	require.Equal(t, ghost.String(), notification.Recipient)
}

func TestHub_DisconnectLeavesLobby(t *testing.T) {
	srv := startServer(t)
	alice, _ := srv.join(t)
	bob, _ := srv.join(t)
	_ = alice.read()

	require.NoError(t, bob.conn.Close())

	update, ok := alice.read().(protocol.LobbyUpdateFrame)
	require.True(t, ok)
	require.Equal(t, []string{bob.key.PublicKey().String()}, keysOf(update.Left))
	require.Empty(t, update.Joined)

	require.Eventually(t, func() bool {
		_, online := srv.registry.Get(bob.key.PublicKey())
		return !online
	}, readTimeout, 10*time.Millisecond)
}

func TestHub_SameKeyReplacesPriorConnection(t *testing.T) {
	srv := startServer(t)
	watcher, _ := srv.join(t)
	key := mustKey(t)

	first := srv.dial(t, key)
	first.authenticate()
	_ = first.read()
	_ = watcher.read() // joined

	second := srv.dial(t, key)
	second.authenticate()
	snapshot, ok := second.read().(protocol.LobbyFrame)
	require.True(t, ok)
	require.Len(t, snapshot.Users, 2)

	update, ok := watcher.read().(protocol.LobbyUpdateFrame)
	require.True(t, ok)
	require.Equal(t, []string{key.PublicKey().String()}, keysOf(update.Joined))
	require.Equal(t, []string{key.PublicKey().String()}, keysOf(update.Left))

	first.expectClosed()
	require.Equal(t, 2, srv.registry.Len())

	// messages reach the newest connection
	watcher.write(signedMessage(t, watcher.key, key.PublicKey(), "which one?"))
	_, ok = second.read().(protocol.MessageFrame)
	require.True(t, ok)
}

func TestHub_ShutdownClosesClients(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	registry := lobby.NewRegistry()
	h := NewHub(ctx, DefaultConfig(), registry, nil, nil)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		h.Connect(conn)
	}))
	defer srv.Close()

	ts := &testServer{hub: h, registry: registry, url: "ws" + strings.TrimPrefix(srv.URL, "http")}
	p, _ := ts.join(t)

	cancel()
	p.expectClosed()
	require.Eventually(t, func() bool { return registry.Len() == 0 }, readTimeout, 10*time.Millisecond)
	require.Empty(t, h.Lobby())
}

func TestHub_ConcurrentSameKeyLeavesOneEntry(t *testing.T) {
	srv := startServer(t)
	key := mustKey(t)

	const n = 8
	peers := make([]*peer, n)
	for i := range peers {
		peers[i] = srv.dial(t, key)
	}

	var wg sync.WaitGroup
	for _, p := range peers {
		wg.Add(1)
		go func(p *peer) {
			defer wg.Done()
			sig, err := identity.Sign(identity.AuthLiteral, p.key)
			if err != nil {
				t.Error(err)
				return
			}
			raw, err := protocol.Encode(protocol.AuthFrame{PublicKey: p.key.PublicKey().String(), Signature: sig.String()})
			if err != nil {
				t.Error(err)
				return
			}
			if err := p.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				t.Error(err)
			}
		}(p)
	}
	wg.Wait()

	require.Eventually(t, func() bool {
		return srv.registry.Len() == 1 && testutil.ToFloat64(srv.metrics.authResults.WithLabelValues("authenticated")) == n
	}, readTimeout, 10*time.Millisecond)

	session, ok := srv.registry.Get(key.PublicKey())
	require.True(t, ok)
	require.NotEmpty(t, session.ID())
}

func TestHub_SlowConsumerLeavesLobbyAtOnce(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SendBuffer = 4
	srv := startServerWith(t, cfg)

	alice, _ := srv.join(t)
	bob, _ := srv.join(t) // never reads again
	_ = alice.read()

	session, ok := srv.registry.Get(bob.key.PublicKey())
	require.True(t, ok)
	bobClient, ok := session.(*Client)
	require.True(t, ok)

	// Given alice floods bob until his outbound buffer overflows
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		content := strings.Repeat("x", 256<<10)
		sig, err := identity.Sign(content, alice.key)
		if err != nil {
			return
		}
		for {
			select {
			case <-stop:
				return
			default:
			}
			raw, err := protocol.Encode(protocol.MessageFrame{
				Message:            content,
				SenderPublicKey:    alice.key.PublicKey().String(),
				RecipientPublicKey: bob.key.PublicKey().String(),
				Signature:          sig.String(),
				Timestamp:          time.Now().UTC().Format(time.RFC3339Nano),
			})
			if err != nil || alice.conn.WriteMessage(websocket.TextMessage, raw) != nil {
				return
			}
			if bobClient.isDone() {
				return
			}
		}
	}()

	// When the server closes bob
	require.Eventually(t, bobClient.isDone, 10*time.Second, time.Millisecond)
	closedAt := time.Now()

	// Then he leaves the lobby without waiting for his socket to drain
	require.Eventually(t, func() bool {
		_, online := srv.registry.Get(bob.key.PublicKey())
		return !online
	}, readTimeout, time.Millisecond)
	require.Less(t, time.Since(closedAt), 100*time.Millisecond)
	require.ErrorIs(t, bobClient.CloseReason(), ErrSlowConsumer)
}
