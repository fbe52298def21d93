package bridge

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(d Dialer, keepAlive time.Duration) *Registry {
	return NewRegistry(d, Options{BaseURL: testBaseURL + "/", KeepAlive: keepAlive}, newTestMetrics())
}

func TestEndpoint(t *testing.T) {
	r := newTestRegistry(newFakeDialer(), time.Hour)

	assert.Equal(t, "ws://chat.test/channels/movies/ws", r.Endpoint("#movies"))
	assert.Equal(t, "ws://chat.test/channels/a%2Fb/ws", r.Endpoint("#a/b"))
}

func TestBindPerformsHandshake(t *testing.T) {
	dialer := newFakeDialer()
	r := newTestRegistry(dialer, time.Hour)
	conn := newFakeConn("alice")

	b, err := r.Bind(testContext(t), conn, "#movies", nopHandler{})
	require.NoError(t, err)
	assert.Equal(t, BindingKey{Conn: conn.ID(), Channel: "#movies"}, b.Key)
	assert.Equal(t, []string{"ws://chat.test/channels/movies/ws"}, dialer.Dials())

	written := dialer.socket(t, "#movies").Written()
	require.Len(t, written, 2)
	assert.Equal(t, OutGreeting, written[0].Type)
	assert.JSONEq(t, `{"Name":"alice","Color":"#ffffff"}`, written[0].Message)
	assert.Equal(t, RosterRequest(), written[1])

	assert.Equal(t, float64(1), testutil.ToFloat64(r.metrics.Bindings))
	require.NoError(t, r.CloseAll())
}

func TestBindTwiceDoesNotDialAgain(t *testing.T) {
	dialer := newFakeDialer()
	r := newTestRegistry(dialer, time.Hour)
	conn := newFakeConn("alice")

	first, err := r.Bind(testContext(t), conn, "#movies", nopHandler{})
	require.NoError(t, err)

	_, err = r.Bind(testContext(t), conn, "#movies", nopHandler{})
	assert.ErrorIs(t, err, ErrAlreadyBound)
	assert.Len(t, dialer.Dials(), 1)

	got, ok := r.Lookup(conn.ID(), "#movies")
	require.True(t, ok)
	assert.Same(t, first, got)
	require.NoError(t, r.CloseAll())
}

func TestBindDialFailureReleasesKey(t *testing.T) {
	dialer := newFakeDialer()
	dialer.err = errors.New("connection refused")
	r := newTestRegistry(dialer, time.Hour)
	conn := newFakeConn("alice")

	_, err := r.Bind(testContext(t), conn, "#movies", nopHandler{})
	assert.ErrorIs(t, err, ErrTransport)

	_, ok := r.Lookup(conn.ID(), "#movies")
	assert.False(t, ok)

	dialer.err = nil
	_, err = r.Bind(testContext(t), conn, "#movies", nopHandler{})
	require.NoError(t, err)
	require.NoError(t, r.CloseAll())
}

func TestBindingsAreIsolatedPerConnection(t *testing.T) {
	dialer := newFakeDialer()
	r := newTestRegistry(dialer, time.Hour)
	alice := newFakeConn("alice")
	bob := newFakeConn("bob")

	_, err := r.Bind(testContext(t), alice, "#movies", nopHandler{})
	require.NoError(t, err)
	_, err = r.Bind(testContext(t), bob, "#movies", nopHandler{})
	require.NoError(t, err)
	_, err = r.Bind(testContext(t), alice, "#books", nopHandler{})
	require.NoError(t, err)

	assert.Equal(t, []string{"#books", "#movies"}, r.Channels())
	aliceBindings := r.BindingsOf(alice.ID())
	require.Len(t, aliceBindings, 2)
	assert.Equal(t, "#books", aliceBindings[0].Channel())
	assert.Equal(t, "#movies", aliceBindings[1].Channel())

	require.NoError(t, r.Unbind(alice.ID(), "#movies"))
	_, ok := r.Lookup(bob.ID(), "#movies")
	assert.True(t, ok)
	assert.Equal(t, []string{"#books", "#movies"}, r.Channels())
	require.NoError(t, r.CloseAll())
}

func TestBindingSurvivesNickChange(t *testing.T) {
	r := newTestRegistry(newFakeDialer(), time.Hour)
	conn := newFakeConn("alice")

	_, err := r.Bind(testContext(t), conn, "#movies", nopHandler{})
	require.NoError(t, err)

	conn.SetNick("alicia")
	b, ok := r.Lookup(conn.ID(), "#movies")
	require.True(t, ok)
	assert.NoError(t, b.Send(ChatSend("still bound")))
	require.NoError(t, r.CloseAll())
}

func TestUnbindClosesSocketAndStopsKeepalive(t *testing.T) {
	dialer := newFakeDialer()
	r := newTestRegistry(dialer, 5*time.Millisecond)
	conn := newFakeConn("alice")

	b, err := r.Bind(testContext(t), conn, "#movies", nopHandler{})
	require.NoError(t, err)
	sock := dialer.socket(t, "#movies")

	require.Eventually(t, func() bool {
		return len(sock.WrittenOf(OutHeartbeat)) >= 2
	}, time.Second, time.Millisecond)

	require.NoError(t, r.Unbind(conn.ID(), "#movies"))
	assert.True(t, sock.isClosed())
	beats := len(sock.WrittenOf(OutHeartbeat))

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, beats, len(sock.WrittenOf(OutHeartbeat)))
	assert.ErrorIs(t, b.Send(ChatSend("late")), ErrNoActiveBinding)

	_, ok := r.Lookup(conn.ID(), "#movies")
	assert.False(t, ok)
	assert.NoError(t, r.Unbind(conn.ID(), "#movies"))
	assert.Equal(t, float64(0), testutil.ToFloat64(r.metrics.Bindings))
}

func TestUnbindAllContinuesPastCloseErrors(t *testing.T) {
	dialer := newFakeDialer()
	r := newTestRegistry(dialer, time.Hour)
	conn := newFakeConn("alice")

	for _, channel := range []string{"#a", "#b", "#c"} {
		_, err := r.Bind(testContext(t), conn, channel, nopHandler{})
		require.NoError(t, err)
	}
	failing := dialer.socket(t, "#a")
	failing.mu.Lock()
	failing.closeErr = errors.New("close failed")
	failing.mu.Unlock()

	channels, err := r.UnbindAll(conn.ID())
	assert.ErrorIs(t, err, ErrTransport)
	assert.Equal(t, []string{"#a", "#b", "#c"}, channels)

	for _, channel := range channels {
		assert.True(t, dialer.socket(t, channel).isClosed(), channel)
	}
	assert.Empty(t, r.BindingsOf(conn.ID()))
	assert.Equal(t, float64(0), testutil.ToFloat64(r.metrics.Bindings))
}

func TestHeartbeatWriteFailureStopsKeepalive(t *testing.T) {
	dialer := newFakeDialer()
	r := newTestRegistry(dialer, 5*time.Millisecond)
	conn := newFakeConn("alice")

	_, err := r.Bind(testContext(t), conn, "#movies", nopHandler{})
	require.NoError(t, err)
	sock := dialer.socket(t, "#movies")
	sock.mu.Lock()
	sock.writeErr = errors.New("broken pipe")
	sock.mu.Unlock()

	b, _ := r.Lookup(conn.ID(), "#movies")
	done := make(chan struct{})
	go func() {
		b.keepalive.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("keepalive kept running after a failed write")
	}
	require.NoError(t, r.CloseAll())
}

func TestBindHandshakeFailureReleasesBinding(t *testing.T) {
	dialer := newFakeDialer()
	dialer.writeErr = errors.New("broken pipe")
	r := newTestRegistry(dialer, time.Hour)
	conn := newFakeConn("alice")

	errs := make(chan error, 1)
	go func() {
		_, err := r.Bind(testContext(t), conn, "#movies", nopHandler{})
		errs <- err
	}()

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, ErrTransport)
	case <-time.After(time.Second):
		t.Fatal("Bind hung after a failed handshake")
	}

	_, ok := r.Lookup(conn.ID(), "#movies")
	assert.False(t, ok)
	assert.True(t, dialer.socket(t, "#movies").isClosed())
	assert.Equal(t, float64(0), testutil.ToFloat64(r.metrics.Bindings))
}

func TestUnbindWhileDialing(t *testing.T) {
	dialer := newFakeDialer()
	dialer.gate = make(chan struct{})
	r := newTestRegistry(dialer, 5*time.Millisecond)
	conn := newFakeConn("alice")

	errs := make(chan error, 1)
	go func() {
		_, err := r.Bind(testContext(t), conn, "#movies", nopHandler{})
		errs <- err
	}()
	require.Eventually(t, func() bool {
		return len(dialer.Dials()) == 1
	}, time.Second, time.Millisecond)

	require.NoError(t, r.Unbind(conn.ID(), "#movies"))
	close(dialer.gate)

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, ErrNoActiveBinding)
	case <-time.After(time.Second):
		t.Fatal("Bind did not return after its binding was removed")
	}

	sock := dialer.socket(t, "#movies")
	assert.True(t, sock.isClosed())
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, sock.Written())
	_, ok := r.Lookup(conn.ID(), "#movies")
	assert.False(t, ok)
}

func TestCloseAllRacingBind(t *testing.T) {
	dialer := newFakeDialer()
	r := newTestRegistry(dialer, time.Millisecond)

	for i := 0; i < 50; i++ {
		conn := newFakeConn("alice")
		done := make(chan struct{}, 2)
		go func() {
			r.Bind(testContext(t), conn, "#movies", nopHandler{})
			done <- struct{}{}
		}()
		go func() {
			r.CloseAll()
			done <- struct{}{}
		}()
		for j := 0; j < 2; j++ {
			select {
			case <-done:
			case <-time.After(time.Second):
				t.Fatalf("iteration %d: Bind and CloseAll deadlocked", i)
			}
		}
	}
	require.NoError(t, r.CloseAll())
	assert.Empty(t, r.Channels())
	assert.Equal(t, float64(0), testutil.ToFloat64(r.metrics.Bindings))
}
