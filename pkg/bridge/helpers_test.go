package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/tehcyx/girc-bridge/pkg/metrics"
)

const (
	testServer  = "irc.test"
	testBaseURL = "ws://chat.test"
)

var errSocketClosed = errors.New("use of closed socket")

// fakeConn records every line sent to the IRC client.
type fakeConn struct {
	id   uuid.UUID
	user string
	host string

	mu    sync.Mutex
	nick  string
	lines []string
}

func newFakeConn(nick string) *fakeConn {
	return &fakeConn{id: uuid.New(), nick: nick, user: "u", host: "host"}
}

func (c *fakeConn) ID() uuid.UUID { return c.id }

func (c *fakeConn) Nick() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nick
}

func (c *fakeConn) SetNick(nick string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nick = nick
}

func (c *fakeConn) Mask() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nick + "!" + c.user + "@" + c.host
}

func (c *fakeConn) Send(line string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = append(c.lines, line)
}

func (c *fakeConn) Lines() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.lines))
	copy(out, c.lines)
	return out
}

func (c *fakeConn) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = nil
}

// waitForLine waits until a line equal to want was sent.
func (c *fakeConn) waitForLine(t *testing.T, want string) {
	t.Helper()
	require.Eventually(t, func() bool {
		for _, l := range c.Lines() {
			if l == want {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond, "line %q never sent, got %q", want, c.Lines())
}

// fakeSocket is an in-memory remote socket.
type fakeSocket struct {
	url string

	mu       sync.Mutex
	written  []Outbound
	closed   bool
	closeErr error
	writeErr error

	inbound   chan []byte
	failures  chan error
	done      chan struct{}
	closeOnce sync.Once
}

func newFakeSocket(url string) *fakeSocket {
	return &fakeSocket{
		url:      url,
		inbound:  make(chan []byte, 16),
		failures: make(chan error, 1),
		done:     make(chan struct{}),
	}
}

func (s *fakeSocket) ReadMessage() ([]byte, error) {
	select {
	case raw := <-s.inbound:
		return raw, nil
	case err := <-s.failures:
		return nil, err
	case <-s.done:
		return nil, errSocketClosed
	}
}

func (s *fakeSocket) WriteJSON(v interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errSocketClosed
	}
	if s.writeErr != nil {
		return s.writeErr
	}
	env, ok := v.(Outbound)
	if !ok {
		return errors.New("unexpected payload type")
	}
	s.written = append(s.written, env)
	return nil
}

func (s *fakeSocket) Close() error {
	s.mu.Lock()
	s.closed = true
	err := s.closeErr
	s.mu.Unlock()
	s.closeOnce.Do(func() { close(s.done) })
	return err
}

func (s *fakeSocket) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *fakeSocket) Written() []Outbound {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Outbound, len(s.written))
	copy(out, s.written)
	return out
}

// WrittenOf returns the written envelopes of type typ.
func (s *fakeSocket) WrittenOf(typ OutboundType) []Outbound {
	var out []Outbound
	for _, env := range s.Written() {
		if env.Type == typ {
			out = append(out, env)
		}
	}
	return out
}

// deliver hands a JSON document to the reader goroutine.
func (s *fakeSocket) deliver(t *testing.T, v interface{}) {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	s.inbound <- raw
}

// fakeDialer hands out fakeSockets and remembers them by URL. A non-nil
// gate holds every dial until it is closed; writeErr is installed on every
// new socket.
type fakeDialer struct {
	mu       sync.Mutex
	err      error
	writeErr error
	gate     chan struct{}
	dials    []string
	sockets  map[string]*fakeSocket
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{sockets: make(map[string]*fakeSocket)}
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (Socket, error) {
	d.mu.Lock()
	d.dials = append(d.dials, url)
	gate := d.gate
	d.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	s := newFakeSocket(url)
	s.writeErr = d.writeErr
	d.sockets[url] = s
	return s, nil
}

func (d *fakeDialer) Dials() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.dials))
	copy(out, d.dials)
	return out
}

func (d *fakeDialer) socket(t *testing.T, channel string) *fakeSocket {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	url := testBaseURL + "/channels/" + strings.TrimPrefix(channel, "#") + "/ws"
	s, ok := d.sockets[url]
	require.True(t, ok, "no socket dialed for %s", channel)
	return s
}

func newTestMetrics() *metrics.Metrics {
	return metrics.New(prometheus.NewRegistry())
}

// newTestBridge returns a bridge with a long keepalive so heartbeats do not
// interfere with assertions on written envelopes.
func newTestBridge(d Dialer) (*Bridge, *metrics.Metrics) {
	m := newTestMetrics()
	br := New(Options{
		ServerName: testServer,
		BaseURL:    testBaseURL,
		KeepAlive:  time.Hour,
	}, NewMemoryPresence(), d, m)
	return br, m
}

// nopHandler discards everything read from a socket.
type nopHandler struct{}

func (nopHandler) HandleEnvelope(*Binding, []byte)  {}
func (nopHandler) HandleDisconnect(*Binding, error) {}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}
