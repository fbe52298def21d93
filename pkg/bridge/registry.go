package bridge

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"github.com/tehcyx/girc-bridge/pkg/metrics"
)

// Socket is one open connection to the remote backend.
type Socket interface {
	ReadMessage() ([]byte, error)
	WriteJSON(v interface{}) error
	Close() error
}

// Dialer opens remote sockets.
type Dialer interface {
	Dial(ctx context.Context, url string) (Socket, error)
}

// Handler receives everything read from a bound socket. Calls for one
// binding are made sequentially from that binding's reader goroutine.
type Handler interface {
	HandleEnvelope(b *Binding, raw []byte)
	HandleDisconnect(b *Binding, err error)
}

// BindingKey identifies a binding by the connection's session id, which
// unlike the nickname never changes for the life of the connection.
type BindingKey struct {
	Conn    uuid.UUID
	Channel string
}

// Binding is the live association of one IRC connection, one channel and
// one remote socket.
type Binding struct {
	Key  BindingKey
	conn Connection

	stateMux *sync.Mutex
	socket   Socket
	cancel   context.CancelFunc
	closed   bool

	writeMux  *sync.Mutex
	keepalive sync.WaitGroup
}

func newBinding(conn Connection, channel string) *Binding {
	return &Binding{
		Key:      BindingKey{Conn: conn.ID(), Channel: channel},
		conn:     conn,
		stateMux: &sync.Mutex{},
		writeMux: &sync.Mutex{},
	}
}

// Channel returns the IRC channel name of the binding.
func (b *Binding) Channel() string {
	return b.Key.Channel
}

// Conn returns the IRC connection owning the binding.
func (b *Binding) Conn() Connection {
	return b.conn
}

// Send writes one envelope to the remote socket.
func (b *Binding) Send(env Outbound) error {
	b.stateMux.Lock()
	socket := b.socket
	closed := b.closed
	b.stateMux.Unlock()

	if closed || socket == nil {
		return fmt.Errorf("%w: %s", ErrNoActiveBinding, b.Key.Channel)
	}

	b.writeMux.Lock()
	defer b.writeMux.Unlock()
	if err := socket.WriteJSON(env); err != nil {
		return fmt.Errorf("%w: write to %s: %v", ErrTransport, b.Key.Channel, err)
	}
	return nil
}

// attach installs the dialed socket and accounts for the keepalive
// goroutine the caller must start, or release with keepalive.Done. It
// reports false when the binding was torn down while the dial was in flight.
func (b *Binding) attach(socket Socket, cancel context.CancelFunc) bool {
	b.stateMux.Lock()
	defer b.stateMux.Unlock()

	if b.closed {
		return false
	}
	b.socket = socket
	b.cancel = cancel
	b.keepalive.Add(1)
	return true
}

// close cancels the keepalive, waits for it to stop and closes the socket.
// It reports whether a socket was attached.
func (b *Binding) close() (bool, error) {
	b.stateMux.Lock()
	if b.closed {
		b.stateMux.Unlock()
		return false, nil
	}
	b.closed = true
	socket := b.socket
	cancel := b.cancel
	b.stateMux.Unlock()

	if cancel != nil {
		cancel()
	}
	b.keepalive.Wait()

	if socket == nil {
		return false, nil
	}
	if err := socket.Close(); err != nil {
		return true, fmt.Errorf("%w: close %s: %v", ErrTransport, b.Key.Channel, err)
	}
	return true, nil
}

// Registry maps (connection, channel) pairs to their remote sockets.
type Registry struct {
	bindings    map[BindingKey]*Binding
	bindingsMux *sync.Mutex

	dialer    Dialer
	baseURL   string
	keepAlive time.Duration
	color     string
	metrics   *metrics.Metrics
}

// NewRegistry creates an empty registry dialing sockets below baseURL.
func NewRegistry(dialer Dialer, opts Options, m *metrics.Metrics) *Registry {
	opts = opts.withDefaults()
	return &Registry{
		bindings:    make(map[BindingKey]*Binding),
		bindingsMux: &sync.Mutex{},
		dialer:      dialer,
		baseURL:     opts.BaseURL,
		keepAlive:   opts.KeepAlive,
		color:       opts.Color,
		metrics:     m,
	}
}

// Endpoint returns the remote address of channel.
func (r *Registry) Endpoint(channel string) string {
	name := strings.TrimPrefix(channel, "#")
	return fmt.Sprintf("%s/channels/%s/ws", strings.TrimRight(r.baseURL, "/"), url.PathEscape(name))
}

// Bind opens the remote socket for channel on behalf of conn. Once the
// socket is up the greeting and a roster request are sent, and keepalive and
// reader goroutines are started. Binding an already bound pair fails with
// ErrAlreadyBound without dialing.
func (r *Registry) Bind(ctx context.Context, conn Connection, channel string, h Handler) (*Binding, error) {
	b := newBinding(conn, channel)

	r.bindingsMux.Lock()
	if _, ok := r.bindings[b.Key]; ok {
		r.bindingsMux.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrAlreadyBound, channel)
	}
	r.bindings[b.Key] = b
	r.bindingsMux.Unlock()

	endpoint := r.Endpoint(channel)
	socket, err := r.dialer.Dial(ctx, endpoint)
	if err != nil {
		r.release(b)
		return nil, fmt.Errorf("%w: dial %s: %v", ErrTransport, endpoint, err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	if !b.attach(socket, cancel) {
		cancel()
		socket.Close()
		return nil, fmt.Errorf("%w: %s unbound while connecting", ErrNoActiveBinding, channel)
	}
	// balanced by the teardown of this binding, whoever runs it
	r.metrics.Bindings.Inc()

	if err := r.handshake(b); err != nil {
		b.keepalive.Done()
		r.release(b)
		r.teardown(b)
		return nil, err
	}

	go b.keepAlive(runCtx, r.keepAlive, r.metrics)
	go r.readLoop(runCtx, b, h)

	log.WithFields(log.Fields{
		"conn":     conn.ID(),
		"channel":  channel,
		"endpoint": endpoint,
	}).Infof("Bound remote socket")
	return b, nil
}

func (r *Registry) handshake(b *Binding) error {
	hello, err := Greeting(b.conn.Nick(), r.color)
	if err != nil {
		return err
	}
	if err := b.Send(hello); err != nil {
		return err
	}
	return b.Send(RosterRequest())
}

func (r *Registry) readLoop(ctx context.Context, b *Binding, h Handler) {
	b.stateMux.Lock()
	socket := b.socket
	b.stateMux.Unlock()

	for {
		raw, err := socket.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				// unbound locally, the close is ours
				return
			}
			h.HandleDisconnect(b, fmt.Errorf("%w: read from %s: %v", ErrTransport, b.Key.Channel, err))
			return
		}
		h.HandleEnvelope(b, raw)
	}
}

// release drops b from the index if it is still the registered binding.
func (r *Registry) release(b *Binding) bool {
	r.bindingsMux.Lock()
	defer r.bindingsMux.Unlock()

	if cur, ok := r.bindings[b.Key]; ok && cur == b {
		delete(r.bindings, b.Key)
		return true
	}
	return false
}

// Lookup returns the binding of connID for channel.
func (r *Registry) Lookup(connID uuid.UUID, channel string) (*Binding, bool) {
	r.bindingsMux.Lock()
	defer r.bindingsMux.Unlock()

	b, ok := r.bindings[BindingKey{Conn: connID, Channel: channel}]
	return b, ok
}

// BindingsOf returns every binding owned by connID, ordered by channel.
func (r *Registry) BindingsOf(connID uuid.UUID) []*Binding {
	r.bindingsMux.Lock()
	defer r.bindingsMux.Unlock()

	var owned []*Binding
	for key, b := range r.bindings {
		if key.Conn == connID {
			owned = append(owned, b)
		}
	}
	sort.Slice(owned, func(i, j int) bool {
		return owned[i].Key.Channel < owned[j].Key.Channel
	})
	return owned
}

// Channels returns the distinct channels that have at least one binding.
func (r *Registry) Channels() []string {
	r.bindingsMux.Lock()
	seen := make(map[string]bool)
	for key := range r.bindings {
		seen[key.Channel] = true
	}
	r.bindingsMux.Unlock()

	channels := make([]string, 0, len(seen))
	for channel := range seen {
		channels = append(channels, channel)
	}
	sort.Strings(channels)
	return channels
}

// Unbind tears down the binding of connID for channel. No-op if absent.
func (r *Registry) Unbind(connID uuid.UUID, channel string) error {
	r.bindingsMux.Lock()
	key := BindingKey{Conn: connID, Channel: channel}
	b, ok := r.bindings[key]
	if ok {
		delete(r.bindings, key)
	}
	r.bindingsMux.Unlock()

	if !ok {
		return nil
	}
	return r.teardown(b)
}

// UnbindAll tears down every binding of connID and returns their channels.
// A failing close does not stop the remaining teardowns; all errors are
// combined in the result.
func (r *Registry) UnbindAll(connID uuid.UUID) ([]string, error) {
	r.bindingsMux.Lock()
	var owned []*Binding
	for key, b := range r.bindings {
		if key.Conn == connID {
			owned = append(owned, b)
			delete(r.bindings, key)
		}
	}
	r.bindingsMux.Unlock()

	var err error
	channels := make([]string, 0, len(owned))
	for _, b := range owned {
		channels = append(channels, b.Key.Channel)
		err = multierr.Append(err, r.teardown(b))
	}
	sort.Strings(channels)
	return channels, err
}

// CloseAll tears down every binding in the registry.
func (r *Registry) CloseAll() error {
	r.bindingsMux.Lock()
	all := make([]*Binding, 0, len(r.bindings))
	for key, b := range r.bindings {
		all = append(all, b)
		delete(r.bindings, key)
	}
	r.bindingsMux.Unlock()

	var err error
	for _, b := range all {
		err = multierr.Append(err, r.teardown(b))
	}
	return err
}

func (r *Registry) teardown(b *Binding) error {
	active, err := b.close()
	if active {
		r.metrics.Bindings.Dec()
	}
	if err != nil {
		log.WithFields(log.Fields{
			"conn":    b.Key.Conn,
			"channel": b.Key.Channel,
		}).Warnf("Closing remote socket failed: %v", err)
	}
	return err
}
