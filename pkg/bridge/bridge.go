// Package bridge translates between IRC connections and a remote chat backend
// that speaks typed JSON envelopes over one WebSocket per channel.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/tehcyx/girc-bridge/pkg/metrics"
)

// DefaultKeepAlive is the heartbeat period of a bound socket.
const DefaultKeepAlive = time.Second

// DefaultColor is the display color announced in the greeting.
const DefaultColor = "#ffffff"

// Connection is the bridge's handle on one IRC client session. The IRC
// server owns it; the bridge reads it and renames it on NICK.
type Connection interface {
	// ID is stable for the life of the session.
	ID() uuid.UUID
	Nick() string
	SetNick(nick string)
	// Mask returns nick!user@host.
	Mask() string
	// Send queues one IRC line, without line terminator, for the client.
	Send(line string)
}

// Options configures a Bridge.
type Options struct {
	// ServerName prefixes numeric replies and notices
	ServerName string
	// BaseURL of the remote backend, e.g. wss://chat.example.com
	BaseURL string
	// KeepAlive is the heartbeat period, DefaultKeepAlive when zero
	KeepAlive time.Duration
	// Color is announced with the greeting, DefaultColor when empty
	Color string
}

func (o Options) withDefaults() Options {
	if o.KeepAlive <= 0 {
		o.KeepAlive = DefaultKeepAlive
	}
	if o.Color == "" {
		o.Color = DefaultColor
	}
	return o
}

// Bridge owns the state shared by all sessions: the presence store, the
// socket registry and the translator.
type Bridge struct {
	opts       Options
	presence   PresenceStore
	registry   *Registry
	translator *Translator
}

// New wires a bridge. A nil presence store selects MemoryPresence and nil
// metrics are registered on a private registry.
func New(opts Options, presence PresenceStore, dialer Dialer, m *metrics.Metrics) *Bridge {
	opts = opts.withDefaults()
	if presence == nil {
		presence = NewMemoryPresence()
	}
	if m == nil {
		m = metrics.New(prometheus.NewRegistry())
	}
	registry := NewRegistry(dialer, opts, m)
	return &Bridge{
		opts:       opts,
		presence:   presence,
		registry:   registry,
		translator: NewTranslator(opts.ServerName, presence, registry, m),
	}
}

// Presence returns the shared presence store.
func (br *Bridge) Presence() PresenceStore {
	return br.presence
}

// Registry returns the shared socket registry.
func (br *Bridge) Registry() *Registry {
	return br.registry
}

// Close tears down every binding.
func (br *Bridge) Close() error {
	return br.registry.CloseAll()
}

// allNames is the union of the rosters of every bound channel.
func (br *Bridge) allNames() []string {
	seen := make(map[string]bool)
	var names []string
	for _, channel := range br.registry.Channels() {
		for _, name := range br.presence.Names(channel) {
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
	}
	return names
}

// Session binds the IRC events of one connection to the bridge.
func (br *Bridge) Session(conn Connection) *Session {
	return &Session{bridge: br, conn: conn}
}

// Session handles the IRC events of one connection. Its methods are called
// from the connection's command loop, one at a time.
type Session struct {
	bridge *Bridge
	conn   Connection
}

// Authenticated is called once registration completes.
func (s *Session) Authenticated() {
	log.Infof("%s has logged in on connection %s", s.conn.Nick(), s.conn.ID())
}

// Join opens the remote socket for channel. The JOIN is echoed before the
// socket is dialed so the client sees it ahead of any remote traffic; if the
// dial fails the client is told and parted again.
func (s *Session) Join(ctx context.Context, channel string) error {
	br := s.bridge
	if _, ok := br.registry.Lookup(s.conn.ID(), channel); ok {
		log.Infof("%s is already bound to %s, ignoring JOIN", s.conn.Nick(), channel)
		return fmt.Errorf("%w: %s", ErrAlreadyBound, channel)
	}

	br.presence.Join(channel, s.conn.Nick())
	s.conn.Send(fmt.Sprintf(":%s %s %s", s.conn.Mask(), JoinCmd, channel))

	if _, err := br.registry.Bind(ctx, s.conn, channel, br.translator); err != nil {
		if errors.Is(err, ErrAlreadyBound) {
			return err
		}
		br.translator.metrics.TransportErrors.Inc()
		log.Errorf("Could not bind %s for %s: %v", channel, s.conn.Nick(), err)
		br.presence.Leave(channel, s.conn.Nick())
		br.translator.notice(s.conn, fmt.Sprintf("could not connect to websocket for %s", channel))
		s.conn.Send(fmt.Sprintf(":%s %s %s", s.conn.Mask(), PartCmd, channel))
		return err
	}
	return nil
}

// Part closes the remote socket of channel and echoes the PART.
func (s *Session) Part(channel string) error {
	br := s.bridge
	if _, ok := br.registry.Lookup(s.conn.ID(), channel); !ok {
		s.reply(ErrNotOnChannel, channel, "You're not on that channel")
		return fmt.Errorf("%w: %s", ErrNoActiveBinding, channel)
	}
	if err := br.registry.Unbind(s.conn.ID(), channel); err != nil {
		log.Errorf("Unbinding %s for %s: %v", channel, s.conn.Nick(), err)
	}
	br.presence.Leave(channel, s.conn.Nick())
	s.conn.Send(fmt.Sprintf(":%s %s %s", s.conn.Mask(), PartCmd, channel))
	return nil
}

// Privmsg sends text to the remote socket of channel.
func (s *Session) Privmsg(channel, text string) error {
	if err := s.bridge.translator.Privmsg(s.conn, channel, text); err != nil {
		if errors.Is(err, ErrNoActiveBinding) {
			s.reply(ErrCannotSendToChan, channel, "Cannot send to channel")
		} else {
			log.Errorf("PRIVMSG %s from %s: %v", channel, s.conn.Nick(), err)
		}
		return err
	}
	return nil
}

// Names replies with the roster of channel, or with the union of every bound
// channel's roster when channel is empty.
func (s *Session) Names(channel string) error {
	br := s.bridge
	if channel == "" {
		br.translator.SendNames(s.conn, allChannels, br.allNames())
		return nil
	}
	if _, ok := br.registry.Lookup(s.conn.ID(), channel); !ok {
		s.reply(ErrNotOnChannel, channel, "You're not on that channel")
		return fmt.Errorf("%w: %s", ErrNoActiveBinding, channel)
	}
	br.translator.SendNames(s.conn, channel, br.presence.Names(channel))
	return nil
}

// Ping answers with PONG without touching the remote side.
func (s *Session) Ping(token string) {
	name := s.bridge.opts.ServerName
	s.conn.Send(fmt.Sprintf(":%s %s %s :%s", name, PingPongCmd, name, token))
}

// Nick renames the connection on every bound socket and echoes the change.
func (s *Session) Nick(newNick string) error {
	oldMask := s.conn.Mask()
	err := s.bridge.translator.Nick(s.conn, newNick)
	if err != nil {
		log.Errorf("Announcing nick %s: %v", newNick, err)
	}
	s.conn.Send(fmt.Sprintf(":%s %s %s", oldMask, NickCmd, newNick))
	return err
}

// Quit tears down every binding of the connection. A failing close does not
// stop the remaining teardowns.
func (s *Session) Quit() {
	br := s.bridge
	log.Infof("%s has disconnected.", s.conn.Mask())

	channels, err := br.registry.UnbindAll(s.conn.ID())
	for _, channel := range channels {
		br.presence.Leave(channel, s.conn.Nick())
	}
	if err != nil {
		log.Errorf("Teardown for %s finished with errors: %v", s.conn.Nick(), err)
	}
}

// Error logs a connection-level error.
func (s *Session) Error(err error) {
	log.Errorf("Connection %s (%s): %v", s.conn.ID(), s.conn.Nick(), err)
}

func (s *Session) reply(code, channel, text string) {
	s.conn.Send(fmt.Sprintf(":%s %s %s %s :%s", s.bridge.opts.ServerName, code, s.conn.Nick(), channel, text))
}
