package bridge

import (
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"github.com/tehcyx/girc-bridge/pkg/metrics"
)

// Translator converts IRC commands into remote envelopes and remote
// envelopes into IRC lines. It implements Handler for bound sockets.
type Translator struct {
	serverName string
	presence   PresenceStore
	registry   *Registry
	metrics    *metrics.Metrics
}

// NewTranslator creates a translator sharing presence and registry with the
// rest of the bridge.
func NewTranslator(serverName string, presence PresenceStore, registry *Registry, m *metrics.Metrics) *Translator {
	return &Translator{
		serverName: serverName,
		presence:   presence,
		registry:   registry,
		metrics:    m,
	}
}

// Privmsg forwards text typed in channel to its remote socket.
func (t *Translator) Privmsg(conn Connection, channel, text string) error {
	b, ok := t.registry.Lookup(conn.ID(), channel)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoActiveBinding, channel)
	}
	if err := b.Send(ChatSend(text)); err != nil {
		return err
	}
	t.metrics.Envelopes.WithLabelValues("out", "chat").Inc()
	return nil
}

// Nick announces newNick on every socket owned by conn, renames the
// connection in the rosters of those channels and finally updates the
// connection's nickname. A failing socket does not stop the others.
func (t *Translator) Nick(conn Connection, newNick string) error {
	oldNick := conn.Nick()

	var err error
	for _, b := range t.registry.BindingsOf(conn.ID()) {
		if sendErr := b.Send(NickCommand(newNick)); sendErr != nil {
			err = multierr.Append(err, sendErr)
		} else {
			t.metrics.Envelopes.WithLabelValues("out", "nick").Inc()
		}
		renameUser(t.presence, b.Channel(), oldNick, newNick)
	}
	conn.SetNick(newNick)
	return err
}

// HandleEnvelope decodes and applies one envelope read from b.
func (t *Translator) HandleEnvelope(b *Binding, raw []byte) {
	msg, err := DecodeInbound(raw)
	if err != nil {
		t.metrics.Malformed.Inc()
		log.WithFields(log.Fields{
			"conn":    b.Key.Conn,
			"channel": b.Key.Channel,
		}).Warnf("Dropping envelope: %v", err)
		return
	}
	t.metrics.Envelopes.WithLabelValues("in", kindOf(msg)).Inc()
	t.Apply(b.Conn(), b.Channel(), msg)
}

// HandleDisconnect releases a binding whose socket failed and tells the
// client about it.
func (t *Translator) HandleDisconnect(b *Binding, err error) {
	t.metrics.TransportErrors.Inc()
	log.WithFields(log.Fields{
		"conn":    b.Key.Conn,
		"channel": b.Key.Channel,
	}).Errorf("Remote socket failed: %v", err)

	if !t.registry.release(b) {
		return
	}
	t.registry.teardown(b)

	conn := b.Conn()
	t.presence.Leave(b.Channel(), conn.Nick())
	t.notice(conn, fmt.Sprintf("lost connection to websocket for %s", b.Channel()))
	conn.Send(fmt.Sprintf(":%s %s %s", conn.Mask(), PartCmd, b.Channel()))
}

// Apply emits the IRC side effects of msg received on channel.
func (t *Translator) Apply(conn Connection, channel string, msg Inbound) {
	switch m := msg.(type) {
	case ChatMessage:
		if m.From == conn.Nick() {
			conn.Send(fmt.Sprintf(":%s %s %s :%s", conn.Mask(), PrivmsgCmd, channel, m.Message))
			return
		}
		mask := MaskFor(conn.Mask(), conn.Nick(), m.From)
		conn.Send(fmt.Sprintf(":%s %s %s :%s", mask, PrivmsgCmd, channel, escapeRemote(m.Message)))
	case TopicChange:
		conn.Send(fmt.Sprintf(":%s %s %s :%s", t.serverName, TopicCmd, channel, m.Topic))
	case PresenceJoin:
		t.presence.Join(channel, m.User)
		if m.User == conn.Nick() {
			// our own JOIN was echoed when the channel was bound
			return
		}
		conn.Send(fmt.Sprintf(":%s %s %s", MaskFor(conn.Mask(), conn.Nick(), m.User), JoinCmd, channel))
	case PresenceLeave:
		t.presence.Leave(channel, m.User)
		conn.Send(fmt.Sprintf(":%s %s %s", MaskFor(conn.Mask(), conn.Nick(), m.User), PartCmd, channel))
	case PresenceRename:
		renameUser(t.presence, channel, m.Old, m.New)
		if m.New == conn.Nick() {
			// our own rename, already echoed
			return
		}
		conn.Send(fmt.Sprintf(":%s %s %s", MaskFor(conn.Mask(), conn.Nick(), m.Old), NickCmd, m.New))
	case RosterSnapshot:
		for _, user := range m.Users {
			t.presence.Join(channel, user)
		}
		t.SendNames(conn, channel, t.presence.Names(channel))
	case RawLine:
		conn.Send(m.Line)
	case Ignored:
		log.Debugf("Ignoring envelope type %d on %s", m.Type, channel)
	default:
		log.Debugf("Ignoring envelope %T on %s", m, channel)
	}
}

// SendNames writes the NAMES reply pair for channel.
func (t *Translator) SendNames(conn Connection, channel string, names []string) {
	nick := conn.Nick()
	conn.Send(fmt.Sprintf(":%s %s %s %s %s :%s", t.serverName, RplNameReply, nick, namesVisibility, channel, strings.Join(names, " ")))
	conn.Send(fmt.Sprintf(":%s %s %s %s :End of /NAMES list.", t.serverName, RplEndOfNames, nick, channel))
}

func (t *Translator) notice(conn Connection, text string) {
	conn.Send(fmt.Sprintf(":%s %s %s :%s", t.serverName, NoticeCmd, conn.Nick(), text))
}

func kindOf(msg Inbound) string {
	switch msg.(type) {
	case ChatMessage:
		return "chat"
	case TopicChange:
		return "topic"
	case PresenceJoin:
		return "join"
	case PresenceLeave:
		return "leave"
	case PresenceRename:
		return "rename"
	case RosterSnapshot:
		return "roster"
	case RawLine:
		return "raw"
	default:
		return "ignored"
	}
}
