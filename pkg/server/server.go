package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/go-irc/irc"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/tehcyx/girc-bridge/internal/config"
	"github.com/tehcyx/girc-bridge/pkg/bridge"
	"github.com/tehcyx/girc-bridge/pkg/version"
)

// maxNickLength is the longest nickname accepted
const maxNickLength = 20

var nickPattern = regexp.MustCompile(`^[a-zA-Z\[\]\\` + "`" + `_^{|}][a-zA-Z0-9\[\]\\` + "`" + `_^{|}-]*$`)

// Server accepts IRC clients and hands their commands to the bridge.
type Server struct {
	clients    map[uuid.UUID]*Client
	nicks      map[string]uuid.UUID // lower-cased nick -> client
	clientsMux *sync.Mutex

	bridge  *bridge.Bridge
	host    string
	name    string
	motd    string
	created time.Time

	ClientTimeout time.Duration

	handlers sync.WaitGroup
}

// New creates a server for the given configuration and bridge.
func New(cfg *config.Config, br *bridge.Bridge) *Server {
	return &Server{
		clients:       make(map[uuid.UUID]*Client),
		nicks:         make(map[string]uuid.UUID),
		clientsMux:    &sync.Mutex{},
		bridge:        br,
		host:          cfg.Server.Host,
		name:          cfg.Server.Name,
		motd:          cfg.Server.Motd,
		created:       time.Now(),
		ClientTimeout: 15 * time.Minute,
	}
}

// ListenAndServe listens on all interfaces at port and serves until ctx is
// cancelled.
func (s *Server) ListenAndServe(ctx context.Context, port string) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%s", port))
	if err != nil {
		return fmt.Errorf("listen failed, port possibly in use already: %w", err)
	}
	log.Infof("Server is listening for connections on port %s", port)
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled, then disconnects
// every client and waits for their sessions to be torn down.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			log.Errorf("Failed to accept connection: %v", err)
			continue
		}
		s.handlers.Add(1)
		go func() {
			defer s.handlers.Done()
			s.HandleClient(conn)
		}()
	}

	s.clientsMux.Lock()
	clients := make([]*Client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.clientsMux.Unlock()

	log.Infof("Disconnecting %d clients gracefully...", len(clients))
	for _, c := range clients {
		c.close("Server shutting down")
	}
	s.handlers.Wait()
	return nil
}

// HandleClient runs the command loop of one connection until the client
// quits or the connection fails.
func (s *Server) HandleClient(conn net.Conn) {
	log.Infof("Client connecting from %s, handling connection ...", conn.RemoteAddr())

	client := newClient(conn, s.host)
	s.addClient(client)
	session := s.bridge.Session(client)
	registered := false
	disconnectReason := "Client Quit"

	defer func() {
		if registered {
			session.Quit()
		}
		s.removeClient(client)
		client.close(disconnectReason)
	}()

	// Create reader ONCE before the loop, not on every iteration
	// This prevents buffered data from being lost between reads
	reader := bufio.NewReader(conn)

	for {
		// Set a deadline for reading. Read operation will fail if no data
		// is received after deadline.
		conn.SetReadDeadline(time.Now().Add(s.ClientTimeout))

		line, err := reader.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				log.Infof("Client %s hung up", client.ID())
			} else {
				disconnectReason = "Connection lost"
				session.Error(err)
			}
			return
		}

		line = strings.TrimRight(line, "\r\n")
		if strings.TrimSpace(line) == "" {
			continue
		}
		log.Debugf("<< %s", line)

		msg, err := irc.ParseMessage(line)
		if err != nil {
			log.Infof("Dropping unparsable line from %s: %v", client.ID(), err)
			continue
		}

		cmd := strings.ToUpper(msg.Command)
		switch {
		case cmd == QuitCmd:
			return
		case cmd == CapCmd || cmd == PassCmd:
			// not supported, silently ignored
		case cmd == NickCmd && !registered:
			s.registerNick(client, msg.Params)
			registered = s.completeRegistration(client, session)
		case cmd == UserCmd && !registered:
			s.registerUser(client, msg.Params)
			registered = s.completeRegistration(client, session)
		case cmd == UserCmd:
			s.reply(client, ErrAlreadyRegistred, ":You may not reregister")
		case !registered:
			log.Debugf("Ignoring %s before registration", cmd)
		case cmd == NickCmd:
			s.changeNick(client, session, msg.Params)
		case cmd == PingCmd:
			if len(msg.Params) == 0 {
				s.reply(client, ErrNoOrigin, ":No origin specified")
				continue
			}
			session.Ping(msg.Params[0])
		case cmd == JoinCmd:
			s.join(client, session, msg.Params)
		case cmd == PartCmd:
			if len(msg.Params) == 0 {
				s.reply(client, ErrNeedMoreParams, PartCmd+" :Not enough parameters")
				continue
			}
			for _, channel := range splitTargets(msg.Params[0]) {
				session.Part(channel)
			}
		case cmd == PrivmsgCmd:
			s.privmsg(client, session, msg.Params)
		case cmd == NamesCmd:
			if len(msg.Params) == 0 {
				session.Names("")
				continue
			}
			for _, channel := range splitTargets(msg.Params[0]) {
				session.Names(channel)
			}
		case cmd == MotdCmd:
			s.sendMotd(client)
		default:
			log.Debugf("Ignoring unsupported command %s from %s", cmd, client.Nick())
		}
	}
}

func (s *Server) registerNick(client *Client, params []string) {
	if len(params) == 0 || params[0] == "" {
		s.reply(client, ErrNickNull, ":No nickname given")
		return
	}
	nick := params[0]
	if !validNick(nick) {
		s.reply(client, ErrNickInvalid, fmt.Sprintf("%s :Erroneous nickname", nick))
		return
	}
	if !s.reserveNick(client, nick) {
		s.reply(client, ErrNickInUse, fmt.Sprintf("%s :Nickname is already in use", nick))
		return
	}
	client.SetNick(nick)
}

func (s *Server) registerUser(client *Client, params []string) {
	// USER <user> <mode> <unused> :<realname>
	if len(params) < 4 {
		s.reply(client, ErrNeedMoreParams, UserCmd+" :Not enough parameters")
		return
	}
	client.setUser(params[0], params[3])
}

// completeRegistration welcomes the client once both NICK and USER arrived.
func (s *Server) completeRegistration(client *Client, session *bridge.Session) bool {
	client.clientMux.Lock()
	ready := client.nick != "" && client.hasUser
	client.clientMux.Unlock()
	if !ready {
		return false
	}

	nick := client.Nick()
	client.Send(fmt.Sprintf(":%s %s %s :Welcome to the Internet Relay Network %s", s.host, RplWelcome, nick, client.Mask()))
	client.Send(fmt.Sprintf(":%s %s %s :Your host is %s, running version %s", s.host, RplYourHost, nick, s.host, version.GetVersion()))
	client.Send(fmt.Sprintf(":%s %s %s :This server was created %s", s.host, RplCreated, nick, s.created.Format(time.RFC1123)))
	client.Send(fmt.Sprintf(":%s %s %s %s %s o o", s.host, RplMyInfo, nick, s.host, version.GetVersion()))
	s.sendMotd(client)

	session.Authenticated()
	return true
}

func (s *Server) changeNick(client *Client, session *bridge.Session, params []string) {
	if len(params) == 0 || params[0] == "" {
		s.reply(client, ErrNickNull, ":No nickname given")
		return
	}
	nick := params[0]
	if nick == client.Nick() {
		return
	}
	if !validNick(nick) {
		s.reply(client, ErrNickInvalid, fmt.Sprintf("%s :Erroneous nickname", nick))
		return
	}
	if !s.reserveNick(client, nick) {
		s.reply(client, ErrNickInUse, fmt.Sprintf("%s :Nickname is already in use", nick))
		return
	}
	session.Nick(nick)
}

func (s *Server) join(client *Client, session *bridge.Session, params []string) {
	if len(params) == 0 {
		s.reply(client, ErrNeedMoreParams, JoinCmd+" :Not enough parameters")
		return
	}
	for _, channel := range splitTargets(params[0]) {
		if !strings.HasPrefix(channel, "#") || len(channel) < 2 {
			s.reply(client, ErrNoSuchChannel, fmt.Sprintf("%s :No such channel", channel))
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		session.Join(ctx, channel)
		cancel()
	}
}

func (s *Server) privmsg(client *Client, session *bridge.Session, params []string) {
	if len(params) == 0 {
		s.reply(client, ErrNoRecipient, ":No recipient given (PRIVMSG)")
		return
	}
	if len(params) < 2 || params[1] == "" {
		s.reply(client, ErrNoTextToSend, ":No text to send")
		return
	}
	for _, target := range splitTargets(params[0]) {
		if !strings.HasPrefix(target, "#") {
			// only channels are bridged
			s.reply(client, ErrNoSuchNick, fmt.Sprintf("%s :No such nick/channel", target))
			continue
		}
		session.Privmsg(target, params[1])
	}
}

func (s *Server) sendMotd(client *Client) {
	nick := client.Nick()
	client.Send(fmt.Sprintf(":%s %s %s :- %s Message of the day -", s.host, RplMotdStart, nick, s.name))
	for _, line := range strings.Split(s.motd, "\n") {
		client.Send(fmt.Sprintf(":%s %s %s :- %s", s.host, RplMotd, nick, line))
	}
	client.Send(fmt.Sprintf(":%s %s %s :End of MOTD command", s.host, RplEndOfMotd, nick))
}

// reserveNick claims nick for client, releasing the client's previous nick.
// It fails when another client holds nick.
func (s *Server) reserveNick(client *Client, nick string) bool {
	key := strings.ToLower(nick)

	s.clientsMux.Lock()
	defer s.clientsMux.Unlock()

	if owner, ok := s.nicks[key]; ok && owner != client.ID() {
		return false
	}
	if old := client.Nick(); old != "" {
		delete(s.nicks, strings.ToLower(old))
	}
	s.nicks[key] = client.ID()
	return true
}

func (s *Server) addClient(client *Client) {
	s.clientsMux.Lock()
	defer s.clientsMux.Unlock()
	s.clients[client.ID()] = client
}

func (s *Server) removeClient(client *Client) {
	s.clientsMux.Lock()
	defer s.clientsMux.Unlock()

	delete(s.clients, client.ID())
	if nick := client.Nick(); nick != "" {
		key := strings.ToLower(nick)
		if s.nicks[key] == client.ID() {
			delete(s.nicks, key)
		}
	}
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.clientsMux.Lock()
	defer s.clientsMux.Unlock()
	return len(s.clients)
}

func (s *Server) reply(client *Client, code, text string) {
	nick := client.Nick()
	if nick == "" {
		nick = "*"
	}
	client.Send(fmt.Sprintf(":%s %s %s %s", s.host, code, nick, text))
}

func validNick(nick string) bool {
	return len(nick) <= maxNickLength && nickPattern.MatchString(nick)
}

func splitTargets(list string) []string {
	var targets []string
	for _, t := range strings.Split(list, ",") {
		if t = strings.TrimSpace(t); t != "" {
			targets = append(targets, t)
		}
	}
	return targets
}
