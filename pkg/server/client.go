// Package server provides the IRC endpoint of the bridge
package server

import (
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// outboundQueue is the number of lines buffered for a slow client.
const outboundQueue = 256

// writeTimeout bounds a single write to the client socket.
const writeTimeout = 10 * time.Second

// Client represents a connected IRC client.
// It stores the client's identity and connection info and implements
// bridge.Connection. Identity fields are protected by clientMux.
type Client struct {
	identifier uuid.UUID
	nick       string
	user       string
	realname   string
	hasUser    bool
	host       string
	conn       net.Conn
	clientMux  *sync.Mutex

	outbound  chan string
	done      chan struct{}
	closeOnce *sync.Once
	writer    sync.WaitGroup
}

func newClient(conn net.Conn, host string) *Client {
	c := &Client{
		identifier: uuid.Must(uuid.NewRandom()),
		user:       "*",
		host:       host,
		conn:       conn,
		clientMux:  &sync.Mutex{},
		outbound:   make(chan string, outboundQueue),
		done:       make(chan struct{}),
		closeOnce:  &sync.Once{},
	}
	c.writer.Add(1)
	go c.writeLoop()
	return c
}

// ID returns the session id of the client.
func (c *Client) ID() uuid.UUID {
	return c.identifier
}

// Nick returns the current nickname.
func (c *Client) Nick() string {
	c.clientMux.Lock()
	defer c.clientMux.Unlock()
	return c.nick
}

// SetNick changes the nickname.
func (c *Client) SetNick(nick string) {
	c.clientMux.Lock()
	defer c.clientMux.Unlock()
	c.nick = nick
}

// Mask returns nick!user@host.
func (c *Client) Mask() string {
	c.clientMux.Lock()
	defer c.clientMux.Unlock()
	return fmt.Sprintf("%s!%s@%s", c.nick, c.user, c.host)
}

func (c *Client) setUser(user, realname string) {
	c.clientMux.Lock()
	defer c.clientMux.Unlock()
	c.user = user
	c.realname = realname
	c.hasUser = true
}

// Send queues line for the client. CR and LF inside line are replaced so a
// remote payload cannot inject extra IRC lines. Lines sent after the client
// was closed are dropped.
func (c *Client) Send(line string) {
	line = strings.NewReplacer("\r", " ", "\n", " ").Replace(line)
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.outbound <- line:
	case <-c.done:
	}
}

func (c *Client) writeLoop() {
	defer c.writer.Done()
	for {
		select {
		case line := <-c.outbound:
			c.write(line)
		case <-c.done:
			// flush what was queued before the close
			for {
				select {
				case line := <-c.outbound:
					c.write(line)
				default:
					return
				}
			}
		}
	}
}

func (c *Client) write(line string) {
	log.Debugf(">> %s", line)
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if _, err := c.conn.Write([]byte(line + "\r\n")); err != nil {
		log.Debugf("Write to %s failed: %v", c.identifier, err)
	}
}

// close stops the writer after flushing queued lines, then writes the
// closing ERROR line and closes the connection.
func (c *Client) close(reason string) {
	c.closeOnce.Do(func() {
		close(c.done)
		c.writer.Wait()
		if reason != "" {
			c.write(fmt.Sprintf("ERROR :Closing Link: %s (%s)", c.Nick(), reason))
		}
		c.conn.Close()
	})
}
