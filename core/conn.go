package core

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

// Conn is one live transport session belonging to an Identity.
// An identity may own many connections (multi-device); each gets its
// own read/write goroutine pair.
type Conn struct {
	sock     *websocket.Conn
	identity Identity
	id       int64
	out      chan *Event
	inbound  chan<- *Event
	done     chan struct{}
	once     sync.Once
	ticker   *time.Ticker
	logger   *slog.Logger
	onClose  func(*Conn)
}

func (c *Conn) Identity() Identity {
	return c.identity
}

func (c *Conn) ID() int64 {
	return c.id
}

// trySend enqueues an event for delivery without blocking. It reports
// false when the connection is closed or its buffer is full.
func (c *Conn) trySend(e *Event) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.out <- e:
		return true
	default:
		return false
	}
}

// close signals the write loop to send a close frame and exit.
// Events still buffered are dropped.
func (c *Conn) close() {
	c.once.Do(func() {
		close(c.done)
	})
}

// kill force-closes the underlying socket. The read loop's error path
// performs the usual cleanup, so a killed connection is unregistered
// the same way as a peer-initiated close.
func (c *Conn) kill() {
	c.sock.Close()
}

func (c *Conn) readLoop() {
	defer func() {
		c.onClose(c)
		c.sock.Close()
		c.logger.Info("read loop stopped")
	}()

	c.sock.SetReadDeadline(time.Now().Add(pongWait))
	c.sock.SetPongHandler(func(string) error {
		c.sock.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		format, r, err := c.sock.NextReader()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug(fmt.Sprintf("expected close: %v", err))
				return
			}
			if websocket.IsUnexpectedCloseError(err) {
				c.logger.Error(fmt.Sprintf("unexpected close: %v", err))
				return
			}
			c.logger.Error(fmt.Sprintf("NextReader: %v", err))
			return
		}

		if format != websocket.TextMessage {
			c.logger.Error(fmt.Sprintf("unexpected message format: %d", format))
			continue
		}

		var event Event
		if err := DecodeEvent(r, &event); err != nil {
			c.logger.Error(err.Error())
			continue
		}
		event.sender = c

		select {
		case c.inbound <- &event:
		case <-c.done:
			return
		}
	}
}

func (c *Conn) writeLoop() {
	var err error
	defer func() {
		c.ticker.Stop()
		if err != nil {
			c.sock.Close()
		}
		c.logger.Info("write loop stopped")
	}()

	for {
		select {
		case <-c.done:
			c.sock.SetWriteDeadline(time.Now().Add(writeWait))
			c.sock.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case e := <-c.out:
			c.sock.SetWriteDeadline(time.Now().Add(writeWait))
			w, werr := c.sock.NextWriter(websocket.TextMessage)
			if werr != nil {
				err = werr
				c.logger.Error(fmt.Sprintf("NextWriter: %v", werr))
				return
			}
			if err := EncodeEvent(w, e); err != nil {
				c.logger.Error(err.Error())
			}
			w.Close()
		case <-c.ticker.C:
			c.sock.SetWriteDeadline(time.Now().Add(writeWait))
			if err = c.sock.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Error(fmt.Sprintf("writing ping: %v", err))
				return
			}
		}
	}
}
