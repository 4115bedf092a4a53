package websocket

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
)

const (
	writeDeadline = 5 * time.Second
	pingInterval  = 30 * time.Second
	pongDeadline  = 60 * time.Second
	maxReadSize   = 4096
)

var errSubscriberClosed = errors.New("subscriber closed")

// Subscriber adapts one gorilla connection to broadcast.Subscriber. gorilla
// allows a single concurrent writer, so data frames go through writeMu;
// control frames use WriteControl, which is safe alongside them.
type Subscriber struct {
	id    string
	conn  *websocket.Conn
	clock clockwork.Clock

	writeMu   sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
}

func newSubscriber(conn *websocket.Conn, clock clockwork.Clock) *Subscriber {
	return &Subscriber{
		id:    uuid.NewString(),
		conn:  conn,
		clock: clock,
		done:  make(chan struct{}),
	}
}

func (s *Subscriber) ID() string {
	return s.id
}

func (s *Subscriber) Send(msg string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	select {
	case <-s.done:
		return errSubscriberClosed
	default:
	}

	_ = s.conn.SetWriteDeadline(s.clock.Now().Add(writeDeadline))
	return s.conn.WriteMessage(websocket.TextMessage, []byte(msg))
}

// Close sends a normal-closure frame carrying reason and closes the
// connection. Only the first call has an effect.
func (s *Subscriber) Close(reason string) error {
	err := errSubscriberClosed
	s.closeOnce.Do(func() {
		close(s.done)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
		_ = s.conn.WriteControl(websocket.CloseMessage, msg, s.clock.Now().Add(writeDeadline))
		err = s.conn.Close()
	})
	return err
}

// readLoop discards client frames and returns when the connection fails or
// the peer stops answering pings.
func (s *Subscriber) readLoop() {
	s.conn.SetReadLimit(maxReadSize)
	_ = s.conn.SetReadDeadline(s.clock.Now().Add(pongDeadline))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(s.clock.Now().Add(pongDeadline))
	})

	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Subscriber) pingLoop() {
	ticker := s.clock.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.Chan():
			if err := s.conn.WriteControl(websocket.PingMessage, nil, s.clock.Now().Add(writeDeadline)); err != nil {
				return
			}
		case <-s.done:
			return
		}
	}
}
