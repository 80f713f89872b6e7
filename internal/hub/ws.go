package hub

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/vdetect/streamguard/pkg/types"
)

// sendTimeout bounds one websocket write so a stalled peer cannot block
// the broadcaster.
const sendTimeout = 5 * time.Second

// WSSubscriber adapts one websocket connection to the Subscriber
// interface. Writes are serialized; gorilla connections allow only one
// concurrent writer.
type WSSubscriber struct {
	id   string
	mu   sync.Mutex
	conn *websocket.Conn
}

// NewWSSubscriber wraps an upgraded connection.
func NewWSSubscriber(conn *websocket.Conn) *WSSubscriber {
	return &WSSubscriber{
		id:   uuid.NewString(),
		conn: conn,
	}
}

// ID returns the subscriber's unique id.
func (s *WSSubscriber) ID() string { return s.id }

// Send writes one tagged JSON message with a bounded deadline.
func (s *WSSubscriber) Send(msg types.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_ = s.conn.SetWriteDeadline(time.Now().Add(sendTimeout))
	return s.conn.WriteJSON(msg)
}

// Close closes the underlying connection. Idempotent.
func (s *WSSubscriber) Close() error {
	return s.conn.Close()
}
