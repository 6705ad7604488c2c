// Package signaling is the dialing side of the wire protocol: one
// persistent websocket per participant per room.
package signaling

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/mentorlab/callkit/internal/domain"
)

const writeWait = 10 * time.Second

var ErrAlreadyOpen = errors.New("signaling channel already open")

// Handler consumes one typed inbound message. Handlers run on the read
// loop goroutine, so messages of one channel are dispatched in the order
// they arrived.
type Handler func(*domain.Message)

type Client struct {
	baseURL string
	dialer  *websocket.Dialer

	hmu      sync.RWMutex
	handlers map[domain.SignalType]Handler
	onDown   func(error)

	writeMu sync.Mutex
	conn    *websocket.Conn

	self   domain.Participant
	opened atomic.Bool
	closed atomic.Bool
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		dialer:   websocket.DefaultDialer,
		handlers: make(map[domain.SignalType]Handler),
	}
}

// Handle registers the handler for one message type. Register everything
// before Open; there is exactly one handler per type.
func (c *Client) Handle(t domain.SignalType, h Handler) {
	c.hmu.Lock()
	c.handlers[t] = h
	c.hmu.Unlock()
}

// OnDown sets the callback for channel-level failures. It fires once, from
// the read loop, and only for failures the client did not initiate; the
// orchestrator turns it into a renderable disconnected state.
func (c *Client) OnDown(fn func(error)) {
	c.hmu.Lock()
	c.onDown = fn
	c.hmu.Unlock()
}

// Open dials the room channel and immediately announces the participant
// with a join message.
func (c *Client) Open(ctx context.Context, roomID domain.RoomID, p domain.Participant) error {
	if !c.opened.CompareAndSwap(false, true) {
		return ErrAlreadyOpen
	}
	u := fmt.Sprintf("%s/ws/video-call/%s", c.baseURL, roomID)
	conn, resp, err := c.dialer.DialContext(ctx, u, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		c.opened.Store(false)
		return fmt.Errorf("dial %s: %w", u, err)
	}
	c.conn = conn
	c.self = p

	if err := c.Send(domain.NewJoin(p)); err != nil {
		_ = conn.Close()
		c.opened.Store(false)
		return fmt.Errorf("send join: %w", err)
	}

	go c.readLoop()
	log.Info().Str("module", "client.signaling").Str("room", string(roomID)).
		Str("participant", string(p.ID)).Msg("channel open")
	return nil
}

func (c *Client) Send(m *domain.Message) error {
	b, err := m.Encode()
	if err != nil {
		return fmt.Errorf("encode %s: %w", m.Type, err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.conn == nil {
		return errors.New("channel not open")
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, b)
}

func (c *Client) readLoop() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if !c.closed.Load() {
				log.Warn().Err(err).Str("module", "client.signaling").Msg("channel down")
				c.hmu.RLock()
				down := c.onDown
				c.hmu.RUnlock()
				if down != nil {
					down(err)
				}
			}
			return
		}
		c.dispatch(data)
	}
}

// dispatch hands the frame to exactly one typed handler. A malformed or
// unknown frame is logged and dropped, never fatal.
func (c *Client) dispatch(data []byte) {
	msg, err := domain.DecodeMessage(data)
	if err != nil {
		log.Warn().Err(err).Str("module", "client.signaling").Msg("bad inbound frame")
		return
	}
	c.hmu.RLock()
	h := c.handlers[msg.Type]
	c.hmu.RUnlock()
	if h == nil {
		log.Warn().Str("module", "client.signaling").Str("type", string(msg.Type)).Msg("unhandled signal")
		return
	}
	h(msg)
}

// Close sends a best-effort leave and tears the channel down. Safe to call
// more than once and from any state.
func (c *Client) Close() {
	if !c.opened.Load() {
		return
	}
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	// Best effort: the channel may already be unusable.
	if err := c.Send(domain.NewLeave(c.self)); err != nil {
		log.Debug().Err(err).Str("module", "client.signaling").Msg("leave not delivered")
	}
	c.writeMu.Lock()
	if c.conn != nil {
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = c.conn.Close()
	}
	c.writeMu.Unlock()
	log.Info().Str("module", "client.signaling").Msg("channel closed")
}
