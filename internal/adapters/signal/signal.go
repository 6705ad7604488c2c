package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/mentorlab/callkit/internal/app"
	"github.com/mentorlab/callkit/internal/config"
	"github.com/mentorlab/callkit/internal/core"
	"github.com/mentorlab/callkit/internal/domain"
)

var ErrBackpressure = errors.New("backpressure")

type Controller struct {
	Orch    *app.Orchestrator
	Limiter *app.JoinRateLimiter
	cfg     *config.Config
}

func NewController(orch *app.Orchestrator, cfg *config.Config) *Controller {
	return &Controller{
		Orch:    orch,
		Limiter: app.NewJoinRateLimiter(cfg.JoinLimit, cfg.JoinInterval),
		cfg:     cfg,
	}
}

type wsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *wsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *wsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

// connState is the per-channel context threaded through the handlers.
type connState struct {
	cid    core.ConnID
	roomID domain.RoomID
	conn   *wsSignalConn
	cancel context.CancelFunc
	joined bool
	self   domain.Participant
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (ctl *Controller) HandleSignal(ctx context.Context, c *gin.Context) {
	cid := core.ConnID(c.GetString("client_token"))
	roomID := domain.RoomID(c.Param("room_id"))
	if roomID == "" {
		c.Status(http.StatusNotFound)
		return
	}
	log.Info().Str("module", "signal").Str("conn", string(cid)).
		Str("room", string(roomID)).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	conn := &wsSignalConn{
		conn: ws,
		send: make(chan core.Frame, 32),
	}

	ctx, cancel := context.WithCancel(ctx)
	cs := &connState{cid: cid, roomID: roomID, conn: conn, cancel: cancel}

	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, cs)
}

func (ctl *Controller) sendJSON(c *wsSignalConn, m *domain.Message) {
	b, err := m.Encode()
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	_ = c.TrySend(b)
}

func (ctl *Controller) sendError(c *wsSignalConn, text string) {
	ctl.sendJSON(c, domain.NewError(text))
}
