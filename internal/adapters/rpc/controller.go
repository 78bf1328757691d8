package rpc

import (
	"context"
	"net/http"
	"time"

	"github.com/dkeye/bridge/internal/app/orch"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

type Options struct {
	ReadLimit    int64
	PingPeriod   time.Duration
	WriteTimeout time.Duration
	SendBuffer   int
}

// RPCController accepts client connections. The newest connection is the
// active one; the connection it supersedes is closed.
type RPCController struct {
	Orch *orch.Orchestrator
	Opts Options
}

func NewRPCController(o *orch.Orchestrator, opts Options) *RPCController {
	if opts.PingPeriod <= 0 {
		opts.PingPeriod = 54 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 256
	}
	return &RPCController{Orch: o, Opts: opts}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (ctl *RPCController) pongWait() time.Duration {
	return ctl.Opts.PingPeriod * 10 / 9
}

func (ctl *RPCController) HandleConnection(ctx context.Context, c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "rpc").Msg("ws upgrade")
		return
	}

	conn := newWsConn(uuid.NewString(), ws, ctl.Opts.SendBuffer)
	log.Info().Str("module", "rpc").Str("conn", conn.ID()).Str("remote", c.Request.RemoteAddr).Msg("client connected")

	if prev := ctl.Orch.Session.Attach(conn); prev != nil {
		prev.Close()
	}
	ctl.Orch.Metrics.ActiveConnections.Set(1)

	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, cancel, conn)
}
