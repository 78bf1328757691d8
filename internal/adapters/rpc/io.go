package rpc

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

func (ctl *RPCController) writePump(ctx context.Context, c *WsConn) {
	ticker := time.NewTicker(ctl.Opts.PingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "rpc").Str("conn", c.ID()).Msg("writePump ctx done")
			return
		case <-c.done:
			log.Debug().Str("module", "rpc").Str("conn", c.ID()).Msg("writePump connection closed")
			return
		case data := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(ctl.Opts.WriteTimeout)); err != nil {
				log.Error().Err(err).Str("module", "rpc").Str("conn", c.ID()).Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "rpc").Str("conn", c.ID()).Msg("writePump write error")
				return
			}
		case <-ticker.C:
			deadline := time.Now().Add(ctl.Opts.WriteTimeout)
			if err := c.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				log.Error().Err(err).Str("module", "rpc").Str("conn", c.ID()).Msg("writePump ping error")
				return
			}
		}
	}
}

func (ctl *RPCController) readPump(ctx context.Context, cancel context.CancelFunc, c *WsConn) {
	defer func() {
		log.Info().Str("module", "rpc").Str("conn", c.ID()).Msg("client disconnected")
		if ctl.Orch.Session.Detach(c) {
			ctl.Orch.Metrics.ActiveConnections.Set(0)
		}
		cancel()
		c.Close()
	}()

	if ctl.Opts.ReadLimit > 0 {
		c.conn.SetReadLimit(ctl.Opts.ReadLimit)
	}
	_ = c.conn.SetReadDeadline(time.Now().Add(ctl.pongWait()))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(ctl.pongWait()))
	})

	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "rpc").Str("conn", c.ID()).Msg("readPump ctx done")
			return
		default:
		}
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("module", "rpc").Str("conn", c.ID()).Msg("readPump read error")
			}
			return
		}
		// Any frame proves liveness.
		_ = c.conn.SetReadDeadline(time.Now().Add(ctl.pongWait()))
		ctl.Orch.Dispatch(ctx, c, data)
	}
}
