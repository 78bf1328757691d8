package orch

import (
	"context"

	"github.com/dkeye/bridge/internal/app"
	"github.com/dkeye/bridge/internal/core"
	"github.com/dkeye/bridge/internal/domain"
	"github.com/rs/zerolog/log"
)

func (o *Orchestrator) handleInit(ctx context.Context, conn core.Connection, req *domain.Request) {
	var p domain.InitPayload
	if err := o.decode(req, &p); err != nil {
		o.fail(ctx, conn, req.ID, err)
		return
	}
	err := o.Lifecycle.Initialize(ctx, app.InitParams{AuthPath: p.AuthPath, Config: p.Config})
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Str("conn", conn.ID()).Msg("init failed")
		o.fail(ctx, conn, req.ID, err)
		return
	}
	log.Info().Str("module", "orch").Str("conn", conn.ID()).Msg("backend initialized")
	o.respond(ctx, conn, req, domain.InitResult)
}

func (o *Orchestrator) handleSubscribe(ctx context.Context, conn core.Connection, req *domain.Request) {
	var p domain.SubscribePayload
	if err := o.decode(req, &p); err != nil {
		o.fail(ctx, conn, req.ID, err)
		return
	}
	registered := o.Session.Subscribe(p.Event, o.Fanout.Bind)
	log.Info().Str("module", "orch").Str("event", p.Event).Bool("registered", registered).Msg("subscribe")
}

func (o *Orchestrator) handleUnsubscribe(ctx context.Context, conn core.Connection, req *domain.Request) {
	var p domain.SubscribePayload
	if err := o.decode(req, &p); err != nil {
		o.fail(ctx, conn, req.ID, err)
		return
	}
	removed := o.Session.Unsubscribe(p.Event)
	log.Info().Str("module", "orch").Str("event", p.Event).Bool("removed", removed).Msg("unsubscribe")
}
