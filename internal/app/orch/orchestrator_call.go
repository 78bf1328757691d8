package orch

import (
	"context"
	"fmt"
	"time"

	"github.com/dkeye/bridge/internal/core"
	"github.com/dkeye/bridge/internal/domain"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type invoker func(ctx context.Context, method string, args []any) (any, error)

func (o *Orchestrator) goCall(ctx context.Context, conn core.Connection, req *domain.Request, invoke invoker) {
	var p domain.CallPayload
	if err := o.decode(req, &p); err != nil {
		o.fail(ctx, conn, req.ID, err)
		return
	}
	if !o.track() {
		o.fail(ctx, conn, req.ID, ErrShuttingDown)
		return
	}
	go func() {
		defer o.inflight.Done()
		o.handleCall(ctx, conn, req, p, invoke)
	}()
}

func (o *Orchestrator) handleCall(ctx context.Context, conn core.Connection, req *domain.Request, p domain.CallPayload, invoke invoker) {
	ctx, span := o.tracer.Start(ctx, "bridge."+string(req.Cmd), trace.WithAttributes(
		attribute.String("bridge.method", p.Method),
		attribute.Int("bridge.args", len(p.Args)),
	))
	defer span.End()

	start := time.Now()
	// Operations are not cancelled when the client goes away.
	result, err := invoke(context.WithoutCancel(ctx), p.Method, p.Args)
	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	o.Metrics.CallDuration.WithLabelValues(string(req.Cmd), status).Observe(time.Since(start).Seconds())

	if err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("cmd", string(req.Cmd)).Str("method", p.Method).Msg("call failed")
		o.fail(ctx, conn, req.ID, err)
		return
	}
	log.Debug().Str("module", "orch").Str("cmd", string(req.Cmd)).Str("method", p.Method).Dur("took", time.Since(start)).Msg("call done")
	o.respond(ctx, conn, req, result)
}

func (o *Orchestrator) callBackend(ctx context.Context, method string, args []any) (any, error) {
	backend, ok := o.Session.Backend()
	if !ok {
		return nil, core.ErrNotInitialized
	}
	return safeInvoke(ctx, backend.Operations(), method, args)
}

func (o *Orchestrator) callStatic(ctx context.Context, method string, args []any) (any, error) {
	return safeInvoke(ctx, o.Statics, method, args)
}

func safeInvoke(ctx context.Context, ops *core.Operations, method string, args []any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("operation %s panicked: %v", method, r)
		}
	}()
	return ops.Invoke(ctx, method, args)
}
