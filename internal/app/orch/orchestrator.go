package orch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/bridge/internal/app"
	"github.com/dkeye/bridge/internal/codec"
	"github.com/dkeye/bridge/internal/core"
	"github.com/dkeye/bridge/internal/domain"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrInvalidPayload = errors.New("invalid payload")
	ErrShuttingDown   = errors.New("bridge shutting down")
)

const tracerName = "github.com/dkeye/bridge/internal/app/orch"

// Orchestrator is the request dispatcher. It is transport independent: the
// adapter hands it raw frames together with the connection they came from.
type Orchestrator struct {
	Session   *app.Session
	Lifecycle *app.Lifecycle
	Fanout    *app.Fanout
	Metrics   *app.Metrics
	// Statics is the module-level namespace reachable through STATIC_CALL.
	Statics *core.Operations

	validate *validator.Validate
	tracer   trace.Tracer

	mu       sync.Mutex
	closing  bool
	inflight sync.WaitGroup
}

func New(lc *app.Lifecycle, statics *core.Operations) *Orchestrator {
	if statics == nil {
		statics = core.NewOperations()
	}
	return &Orchestrator{
		Session:   lc.Session,
		Lifecycle: lc,
		Fanout:    lc.Fanout,
		Metrics:   lc.Metrics,
		Statics:   statics,
		validate:  validator.New(),
		tracer:    otel.Tracer(tracerName),
	}
}

// Dispatch handles one inbound frame. State-changing commands complete before
// Dispatch returns; CALL and STATIC_CALL run on their own goroutine and may
// answer out of order.
func (o *Orchestrator) Dispatch(ctx context.Context, conn core.Connection, data []byte) {
	req, err := codec.DecodeRequest(data)
	if err != nil {
		o.Metrics.FramesReceived.WithLabelValues("malformed").Inc()
		log.Warn().Err(err).Str("module", "orch").Str("conn", conn.ID()).Msg("bad frame")
		o.fail(ctx, conn, codec.RecoverID(data), err)
		return
	}

	switch req.Cmd {
	case domain.CmdInit, domain.CmdCall, domain.CmdStaticCall, domain.CmdSubscribe, domain.CmdUnsubscribe:
		o.Metrics.FramesReceived.WithLabelValues(string(req.Cmd)).Inc()
	default:
		o.Metrics.FramesReceived.WithLabelValues("unknown").Inc()
	}

	switch req.Cmd {
	case domain.CmdInit:
		o.handleInit(ctx, conn, req)
	case domain.CmdCall:
		o.goCall(ctx, conn, req, o.callBackend)
	case domain.CmdStaticCall:
		o.goCall(ctx, conn, req, o.callStatic)
	case domain.CmdSubscribe:
		o.handleSubscribe(ctx, conn, req)
	case domain.CmdUnsubscribe:
		o.handleUnsubscribe(ctx, conn, req)
	default:
		log.Warn().Str("module", "orch").Str("cmd", string(req.Cmd)).Msg("unknown command")
		o.fail(ctx, conn, req.ID, fmt.Errorf("%w: %s", ErrUnknownCommand, req.Cmd))
	}
}

// Wait stops accepting CALL and STATIC_CALL and blocks until every in-flight
// call has answered or given up. Calls dispatched afterwards fail with
// ErrShuttingDown.
func (o *Orchestrator) Wait() {
	o.mu.Lock()
	o.closing = true
	o.mu.Unlock()
	o.inflight.Wait()
}

// track registers one in-flight call unless the orchestrator is closing.
func (o *Orchestrator) track() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closing {
		return false
	}
	o.inflight.Add(1)
	return true
}

func (o *Orchestrator) decode(req *domain.Request, v any) error {
	if err := codec.DecodePayload(req, v); err != nil {
		return err
	}
	if err := o.validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}

func (o *Orchestrator) respond(ctx context.Context, conn core.Connection, req *domain.Request, result any) {
	frame, err := codec.EncodeResponse(req.ID, result)
	if err != nil {
		o.fail(ctx, conn, req.ID, fmt.Errorf("encode result: %w", err))
		return
	}
	o.send(ctx, conn, frame, domain.TypeResponse)
}

func (o *Orchestrator) fail(ctx context.Context, conn core.Connection, id []byte, err error) {
	o.send(ctx, conn, codec.EncodeError(id, err.Error()), domain.TypeError)
}

func (o *Orchestrator) send(ctx context.Context, conn core.Connection, frame core.Frame, kind domain.FrameType) {
	if err := conn.Send(ctx, frame); err != nil {
		log.Warn().Err(err).Str("module", "orch").Str("conn", conn.ID()).Str("type", string(kind)).Msg("frame not delivered")
		return
	}
	o.Metrics.FramesSent.WithLabelValues(string(kind)).Inc()
}
