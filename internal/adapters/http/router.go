package http

import (
	"context"
	"net/http"

	"github.com/dkeye/bridge/internal/adapters/rpc"
	"github.com/dkeye/bridge/internal/config"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// SetupRouter wires the WebSocket endpoint at "/", a health probe and the
// Prometheus endpoint.
func SetupRouter(ctx context.Context, cfg *config.Config, ctrl *rpc.RPCController, gatherer prometheus.Gatherer) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	r.GET("/", func(c *gin.Context) {
		ctrl.HandleConnection(ctx, c)
	})

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, ctrl.Orch.Session.Status())
	})

	metricsPath := cfg.MetricsPath
	if metricsPath == "" {
		metricsPath = "/metrics"
	}
	r.GET(metricsPath, gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	log.Info().Str("module", "adapters.http").Str("metrics", metricsPath).Msg("router setup")
	return r
}
