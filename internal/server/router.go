// Package server wires the gin engine that fronts the two invocation entry
// points: an HTTP handler and a cloud-event handler.
package server

import (
	"github.com/gin-gonic/gin"

	httpH "github.com/ixqt-ai/cloud-reconciler/internal/http/handlers"
	httpMW "github.com/ixqt-ai/cloud-reconciler/internal/http/middleware"
)

type RouterConfig struct {
	HealthHandler    *httpH.HealthHandler
	ReconcileHandler *httpH.ReconcileHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.Default()
	r.Use(httpMW.CORS())

	if cfg.HealthHandler != nil {
		r.GET("/healthz", cfg.HealthHandler.HealthCheck)
	}

	if cfg.ReconcileHandler != nil {
		r.POST("/reconcile", cfg.ReconcileHandler.Reconcile)
		r.POST("/cloud-event", cfg.ReconcileHandler.CloudEvent)
	}

	return r
}
