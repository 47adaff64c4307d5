package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ixqt-ai/cloud-reconciler/internal/platform/logger"
)

// ReconcileAller is the one method the HTTP surface needs from the
// reconciliation engine, narrowed to an interface so this package does not
// import internal/reconciler/engine directly.
type ReconcileAller interface {
	ReconcileAll(ctx context.Context) map[string]string
}

// reconcileResponse is the documented HTTP contract: 200 on
// completion regardless of whether individual runs failed.
type reconcileResponse struct {
	Status  string            `json:"status"`
	Actions map[string]string `json:"actions"`
}

// ReconcileHandler exposes reconcile_all over both invocation entry
// points: an HTTP handler and a cloud-event handler whose payload is
// ignored. Both drive the identical engine.ReconcileAll call.
type ReconcileHandler struct {
	engine ReconcileAller
	log    *logger.Logger
}

func NewReconcileHandler(engine ReconcileAller, log *logger.Logger) *ReconcileHandler {
	return &ReconcileHandler{engine: engine, log: log}
}

func (h *ReconcileHandler) Reconcile(c *gin.Context) {
	actions := h.engine.ReconcileAll(c.Request.Context())
	c.JSON(http.StatusOK, reconcileResponse{Status: "ok", Actions: actions})
}

// CloudEvent handles the push-subscription/Cloud Scheduler trigger. The
// event payload carries no parameters the engine needs, so it is read and
// discarded; the response body is still the same actions map for
// observability in platform logs.
func (h *ReconcileHandler) CloudEvent(c *gin.Context) {
	var discard map[string]any
	_ = c.ShouldBindJSON(&discard)
	actions := h.engine.ReconcileAll(c.Request.Context())
	c.JSON(http.StatusOK, reconcileResponse{Status: "ok", Actions: actions})
}
