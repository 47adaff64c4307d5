package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

type fakeReconciler struct {
	actions map[string]string
}

func (f *fakeReconciler) ReconcileAll(context.Context) map[string]string {
	return f.actions
}

func TestReconcileHandlerReturnsActions(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewReconcileHandler(&fakeReconciler{actions: map[string]string{"run-1": "orphaned"}}, nil)
	r.POST("/reconcile", h.Reconcile)

	req := httptest.NewRequest(http.MethodPost, "/reconcile", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body reconcileResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if body.Status != "ok" || body.Actions["run-1"] != "orphaned" {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestCloudEventIgnoresPayload(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewReconcileHandler(&fakeReconciler{actions: map[string]string{}}, nil)
	r.POST("/cloud-event", h.CloudEvent)

	req := httptest.NewRequest(http.MethodPost, "/cloud-event", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 regardless of payload, got %d", rec.Code)
	}
}
