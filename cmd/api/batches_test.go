package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"

	"github.com/sitestock/stock-ledger/internal/activities"
	"github.com/sitestock/stock-ledger/pkg/middleware"
)

type stubRun struct {
	client.WorkflowRun
	id string
}

func (r stubRun) GetID() string    { return r.id }
func (r stubRun) GetRunID() string { return "run-1" }

type stubStarter struct {
	inputs map[string]activities.ReplenishmentWorkflowInput
	err    error
}

func (s *stubStarter) StartWorkflow(_ context.Context, workflowID, _ string, _ interface{}, args ...interface{}) (client.WorkflowRun, error) {
	if s.err != nil {
		return nil, s.err
	}
	if _, ok := s.inputs[workflowID]; ok {
		return nil, serviceerror.NewWorkflowExecutionAlreadyStarted("workflow execution already started", "", "run-1")
	}
	s.inputs[workflowID] = args[0].(activities.ReplenishmentWorkflowInput)
	return stubRun{id: workflowID}, nil
}

func batchBody() map[string]any {
	return map[string]any{
		"batchId": "GRN-118",
		"kind":    "purchase",
		"lines": []map[string]any{
			{"sourceId": "PO-1", "name": "Cement", "location": "company", "quantity": 40, "unit": "bag", "category": "cement"},
			{"sourceId": "PO-2", "name": "Rebar 12mm", "location": "site:A", "quantity": 2, "unit": "ton"},
		},
	}
}

func TestReplenishmentBatchStartsOnce(t *testing.T) {
	starter := &stubStarter{inputs: map[string]activities.ReplenishmentWorkflowInput{}}
	a := newTestAPI(t, func(rc *routerConfig) { rc.Batches = starter })

	w := a.do(t, http.MethodPost, "/api/v1/replenishments/batches", "procurement", batchBody())
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	started := decode[activities.StartedReplenishment](t, w)
	assert.Equal(t, "replenishment-purchase-GRN-118", started.WorkflowID)
	assert.False(t, started.AlreadyStarted)

	input := starter.inputs[started.WorkflowID]
	assert.Equal(t, activities.SourcePurchase, input.Kind)
	assert.Equal(t, "procurement", input.ActorID)
	require.Len(t, input.Sources, 2)
	assert.Equal(t, "company", input.Sources[0].Location)
	assert.Equal(t, "cement", input.Sources[0].Category)
	assert.Equal(t, "PO-2", input.Sources[1].SourceID)
	assert.Equal(t, "procurement", input.Sources[1].ActorID)

	w = a.do(t, http.MethodPost, "/api/v1/replenishments/batches", "procurement", batchBody())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, decode[activities.StartedReplenishment](t, w).AlreadyStarted)
}

func TestReplenishmentBatchValidation(t *testing.T) {
	a := newTestAPI(t, func(rc *routerConfig) {
		rc.Batches = &stubStarter{inputs: map[string]activities.ReplenishmentWorkflowInput{}}
	})

	body := batchBody()
	body["kind"] = "gift"
	w := a.do(t, http.MethodPost, "/api/v1/replenishments/batches", "procurement", body)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	body = batchBody()
	body["lines"] = []map[string]any{}
	w = a.do(t, http.MethodPost, "/api/v1/replenishments/batches", "procurement", body)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	body = batchBody()
	body["lines"] = []map[string]any{{"sourceId": "PO-3", "name": "Sand", "location": "site:A", "quantity": 3, "unit": "bucket"}}
	w = a.do(t, http.MethodPost, "/api/v1/replenishments/batches", "procurement", body)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestReplenishmentBatchEngineUnavailable(t *testing.T) {
	a := newTestAPI(t, func(rc *routerConfig) {
		rc.Batches = &stubStarter{err: errors.New("connection refused")}
	})

	w := a.do(t, http.MethodPost, "/api/v1/replenishments/batches", "procurement", batchBody())
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	resp := decode[middleware.APIErrorResponse](t, w)
	assert.True(t, resp.Retryable)
}

func TestReplenishmentBatchRouteDisabled(t *testing.T) {
	a := newTestAPI(t, nil)

	req := httptest.NewRequest(http.MethodPost, baseURL+"/api/v1/replenishments/batches", nil)
	req.Header.Set(middleware.HeaderActorID, "procurement")
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
