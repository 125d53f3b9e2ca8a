package consume

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/bussulac/access-gateway/internal/http/middlewarectx"
	"github.com/bussulac/access-gateway/internal/models"
	"github.com/bussulac/access-gateway/internal/services/entitlement"
	"github.com/bussulac/access-gateway/internal/services/ledger"
	"github.com/bussulac/access-gateway/internal/storage/memory"
)

type LedgerMock struct {
	mock.Mock
}

func (m *LedgerMock) Consume(ctx context.Context, userUID string, cost int64) (ledger.Decision, error) {
	args := m.Called(ctx, userUID, cost)
	return args.Get(0).(ledger.Decision), args.Error(1)
}

func (m *LedgerMock) Mode() ledger.Mode {
	return ledger.ModeTokens
}

func newNoopLogger() *slog.Logger {
	h := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{})
	return slog.New(h)
}

func doRequest(t *testing.T, h http.Handler, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/allowance/consume", strings.NewReader(body))
	req = req.WithContext(context.WithValue(req.Context(), middlewarectx.UserUID, "uid-1"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var got map[string]any
	require.NoError(t, json.NewDecoder(bytes.NewReader(rec.Body.Bytes())).Decode(&got))
	return rec, got
}

func TestConsumeHandler_CostHandling(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantCost int64
	}{
		{name: "empty body uses default", body: "", wantCost: 7},
		{name: "empty object uses default", body: `{}`, wantCost: 7},
		{name: "explicit cost", body: `{"cost":3}`, wantCost: 3},
		{name: "zero cost", body: `{"cost":0}`, wantCost: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(LedgerMock)
			svc.On("Consume", mock.Anything, "uid-1", tt.wantCost).
				Return(ledger.Decision{Allowed: true, Reason: ledger.ReasonTokensDeducted, Remaining: 10}, nil).Once()

			rec, got := doRequest(t, New(newNoopLogger(), svc, 7), tt.body)

			assert.Equal(t, http.StatusOK, rec.Code)
			data := got["data"].(map[string]any)
			assert.Equal(t, true, data["allowed"])
			assert.Equal(t, "tokens", data["mode"])
			assert.Equal(t, float64(10), data["remaining"])
			svc.AssertExpectations(t)
		})
	}
}

func TestConsumeHandler_Rejections(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantCode int
	}{
		{name: "negative cost", body: `{"cost":-1}`, wantCode: http.StatusUnprocessableEntity},
		{name: "malformed body", body: `{"cost":`, wantCode: http.StatusBadRequest},
		{name: "wrong type", body: `{"cost":"ten"}`, wantCode: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(LedgerMock)
			rec, got := doRequest(t, New(newNoopLogger(), svc, 1), tt.body)
			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, "Error", got["status"])
			svc.AssertNotCalled(t, "Consume", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestConsumeHandler_Denied(t *testing.T) {
	svc := new(LedgerMock)
	svc.On("Consume", mock.Anything, "uid-1", int64(5)).
		Return(ledger.Decision{Reason: ledger.ReasonInsufficientTokens, Remaining: 2}, nil).Once()

	rec, got := doRequest(t, New(newNoopLogger(), svc, 5), "")

	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
	data := got["data"].(map[string]any)
	assert.Equal(t, false, data["allowed"])
	assert.Equal(t, "insufficient_tokens", data["reason"])
	assert.Equal(t, float64(2), data["remaining"])
}

func TestConsumeHandler_StorageUnavailable(t *testing.T) {
	svc := new(LedgerMock)
	svc.On("Consume", mock.Anything, "uid-1", int64(1)).
		Return(ledger.Decision{}, entitlement.ErrStorageUnavailable).Once()

	rec, got := doRequest(t, New(newNoopLogger(), svc, 1), "")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Nil(t, got["data"])
}

func TestConsumeHandler_SessionsEndToEnd(t *testing.T) {
	store := memory.New()
	store.Put(models.Entitlement{UserUID: "uid-1", FreeSessionsLimit: 2})
	log := newNoopLogger()
	resolver := entitlement.New(log, store, clockwork.NewFakeClock(), nil, time.Second)
	l := ledger.New(log, store, resolver, nil, ledger.ModeSessions, time.Second)
	h := New(log, l, 1)

	codes := make([]int, 0, 3)
	for range 3 {
		rec, _ := doRequest(t, h, "")
		codes = append(codes, rec.Code)
	}

	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusPaymentRequired}, codes)
	e, err := store.GetEntitlement(context.Background(), "uid-1")
	require.NoError(t, err)
	assert.Equal(t, 2, e.FreeSessionsUsed)
}
