package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/punchamoorthee/usdtdesk/internal/domain"
	"github.com/punchamoorthee/usdtdesk/internal/service"
	"github.com/punchamoorthee/usdtdesk/internal/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	token        = "s3cret"
	validAddress = "TXYZ1234567890abcdefghijklmnopqrs"
)

func newServer(t *testing.T, adminToken string) (*httptest.Server, *service.Ledger) {
	t.Helper()
	ledger := service.NewLedger(store.NewMemoryStore(), service.DefaultPolicy(), zap.NewNop())
	srv := httptest.NewServer(NewRouter(NewHandler(ledger, zap.NewNop()), adminToken))
	t.Cleanup(srv.Close)
	return srv, ledger
}

func get(t *testing.T, srv *httptest.Server, path, tok string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, srv.URL+path, nil)
	require.NoError(t, err)
	if tok != "" {
		req.Header.Set(adminTokenHeader, tok)
	}
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func seed(t *testing.T, ledger *service.Ledger) *domain.WithdrawalRequest {
	t.Helper()
	ctx := context.Background()
	_, err := ledger.Touch(ctx, 7, "Payee")
	require.NoError(t, err)
	_, err = ledger.Credit(ctx, 7, domain.USDT, decimal.NewFromInt(100))
	require.NoError(t, err)
	w, err := ledger.RequestWalletPayout(ctx, 7, domain.USDT, decimal.NewFromInt(40), validAddress)
	require.NoError(t, err)
	return w
}

func TestHealthIsOpen(t *testing.T) {
	srv, _ := newServer(t, token)
	resp := get(t, srv, "/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(requestIDHeader))

	var body map[string]string
	decode(t, resp, &body)
	assert.Equal(t, "ok", body["status"])
}

func TestRequestIDIsEchoed(t *testing.T) {
	srv, _ := newServer(t, token)
	req, err := http.NewRequest(http.MethodGet, srv.URL+"/health", nil)
	require.NoError(t, err)
	req.Header.Set(requestIDHeader, "abc-123")
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "abc-123", resp.Header.Get(requestIDHeader))
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newServer(t, token)
	get(t, srv, "/health", "")
	resp := get(t, srv, "/metrics", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestTokenRequired(t *testing.T) {
	srv, _ := newServer(t, token)

	for _, tok := range []string{"", "wrong"} {
		resp := get(t, srv, "/api/v1/withdrawals", tok)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		var body map[string]string
		decode(t, resp, &body)
		assert.Equal(t, "Missing or invalid admin token", body["error"])
	}
}

func TestEmptyTokenClosesAPI(t *testing.T) {
	srv, _ := newServer(t, "")
	resp := get(t, srv, "/api/v1/withdrawals", "anything")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestGetUser(t *testing.T) {
	srv, ledger := newServer(t, token)
	w := seed(t, ledger)

	resp := get(t, srv, "/api/v1/users/7", token)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body struct {
		ID          int64                       `json:"id"`
		DisplayName string                      `json:"display_name"`
		Wallet      map[string]decimal.Decimal  `json:"wallet"`
		Withdrawals []*domain.WithdrawalRequest `json:"withdrawals"`
	}
	decode(t, resp, &body)
	assert.Equal(t, int64(7), body.ID)
	assert.Equal(t, "Payee", body.DisplayName)
	assert.Equal(t, "60", body.Wallet["USDT"].String())
	require.Len(t, body.Withdrawals, 1)
	assert.Equal(t, w.ID, body.Withdrawals[0].ID)

	assert.Equal(t, http.StatusNotFound, get(t, srv, "/api/v1/users/8", token).StatusCode)
	assert.Equal(t, http.StatusBadRequest, get(t, srv, "/api/v1/users/abc", token).StatusCode)
}

func TestListWithdrawals(t *testing.T) {
	srv, ledger := newServer(t, token)
	w := seed(t, ledger)

	resp := get(t, srv, "/api/v1/withdrawals?status=pending", token)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list []domain.WithdrawalRequest
	decode(t, resp, &list)
	require.Len(t, list, 1)
	assert.Equal(t, w.ID, list[0].ID)

	resp = get(t, srv, "/api/v1/withdrawals?status=approved", token)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list = nil
	decode(t, resp, &list)
	assert.Empty(t, list)

	assert.Equal(t, http.StatusBadRequest, get(t, srv, "/api/v1/withdrawals?status=bogus", token).StatusCode)
}

func TestGetWithdrawal(t *testing.T) {
	srv, ledger := newServer(t, token)
	w := seed(t, ledger)

	resp := get(t, srv, "/api/v1/withdrawals/1", token)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got domain.WithdrawalRequest
	decode(t, resp, &got)
	assert.Equal(t, w.ID, got.ID)
	assert.Equal(t, domain.WithdrawalPending, got.Status)
	assert.True(t, got.Amount.Equal(decimal.NewFromInt(40)))

	assert.Equal(t, http.StatusNotFound, get(t, srv, "/api/v1/withdrawals/99", token).StatusCode)
}
