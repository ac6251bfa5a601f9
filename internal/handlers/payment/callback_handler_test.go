package payment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/habitatmarket/webpay-service/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// MockCommitClient mocks the ports.CommitClient interface
type MockCommitClient struct {
	mock.Mock
}

func (m *MockCommitClient) Commit(ctx context.Context, token string) (*domain.CommitResult, error) {
	args := m.Called(ctx, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.CommitResult), args.Error(1)
}

// MockTransactionRepository mocks the ports.TransactionRepository interface
type MockTransactionRepository struct {
	mock.Mock
}

func (m *MockTransactionRepository) Create(ctx context.Context, record *domain.TransactionRecord) error {
	args := m.Called(ctx, record)
	return args.Error(0)
}

func (m *MockTransactionRepository) GetByToken(ctx context.Context, token string) (*domain.TransactionRecord, error) {
	args := m.Called(ctx, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.TransactionRecord), args.Error(1)
}

func (m *MockTransactionRepository) GetByBuyOrder(ctx context.Context, buyOrder string) (*domain.TransactionRecord, error) {
	args := m.Called(ctx, buyOrder)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.TransactionRecord), args.Error(1)
}

func (m *MockTransactionRepository) RecordCommit(ctx context.Context, token string, result *domain.CommitResult) error {
	args := m.Called(ctx, token, result)
	return args.Error(0)
}

func authorizedResult(token string) *domain.CommitResult {
	return &domain.CommitResult{
		Ok:      true,
		Token:   token,
		HTTPOk:  true,
		Payload: json.RawMessage(`{"status":"AUTHORIZED","response_code":0}`),
	}
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestHandleCallback_MissingToken(t *testing.T) {
	client := new(MockCommitClient)
	handler := NewCallbackHandler(client, nil, zaptest.NewLogger(t))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/webpay/callback", strings.NewReader(""))
	rec := httptest.NewRecorder()

	handler.HandleCallback(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, false, body["ok"])
	assert.Equal(t, "token_ws missing", body["error"])

	client.AssertNotCalled(t, "Commit", mock.Anything, mock.Anything)
}

func TestHandleCallback_PostJSONToken(t *testing.T) {
	client := new(MockCommitClient)
	client.On("Commit", mock.Anything, "tok-abc").Return(authorizedResult("tok-abc"), nil)

	handler := NewCallbackHandler(client, nil, zaptest.NewLogger(t))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/webpay/callback",
		strings.NewReader(`{"token_ws":"tok-abc"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	handler.HandleCallback(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, "tok-abc", body["token_ws"])
	commit := body["commit"].(map[string]any)
	assert.Equal(t, "AUTHORIZED", commit["status"])

	client.AssertNumberOfCalls(t, "Commit", 1)
}

func TestHandleCallback_PostFormToken(t *testing.T) {
	client := new(MockCommitClient)
	client.On("Commit", mock.Anything, "tok-form").Return(authorizedResult("tok-form"), nil)

	handler := NewCallbackHandler(client, nil, zaptest.NewLogger(t))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/webpay/callback",
		strings.NewReader("token_ws=tok-form"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()

	handler.HandleCallback(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeBody(t, rec)["ok"])
}

func TestHandleCallback_GetQueryToken_AltName(t *testing.T) {
	client := new(MockCommitClient)
	client.On("Commit", mock.Anything, "tok-query").Return(authorizedResult("tok-query"), nil)

	handler := NewCallbackHandler(client, nil, zaptest.NewLogger(t))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/payments/webpay/callback?token=tok-query", nil)
	rec := httptest.NewRecorder()

	handler.HandleCallback(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "tok-query", decodeBody(t, rec)["token_ws"])
}

func TestHandleCallback_BusinessDeclineIsStill200(t *testing.T) {
	client := new(MockCommitClient)
	client.On("Commit", mock.Anything, "tok-declined").Return(&domain.CommitResult{
		Ok:      false,
		Token:   "tok-declined",
		HTTPOk:  true,
		Payload: json.RawMessage(`{"status":"FAILED","response_code":-1}`),
	}, nil)

	handler := NewCallbackHandler(client, nil, zaptest.NewLogger(t))

	req := httptest.NewRequest(http.MethodGet, "/callback?token_ws=tok-declined", nil)
	rec := httptest.NewRecorder()

	handler.HandleCallback(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, false, body["ok"])
	commit := body["commit"].(map[string]any)
	assert.Equal(t, "FAILED", commit["status"])
}

func TestHandleCallback_GatewayUnreachableIsStill200(t *testing.T) {
	client := new(MockCommitClient)
	client.On("Commit", mock.Anything, "tok-down").Return(&domain.CommitResult{
		Ok:      false,
		Token:   "tok-down",
		HTTPOk:  false,
		Payload: json.RawMessage(`{}`),
	}, nil)

	handler := NewCallbackHandler(client, nil, zaptest.NewLogger(t))

	req := httptest.NewRequest(http.MethodGet, "/callback?token_ws=tok-down", nil)
	rec := httptest.NewRecorder()

	handler.HandleCallback(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code, "gateway outage must not become a 5xx to the browser")
	body := decodeBody(t, rec)
	assert.Equal(t, false, body["ok"])
	assert.Equal(t, map[string]any{}, body["commit"])
}

func TestHandleCallback_PanicBecomesStructured500(t *testing.T) {
	client := new(MockCommitClient)
	client.On("Commit", mock.Anything, "tok-panic").Run(func(args mock.Arguments) {
		panic("commit client exploded")
	}).Return(nil, nil)

	handler := NewCallbackHandler(client, nil, zaptest.NewLogger(t))

	req := httptest.NewRequest(http.MethodGet, "/callback?token_ws=tok-panic", nil)
	rec := httptest.NewRecorder()

	require.NotPanics(t, func() {
		handler.HandleCallback(rec, req)
	})

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, false, body["ok"])
	assert.NotEmpty(t, body["error"])
}

func TestHandleCallback_MethodNotAllowed(t *testing.T) {
	handler := NewCallbackHandler(new(MockCommitClient), nil, zaptest.NewLogger(t))

	req := httptest.NewRequest(http.MethodDelete, "/callback?token_ws=x", nil)
	rec := httptest.NewRecorder()

	handler.HandleCallback(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, false, decodeBody(t, rec)["ok"])
}

func TestHandleCallback_RecordsOutcomeWhenStoreConfigured(t *testing.T) {
	client := new(MockCommitClient)
	client.On("Commit", mock.Anything, "tok-stored").Return(authorizedResult("tok-stored"), nil)

	repo := new(MockTransactionRepository)
	repo.On("RecordCommit", mock.Anything, "tok-stored", mock.Anything).Return(nil)

	handler := NewCallbackHandler(client, repo, zaptest.NewLogger(t))

	req := httptest.NewRequest(http.MethodGet, "/callback?token_ws=tok-stored", nil)
	rec := httptest.NewRecorder()

	handler.HandleCallback(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	repo.AssertCalled(t, "RecordCommit", mock.Anything, "tok-stored", mock.Anything)
}

func TestHandleCallback_StoreFailureDoesNotChangeDecision(t *testing.T) {
	client := new(MockCommitClient)
	client.On("Commit", mock.Anything, "tok-db-down").Return(authorizedResult("tok-db-down"), nil)

	repo := new(MockTransactionRepository)
	repo.On("RecordCommit", mock.Anything, "tok-db-down", mock.Anything).
		Return(assert.AnError)

	handler := NewCallbackHandler(client, repo, zaptest.NewLogger(t))

	req := httptest.NewRequest(http.MethodGet, "/callback?token_ws=tok-db-down", nil)
	rec := httptest.NewRecorder()

	handler.HandleCallback(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeBody(t, rec)["ok"])
}
