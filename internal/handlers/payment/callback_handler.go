package payment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/habitatmarket/webpay-service/internal/domain"
	"github.com/habitatmarket/webpay-service/internal/domain/ports"
	"github.com/habitatmarket/webpay-service/pkg/observability"
	"go.uber.org/zap"
)

// CallbackHandler is the server-side endpoint the browser hits after the
// gateway redirects back. It extracts the one-time token, drives a single
// commit call, and answers with a normalized JSON decision.
//
// The transport status code is reserved for malformed requests (400) and
// unexpected failures (500); a business decline is still a 200 with ok=false
// so the caller can always parse a structured response.
type CallbackHandler struct {
	commitClient ports.CommitClient
	transactions ports.TransactionRepository // nil when running storeless
	logger       *zap.Logger
}

// NewCallbackHandler creates a callback handler. transactions may be nil;
// the decision never depends on the store, it is only written to.
func NewCallbackHandler(commitClient ports.CommitClient, transactions ports.TransactionRepository, logger *zap.Logger) *CallbackHandler {
	return &CallbackHandler{
		commitClient: commitClient,
		transactions: transactions,
		logger:       logger,
	}
}

type callbackResponse struct {
	Ok      bool            `json:"ok"`
	TokenWS string          `json:"token_ws"`
	Commit  json.RawMessage `json:"commit"`
}

type errorResponse struct {
	Ok    bool   `json:"ok"`
	Error string `json:"error"`
}

// HandleCallback processes the gateway return callback.
// Endpoint: POST or GET /api/v1/payments/webpay/callback
func (h *CallbackHandler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	defer func() {
		if rec := recover(); rec != nil {
			h.logger.Error("Panic while handling callback",
				zap.Any("panic", rec),
			)
			observability.RecordCallback("500")
			writeJSON(w, http.StatusInternalServerError, errorResponse{
				Ok:    false,
				Error: "unexpected error handling callback",
			})
		}
	}()

	if r.Method != http.MethodPost && r.Method != http.MethodGet {
		h.logger.Warn("Callback received unsupported method",
			zap.String("method", r.Method),
		)
		observability.RecordCallback("405")
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{
			Ok:    false,
			Error: "method not allowed",
		})
		return
	}

	token := h.extractToken(r)
	if token == "" {
		h.logger.Warn("Callback request without token")
		observability.RecordCallback("400")
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Ok:    false,
			Error: "token_ws missing",
		})
		return
	}

	start := time.Now()
	result, err := h.commitClient.Commit(r.Context(), token)
	if err != nil {
		// Only reachable on an empty token, which was ruled out above
		h.logger.Error("Commit client refused token",
			zap.Error(err),
		)
		observability.RecordCallback("500")
		writeJSON(w, http.StatusInternalServerError, errorResponse{
			Ok:    false,
			Error: err.Error(),
		})
		return
	}
	observability.RecordCommit(commitOutcome(result), time.Since(start))

	h.logger.Info("Callback processed",
		zap.String("token_ws", token),
		zap.Bool("ok", result.Ok),
		zap.Bool("http_ok", result.HTTPOk),
	)

	h.recordOutcome(r.Context(), token, result)

	observability.RecordCallback("200")
	writeJSON(w, http.StatusOK, callbackResponse{
		Ok:      result.Ok,
		TokenWS: token,
		Commit:  result.Payload,
	})
}

// extractToken reads the token from the request body for POSTs (JSON or
// form-encoded) and from the query string otherwise. The query is also
// consulted as a POST fallback so both integration styles keep working.
func (h *CallbackHandler) extractToken(r *http.Request) string {
	if r.Method == http.MethodPost {
		if token := tokenFromBody(r); token != "" {
			return token
		}
	}
	return domain.TokenFromValues(r.URL.Query())
}

func tokenFromBody(r *http.Request) string {
	contentType := r.Header.Get("Content-Type")

	if strings.HasPrefix(contentType, "application/x-www-form-urlencoded") {
		if err := r.ParseForm(); err != nil {
			return ""
		}
		return domain.TokenFromValues(r.PostForm)
	}
	if strings.HasPrefix(contentType, "multipart/form-data") {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			return ""
		}
		return domain.TokenFromValues(r.PostForm)
	}

	// Default to JSON, the integration style the return page uses
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return ""
	}
	values := url.Values{}
	for _, name := range domain.TokenParamNames {
		if v, ok := body[name].(string); ok {
			values.Set(name, v)
		}
	}
	return domain.TokenFromValues(values)
}

// recordOutcome persists the commit outcome when a store is configured.
// Persistence failures are logged, never surfaced: the gateway response has
// already decided the payment.
func (h *CallbackHandler) recordOutcome(ctx context.Context, token string, result *domain.CommitResult) {
	if h.transactions == nil {
		return
	}
	if err := h.transactions.RecordCommit(ctx, token, result); err != nil {
		h.logger.Error("Failed to record commit outcome",
			zap.String("token_ws", token),
			zap.Error(err),
		)
	}
}

func commitOutcome(result *domain.CommitResult) string {
	switch {
	case result.Ok:
		return observability.OutcomeAuthorized
	case result.HTTPOk:
		return observability.OutcomeRejected
	default:
		return observability.OutcomeUnreachable
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
