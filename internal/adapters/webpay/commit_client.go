package webpay

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/habitatmarket/webpay-service/internal/domain"
	"github.com/habitatmarket/webpay-service/internal/domain/ports"
	pkgerrors "github.com/habitatmarket/webpay-service/pkg/errors"
	"go.uber.org/zap"
)

// commitPath is the gateway's transaction-commit endpoint, keyed by the
// one-time token
const commitPath = "/rswebpaytransaction/api/webpay/v1.2/transactions/%s"

// emptyPayload stands in for the gateway payload when the transport call
// failed or returned something that is not JSON, so callers always get a
// valid commit object
var emptyPayload = json.RawMessage("{}")

// Config holds the gateway endpoint and merchant credentials.
// Credentials travel only as request headers, never as query parameters,
// and are never logged.
type Config struct {
	BaseURL      string
	CommerceCode string
	APIKeySecret string
}

// CommitClient finalizes Webpay transactions. It makes a single PUT to the
// commit endpoint per invocation and normalizes whatever happens into a
// domain.CommitResult; it never retries, because the token is consumed by
// the gateway on first use.
type CommitClient struct {
	config     Config
	httpClient ports.HTTPClient
	logger     *zap.Logger
}

// NewCommitClient creates a commit client with dependency-injected transport
func NewCommitClient(config Config, httpClient ports.HTTPClient, logger *zap.Logger) *CommitClient {
	return &CommitClient{
		config:     config,
		httpClient: httpClient,
		logger:     logger,
	}
}

// Commit issues the authenticated commit call for token. Transport and
// parse failures are folded into the result (HTTPOk=false, Ok=false) with
// the token echoed back for correlation; the error return only fires for an
// empty token, which callers are expected to have rejected already.
func (c *CommitClient) Commit(ctx context.Context, token string) (*domain.CommitResult, error) {
	if token == "" {
		return nil, pkgerrors.NewValidationError("token_ws", "token is required")
	}

	result := &domain.CommitResult{
		Token:   token,
		Payload: emptyPayload,
	}

	endpoint := strings.TrimRight(c.config.BaseURL, "/") + fmt.Sprintf(commitPath, url.PathEscape(token))

	// The commit endpoint takes no parameters; the body is an empty JSON
	// object to match the declared content type
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, strings.NewReader("{}"))
	if err != nil {
		c.logger.Error("Failed to build commit request",
			zap.String("token_ws", token),
			zap.Error(err),
		)
		return result, nil
	}

	req.Header.Set("Tbk-Api-Key-Id", c.config.CommerceCode)
	req.Header.Set("Tbk-Api-Key-Secret", c.config.APIKeySecret)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		gerr := failureError(0, false, nil)
		c.logger.Warn("Commit call to gateway failed",
			zap.String("token_ws", token),
			zap.String("category", string(gerr.Category)),
			zap.Error(err),
		)
		return result, nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		gerr := failureError(0, false, nil)
		c.logger.Warn("Failed to read gateway response",
			zap.String("token_ws", token),
			zap.String("category", string(gerr.Category)),
			zap.Error(err),
		)
		return result, nil
	}

	httpOk := resp.StatusCode >= 200 && resp.StatusCode < 300

	// The payload is passed through for audit whenever it is well-formed,
	// including declines and gateway error bodies
	if json.Valid(body) {
		result.Payload = json.RawMessage(body)
	} else {
		// Malformed body counts as a transport-level failure
		httpOk = false
	}

	result.HTTPOk = httpOk
	result.Ok = domain.Classify(httpOk, body)

	if result.Ok {
		c.logger.Info("Commit call completed",
			zap.String("token_ws", token),
			zap.Int("status_code", resp.StatusCode),
			zap.Bool("ok", true),
		)
		return result, nil
	}

	gerr := failureError(resp.StatusCode, json.Valid(body), body)
	c.logger.Warn("Commit call did not authorize",
		zap.String("token_ws", token),
		zap.Int("status_code", resp.StatusCode),
		zap.Bool("http_ok", result.HTTPOk),
		zap.String("category", string(gerr.Category)),
		zap.Bool("retriable", gerr.IsRetriable),
		zap.Error(gerr),
	)

	return result, nil
}

// failureError classifies an unsuccessful commit for logging and audit.
// statusCode 0 means the call never produced a readable response.
func failureError(statusCode int, bodyValid bool, payload []byte) *pkgerrors.GatewayError {
	var detail struct {
		Status       string `json:"status"`
		ErrorMessage string `json:"error_message"`
	}
	if bodyValid {
		_ = json.Unmarshal(payload, &detail)
	}

	var gerr *pkgerrors.GatewayError
	switch {
	case statusCode == 0:
		gerr = pkgerrors.NewGatewayError("gateway_unreachable",
			"gateway did not answer the commit call", pkgerrors.CategoryNetworkError, true)
	case !bodyValid:
		gerr = pkgerrors.NewGatewayError("malformed_response",
			"gateway answered with a non-JSON body", pkgerrors.CategorySystemError, true)
	case statusCode >= 500:
		gerr = pkgerrors.NewGatewayError(fmt.Sprintf("http_%d", statusCode),
			"gateway failed to process the commit", pkgerrors.CategorySystemError, true)
	case statusCode >= 300:
		// 4xx covers consumed and expired tokens; retrying would be
		// rejected the same way
		gerr = pkgerrors.NewGatewayError(fmt.Sprintf("http_%d", statusCode),
			"gateway rejected the commit request", pkgerrors.CategoryInvalidRequest, false)
	default:
		gerr = pkgerrors.NewGatewayError("declined",
			"transaction was not authorized", pkgerrors.CategoryDeclined, false)
	}

	gerr.GatewayMessage = firstNonEmpty(detail.ErrorMessage, detail.Status)
	return gerr
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
