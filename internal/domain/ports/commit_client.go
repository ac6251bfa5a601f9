package ports

import (
	"context"

	"github.com/habitatmarket/webpay-service/internal/domain"
)

// CommitClient finalizes a transaction with the payment gateway given the
// one-time token carried back by the browser redirect.
//
// Implementations make exactly one attempt per call: the token is consumed
// by the gateway on first use, so a retry would be rejected as already
// redeemed. Transport and parse failures are folded into the result
// (HTTPOk=false, Ok=false) rather than returned as errors; the error return
// is reserved for invalid input such as an empty token.
type CommitClient interface {
	Commit(ctx context.Context, token string) (*domain.CommitResult, error)
}
