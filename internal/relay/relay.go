// Package relay implements the standalone edge handler the gateway can use
// as its redirect target when the application's own origin is not reachable
// from the gateway's allow-list. It never decides payment outcomes: it only
// echoes and forwards correlation parameters toward the return page.
package relay

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/habitatmarket/webpay-service/internal/domain"
	"github.com/habitatmarket/webpay-service/internal/domain/ports"
	"github.com/habitatmarket/webpay-service/pkg/observability"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Config holds the relay settings
type Config struct {
	// ServiceName is reported by the health route
	ServiceName string

	// AppReturnURL is the application's return page. Empty means the relay
	// answers with the JSON evidence payload instead of redirecting.
	AppReturnURL string

	// StubReceipts enables the synthesized receipt on the lookup route when
	// no transaction store is configured. The fabricated receipt is marked
	// as such and must never be treated as authoritative.
	StubReceipts bool
}

// RedirectParams is the set of query parameters the gateway sends to its
// redirect target. None of them proves payment by themselves; they carry
// correlation identifiers forward.
type RedirectParams struct {
	TokenWS   string `json:"token_ws"`
	TbkToken  string `json:"tbk_token,omitempty"`
	BuyOrder  string `json:"buy_order,omitempty"`
	BookingID string `json:"booking_id,omitempty"`
	Status    string `json:"status,omitempty"`
}

// Relay handles the edge routes
type Relay struct {
	config       Config
	transactions ports.TransactionRepository // nil → stub receipts only
	logger       *zap.Logger
}

// New creates a relay. transactions may be nil.
func New(config Config, transactions ports.TransactionRepository, logger *zap.Logger) *Relay {
	if config.ServiceName == "" {
		config.ServiceName = "webpay-relay"
	}
	return &Relay{
		config:       config,
		transactions: transactions,
		logger:       logger,
	}
}

// Router builds the gin engine with all relay routes mounted
func (rl *Relay) Router() *gin.Engine {
	router := gin.New()
	router.Use(requestMetrics())
	router.Use(rl.recovery())
	router.Use(crossOriginHeaders())

	router.GET("/", rl.health)
	router.GET("/health", rl.health)
	router.GET("/webpay/return-callback", rl.returnCallback)
	router.GET("/receipts/by-transaction", rl.receiptByTransaction)
	router.POST("/receipts/by-transaction", rl.receiptByTransaction)

	router.NoRoute(rl.notFound)

	return router
}

// requestMetrics counts every handled request by matched route and final
// status, 404s and pre-flights included
func requestMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		observability.RecordRelayRequest(route, strconv.Itoa(c.Writer.Status()))
	}
}

// crossOriginHeaders stamps permissive CORS headers on every response,
// pre-flights and errors included: the gateway and the application may live
// on different origins, and no relay response may be cached downstream.
func crossOriginHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.Writer.Header()
		header.Set("Access-Control-Allow-Origin", "*")
		header.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		header.Set("Cache-Control", "no-store")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// recovery converts panics into a structured JSON error; the relay never
// lets a request die without a JSON body
func (rl *Relay) recovery() gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(nil, func(c *gin.Context, err any) {
		rl.logger.Error("Panic in relay handler",
			zap.String("path", c.Request.URL.Path),
			zap.Any("panic", err),
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"ok":    false,
			"error": "internal error",
		})
	})
}

func (rl *Relay) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"ok":      true,
		"service": rl.config.ServiceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

// returnCallback receives the gateway's redirect. Depending on
// configuration it either emits the normalized parameters as JSON evidence
// or forwards the user to the application's return page.
func (rl *Relay) returnCallback(c *gin.Context) {
	query := c.Request.URL.Query()

	params := RedirectParams{
		TokenWS:   domain.TokenFromValues(query),
		TbkToken:  query.Get("TBK_TOKEN"),
		BuyOrder:  firstNonEmpty(query.Get("buy_order"), query.Get("TBK_ORDEN_COMPRA")),
		BookingID: query.Get("booking_id"),
		Status:    query.Get("status"),
	}
	tokenPresent := params.TokenWS != ""

	rl.logger.Info("Gateway redirect received",
		zap.String("token_ws", params.TokenWS),
		zap.String("buy_order", params.BuyOrder),
		zap.Bool("token_present", tokenPresent),
	)

	if rl.config.AppReturnURL == "" || query.Get("evidence") == "1" {
		c.JSON(http.StatusOK, gin.H{
			"ok":       tokenPresent,
			"service":  rl.config.ServiceName,
			"received": params,
		})
		return
	}

	forward := url.Values{}
	forward.Set("txn", params.TokenWS)
	if params.BookingID != "" {
		forward.Set("booking", params.BookingID)
	}
	if params.Status != "" {
		forward.Set("status", params.Status)
	}
	if tokenPresent {
		forward.Set("ok", "1")
	} else {
		forward.Set("ok", "0")
	}

	c.Redirect(http.StatusFound, fmt.Sprintf("%s?%s", rl.config.AppReturnURL, forward.Encode()))
}

// receiptByTransaction looks up a receipt by token or merchant order.
// Backed by the transaction store when configured; otherwise it can
// synthesize a stub receipt for integration testing.
func (rl *Relay) receiptByTransaction(c *gin.Context) {
	token, buyOrder := rl.receiptIdentifiers(c)

	if token == "" && buyOrder == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"ok":    false,
			"error": "Falta token_ws o buy_order",
		})
		return
	}

	if rl.transactions != nil {
		rl.lookupReceipt(c, token, buyOrder)
		return
	}

	if !rl.config.StubReceipts {
		c.JSON(http.StatusNotFound, gin.H{
			"ok":    false,
			"error": "receipt lookup not configured",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ok":   true,
		"stub": true,
		"receipt": domain.Receipt{
			BuyOrder: firstNonEmpty(buyOrder, "O-"+shortRef(token)),
			Token:    token,
			Amount:   decimal.Zero,
			Currency: "CLP",
			Status:   string(domain.StatusAuthorized),
			IssuedAt: time.Now().UTC(),
		},
	})
}

func (rl *Relay) lookupReceipt(c *gin.Context, token, buyOrder string) {
	var (
		record *domain.TransactionRecord
		err    error
	)
	if token != "" {
		record, err = rl.transactions.GetByToken(c.Request.Context(), token)
	} else {
		record, err = rl.transactions.GetByBuyOrder(c.Request.Context(), buyOrder)
	}

	if err != nil {
		if err == ports.ErrTransactionNotFound {
			c.JSON(http.StatusNotFound, gin.H{
				"ok":    false,
				"error": "receipt not found",
			})
			return
		}
		rl.logger.Error("Receipt lookup failed",
			zap.String("token_ws", token),
			zap.String("buy_order", buyOrder),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"ok":    false,
			"error": "receipt lookup failed",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ok":      true,
		"receipt": record.ToReceipt(),
	})
}

// receiptIdentifiers reads token/buy_order from the query and, for POSTs,
// from a JSON or form body as well
func (rl *Relay) receiptIdentifiers(c *gin.Context) (token, buyOrder string) {
	query := c.Request.URL.Query()
	token = domain.TokenFromValues(query)
	buyOrder = query.Get("buy_order")

	if c.Request.Method == http.MethodPost && (token == "" || buyOrder == "") {
		var body struct {
			TokenWS  string `json:"token_ws" form:"token_ws"`
			Token    string `json:"token" form:"token"`
			BuyOrder string `json:"buy_order" form:"buy_order"`
		}
		if err := c.ShouldBind(&body); err == nil {
			if token == "" {
				token = firstNonEmpty(body.TokenWS, body.Token)
			}
			if buyOrder == "" {
				buyOrder = body.BuyOrder
			}
		}
	}
	return token, buyOrder
}

func (rl *Relay) notFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{
		"ok":    false,
		"error": "not found",
		"path":  c.Request.URL.Path,
	})
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func shortRef(token string) string {
	if len(token) > 8 {
		return token[:8]
	}
	return token
}
