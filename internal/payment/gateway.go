// Package payment wraps the external payment gateway.  The adapter
// requests a payment intent over HTTP and hands the customer a
// redirect URL; the gateway later calls back on a public endpoint with
// a signed query string carrying the transaction reference and a
// result code.
package payment

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/starlight-cinema/booking-core/internal/model"
)

// ResultCode is the gateway's outcome for a payment attempt.
type ResultCode string

// Result codes delivered on the callback.  Anything unrecognized is
// treated as a server error.
const (
	ResultSuccess       ResultCode = "00"
	ResultNotFound      ResultCode = "01"
	ResultUserCancelled ResultCode = "24"
	ResultServerError   ResultCode = "99"
)

// ErrGatewayUnavailable is returned when the gateway cannot be reached
// or answers with a non-2xx status.  The order stays retryable.
var ErrGatewayUnavailable = errors.New("payment gateway unavailable")

// ErrBadSignature is returned when a callback's HMAC does not match.
var ErrBadSignature = errors.New("invalid callback signature")

// Gateway creates payment intents for orders.  Implementations return
// the customer-facing redirect URL and the gateway's opaque
// transaction reference.
type Gateway interface {
	CreatePaymentIntent(ctx context.Context, order *model.Order) (redirectURL, gatewayRef string, err error)
}

// Config carries the gateway connection parameters.
type Config struct {
	BaseURL    string        // gateway API base URL
	ReturnURL  string        // where the gateway redirects the customer
	MerchantID string        // merchant terminal code
	HashSecret string        // shared secret for callback signatures
	Timeout    time.Duration // per-request HTTP timeout
}

// HTTPGateway talks to the real gateway over HTTP.
type HTTPGateway struct {
	cfg    Config
	client *http.Client
}

// NewHTTPGateway constructs a gateway adapter from config.
func NewHTTPGateway(cfg Config) *HTTPGateway {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPGateway{cfg: cfg, client: &http.Client{Timeout: timeout}}
}

type intentRequest struct {
	MerchantID string `json:"merchant_id"`
	OrderCode  string `json:"order_code"`
	Amount     int64  `json:"amount"`
	ReturnURL  string `json:"return_url"`
}

type intentResponse struct {
	RedirectURL string `json:"redirect_url"`
	Ref         string `json:"ref"`
}

// CreatePaymentIntent registers the order with the gateway and returns
// the redirect URL for the customer.  Network failures and non-2xx
// answers map to ErrGatewayUnavailable so the caller can leave the
// order in a retryable state.
func (g *HTTPGateway) CreatePaymentIntent(ctx context.Context, order *model.Order) (string, string, error) {
	body, err := json.Marshal(intentRequest{
		MerchantID: g.cfg.MerchantID,
		OrderCode:  order.PublicCode,
		Amount:     order.Total,
		ReturnURL:  g.cfg.ReturnURL,
	})
	if err != nil {
		return "", "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(g.cfg.BaseURL, "/")+"/intents", bytes.NewReader(body))
	if err != nil {
		return "", "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", "", fmt.Errorf("%w: status %d", ErrGatewayUnavailable, resp.StatusCode)
	}
	var ir intentResponse
	if err := json.NewDecoder(resp.Body).Decode(&ir); err != nil {
		return "", "", fmt.Errorf("%w: bad response: %v", ErrGatewayUnavailable, err)
	}
	if ir.RedirectURL == "" || ir.Ref == "" {
		return "", "", fmt.Errorf("%w: empty intent response", ErrGatewayUnavailable)
	}
	return ir.RedirectURL, ir.Ref, nil
}

// CallbackResult is the verified payload of a gateway callback.
type CallbackResult struct {
	Ref  string
	Code ResultCode
}

// VerifyCallback checks the HMAC-SHA512 signature over the callback
// query parameters and extracts the transaction reference and result
// code.  The signature covers every parameter except "signature"
// itself, sorted by key and joined as key=value with '&'.
func VerifyCallback(params url.Values, secret string) (*CallbackResult, error) {
	sig := params.Get("signature")
	if sig == "" {
		return nil, ErrBadSignature
	}
	if !hmac.Equal([]byte(sig), []byte(Sign(params, secret))) {
		return nil, ErrBadSignature
	}
	ref := params.Get("ref")
	if ref == "" {
		return nil, errors.New("missing ref parameter")
	}
	code := ResultCode(params.Get("result_code"))
	switch code {
	case ResultSuccess, ResultNotFound, ResultUserCancelled:
	default:
		code = ResultServerError
	}
	return &CallbackResult{Ref: ref, Code: code}, nil
}

// Sign computes the hex HMAC-SHA512 signature for a set of callback
// parameters, excluding any present "signature" key.
func Sign(params url.Values, secret string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		if k == "signature" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+params.Get(k))
	}
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write([]byte(strings.Join(parts, "&")))
	return hex.EncodeToString(mac.Sum(nil))
}
