// Package payment integrates the ZaloPay-style gateway: it creates signed
// payment orders and authenticates the asynchronous callbacks the gateway
// posts back after the customer pays.
package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/safar/flower-store/internal/config"
	"github.com/shopspring/decimal"
)

// ErrMACMismatch is returned when a callback's signature does not match the
// HMAC of its payload under the callback key. Treat it as a forged or
// corrupted callback and change nothing.
var ErrMACMismatch = errors.New("callback MAC mismatch")

// GatewayError is a payment-initiation failure. It is always surfaced to the
// caller; the order itself stays pending for administrative follow-up.
type GatewayError struct {
	Code    int
	Message string
	Err     error
}

func (e *GatewayError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("payment gateway: %v", e.Err)
	}
	return fmt.Sprintf("payment gateway: return_code=%d %s", e.Code, e.Message)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// Client talks to the payment gateway. Key1 signs outbound creation requests,
// Key2 verifies inbound callbacks. Both come from injected configuration.
type Client struct {
	appID       string
	key1        string
	key2        string
	endpoint    string
	callbackURL string
	httpClient  *http.Client
}

func NewClient(cfg config.PaymentConfig) *Client {
	return &Client{
		appID:       cfg.AppID,
		key1:        cfg.Key1,
		key2:        cfg.Key2,
		endpoint:    cfg.Endpoint,
		callbackURL: cfg.CallbackURL,
		httpClient:  &http.Client{Timeout: cfg.Timeout},
	}
}

// embedData rides inside the gateway order and comes back verbatim in the
// callback, which is how the callback recovers the originating order id.
type embedData struct {
	RedirectURL string `json:"redirecturl"`
	OrderID     string `json:"orderId"`
}

type createResponse struct {
	ReturnCode    int    `json:"return_code"`
	ReturnMessage string `json:"return_message"`
	OrderURL      string `json:"order_url"`
}

const returnCodeSuccess = 1

// CreatePaymentURL registers a payment with the gateway and returns the URL
// the customer is redirected to. The request carries a unique per-attempt
// transaction id and is signed with HMAC-SHA256 under key1 over
// app_id|app_trans_id|app_user|amount|app_time|embed_data|item.
func (c *Client) CreatePaymentURL(ctx context.Context, orderID, appUser string, amount decimal.Decimal) (string, error) {
	embed, err := json.Marshal(embedData{RedirectURL: "", OrderID: orderID})
	if err != nil {
		return "", &GatewayError{Err: fmt.Errorf("marshal embed data: %w", err)}
	}

	appTransID := fmt.Sprintf("%s_%06d", time.Now().Format("060102"), rand.Intn(1000000))
	appTime := time.Now().UnixMilli()
	item := "[]"
	amountInt := amount.Round(0).IntPart()

	params := url.Values{}
	params.Set("app_id", c.appID)
	params.Set("app_trans_id", appTransID)
	params.Set("app_user", appUser)
	params.Set("app_time", strconv.FormatInt(appTime, 10))
	params.Set("item", item)
	params.Set("embed_data", string(embed))
	params.Set("amount", strconv.FormatInt(amountInt, 10))
	params.Set("description", fmt.Sprintf("Flower Store - Payment for order #%s", orderID))
	params.Set("bank_code", "")
	params.Set("callback_url", c.callbackURL)

	signed := fmt.Sprintf("%s|%s|%s|%d|%d|%s|%s",
		c.appID, appTransID, appUser, amountInt, appTime, embed, item)
	params.Set("mac", sign(signed, c.key1))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return "", &GatewayError{Err: fmt.Errorf("build request: %w", err)}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &GatewayError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", &GatewayError{Err: fmt.Errorf("read response: %w", err)}
	}

	var result createResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return "", &GatewayError{Err: fmt.Errorf("decode response: %w", err)}
	}

	if result.ReturnCode != returnCodeSuccess {
		return "", &GatewayError{Code: result.ReturnCode, Message: result.ReturnMessage}
	}

	return result.OrderURL, nil
}

// VerifyCallback recomputes the callback MAC under key2 and compares it in
// constant time. A mismatch means the callback was not produced by the
// gateway and must not change any order.
func (c *Client) VerifyCallback(data, mac string) error {
	expected := sign(data, c.key2)
	if !hmac.Equal([]byte(expected), []byte(mac)) {
		return ErrMACMismatch
	}
	return nil
}

// CallbackData is the subset of the callback payload the reconciler needs.
type CallbackData struct {
	AppTransID string
	OrderID    string
}

// ParseCallback decodes the callback payload and the embedded data inside it,
// returning the originating order identifier.
func (c *Client) ParseCallback(data string) (*CallbackData, error) {
	var payload struct {
		AppTransID string `json:"app_trans_id"`
		EmbedData  string `json:"embed_data"`
	}
	if err := json.Unmarshal([]byte(data), &payload); err != nil {
		return nil, fmt.Errorf("decode callback data: %w", err)
	}

	var embed embedData
	if err := json.Unmarshal([]byte(payload.EmbedData), &embed); err != nil {
		return nil, fmt.Errorf("decode embed data: %w", err)
	}

	if embed.OrderID == "" {
		return nil, fmt.Errorf("callback embed data has no order id")
	}

	return &CallbackData{
		AppTransID: payload.AppTransID,
		OrderID:    embed.OrderID,
	}, nil
}

func sign(data, key string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}
