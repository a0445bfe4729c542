package mpesa

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"tikiti/internal/config"
	"tikiti/internal/logger"
	"tikiti/internal/models"
)

// GatewayError is a failure reported by (or while reaching) the payment
// gateway. It is retryable from the caller's point of view; the client never
// retries internally.
type GatewayError struct {
	StatusCode int
	Message    string
}

func (e *GatewayError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("payment gateway error (status %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("payment gateway error: %s", e.Message)
}

type stkPushRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            int64  `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

type tokenResponse struct {
	AccessToken string      `json:"access_token"`
	ExpiresIn   json.Number `json:"expires_in"`
}

type gatewayErrorBody struct {
	ErrorMessage string `json:"errorMessage"`
}

// Client talks to the Daraja API: OAuth token endpoint plus the STK push
// (push payment) endpoint.
type Client struct {
	cfg    config.DarajaConfig
	http   *http.Client
	tokens *TokenSource
	log    *logger.Logger
}

func NewClient(cfg config.DarajaConfig, store TokenStore, log *logger.Logger) *Client {
	c := &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		log:  log,
	}
	c.tokens = NewTokenSource(store, c.fetchToken)
	return c
}

// fetchToken requests a fresh access token with Basic-auth client
// credentials. The advertised lifetime is shortened by the cache's buffer.
func (c *Client) fetchToken(ctx context.Context) (string, time.Duration, error) {
	url := c.cfg.BaseURL + "/oauth/v1/generate?grant_type=client_credentials"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", 0, err
	}
	credentials := base64.StdEncoding.EncodeToString([]byte(c.cfg.ConsumerKey + ":" + c.cfg.ConsumerSecret))
	req.Header.Set("Authorization", "Basic "+credentials)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", 0, &GatewayError{Message: fmt.Sprintf("token request failed: %v", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		c.log.Error("MPESA", fmt.Sprintf("Token request rejected: %s", string(body)))
		return "", 0, &GatewayError{StatusCode: resp.StatusCode, Message: "failed to obtain access token"}
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", 0, &GatewayError{Message: fmt.Sprintf("malformed token response: %v", err)}
	}
	expiresIn, err := tr.ExpiresIn.Int64()
	if err != nil || expiresIn <= 0 {
		expiresIn = 3599
	}
	return tr.AccessToken, time.Duration(expiresIn) * time.Second, nil
}

// InitiateSTKPush asks the gateway to prompt the payer's device for the
// order amount. The returned CheckoutRequestID is the correlation id the
// asynchronous callback will carry.
func (c *Client) InitiateSTKPush(ctx context.Context, order *models.Order, phoneNumber string) (*models.STKPushResponse, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	timestamp := time.Now().Format("20060102150405")
	password := base64.StdEncoding.EncodeToString([]byte(c.cfg.Shortcode + c.cfg.Passkey + timestamp))
	phone := FormatPhoneNumber(phoneNumber)

	payload := stkPushRequest{
		BusinessShortCode: c.cfg.Shortcode,
		Password:          password,
		Timestamp:         timestamp,
		TransactionType:   "CustomerPayBillOnline",
		Amount:            int64(order.Amount),
		PartyA:            phone,
		PartyB:            c.cfg.Shortcode,
		PhoneNumber:       phone,
		CallBackURL:       c.cfg.CallbackURL,
		AccountReference:  "Order " + order.OrderNumber,
		TransactionDesc:   "Payment for Order " + order.OrderNumber,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/mpesa/stkpush/v1/processrequest", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &GatewayError{Message: fmt.Sprintf("push request failed: %v", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		// Token went stale before its advertised expiry; the next call will
		// fetch a fresh one.
		if derr := c.tokens.Invalidate(ctx); derr != nil {
			c.log.Warn("MPESA", fmt.Sprintf("Failed to drop stale token: %v", derr))
		}
	}

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		var errBody gatewayErrorBody
		_ = json.Unmarshal(raw, &errBody)
		message := errBody.ErrorMessage
		if message == "" {
			message = strings.TrimSpace(string(raw))
		}
		c.log.Error("MPESA", fmt.Sprintf("STK push rejected for order %s: %s", order.OrderNumber, message))
		return nil, &GatewayError{StatusCode: resp.StatusCode, Message: message}
	}

	var pushResp models.STKPushResponse
	if err := json.NewDecoder(resp.Body).Decode(&pushResp); err != nil {
		return nil, &GatewayError{Message: fmt.Sprintf("malformed push response: %v", err)}
	}

	c.log.LogPayment("STK_PUSH", pushResp.CheckoutRequestID,
		fmt.Sprintf("Initiated push of %d to %s for order %s", int64(order.Amount), phone, order.OrderNumber))
	return &pushResp, nil
}

// FormatPhoneNumber normalizes a phone number to the canonical 254...
// international format: non-digits are stripped, a local 0 prefix is
// rewritten, and bare 7xx/1xx numbers get the country code prepended.
func FormatPhoneNumber(phone string) string {
	var digits strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	p := digits.String()
	switch {
	case strings.HasPrefix(p, "0"):
		return "254" + p[1:]
	case strings.HasPrefix(p, "7"), strings.HasPrefix(p, "1"):
		return "254" + p
	}
	return p
}
