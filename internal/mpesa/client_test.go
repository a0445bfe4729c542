package mpesa

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"tikiti/internal/config"
	"tikiti/internal/logger"
	"tikiti/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryTokenStore struct {
	mu     sync.Mutex
	cached *CachedToken
}

func (s *memoryTokenStore) GetToken(ctx context.Context) (*CachedToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cached.IsValid() {
		return nil, nil
	}
	return s.cached, nil
}

func (s *memoryTokenStore) SetToken(ctx context.Context, token string, expiresIn time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cached = &CachedToken{Token: token, ExpiresAt: time.Now().Add(expiresIn)}
	return nil
}

func (s *memoryTokenStore) DeleteToken(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cached = nil
	return nil
}

func testConfig(baseURL string) config.DarajaConfig {
	return config.DarajaConfig{
		BaseURL:        baseURL,
		ConsumerKey:    "key",
		ConsumerSecret: "secret",
		Passkey:        "passkey",
		Shortcode:      "174379",
		CallbackURL:    "https://example.com/api/payments/mpesa/callback",
		Timeout:        5 * time.Second,
	}
}

func TestInitiateSTKPush(t *testing.T) {
	var tokenRequests int
	var pushBody stkPushRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth/v1/generate":
			tokenRequests++
			expected := "Basic " + base64.StdEncoding.EncodeToString([]byte("key:secret"))
			assert.Equal(t, expected, r.Header.Get("Authorization"))
			json.NewEncoder(w).Encode(map[string]interface{}{
				"access_token": "test-token",
				"expires_in":   "3599",
			})
		case "/mpesa/stkpush/v1/processrequest":
			assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
			require.NoError(t, json.NewDecoder(r.Body).Decode(&pushBody))
			json.NewEncoder(w).Encode(models.STKPushResponse{
				MerchantRequestID: "mr-1",
				CheckoutRequestID: "ws_CO_123",
				ResponseCode:      "0",
				CustomerMessage:   "Success. Request accepted for processing",
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL), &memoryTokenStore{}, logger.NewLogger())
	order := &models.Order{ID: "o1", OrderNumber: "ORD-ABCDEFGHJK", Amount: 1500.0}

	resp, err := client.InitiateSTKPush(context.Background(), order, "0712345678")
	require.NoError(t, err)
	assert.Equal(t, "ws_CO_123", resp.CheckoutRequestID)

	assert.Equal(t, "254712345678", pushBody.PhoneNumber)
	assert.Equal(t, "254712345678", pushBody.PartyA)
	assert.Equal(t, int64(1500), pushBody.Amount)
	assert.Equal(t, "174379", pushBody.BusinessShortCode)
	assert.Equal(t, "CustomerPayBillOnline", pushBody.TransactionType)
	assert.Equal(t, "Order ORD-ABCDEFGHJK", pushBody.AccountReference)

	// Password is base64(shortcode + passkey + timestamp).
	decoded, err := base64.StdEncoding.DecodeString(pushBody.Password)
	require.NoError(t, err)
	assert.Contains(t, string(decoded), "174379passkey")
	assert.Equal(t, pushBody.Timestamp, string(decoded)[len("174379passkey"):])

	// Second push reuses the cached token.
	_, err = client.InitiateSTKPush(context.Background(), order, "0712345678")
	require.NoError(t, err)
	assert.Equal(t, 1, tokenRequests)
}

func TestInitiateSTKPushGatewayRejection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth/v1/generate":
			json.NewEncoder(w).Encode(map[string]interface{}{"access_token": "t", "expires_in": "3599"})
		default:
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]string{"errorMessage": "Spike arrest violation"})
		}
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL), &memoryTokenStore{}, logger.NewLogger())
	order := &models.Order{ID: "o1", OrderNumber: "ORD-ABCDEFGHJK", Amount: 100}

	_, err := client.InitiateSTKPush(context.Background(), order, "254712345678")
	require.Error(t, err)

	var gwErr *GatewayError
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, http.StatusServiceUnavailable, gwErr.StatusCode)
	assert.Equal(t, "Spike arrest violation", gwErr.Message)
}

func TestInitiateSTKPushDropsStaleTokenOn401(t *testing.T) {
	store := &memoryTokenStore{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth/v1/generate":
			json.NewEncoder(w).Encode(map[string]interface{}{"access_token": "t", "expires_in": "3599"})
		default:
			w.WriteHeader(http.StatusUnauthorized)
		}
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL), store, logger.NewLogger())
	order := &models.Order{ID: "o1", OrderNumber: "ORD-ABCDEFGHJK", Amount: 100}

	_, err := client.InitiateSTKPush(context.Background(), order, "254712345678")
	require.Error(t, err)

	cached, err := store.GetToken(context.Background())
	require.NoError(t, err)
	assert.Nil(t, cached)
}

func TestFormatPhoneNumber(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"0712345678", "254712345678"},
		{"0110345678", "254110345678"},
		{"712345678", "254712345678"},
		{"110345678", "254110345678"},
		{"254712345678", "254712345678"},
		{"+254 712 345 678", "254712345678"},
		{"07-1234-5678", "254712345678"},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, FormatPhoneNumber(tc.in), "input %q", tc.in)
	}
}
