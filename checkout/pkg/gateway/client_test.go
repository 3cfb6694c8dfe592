package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Alturino/storefront/internal/config"
	"github.com/Alturino/storefront/internal/fetch"
	"github.com/Alturino/storefront/internal/log"
	"github.com/Alturino/storefront/notification/pkg/queue"
)

func TestClientPrepare(t *testing.T) {
	var captured struct {
		method string
		path   string
		body   map[string]any
		auth   string
		reqID  string
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured.method = r.Method
		captured.path = r.URL.Path
		captured.auth = r.Header.Get("Authorization")
		captured.reqID = r.Header.Get("X-Request-Id")
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&captured.body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"referenceCode":"REF-1","qrImage":"data:image/png;base64,AA==","amountDue":535,"exchangeRate":10.7}`))
	}))
	defer server.Close()

	gc := NewClient(config.PaymentMethod{Name: "bank-qr", BaseURL: server.URL + "/", SecretKey: "s3cret"})
	c := log.AttachRequestIDToContext(context.Background(), "req-1")
	result, err := gc.Prepare(c, PrepareRequest{
		Amount:   decimal.NewFromInt(50),
		Currency: "USD",
		Note:     "Jane Doe",
	})
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, captured.method)
	assert.Equal(t, "/payments/prepare", captured.path)
	assert.Equal(t, "USD", captured.body["currency"])
	assert.Equal(t, "Jane Doe", captured.body["note"])
	assert.Equal(t, "50", captured.body["amount"])
	assert.Equal(t, "req-1", captured.reqID)

	require.True(t, strings.HasPrefix(captured.auth, "Bearer "))
	claims := jwt.RegisteredClaims{}
	_, err = jwt.ParseWithClaims(strings.TrimPrefix(captured.auth, "Bearer "), &claims,
		func(*jwt.Token) (interface{}, error) { return []byte("s3cret"), nil },
		jwt.WithAudience("bank-qr"),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
	)
	require.NoError(t, err)
	assert.Equal(t, "req-1", claims.ID)

	assert.Equal(t, "REF-1", result.ReferenceCode)
	require.True(t, result.AmountDue.Valid)
	assert.True(t, decimal.NewFromInt(535).Equal(result.AmountDue.Decimal))
	require.True(t, result.ExchangeRate.Valid)
	assert.True(t, decimal.RequireFromString("10.7").Equal(result.ExchangeRate.Decimal))
}

func TestClientPrepareWithoutSecretSendsNoToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		assert.NotEmpty(t, r.Header.Get("X-Request-Id"))
		_, _ = w.Write([]byte(`{"referenceCode":"REF-2","qrImage":"https://qr"}`))
	}))
	defer server.Close()

	gc := NewClient(config.PaymentMethod{Name: "card", BaseURL: server.URL})
	result, err := gc.Prepare(context.Background(), PrepareRequest{Amount: decimal.NewFromInt(1), Currency: "USD"})
	require.NoError(t, err)
	assert.False(t, result.AmountDue.Valid)
	assert.False(t, result.ExchangeRate.Valid)
}

func TestClientErrors(t *testing.T) {
	testCases := []struct {
		name            string
		status          int
		body            string
		expectedMessage string
	}{
		{
			name:            "given business error should carry gateway message",
			status:          http.StatusUnprocessableEntity,
			body:            `{"message":"amount below minimum"}`,
			expectedMessage: "amount below minimum",
		},
		{
			name:            "given unavailable gateway without body should have empty message",
			status:          http.StatusServiceUnavailable,
			body:            ``,
			expectedMessage: "",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer server.Close()

			gc := NewClient(config.PaymentMethod{Name: "bank-qr", BaseURL: server.URL})
			_, err := gc.Prepare(context.Background(), PrepareRequest{Amount: decimal.NewFromInt(1)})

			var gerr *Error
			require.ErrorAs(t, err, &gerr)
			assert.Equal(t, tc.status, gerr.StatusCode())
			assert.Equal(t, tc.expectedMessage, gerr.Message)
		})
	}
}

func TestClientVerify(t *testing.T) {
	settled := time.Date(2024, time.December, 1, 9, 5, 0, 0, time.UTC)
	testCases := []struct {
		name              string
		body              string
		expectedPaid      bool
		expectedSettledAt *time.Time
	}{
		{
			name:              "given rfc3339 settledAt should parse it",
			body:              `{"paid":true,"settledAt":"2024-12-01T09:05:00Z"}`,
			expectedPaid:      true,
			expectedSettledAt: &settled,
		},
		{
			name:              "given epoch millisecond settledAt should parse it",
			body:              `{"paid":true,"settledAt":1733043900000}`,
			expectedPaid:      true,
			expectedSettledAt: &settled,
		},
		{
			name:         "given unparsable settledAt should keep the paid result",
			body:         `{"paid":true,"settledAt":"yesterday"}`,
			expectedPaid: true,
		},
		{
			name:         "given no settledAt should leave it empty",
			body:         `{"paid":false}`,
			expectedPaid: false,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodGet, r.Method)
				assert.Equal(t, "/payments/REF-1", r.URL.Path)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer server.Close()

			gc := NewClient(config.PaymentMethod{Name: "bank-qr", BaseURL: server.URL})
			result, err := gc.Verify(context.Background(), "REF-1")
			require.NoError(t, err)
			assert.Equal(t, tc.expectedPaid, result.Paid)
			if tc.expectedSettledAt == nil {
				assert.Nil(t, result.SettledAt)
				return
			}
			require.NotNil(t, result.SettledAt)
			assert.True(t, tc.expectedSettledAt.Equal(*result.SettledAt))
		})
	}
}

type countingNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *countingNotifier) Enqueue(_ context.Context, _ queue.Severity, message string, _ time.Duration) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, message)
	return "id"
}

func tripAfterTwo() Option {
	return WithBreakerSettings(gobreaker.Settings{
		Timeout: time.Hour,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 2
		},
	})
}

func TestClientBreaker(t *testing.T) {
	t.Run("given client errors should keep the breaker closed", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusNotFound)
		}))
		defer server.Close()

		gc := NewClient(config.PaymentMethod{Name: "bank-qr", BaseURL: server.URL}, tripAfterTwo())
		for i := 0; i < 3; i++ {
			_, err := gc.Verify(context.Background(), "REF-1")
			var gerr *Error
			require.ErrorAs(t, err, &gerr)
		}
		assert.Equal(t, int32(3), calls.Load())
	})

	t.Run("given retryable statuses on verify should keep the breaker closed", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer server.Close()

		gc := NewClient(config.PaymentMethod{Name: "bank-qr", BaseURL: server.URL}, tripAfterTwo())
		for i := 0; i < 4; i++ {
			_, err := gc.Verify(context.Background(), "REF-1")
			var gerr *Error
			require.ErrorAs(t, err, &gerr)
		}
		assert.Equal(t, int32(4), calls.Load())
	})

	t.Run("given server errors on prepare should open only the prepare breaker", func(t *testing.T) {
		var prepares, verifies atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodPost {
				prepares.Add(1)
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			verifies.Add(1)
			_, _ = w.Write([]byte(`{"paid":false}`))
		}))
		defer server.Close()

		gc := NewClient(config.PaymentMethod{Name: "bank-qr", BaseURL: server.URL}, tripAfterTwo())
		c := context.Background()
		for i := 0; i < 2; i++ {
			_, err := gc.Prepare(c, PrepareRequest{Amount: decimal.NewFromInt(1)})
			require.Error(t, err)
		}
		_, err := gc.Prepare(c, PrepareRequest{Amount: decimal.NewFromInt(1)})
		assert.ErrorIs(t, err, gobreaker.ErrOpenState)
		assert.Equal(t, int32(2), prepares.Load(), "open breaker should fail fast")

		_, err = gc.Verify(c, "REF-1")
		require.NoError(t, err)
		assert.Equal(t, int32(1), verifies.Load())
	})

	t.Run("given non retryable server errors on verify should open the verify breaker", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		gc := NewClient(config.PaymentMethod{Name: "bank-qr", BaseURL: server.URL}, tripAfterTwo())
		c := context.Background()
		for i := 0; i < 2; i++ {
			_, err := gc.Verify(c, "REF-1")
			require.Error(t, err)
		}
		_, err := gc.Verify(c, "REF-1")
		assert.True(t, errors.Is(err, gobreaker.ErrOpenState))
		assert.Equal(t, int32(2), calls.Load())
	})
}

func TestClientVerifyKeepsRetryBoundAcrossReads(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	gc := NewClient(config.PaymentMethod{Name: "bank-qr", BaseURL: server.URL})
	notifier := &countingNotifier{}
	policy := fetch.DefaultPolicy()
	policy.BaseDelay = time.Millisecond
	fetcher := fetch.New(notifier, policy)

	for i := 1; i <= 2; i++ {
		_, err := fetch.Fetch(context.Background(), fetcher, "Verify", func(c context.Context) (VerifyResult, error) {
			return gc.Verify(c, "REF-1")
		})
		var gerr *Error
		require.ErrorAs(t, err, &gerr)
		assert.Equal(t, http.StatusServiceUnavailable, gerr.StatusCode())
		assert.Equal(t, int32(4*i), calls.Load(), "each read should make one call plus three retries")
	}
	assert.Equal(t, []string{fetch.FailureMessage, fetch.FailureMessage}, notifier.messages)

	_, err := gc.Prepare(context.Background(), PrepareRequest{Amount: decimal.NewFromInt(1)})
	assert.False(t, errors.Is(err, gobreaker.ErrOpenState), "prepare must not be blocked by a degraded verify")
}
