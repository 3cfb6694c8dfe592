package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/Alturino/storefront/checkout/internal/common/otel"
	commonErrors "github.com/Alturino/storefront/internal/common/errors"
	"github.com/Alturino/storefront/internal/config"
	commonHttp "github.com/Alturino/storefront/internal/http"
	"github.com/Alturino/storefront/internal/log"
)

const (
	DefaultTimeout = 10 * time.Second
	maxBodyBytes   = 1 << 20
)

// Client is the HTTP gateway of one payment method. Prepare and Verify each
// go through their own circuit breaker; 4xx responses are business errors and
// do not count against either. Verify is retried by the caller on the
// retryable statuses, so those do not count against the verify breaker.
type Client struct {
	method         string
	baseURL        string
	secret         []byte
	httpClient     *http.Client
	retryable      map[int]struct{}
	breakerConfig  gobreaker.Settings
	prepareBreaker *gobreaker.CircuitBreaker[[]byte]
	verifyBreaker  *gobreaker.CircuitBreaker[[]byte]
	now            func() time.Time
}

type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(gc *Client) { gc.httpClient = client }
}

func WithClock(now func() time.Time) Option {
	return func(gc *Client) { gc.now = now }
}

// WithBreakerSettings replaces the default settings of both breakers. Name
// and IsSuccessful are always set by the client.
func WithBreakerSettings(st gobreaker.Settings) Option {
	return func(gc *Client) { gc.breakerConfig = st }
}

// WithRetryableStatus sets the statuses the caller retries Verify on.
// Defaults to 502, 503 and 504.
func WithRetryableStatus(statuses ...int) Option {
	return func(gc *Client) {
		gc.retryable = make(map[int]struct{}, len(statuses))
		for _, status := range statuses {
			gc.retryable[status] = struct{}{}
		}
	}
}

func NewClient(cfg config.PaymentMethod, opts ...Option) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	gc := &Client{
		method:  cfg.Name,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		breakerConfig: gobreaker.Settings{
			MaxRequests: 1,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		},
		now: time.Now,
	}
	if cfg.SecretKey != "" {
		gc.secret = []byte(cfg.SecretKey)
	}
	WithRetryableStatus(http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout)(gc)
	for _, opt := range opts {
		opt(gc)
	}
	gc.prepareBreaker = gc.newBreaker("prepare", false)
	gc.verifyBreaker = gc.newBreaker("verify", true)
	return gc
}

func (gc *Client) newBreaker(operation string, retried bool) *gobreaker.CircuitBreaker[[]byte] {
	st := gc.breakerConfig
	st.Name = "gateway-" + gc.method + "-" + operation
	st.IsSuccessful = func(err error) bool {
		if err == nil || errors.Is(err, context.Canceled) {
			return true
		}
		var gerr *Error
		if !errors.As(err, &gerr) {
			return false
		}
		if retried {
			if _, ok := gc.retryable[gerr.Code]; ok {
				return true
			}
		}
		return gerr.Code < http.StatusInternalServerError
	}
	return gobreaker.NewCircuitBreaker[[]byte](st)
}

func (gc *Client) Prepare(c context.Context, req PrepareRequest) (PrepareResult, error) {
	c, span := otel.Tracer.Start(c, "Client Prepare")
	defer span.End()

	logger := zerolog.Ctx(c).
		With().
		Str(log.KeyTag, "Client Prepare").
		Str(log.KeyPaymentMethod, gc.method).
		Str(log.KeyAmount, req.Amount.String()).
		Str(log.KeyCurrency, req.Currency).
		Logger()

	logger = logger.With().Str(log.KeyProcess, "preparing payment").Logger()
	logger.Info().Msg("preparing payment")
	c = logger.WithContext(c)
	body, err := gc.do(c, gc.prepareBreaker, http.MethodPost, "/payments/prepare", req)
	if err != nil {
		err = fmt.Errorf("failed preparing payment with error=%w", err)
		commonErrors.HandleError(err, span)
		logger.Error().Err(err).Msg(err.Error())
		return PrepareResult{}, err
	}

	result := PrepareResult{}
	if err := json.Unmarshal(body, &result); err != nil {
		err = fmt.Errorf("failed decoding prepare response with error=%w", err)
		commonErrors.HandleError(err, span)
		logger.Error().Err(err).Msg(err.Error())
		return PrepareResult{}, err
	}
	if result.ReferenceCode == "" {
		err = errors.New("prepare response has no referenceCode")
		commonErrors.HandleError(err, span)
		logger.Error().Err(err).Msg(err.Error())
		return PrepareResult{}, err
	}
	logger.Info().Str(log.KeyReferenceCode, result.ReferenceCode).Msg("prepared payment")

	return result, nil
}

func (gc *Client) Verify(c context.Context, referenceCode string) (VerifyResult, error) {
	c, span := otel.Tracer.Start(c, "Client Verify")
	defer span.End()

	logger := zerolog.Ctx(c).
		With().
		Str(log.KeyTag, "Client Verify").
		Str(log.KeyPaymentMethod, gc.method).
		Str(log.KeyReferenceCode, referenceCode).
		Logger()

	logger = logger.With().Str(log.KeyProcess, "verifying payment").Logger()
	logger.Debug().Msg("verifying payment")
	c = logger.WithContext(c)
	body, err := gc.do(c, gc.verifyBreaker, http.MethodGet, "/payments/"+url.PathEscape(referenceCode), nil)
	if err != nil {
		err = fmt.Errorf("failed verifying payment with error=%w", err)
		commonErrors.HandleError(err, span)
		logger.Warn().Err(err).Msg(err.Error())
		return VerifyResult{}, err
	}

	result := VerifyResult{}
	if err := json.Unmarshal(body, &result); err != nil {
		err = fmt.Errorf("failed decoding verify response with error=%w", err)
		commonErrors.HandleError(err, span)
		logger.Error().Err(err).Msg(err.Error())
		return VerifyResult{}, err
	}
	logger.Debug().Bool("paid", result.Paid).Msg("verified payment")

	return result, nil
}

func (gc *Client) do(
	c context.Context,
	breaker *gobreaker.CircuitBreaker[[]byte],
	method string,
	path string,
	payload any,
) ([]byte, error) {
	return breaker.Execute(func() ([]byte, error) {
		var reqBody io.Reader
		if payload != nil {
			raw, err := json.Marshal(payload)
			if err != nil {
				return nil, err
			}
			reqBody = bytes.NewReader(raw)
		}

		req, err := http.NewRequestWithContext(c, method, gc.baseURL+path, reqBody)
		if err != nil {
			return nil, err
		}
		requestID := log.RequestIDFromContext(c)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		req.Header.Set(commonHttp.KEY_HEADER_REQUEST_ID, requestID)
		if payload != nil {
			req.Header.Set(commonHttp.KEY_HEADER_CONTENT_TYPE, commonHttp.VALUE_HEADER_APPLICATION_JSON)
		}
		if gc.secret != nil {
			token, err := signToken(gc.secret, gc.method, requestID, gc.now())
			if err != nil {
				return nil, fmt.Errorf("failed signing gateway token with error=%w", err)
			}
			req.Header.Set(commonHttp.KEY_HEADER_AUTHORIZATION, "Bearer "+token)
		}

		res, err := gc.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer res.Body.Close()

		body, err := io.ReadAll(io.LimitReader(res.Body, maxBodyBytes))
		if err != nil {
			return nil, err
		}
		if res.StatusCode < 200 || res.StatusCode > 299 {
			gerr := &Error{Code: res.StatusCode}
			msg := struct {
				Message string `json:"message"`
			}{}
			if json.Unmarshal(body, &msg) == nil {
				gerr.Message = msg.Message
			}
			return nil, gerr
		}
		return body, nil
	})
}
