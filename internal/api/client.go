package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"reflect"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/atsn/emily/internal/types"
)

// Error kinds. Every error returned by the client wraps one of them.
var (
	// ErrMissingCredential is returned when no bearer token is available.
	ErrMissingCredential = errors.New("missing credential")
	// ErrTransport is returned when the backend cannot be reached or answers with an error.
	ErrTransport = errors.New("transport failure")
	// ErrMalformedResponse is returned when a response does not match the expected envelope.
	ErrMalformedResponse = errors.New("malformed response")
)

// Endpoints.
const (
	conversationsPath = "/atsn-chatbot/conversations"
	profilePath       = "/onboarding/profile"
	leadsPath         = "/leads"
)

const (
	defaultTimeout = 30 * time.Second
	// Responses larger than this are rejected.
	maxResponseBytes = 16 << 20
)

// TokenSource provides the bearer credential of the current session.
// An empty token means no session.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// TokenFunc adapts a function to a TokenSource.
type TokenFunc func(ctx context.Context) (string, error)

// Token implements TokenSource.
func (f TokenFunc) Token(ctx context.Context) (string, error) { return f(ctx) }

// StaticToken is a TokenSource always returning the same token.
func StaticToken(token string) TokenSource {
	return TokenFunc(func(context.Context) (string, error) { return token, nil })
}

// Opts configures a Client.
type Opts struct {
	// BaseURL of the backend, already normalized.
	BaseURL string
	Timeout time.Duration
	// HTTPClient overrides the default client. Timeout is ignored when set.
	HTTPClient *http.Client
	Metrics    *Metrics
	Logger     *zap.Logger
	// Breaker overrides the default circuit breaker settings.
	Breaker *BreakerOpts
}

// BreakerOpts configures the circuit breaker guarding the backend.
type BreakerOpts struct {
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold float64
	MinRequests      uint32
}

// DefaultBreakerOpts returns the default circuit breaker settings.
func DefaultBreakerOpts() BreakerOpts {
	return BreakerOpts{
		MaxRequests:      1,
		Interval:         30 * time.Second,
		Timeout:          30 * time.Second,
		FailureThreshold: 0.8,
		MinRequests:      5,
	}
}

// Client of the backend REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenSource
	metrics    *Metrics
	logger     *zap.Logger
	breaker    *gobreaker.CircuitBreaker
	validate   *validator.Validate
}

// New returns a client authenticating with tokens.
func New(opts *Opts, tokens TokenSource) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = NewMetrics()
	}
	breakerOpts := DefaultBreakerOpts()
	if opts.Breaker != nil {
		breakerOpts = *opts.Breaker
	}

	return &Client{
		baseURL:    opts.BaseURL,
		httpClient: httpClient,
		tokens:     tokens,
		metrics:    metrics,
		logger:     logger,
		breaker:    newBreaker(breakerOpts, logger),
		validate:   newValidator(),
	}
}

// Metrics returns the collectors the client reports to.
func (c *Client) Metrics() *Metrics {
	return c.metrics
}

func newBreaker(opts BreakerOpts, logger *zap.Logger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "backend",
		MaxRequests: opts.MaxRequests,
		Interval:    opts.Interval,
		Timeout:     opts.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < opts.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= opts.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("name", name), zap.Stringer("from", from), zap.Stringer("to", to))
		},
		// Only transport failures say something about the health of the backend.
		IsSuccessful: func(err error) bool {
			return !errors.Is(err, ErrTransport)
		},
	})
}

func newValidator() *validator.Validate {
	validate := validator.New()
	validate.RegisterCustomTypeFunc(func(field reflect.Value) any {
		timestamp, ok := field.Interface().(types.Timestamp)
		if !ok || timestamp.IsZero() {
			return nil
		}
		return timestamp.UnixNano()
	}, types.Timestamp{})
	return validate
}

type conversationsEnvelope struct {
	Success       bool                  `json:"success"`
	Conversations []*types.Conversation `json:"conversations" validate:"dive,required"`
}

type profileEnvelope struct {
	Data *types.Profile `json:"data" validate:"required"`
}

type leadsEnvelope struct {
	Data []*types.Lead `json:"data" validate:"dive,required"`
}

// ListConversations returns the whole conversation history of the user.
// A successful response without conversations yields an empty list.
func (c *Client) ListConversations(ctx context.Context) ([]*types.Conversation, error) {
	envelope := &conversationsEnvelope{}
	query := url.Values{"all": []string{"true"}}
	if err := c.get(ctx, "conversations", conversationsPath, query, envelope); err != nil {
		return nil, err
	}
	if !envelope.Success {
		return nil, errors.Wrap(ErrTransport, "backend reported an unsuccessful response")
	}
	if envelope.Conversations == nil {
		return []*types.Conversation{}, nil
	}
	return envelope.Conversations, nil
}

// GetProfile returns the onboarding profile of the user.
func (c *Client) GetProfile(ctx context.Context) (*types.Profile, error) {
	envelope := &profileEnvelope{}
	if err := c.get(ctx, "profile", profilePath, nil, envelope); err != nil {
		return nil, err
	}
	return envelope.Data, nil
}

// ListLeads returns a page of leads.
func (c *Client) ListLeads(ctx context.Context, limit, offset int) ([]*types.Lead, error) {
	envelope := &leadsEnvelope{}
	query := url.Values{
		"limit":  []string{strconv.Itoa(limit)},
		"offset": []string{strconv.Itoa(offset)},
	}
	if err := c.get(ctx, "leads", leadsPath, query, envelope); err != nil {
		return nil, err
	}
	if envelope.Data == nil {
		return []*types.Lead{}, nil
	}
	return envelope.Data, nil
}

// get performs an authenticated GET and parses the response into envelope.
func (c *Client) get(ctx context.Context, endpoint, path string, query url.Values, envelope any) (err error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return errors.Wrap(ErrMissingCredential, err.Error())
	}
	if token == "" {
		return ErrMissingCredential
	}

	start := time.Now()
	defer func() {
		c.metrics.Duration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
		c.metrics.Requests.WithLabelValues(endpoint, outcome(err)).Inc()
	}()

	body, err := c.breaker.Execute(func() (any, error) {
		return c.do(ctx, path, query, token)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return errors.Wrap(ErrTransport, err.Error())
		}
		return err
	}

	if err := json.Unmarshal(body.([]byte), envelope); err != nil {
		return errors.Wrapf(ErrMalformedResponse, "decoding %s: %v", endpoint, err)
	}
	if err := c.validate.Struct(envelope); err != nil {
		return errors.Wrapf(ErrMalformedResponse, "validating %s: %v", endpoint, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, path string, query url.Values, token string) ([]byte, error) {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, errors.Wrapf(ErrTransport, "creating request: %v", err)
	}
	requestID := uuid.New().String()
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Authorization", "Bearer "+token)
	request.Header.Set("X-Request-ID", requestID)

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, errors.Wrapf(ErrTransport, "requesting %s: %v", path, err)
	}
	defer response.Body.Close()

	body, err := io.ReadAll(io.LimitReader(response.Body, maxResponseBytes))
	if err != nil {
		return nil, errors.Wrapf(ErrTransport, "reading %s: %v", path, err)
	}
	if response.StatusCode < 200 || response.StatusCode > 299 {
		return nil, errors.Wrapf(ErrTransport, "%s returned status %d", path, response.StatusCode)
	}
	c.logger.Debug("backend request", zap.String("path", path), zap.String("request_id", requestID),
		zap.Int("status", response.StatusCode), zap.Int("bytes", len(body)))
	return body, nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrMalformedResponse):
		return "malformed"
	default:
		return "transport"
	}
}
