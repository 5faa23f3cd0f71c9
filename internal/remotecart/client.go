package remotecart

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

	"github.com/angelmondragon/cartsync/internal/cartsync"
	pkgerrors "github.com/angelmondragon/cartsync/pkg/errors"
	"github.com/angelmondragon/cartsync/pkg/logger"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"
)

const (
	defaultTimeout     = 10 * time.Second
	defaultMaxFailures = 5
	defaultOpenTimeout = 30 * time.Second

	apiKeyHeader          = "X-Api-Key"
	responseBodyReadLimit = 1024
)

var (
	errBaseURLRequired = errors.New("cart backend base url is required")
)

// Client talks to the cart backend over HTTP+JSON. Every request runs through
// a circuit breaker; while it is open calls fail immediately with a dependency error.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	apiKey      string
	logg        *logger.Logger
	maxFailures uint32
	openTimeout time.Duration
	breaker     *gobreaker.CircuitBreaker[[]byte]
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithAPIKey sends key on every request.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		c.apiKey = strings.TrimSpace(key)
	}
}

// WithLogger sets the logger used for breaker state changes.
func WithLogger(logg *logger.Logger) Option {
	return func(c *Client) {
		if logg != nil {
			c.logg = logg
		}
	}
}

// WithBreaker tunes how many consecutive failures open the breaker and how long it stays open.
func WithBreaker(maxFailures uint32, openTimeout time.Duration) Option {
	return func(c *Client) {
		if maxFailures > 0 {
			c.maxFailures = maxFailures
		}
		if openTimeout > 0 {
			c.openTimeout = openTimeout
		}
	}
}

// NewClient builds a backend client rooted at baseURL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, errBaseURLRequired
	}

	client := &Client{
		baseURL:     trimmed,
		httpClient:  &http.Client{Timeout: defaultTimeout},
		logg:        logger.Discard(),
		maxFailures: defaultMaxFailures,
		openTimeout: defaultOpenTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}

	maxFailures := client.maxFailures
	client.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:    "cart-backend",
		Timeout: client.openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		IsSuccessful: countsAsSuccess,
		OnStateChange: func(name string, from, to gobreaker.State) {
			ctx := client.logg.WithFields(context.Background(), map[string]any{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			})
			client.logg.Warn(ctx, "remotecart.breaker_state_changed")
		},
	})

	return client, nil
}

// BreakerState exposes the breaker state for health reporting.
func (c *Client) BreakerState() gobreaker.State {
	return c.breaker.State()
}

type productPayload struct {
	ID              string              `json:"id"`
	Name            string              `json:"name"`
	Image           string              `json:"image"`
	SpiceLevel      string              `json:"spice_level"`
	Description     string              `json:"description"`
	PreparationTime int                 `json:"preparation_time"`
	Rating          float64             `json:"rating"`
	Featured        bool                `json:"featured"`
	Ingredients     []string            `json:"ingredients"`
	Price           decimal.NullDecimal `json:"price"`
	SalePrice       decimal.NullDecimal `json:"sale_price"`
}

type linePayload struct {
	ID        string              `json:"id"`
	ProductID string              `json:"product_id"`
	Quantity  int                 `json:"quantity"`
	Price     decimal.NullDecimal `json:"price"`
	Product   *productPayload     `json:"product"`
}

type cartPayload struct {
	Items []linePayload `json:"items"`
}

// FetchCart returns the user's authoritative cart lines.
func (c *Client) FetchCart(ctx context.Context, userID string) ([]cartsync.RemoteLine, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}

	body, err := c.do(ctx, http.MethodGet, "cart/"+url.PathEscape(userID), nil, nil)
	if err != nil {
		return nil, err
	}

	var resp cartPayload
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode cart response")
	}

	lines := make([]cartsync.RemoteLine, 0, len(resp.Items))
	for _, item := range resp.Items {
		lines = append(lines, item.toRemoteLine())
	}
	return lines, nil
}

// AddItem adds quantity of productID at price to the user's cart.
func (c *Client) AddItem(ctx context.Context, userID, productID string, quantity int, price decimal.Decimal) error {
	payload := map[string]any{
		"user_id":    userID,
		"product_id": productID,
		"quantity":   quantity,
		"price":      price,
	}
	_, err := c.do(ctx, http.MethodPost, "cart/items", nil, payload)
	return err
}

// UpdateItem sets the quantity of an existing line.
func (c *Client) UpdateItem(ctx context.Context, lineID string, quantity int, userID string) error {
	payload := map[string]any{
		"quantity": quantity,
		"user_id":  userID,
	}
	_, err := c.do(ctx, http.MethodPut, "cart/items/"+url.PathEscape(lineID), nil, payload)
	return err
}

// RemoveItem deletes a line from the user's cart.
func (c *Client) RemoveItem(ctx context.Context, lineID, userID string) error {
	query := url.Values{"user_id": []string{userID}}
	_, err := c.do(ctx, http.MethodDelete, "cart/items/"+url.PathEscape(lineID), query, nil)
	return err
}

// ClearCart deletes every line in the user's cart.
func (c *Client) ClearCart(ctx context.Context, userID string) error {
	_, err := c.do(ctx, http.MethodDelete, "cart/"+url.PathEscape(userID), nil, nil)
	return err
}

// LookupUserID maps an email address to the backend's user id.
func (c *Client) LookupUserID(ctx context.Context, email string) (string, error) {
	query := url.Values{"email": []string{email}}
	body, err := c.do(ctx, http.MethodGet, "users/lookup", query, nil)
	if err != nil {
		return "", err
	}

	var resp struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode user lookup response")
	}
	id := strings.TrimSpace(resp.ID)
	if id == "" {
		return "", pkgerrors.New(pkgerrors.CodeNotFound, "user not found")
	}
	return id, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, payload any) ([]byte, error) {
	body, err := c.breaker.Execute(func() ([]byte, error) {
		return c.roundTrip(ctx, method, path, query, payload)
	})
	if err == nil {
		return body, nil
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cart backend unavailable")
	}
	return nil, err
}

func (c *Client) roundTrip(ctx context.Context, method, path string, query url.Values, payload any) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marshal request")
		}
		reader = bytes.NewReader(encoded)
	}

	target := c.buildURL(path)
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build request")
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set(apiKeyHeader, c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("%s %s", method, path))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
		statusErr := &StatusError{
			Method: method,
			Path:   path,
			Status: resp.StatusCode,
			Body:   strings.TrimSpace(string(msg)),
		}
		code := pkgerrors.CodeDependency
		if resp.StatusCode == http.StatusNotFound {
			code = pkgerrors.CodeNotFound
		}
		return nil, pkgerrors.Wrap(code, statusErr, "cart backend request failed")
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read response")
	}
	return body, nil
}

func (c *Client) buildURL(path string) string {
	return fmt.Sprintf("%s/%s", c.baseURL, strings.TrimLeft(path, "/"))
}

// StatusError is returned for non-2xx backend responses.
type StatusError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.Status)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Status, e.Body)
}

// countsAsSuccess keeps client-side rejections and caller cancellations from tripping the breaker.
func countsAsSuccess(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return true
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Status < http.StatusInternalServerError && statusErr.Status != http.StatusTooManyRequests
	}
	return false
}

func (l linePayload) toRemoteLine() cartsync.RemoteLine {
	line := cartsync.RemoteLine{
		ID:        l.ID,
		ProductID: l.ProductID,
		Quantity:  l.Quantity,
		Price:     l.Price,
	}
	if l.Product != nil {
		line.Product = &cartsync.Product{
			ID:                     l.Product.ID,
			Name:                   l.Product.Name,
			ImageRef:               l.Product.Image,
			SpiceLevel:             l.Product.SpiceLevel,
			Description:            l.Product.Description,
			PreparationTimeMinutes: l.Product.PreparationTime,
			Rating:                 l.Product.Rating,
			Featured:               l.Product.Featured,
			Ingredients:            l.Product.Ingredients,
			ListPrice:              l.Product.Price,
			SalePrice:              l.Product.SalePrice,
		}
	}
	return line
}
