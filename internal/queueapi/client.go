package queueapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"bontle/internal/metrics"
	"bontle/internal/models"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"
)

const storesCacheKey = "bontle:stores"

// HTTPError is returned for any non-2xx response. Its message is the raw
// response body so it can be shown to the user as-is.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	if body := strings.TrimSpace(e.Body); body != "" {
		return body
	}
	return fmt.Sprintf("http %d", e.StatusCode)
}

// Client is a thin HTTP client over the queue backend REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client

	limiter *rate.Limiter

	redis    *redis.Client
	cacheTTL time.Duration
}

// NewClient constructs a client for baseURL. A zero timeout means 10s.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// UseRedisCache configures optional Redis caching for the store list.
func (c *Client) UseRedisCache(redisClient *redis.Client, ttl time.Duration) {
	c.redis = redisClient
	c.cacheTTL = ttl
}

// UseRateLimit caps outgoing requests; callers block until a token is free.
func (c *Client) UseRateLimit(limiter *rate.Limiter) {
	c.limiter = limiter
}

// Login exchanges credentials for an access token.
func (c *Client) Login(ctx context.Context, email, password string) (*models.TokenPair, error) {
	body := map[string]string{"email": email, "password": password}
	var resp models.TokenPair
	if err := c.send(ctx, "login", http.MethodPost, "/auth/login", "", body, &resp); err != nil {
		return nil, err
	}
	if resp.AccessToken == "" {
		return nil, fmt.Errorf("login: response has no access_token")
	}
	return &resp, nil
}

// Me returns the user the token belongs to.
func (c *Client) Me(ctx context.Context, token string) (*models.User, error) {
	var user models.User
	if err := c.send(ctx, "me", http.MethodGet, "/auth/me", token, nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// ListStores returns active stores. It needs no token.
func (c *Client) ListStores(ctx context.Context) ([]models.Store, error) {
	var stores []models.Store
	if c.readCache(ctx, storesCacheKey, &stores) {
		metrics.IncStoreCache(true)
		return stores, nil
	}
	if c.redis != nil {
		metrics.IncStoreCache(false)
	}

	if err := c.send(ctx, "stores", http.MethodGet, "/stores", "", nil, &stores); err != nil {
		return nil, err
	}
	c.writeCache(ctx, storesCacheKey, stores)
	return stores, nil
}

// QueueToday returns today's bookings for storeID ordered by start time.
func (c *Client) QueueToday(ctx context.Context, token string, storeID int64) ([]models.Booking, error) {
	path := "/queue/today?store_id=" + strconv.FormatInt(storeID, 10)
	var bookings []models.Booking
	if err := c.send(ctx, "queue_today", http.MethodGet, path, token, nil, &bookings); err != nil {
		return nil, err
	}
	return bookings, nil
}

// UpdateStatus asks the backend to move a booking to status. The backend
// decides whether the transition is allowed.
func (c *Client) UpdateStatus(ctx context.Context, token, bookingID string, status models.Status) (*models.StatusResult, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("update status: unknown status %q", status)
	}
	path := "/bookings/" + url.PathEscape(bookingID) + "/status"
	body := map[string]models.Status{"status": status}
	var resp models.StatusResult
	if err := c.send(ctx, "update_status", http.MethodPatch, path, token, body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DailyKPIs returns booking outcome counts for storeID on date (YYYY-MM-DD).
func (c *Client) DailyKPIs(ctx context.Context, token string, storeID int64, date string) (*models.KPISnapshot, error) {
	q := url.Values{}
	q.Set("store_id", strconv.FormatInt(storeID, 10))
	q.Set("date_str", date)
	var resp models.KPISnapshot
	if err := c.send(ctx, "daily_kpis", http.MethodGet, "/analytics/daily?"+q.Encode(), token, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// LogIncident records an incident against a booking and returns its id.
func (c *Client) LogIncident(ctx context.Context, token string, incident models.Incident) (string, error) {
	var resp struct {
		OK bool   `json:"ok"`
		ID string `json:"id"`
	}
	if err := c.send(ctx, "log_incident", http.MethodPost, "/incidents", token, incident, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

// HealthCheck checks that the backend answers on /stores.
func (c *Client) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/stores", http.NoBody)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed: %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) send(ctx context.Context, op, method, path, token string, body, out any) (err error) {
	started := time.Now()
	defer func() { metrics.ObserveAPI(op, started, err) }()

	if c.limiter != nil {
		if err = c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}

	var reader io.Reader = http.NoBody
	if body != nil {
		data, mErr := json.Marshal(body)
		if mErr != nil {
			return fmt.Errorf("%s: encode body: %w", op, mErr)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.New().String())
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return c.do(op, req, out)
}

func (c *Client) do(op string, req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return &HTTPError{StatusCode: resp.StatusCode, Body: string(text)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}

func (c *Client) readCache(ctx context.Context, key string, out any) bool {
	if c.redis == nil || c.cacheTTL <= 0 {
		return false
	}
	val, err := c.redis.Get(ctx, key).Result()
	if err != nil {
		return false
	}
	if err := json.Unmarshal([]byte(val), out); err != nil {
		return false
	}
	return true
}

func (c *Client) writeCache(ctx context.Context, key string, val any) {
	if c.redis == nil || c.cacheTTL <= 0 {
		return
	}
	data, err := json.Marshal(val)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, key, data, c.cacheTTL).Err()
}
