// Package transport provides the retrying HTTP client shared by the SPARC
// service backends.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/nih-sparc/sparc-client-go/internal/services"
)

const (
	DefaultRetryMax     = 6
	DefaultRetryWaitMin = 1 * time.Second
	DefaultRetryWaitMax = 30 * time.Second
	defaultTimeout      = 60 * time.Second
	errorBodyLimit      = 1024
)

// DefaultRetryStatuses are retried when Options.RetryStatuses is nil.
var DefaultRetryStatuses = map[int]bool{
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// SearchRetryStatuses extends DefaultRetryStatuses with the transient 403, 404
// and 413 answers the SciCrunch search endpoints return under load.
var SearchRetryStatuses = map[int]bool{
	http.StatusForbidden:             true,
	http.StatusNotFound:              true,
	http.StatusRequestEntityTooLarge: true,
	http.StatusTooManyRequests:       true,
	http.StatusInternalServerError:   true,
	http.StatusBadGateway:            true,
	http.StatusServiceUnavailable:    true,
	http.StatusGatewayTimeout:        true,
}

// Options configures a Client.
type Options struct {
	// Service names the backend in errors and log lines.
	Service string
	// BaseURL is prepended to every relative path.
	BaseURL string

	// RetryMax is the number of retries after the first attempt.
	// Zero selects DefaultRetryMax, a negative value disables retries.
	RetryMax int
	// RetryStatuses lists the statuses worth retrying. Nil selects
	// DefaultRetryStatuses.
	RetryStatuses map[int]bool
	RetryWaitMin  time.Duration
	RetryWaitMax  time.Duration
	Timeout       time.Duration

	// Username and Password enable HTTP basic auth when Username is set. Like
	// Headers they are only sent to the BaseURL host.
	Username string
	Password string
	// Headers are added to every request sent to the BaseURL host.
	Headers map[string]string

	// Debug logs every attempt at debug level.
	Debug  bool
	Logger *slog.Logger
}

// Client is a thin JSON-oriented wrapper over a retryablehttp client.
type Client struct {
	service  string
	baseURL  string
	origin   string
	username string
	password string
	headers  map[string]string
	http     *retryablehttp.Client
	log      *slog.Logger
}

// New creates a Client from opts.
func New(opts Options) *Client {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "transport", "service", opts.Service)

	rc := retryablehttp.NewClient()
	rc.HTTPClient = cleanhttp.DefaultPooledClient()
	rc.HTTPClient.Timeout = defaultTimeout
	if opts.Timeout > 0 {
		rc.HTTPClient.Timeout = opts.Timeout
	}

	switch {
	case opts.RetryMax < 0:
		rc.RetryMax = 0
	case opts.RetryMax == 0:
		rc.RetryMax = DefaultRetryMax
	default:
		rc.RetryMax = opts.RetryMax
	}
	rc.RetryWaitMin = DefaultRetryWaitMin
	if opts.RetryWaitMin > 0 {
		rc.RetryWaitMin = opts.RetryWaitMin
	}
	rc.RetryWaitMax = DefaultRetryWaitMax
	if opts.RetryWaitMax > 0 {
		rc.RetryWaitMax = opts.RetryWaitMax
	}

	rc.CheckRetry = CheckRetry(opts.RetryStatuses)
	rc.Backoff = retryablehttp.DefaultBackoff
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	rc.Logger = nil
	if opts.Debug {
		rc.Logger = log
		rc.RequestLogHook = func(_ retryablehttp.Logger, req *http.Request, attempt int) {
			log.Debug("request", "method", req.Method, "url", req.URL.Redacted(), "attempt", attempt)
		}
	}

	baseURL := strings.TrimSuffix(opts.BaseURL, "/")
	return &Client{
		service:  opts.Service,
		baseURL:  baseURL,
		origin:   originOf(baseURL),
		username: opts.Username,
		password: opts.Password,
		headers:  opts.Headers,
		http:     rc,
		log:      log,
	}
}

// CheckRetry returns a policy that retries connection errors and the given
// statuses. A nil map selects DefaultRetryStatuses.
func CheckRetry(statuses map[int]bool) retryablehttp.CheckRetry {
	if statuses == nil {
		statuses = DefaultRetryStatuses
	}
	return func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		if err != nil {
			return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
		}
		return statuses[resp.StatusCode], nil
	}
}

// BaseURL returns the URL relative paths are resolved against.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Get performs a GET request and decodes the JSON response into result.
func (c *Client) Get(ctx context.Context, path string, query url.Values, result any) error {
	return c.Do(ctx, http.MethodGet, path, query, nil, result)
}

// Post JSON-encodes body, POSTs it and decodes the JSON response into result.
func (c *Client) Post(ctx context.Context, path string, query url.Values, body, result any) error {
	return c.Do(ctx, http.MethodPost, path, query, body, result)
}

// Do performs a request with an optional JSON body and decodes the JSON
// response into result when result is non-nil. A *[]byte result receives the
// raw body.
func (c *Client) Do(ctx context.Context, method, path string, query url.Values, body, result any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}

	resp, err := c.send(ctx, method, path, query, payload, "application/json")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return decode(resp.Body, result)
}

// Upload sends r as a multipart form file under field using method and
// decodes the JSON response into result.
func (c *Client) Upload(ctx context.Context, method, path, field, filename string, r io.Reader, result any) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile(field, filename)
	if err != nil {
		return fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return fmt.Errorf("read upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("close form: %w", err)
	}

	resp, err := c.send(ctx, method, path, nil, buf.Bytes(), mw.FormDataContentType())
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return decode(resp.Body, result)
}

// Download streams the body of a GET request into w and returns the number of
// bytes written. Absolute URLs are fetched as-is.
func (c *Client) Download(ctx context.Context, path string, w io.Writer) (int64, error) {
	resp, err := c.send(ctx, http.MethodGet, path, nil, nil, "")
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, fmt.Errorf("read body: %w", err)
	}
	return n, nil
}

func (c *Client) send(ctx context.Context, method, path string, query url.Values, body []byte, contentType string) (*http.Response, error) {
	endpoint := c.resolve(path)
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var raw any
	if body != nil {
		raw = body
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, endpoint, raw)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if body != nil && contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	// Credentials stay on the configured host; presigned URLs elsewhere carry
	// their own signature.
	if c.origin != "" && originOf(endpoint) == c.origin {
		for k, v := range c.headers {
			req.Header.Set(k, v)
		}
		if c.username != "" {
			req.SetBasicAuth(c.username, c.password)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &StatusError{Message: err.Error(), Err: fmt.Errorf("%w: %v", services.ErrUnavailable, err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, c.handleErrorResponse(resp)
	}
	return resp, nil
}

func originOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return ""
	}
	return strings.ToLower(u.Scheme + "://" + u.Host)
}

func (c *Client) resolve(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return c.baseURL + "/" + strings.TrimPrefix(path, "/")
}

// handleErrorResponse converts HTTP error responses to appropriate errors.
func (c *Client) handleErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))

	var baseErr error
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		baseErr = services.ErrAuthentication
	case http.StatusNotFound:
		baseErr = services.ErrNotFound
	case http.StatusGone:
		baseErr = services.ErrGone
		c.log.Warn("resource unpublished", "url", resp.Request.URL.Redacted())
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge, http.StatusUnprocessableEntity:
		baseErr = services.ErrInvalidArgument
	case http.StatusTooManyRequests:
		baseErr = services.ErrUnavailable
	default:
		if resp.StatusCode >= 500 {
			baseErr = services.ErrUnavailable
		} else {
			baseErr = fmt.Errorf("unexpected status %s", resp.Status)
		}
	}

	return &StatusError{
		StatusCode: resp.StatusCode,
		Message:    strings.TrimSpace(string(body)),
		Err:        baseErr,
	}
}

func decode(r io.Reader, result any) error {
	if result == nil {
		return nil
	}
	if raw, ok := result.(*[]byte); ok {
		b, err := io.ReadAll(r)
		if err != nil {
			return fmt.Errorf("read body: %w", err)
		}
		*raw = b
		return nil
	}
	if err := json.NewDecoder(r).Decode(result); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
