// ABOUTME: HTTP client for the per-user items API
// ABOUTME: One bearer-authenticated GET per call; maps responses to items or typed errors

package items

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/2389/platform-engine/internal/items"

// ErrUnauthorized is returned when the API answers 401.
var ErrUnauthorized = errors.New("items API rejected the access token")

// ErrUnexpected wraps network and decoding failures.
var ErrUnexpected = errors.New("unexpected error fetching items")

// StatusError is a non-2xx, non-401 response.
type StatusError struct {
	Code int
	Text string // reason phrase, e.g. "Internal Server Error"
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("items API returned %d %s", e.Code, e.Text)
}

// Item is one entry of a user's list.
type Item struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// listResponse is the API body; a missing items field means an empty list.
type listResponse struct {
	Items []Item `json:"items"`
}

// Client calls the items API.
type Client struct {
	baseURL string
	hc      *http.Client
	tracer  trace.Tracer
}

// NewClient creates a client for the API at baseURL with the given request timeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		hc:      &http.Client{Timeout: timeout},
		tracer:  otel.Tracer(tracerName),
	}
}

// List fetches the items of userID with the bearer accessToken.
func (c *Client) List(ctx context.Context, userID, accessToken string) ([]Item, error) {
	ctx, span := c.tracer.Start(ctx, "items.List", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	endpoint := c.baseURL + "/api/users/" + url.PathEscape(userID) + "/items"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnexpected, err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.hc.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		return nil, fmt.Errorf("%w: %v", ErrUnexpected, err)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, ErrUnauthorized
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		span.SetStatus(codes.Error, resp.Status)
		return nil, &StatusError{Code: resp.StatusCode, Text: reasonPhrase(resp)}
	}

	var body listResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4<<20)).Decode(&body); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "decode failed")
		return nil, fmt.Errorf("%w: decoding response: %v", ErrUnexpected, err)
	}
	if body.Items == nil {
		body.Items = []Item{}
	}
	span.SetAttributes(attribute.Int("items.count", len(body.Items)))
	return body.Items, nil
}

// reasonPhrase extracts the status text from "404 Not Found".
func reasonPhrase(resp *http.Response) string {
	text := strings.TrimSpace(strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)))
	if text == "" {
		text = http.StatusText(resp.StatusCode)
	}
	return text
}
