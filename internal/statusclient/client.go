// Package statusclient talks to the status sync service over HTTP and turns
// transport outcomes back into the domain error taxonomy.
package statusclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/joao-fontenele/bigbestmart/internal/domain"
	"github.com/joao-fontenele/bigbestmart/internal/identity"
)

const maxErrorBody = 4 << 10

type Client struct {
	baseURL string
	client  *http.Client
	caller  identity.Caller
}

// New returns a client for the service at baseURL acting as caller. The base
// URL is resolved once by the owner and never rediscovered.
func New(baseURL string, client *http.Client, caller identity.Caller) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		caller:  caller,
	}
}

type statusResponse struct {
	Success bool               `json:"success"`
	Status  domain.OrderStatus `json:"status"`
}

type errorResponse struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

type setStatusRequest struct {
	Status         domain.OrderStatus `json:"status"`
	ExpectedStatus domain.OrderStatus `json:"expectedStatus,omitempty"`
}

func (c *Client) FetchStatus(ctx context.Context, orderID string) (domain.OrderStatus, error) {
	if orderID == "" {
		return "", fmt.Errorf("%w: order id is required", domain.ErrInvalidInput)
	}
	return c.do(ctx, http.MethodGet, orderID, nil)
}

// SetStatus requests a transition to status. expected may be empty.
func (c *Client) SetStatus(ctx context.Context, orderID string, status, expected domain.OrderStatus) (domain.OrderStatus, error) {
	if orderID == "" {
		return "", fmt.Errorf("%w: order id is required", domain.ErrInvalidInput)
	}
	data, err := json.Marshal(setStatusRequest{Status: status, ExpectedStatus: expected})
	if err != nil {
		return "", err
	}
	return c.do(ctx, http.MethodPut, orderID, data)
}

func (c *Client) do(ctx context.Context, method, orderID string, body []byte) (domain.OrderStatus, error) {
	endpoint := c.baseURL + "/order/status/" + url.PathEscape(orderID)

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return "", fmt.Errorf("create status request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.caller.Apply(req.Header)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", responseError(resp)
	}

	var decoded statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("%w: decode status response: %w", domain.ErrUnavailable, err)
	}
	if !decoded.Success || !decoded.Status.Valid() {
		return "", fmt.Errorf("%w: unexpected status payload %q", domain.ErrUnavailable, decoded.Status)
	}

	return decoded.Status, nil
}

func responseError(resp *http.Response) error {
	var decoded errorResponse
	_ = json.NewDecoder(io.LimitReader(resp.Body, maxErrorBody)).Decode(&decoded)

	var class error
	switch {
	case resp.StatusCode == http.StatusBadRequest && decoded.Code == domain.Code(domain.ErrInvalidTransition):
		class = domain.ErrInvalidTransition
	case resp.StatusCode == http.StatusBadRequest:
		class = domain.ErrInvalidInput
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		class = domain.ErrForbidden
	case resp.StatusCode == http.StatusNotFound:
		class = domain.ErrNotFound
	case resp.StatusCode == http.StatusConflict:
		class = domain.ErrConflict
	default:
		class = domain.ErrUnavailable
	}

	if decoded.Error != "" {
		return fmt.Errorf("%w: status service returned %d: %s", class, resp.StatusCode, decoded.Error)
	}
	return fmt.Errorf("%w: status service returned %d", class, resp.StatusCode)
}
