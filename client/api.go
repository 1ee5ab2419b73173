package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
)

// Example payloads posted by the two clients in write mode.
var (
	CLIOrder    = map[string]string{"item": "CLI-Device-Coffee"}
	WorkerOrder = map[string]string{"item": "Robot-Coffee"}
)

// Outcome classifies an API response for the operator.
type Outcome string

const (
	OutcomeSuccess      Outcome = "success"
	OutcomeUnauthorized Outcome = "unauthorized"
	OutcomeForbidden    Outcome = "forbidden"
	OutcomeUnexpected   Outcome = "unexpected"
)

// Response is a completed call to the orders API.
type Response struct {
	Method  string
	Path    string
	Status  int
	Body    string
	Outcome Outcome
	// Scope is the permission the operation needs.
	Scope string
}

// Describe renders the operator-facing diagnostic for the response.
func (r Response) Describe() string {
	switch r.Outcome {
	case OutcomeSuccess:
		label := "OK (read)"
		if r.Method == http.MethodPost {
			label = "Created (write)"
		}
		return fmt.Sprintf("%s %s -> %d %s: %s", r.Method, r.Path, r.Status, label, strings.TrimSpace(r.Body))
	case OutcomeUnauthorized:
		return "401 Unauthorized: bad/missing token or wrong audience/issuer."
	case OutcomeForbidden:
		return fmt.Sprintf("403 Forbidden: this client lacks '%s'. Grant the scope to the application in the authorization server.", r.Scope)
	default:
		return fmt.Sprintf("HTTP %d -> %s", r.Status, strings.TrimSpace(r.Body))
	}
}

// APICaller calls the orders API with a bearer token attached by an
// oauth2.Transport.
type APICaller struct {
	base   string
	client *http.Client
}

// NewAPICaller returns a caller for the API at base. A nil base client
// uses NewHTTPClient.
func NewAPICaller(base string, tok AcquiredToken, httpClient *http.Client) *APICaller {
	if httpClient == nil {
		httpClient = NewHTTPClient()
	}
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, httpClient)
	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(tok.OAuth2()))
	client.Timeout = httpClient.Timeout
	return &APICaller{base: strings.TrimSuffix(base, "/"), client: client}
}

// ListOrders calls GET /api/orders.
func (c *APICaller) ListOrders(ctx context.Context) (Response, error) {
	return c.do(ctx, http.MethodGet, "/api/orders", "read:orders", nil)
}

// CreateOrder posts order to /api/orders.
func (c *APICaller) CreateOrder(ctx context.Context, order any) (Response, error) {
	payload, err := json.Marshal(order)
	if err != nil {
		return Response{}, fmt.Errorf("encode order: %w", err)
	}
	return c.do(ctx, http.MethodPost, "/api/orders", "write:orders", payload)
}

func (c *APICaller) do(ctx context.Context, method, path, scope string, payload []byte) (Response, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return Response{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return Response{}, fmt.Errorf("%w: %s %s: %w", ErrNetwork, method, path, err)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Response{}, fmt.Errorf("%w: read %s %s: %w", ErrNetwork, method, path, err)
	}

	out := Response{Method: method, Path: path, Status: resp.StatusCode, Body: string(b), Scope: scope}
	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
		out.Outcome = OutcomeSuccess
	case http.StatusUnauthorized:
		out.Outcome = OutcomeUnauthorized
	case http.StatusForbidden:
		out.Outcome = OutcomeForbidden
	default:
		out.Outcome = OutcomeUnexpected
	}
	return out, nil
}
