/**
 * @description
 * This package provides a client for the VTU vendor API used to deliver
 * airtime and data purchases. It encapsulates authenticated HTTP requests,
 * request body construction, and response parsing.
 *
 * The client deliberately separates two failure shapes: a completed HTTP
 * exchange (result returned, caller classifies the status text) and a
 * transport failure (error returned, outcome unknown). Callers must never
 * treat a returned error as proof the vendor did not deliver.
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, net, net/http, time: Standard Go libraries.
 */
package vtuclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"time"
)

// SuccessDescription is the exact vendor status text that confirms delivery.
// Anything else, including casing or whitespace variants, is not a success.
const SuccessDescription = "TRANSACTION SUCCESSFUL"

// Client is a client for the VTU vendor API.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewClient creates a new vendor API client. The overall request budget is
// 30 seconds with a 10 second connect timeout.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: 10 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
	}
}

// PurchaseRequest is the payload for a vendor purchase. Network and PlanID
// are optional for airtime; data purchases address a specific vendor plan.
type PurchaseRequest struct {
	RequestID   string `json:"request_id"`
	ServiceID   string `json:"service_id"`
	Network     string `json:"network,omitempty"`
	PlanID      string `json:"plan_id,omitempty"`
	PhoneNumber string `json:"phone"`
	AmountKobo  int64  `json:"amount"`
}

// Result is the vendor's view of one purchase attempt.
type Result struct {
	RequestID           string `json:"request_id"`
	ResponseDescription string `json:"response_description"`
	Code                string `json:"code"`
	HTTPStatus          int    `json:"-"`
}

// Delivered reports whether the vendor confirms the purchase landed.
func (r *Result) Delivered() bool {
	return r.ResponseDescription == SuccessDescription
}

// Purchase submits a purchase identified by a caller-generated request id.
// Resubmitting the same request id is safe on the vendor side.
func (c *Client) Purchase(ctx context.Context, purchase PurchaseRequest) (*Result, error) {
	body, err := json.Marshal(purchase)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal purchase request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+"/api/v1/purchase", bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create purchase request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute purchase request: %w", err)
	}
	defer resp.Body.Close()

	return parseResult(resp, "purchase")
}

// Requery fetches the vendor's current status for a previously submitted
// request id. Used by reconciliation for calls with unknown outcomes.
func (c *Client) Requery(ctx context.Context, requestID string) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.BaseURL+"/api/v1/requery?request_id="+requestID, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create requery request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute requery request: %w", err)
	}
	defer resp.Body.Close()

	return parseResult(resp, "requery")
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
}

func parseResult(resp *http.Response, op string) (*Result, error) {
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s response: %w", op, err)
	}

	var result Result
	if err := json.Unmarshal(bodyBytes, &result); err != nil {
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			// A 2xx we cannot parse is an unknown outcome, not a failure.
			return nil, fmt.Errorf("failed to decode %s response (status %d): %w", op, resp.StatusCode, err)
		}
		log.Printf("level=warn component=vtu_client op=%s status=%d msg=\"non-2xx response (unparsable body)\"", op, resp.StatusCode)
		result = Result{}
	}
	result.HTTPStatus = resp.StatusCode
	return &result, nil
}
