/**
 * @description
 * Minimal Paystack client covering the one call the wallet service makes:
 * initializing a hosted checkout session for a deposit. Deposit completion
 * arrives through the signed webhook, never through this client.
 */

package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const paystackBaseURL = "https://api.paystack.co"

// PaystackClient implements PaymentGateway against the Paystack API.
type PaystackClient struct {
	BaseURL    string
	SecretKey  string
	HTTPClient *http.Client
}

// NewPaystackClient creates a Paystack client. baseURL is overridable for
// tests; empty means production.
func NewPaystackClient(baseURL, secretKey string) *PaystackClient {
	if baseURL == "" {
		baseURL = paystackBaseURL
	}
	return &PaystackClient{
		BaseURL:   baseURL,
		SecretKey: secretKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type paystackInitRequest struct {
	Email       string `json:"email"`
	AmountKobo  int64  `json:"amount"`
	Reference   string `json:"reference"`
	CallbackURL string `json:"callback_url,omitempty"`
}

type paystackInitResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    struct {
		AuthorizationURL string `json:"authorization_url"`
		AccessCode       string `json:"access_code"`
		Reference        string `json:"reference"`
	} `json:"data"`
}

// InitializeTransaction opens a hosted checkout session and returns the URL
// the client should redirect the user to.
func (c *PaystackClient) InitializeTransaction(ctx context.Context, email string, amountKobo int64, reference, callbackURL string) (string, error) {
	body, err := json.Marshal(paystackInitRequest{
		Email:       email,
		AmountKobo:  amountKobo,
		Reference:   reference,
		CallbackURL: callbackURL,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal initialize request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+"/transaction/initialize", bytes.NewBuffer(body))
	if err != nil {
		return "", fmt.Errorf("failed to create initialize request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.SecretKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to execute initialize request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read initialize response: %w", err)
	}

	var initResp paystackInitResponse
	if err := json.Unmarshal(bodyBytes, &initResp); err != nil {
		return "", fmt.Errorf("failed to decode initialize response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 || !initResp.Status {
		return "", fmt.Errorf("paystack initialize rejected (status %d): %s", resp.StatusCode, initResp.Message)
	}
	return initResp.Data.AuthorizationURL, nil
}
