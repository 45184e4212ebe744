// Package alerts keeps the roster's alert state in line with the remote
// price-alert registry. The registry owns alert lifecycle and push
// delivery; this side only mirrors it.
package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"wenmoon/internal/models"
)

// Registry is the remote price-alert backend.
type Registry interface {
	SetAlert(ctx context.Context, targetPrice float64, coin models.Coin, deviceToken string) (models.PriceAlert, error)
	DeleteAlert(ctx context.Context, coinID, deviceToken string) (models.PriceAlert, error)
	GetAlerts(ctx context.Context, userID, deviceToken string) ([]models.PriceAlert, error)

	// Matches reports whether an alert belongs to a coin. The remote id
	// encodes the coin id plus a discriminator, so ownership of the
	// predicate stays with the registry contract.
	Matches(alert models.PriceAlert, coinID string) bool
}

// ErrEncoding wraps a failure to serialize a registry request.
var ErrEncoding = errors.New("failed to encode alert request")

// Client is the HTTP implementation of Registry.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient builds a registry client for the given backend URL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

type setAlertRequest struct {
	CoinID          string  `json:"coin_id"`
	Symbol          string  `json:"symbol"`
	TargetPrice     float64 `json:"target_price"`
	TargetDirection string  `json:"target_direction"`
}

type serverError struct {
	Description string `json:"error"`
}

// SetAlert registers a target-price alert for a coin.
func (c *Client) SetAlert(ctx context.Context, targetPrice float64, coin models.Coin, deviceToken string) (models.PriceAlert, error) {
	direction := models.DirectionAbove
	if coin.CurrentPrice != nil && targetPrice < *coin.CurrentPrice {
		direction = models.DirectionBelow
	}

	reqBody := setAlertRequest{
		CoinID:          coin.ID,
		Symbol:          coin.Symbol,
		TargetPrice:     targetPrice,
		TargetDirection: direction,
	}

	var alert models.PriceAlert
	if err := c.do(ctx, http.MethodPost, "/alerts", deviceToken, reqBody, &alert); err != nil {
		return models.PriceAlert{}, err
	}
	return alert, nil
}

// DeleteAlert removes the alert registered for a coin.
func (c *Client) DeleteAlert(ctx context.Context, coinID, deviceToken string) (models.PriceAlert, error) {
	var alert models.PriceAlert
	if err := c.do(ctx, http.MethodDelete, "/alerts/"+url.PathEscape(coinID), deviceToken, nil, &alert); err != nil {
		return models.PriceAlert{}, err
	}
	return alert, nil
}

// GetAlerts fetches every alert registered for a user's device.
func (c *Client) GetAlerts(ctx context.Context, userID, deviceToken string) ([]models.PriceAlert, error) {
	var alerts []models.PriceAlert
	path := "/users/" + url.PathEscape(userID) + "/alerts"
	if err := c.do(ctx, http.MethodGet, path, deviceToken, nil, &alerts); err != nil {
		return nil, err
	}
	return alerts, nil
}

// Matches implements the alert-to-coin membership predicate: the remote id
// contains the coin id.
func (c *Client) Matches(alert models.PriceAlert, coinID string) bool {
	return strings.Contains(alert.ID, coinID)
}

func (c *Client) do(ctx context.Context, method, path, deviceToken string, in, out any) error {
	var body *bytes.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrEncoding, err)
		}
		body = bytes.NewReader(data)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEncoding, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Device-Token", deviceToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("alert backend request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var srvErr serverError
		if decodeErr := json.NewDecoder(resp.Body).Decode(&srvErr); decodeErr == nil && srvErr.Description != "" {
			return fmt.Errorf("alert backend error: %s", srvErr.Description)
		}
		return fmt.Errorf("alert backend error: status %d", resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode alert response: %w", err)
	}
	return nil
}
