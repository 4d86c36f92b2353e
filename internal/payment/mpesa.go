package payment

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/playdama/backend/internal/config"
	"github.com/redis/go-redis/v9"
)

// Client handles Safaricom Daraja (M-Pesa) API integration
type Client struct {
	baseURL        string
	consumerKey    string
	consumerSecret string
	shortcode      string
	passkey        string
	initiatorName  string
	securityCred   string
	callbackBase   string
	rdb            *redis.Client
	httpClient     *http.Client
	cacheKey       string
}

// Default is the package-level default client
var Default *Client

// NewClient creates a new Daraja client
func NewClient(cfg *config.Config, rdb *redis.Client) *Client {
	if cfg == nil || cfg.DarajaConsumerKey == "" || cfg.DarajaConsumerSecret == "" {
		log.Printf("[PAYMENT] Daraja not fully configured - skipping initialization")
		return nil
	}

	return &Client{
		baseURL:        strings.TrimRight(cfg.DarajaBaseURL, "/"),
		consumerKey:    cfg.DarajaConsumerKey,
		consumerSecret: cfg.DarajaConsumerSecret,
		shortcode:      cfg.DarajaShortcode,
		passkey:        cfg.DarajaPasskey,
		initiatorName:  cfg.DarajaInitiatorName,
		securityCred:   cfg.DarajaSecurityCred,
		callbackBase:   strings.TrimRight(cfg.CallbackBaseURL, "/"),
		rdb:            rdb,
		httpClient:     &http.Client{Timeout: 30 * time.Second},
		cacheKey:       "daraja_token:",
	}
}

// SetDefault sets the package-level default client
func SetDefault(c *Client) {
	Default = c
}

// getAccessToken fetches or retrieves a cached OAuth token
func (c *Client) getAccessToken(ctx context.Context) (string, error) {
	if c.rdb != nil {
		cacheKey := c.cacheKey + c.consumerKey[:min(8, len(c.consumerKey))]
		if token, err := c.rdb.Get(ctx, cacheKey).Result(); err == nil {
			return token, nil
		}
	}

	log.Printf("[PAYMENT] Fetching new Daraja access token")
	endpoint := c.baseURL + "/oauth/v1/generate?grant_type=client_credentials"

	req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create token request: %w", err)
	}

	auth := base64.StdEncoding.EncodeToString([]byte(c.consumerKey + ":" + c.consumerSecret))
	req.Header.Set("Authorization", "Basic "+auth)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		log.Printf("[PAYMENT] Token request failed: status=%d body=%s", resp.StatusCode, string(body))
		return "", fmt.Errorf("token request failed with status %d", resp.StatusCode)
	}

	var tokenResp struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   string `json:"expires_in"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}

	if tokenResp.AccessToken == "" {
		return "", errors.New("no access_token in response")
	}

	// Daraja tokens last one hour, cache slightly under that
	if c.rdb != nil {
		cacheKey := c.cacheKey + c.consumerKey[:min(8, len(c.consumerKey))]
		c.rdb.Set(ctx, cacheKey, tokenResp.AccessToken, 50*time.Minute)
	}

	return tokenResp.AccessToken, nil
}

// stkPassword builds the Lipa Na M-Pesa password for a timestamp
func (c *Client) stkPassword(timestamp string) string {
	return base64.StdEncoding.EncodeToString([]byte(c.shortcode + c.passkey + timestamp))
}

// STKPushRequest represents a customer-to-business collection request
type STKPushRequest struct {
	Phone         string
	Amount        float64
	TransactionID string
	Description   string
}

// STKPushResponse represents Daraja's STK push acknowledgement
type STKPushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
	ErrorMessage        string `json:"errorMessage"`
}

// STKPush initiates a deposit by prompting the customer's phone
func (c *Client) STKPush(ctx context.Context, req STKPushRequest) (*STKPushResponse, error) {
	if c == nil {
		return nil, errors.New("daraja client not initialized")
	}

	var token string
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		var err error
		token, err = c.getAccessToken(ctx)
		if err == nil {
			break
		}
		lastErr = err
		time.Sleep(time.Duration(100+attempt*200) * time.Millisecond)
	}
	if token == "" {
		return nil, fmt.Errorf("failed to get access token: %w", lastErr)
	}

	phone, err := NormalizePhoneNumber(req.Phone)
	if err != nil {
		return nil, fmt.Errorf("invalid phone number: %w", err)
	}

	timestamp := time.Now().Format("20060102150405")
	endpoint := c.baseURL + "/mpesa/stkpush/v1/processrequest"

	payload := map[string]interface{}{
		"BusinessShortCode": c.shortcode,
		"Password":          c.stkPassword(timestamp),
		"Timestamp":         timestamp,
		"TransactionType":   "CustomerPayBillOnline",
		"Amount":            int(req.Amount),
		"PartyA":            phone,
		"PartyB":            c.shortcode,
		"PhoneNumber":       phone,
		"CallBackURL":       c.callbackBase + "/api/mpesa/callback",
		"AccountReference":  "DEPOSIT_" + req.TransactionID,
		"TransactionDesc":   req.Description,
	}

	jsonPayload, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	log.Printf("[PAYMENT] Initiating STK push: phone=%s amount=%.2f txn=%s", phone, req.Amount, req.TransactionID)

	for attempt := 0; attempt < 3; attempt++ {
		httpReq, err := http.NewRequestWithContext(ctx, "POST", endpoint, bytes.NewBuffer(jsonPayload))
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}

		httpReq.Header.Set("Authorization", "Bearer "+token)
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			lastErr = err
			if attempt < 2 {
				time.Sleep(time.Duration(100+attempt*200) * time.Millisecond)
				continue
			}
			return nil, fmt.Errorf("stk push request failed: %w", err)
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read response: %w", err)
		}

		log.Printf("[PAYMENT] STK push response: status=%d body=%s", resp.StatusCode, string(body))

		var stkResp STKPushResponse
		if err := json.Unmarshal(body, &stkResp); err != nil {
			return nil, fmt.Errorf("failed to decode response: %w (body: %s)", err, string(body))
		}

		if resp.StatusCode == http.StatusOK && stkResp.ResponseCode == "0" {
			return &stkResp, nil
		}

		// Expired token, clear cache and don't retry
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			if c.rdb != nil {
				cacheKey := c.cacheKey + c.consumerKey[:min(8, len(c.consumerKey))]
				c.rdb.Del(ctx, cacheKey)
				log.Printf("[PAYMENT] Auth error - cleared cached token")
			}
			return &stkResp, fmt.Errorf("stk push failed (auth error): %d", resp.StatusCode)
		}

		// Retry on 5xx errors
		if resp.StatusCode >= 500 && attempt < 2 {
			lastErr = fmt.Errorf("stk push failed with status %d: %s", resp.StatusCode, string(body))
			time.Sleep(time.Duration(100+attempt*200) * time.Millisecond)
			continue
		}

		return &stkResp, fmt.Errorf("stk push failed: %d - %s", resp.StatusCode, stkResp.ErrorMessage)
	}

	return nil, fmt.Errorf("stk push failed after retries: %w", lastErr)
}

// B2CRequest represents a business-to-customer payout request
type B2CRequest struct {
	Phone         string
	Amount        float64
	TransactionID string
	Description   string
}

// B2CResponse represents Daraja's B2C acknowledgement
type B2CResponse struct {
	ConversationID           string `json:"ConversationID"`
	OriginatorConversationID string `json:"OriginatorConversationID"`
	ResponseCode             string `json:"ResponseCode"`
	ResponseDescription      string `json:"ResponseDescription"`
	ErrorMessage             string `json:"errorMessage"`
}

// B2C initiates a withdrawal payout to the customer's phone
func (c *Client) B2C(ctx context.Context, req B2CRequest) (*B2CResponse, error) {
	if c == nil {
		return nil, errors.New("daraja client not initialized")
	}

	token, err := c.getAccessToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get access token: %w", err)
	}

	phone, err := NormalizePhoneNumber(req.Phone)
	if err != nil {
		return nil, fmt.Errorf("invalid phone number: %w", err)
	}

	endpoint := c.baseURL + "/mpesa/b2c/v1/paymentrequest"

	payload := map[string]interface{}{
		"InitiatorName":      c.initiatorName,
		"SecurityCredential": c.securityCred,
		"CommandID":          "BusinessPayment",
		"Amount":             int(req.Amount),
		"PartyA":             c.shortcode,
		"PartyB":             phone,
		"Remarks":            req.Description,
		"QueueTimeOutURL":    c.callbackBase + "/api/mpesa/b2c-timeout",
		"ResultURL":          c.callbackBase + "/api/mpesa/b2c-result",
		"Occasion":           "WITHDRAWAL_" + req.TransactionID,
	}

	jsonPayload, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	log.Printf("[PAYMENT] Initiating B2C payout: phone=%s amount=%.2f txn=%s", phone, req.Amount, req.TransactionID)

	httpReq, err := http.NewRequestWithContext(ctx, "POST", endpoint, bytes.NewBuffer(jsonPayload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("b2c request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	log.Printf("[PAYMENT] B2C response: status=%d body=%s", resp.StatusCode, string(body))

	var b2cResp B2CResponse
	if err := json.Unmarshal(body, &b2cResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if resp.StatusCode != http.StatusOK || b2cResp.ResponseCode != "0" {
		return &b2cResp, fmt.Errorf("b2c failed: %d - %s", resp.StatusCode, b2cResp.ErrorMessage)
	}

	return &b2cResp, nil
}

// Helper function for min (Go doesn't have built-in min for int)
func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
