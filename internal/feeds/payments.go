package feeds

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"funding-recon-service/internal/models"
	apperrors "funding-recon-service/pkg/errors"
	"funding-recon-service/pkg/logger"
	"funding-recon-service/pkg/retry"
)

// TokenSource supplies bearer tokens for the payments API. Implementations
// own their refresh-on-expiry logic; callers just ask.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	// Invalidate discards the cached token so the next Token call
	// re-authenticates. Called after the API rejects a token early.
	Invalidate()
}

// APITokenSource authenticates with a login id and API key, caching the
// returned JWT until shortly before its advertised expiry.
type APITokenSource struct {
	baseURL string
	loginID string
	apiKey  string
	client  *http.Client

	mu     sync.Mutex
	token  string
	expiry time.Time
}

// Tokens advertise a 15 minute lifetime; refresh with margin.
const tokenLifetime = 800 * time.Second

// NewAPITokenSource builds a token source against the API's login endpoint.
func NewAPITokenSource(baseURL, loginID, apiKey string, client *http.Client) *APITokenSource {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &APITokenSource{baseURL: strings.TrimRight(baseURL, "/"), loginID: loginID, apiKey: apiKey, client: client}
}

// Token returns a cached token or authenticates for a fresh one.
func (t *APITokenSource) Token(ctx context.Context) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.token != "" && time.Now().Before(t.expiry) {
		return t.token, nil
	}

	body, err := json.Marshal(map[string]string{"loginId": t.loginID, "apiKey": t.apiKey})
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.CategoryInternal, apperrors.CodeUnexpectedError, "encoding login request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/login", bytes.NewReader(body))
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.CategoryInternal, apperrors.CodeUnexpectedError, "building login request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return "", apperrors.ConnectivityError(apperrors.CodeConnectionFailed, "payments-api/login", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return "", apperrors.ProtocolError(apperrors.CodeAuthFailed, "payments-api/login", nil)
	}
	if resp.StatusCode >= 500 {
		return "", apperrors.ConnectivityError(apperrors.CodeConnectionFailed, "payments-api/login",
			fmt.Errorf("status %d", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		return "", apperrors.ProtocolError(apperrors.CodeBadResponse, "payments-api/login",
			fmt.Errorf("status %d", resp.StatusCode))
	}

	var payload struct {
		Token       string `json:"token"`
		AccessToken string `json:"access_token"`
		Data        struct {
			AccessToken string `json:"accessToken"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", apperrors.ProtocolError(apperrors.CodeBadResponse, "payments-api/login", err)
	}
	token := payload.Token
	if token == "" {
		token = payload.AccessToken
	}
	if token == "" {
		token = payload.Data.AccessToken
	}
	if token == "" {
		return "", apperrors.ProtocolError(apperrors.CodeBadResponse, "payments-api/login",
			fmt.Errorf("login response carried no token"))
	}

	t.token = token
	t.expiry = time.Now().Add(tokenLifetime)
	return t.token, nil
}

// Invalidate discards the cached token.
func (t *APITokenSource) Invalidate() {
	t.mu.Lock()
	t.token = ""
	t.expiry = time.Time{}
	t.mu.Unlock()
}

// PaymentsConfig configures the payments API client.
type PaymentsConfig struct {
	BaseURL       string       `mapstructure:"base_url"`
	LoginID       string       `mapstructure:"login_id"`
	APIKey        string       `mapstructure:"api_key"`
	AccountFilter string       `mapstructure:"account_filter"`
	Retry         retry.Config `mapstructure:"retry"`
}

// DefaultPaymentsConfig returns the production client settings.
func DefaultPaymentsConfig() *PaymentsConfig {
	return &PaymentsConfig{Retry: retry.DefaultConfig()}
}

// PaymentsClient talks to the payments provider's JSON API. It satisfies
// PaymentsAPI. The token source is injected so tests and alternative auth
// schemes slot in without globals.
type PaymentsClient struct {
	baseURL string
	filter  string
	tokens  TokenSource
	client  *http.Client
	retry   retry.Config
	log     logger.Logger
}

// NewPaymentsClient builds a client. A nil tokens argument wires the
// config's login credentials through an APITokenSource.
func NewPaymentsClient(config *PaymentsConfig, tokens TokenSource, log logger.Logger) (*PaymentsClient, error) {
	if config == nil || config.BaseURL == "" {
		return nil, apperrors.New(apperrors.CategoryInternal, apperrors.CodeInvalidArgument,
			"payments API base URL is required")
	}
	if log == nil {
		log = logger.Discard()
	}
	httpClient := &http.Client{Timeout: 30 * time.Second}
	if tokens == nil {
		tokens = NewAPITokenSource(config.BaseURL, config.LoginID, config.APIKey, httpClient)
	}
	return &PaymentsClient{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		filter:  strings.ToLower(config.AccountFilter),
		tokens:  tokens,
		client:  httpClient,
		retry:   config.Retry,
		log:     log.WithComponent("payments-feed"),
	}, nil
}

// API resource shapes (JSON:API style envelope).

type apiResource struct {
	ID         string          `json:"id"`
	Attributes json.RawMessage `json:"attributes"`
}

type apiEnvelope struct {
	Data []apiResource `json:"data"`
}

type accountAttributes struct {
	AccountName string `json:"accountName"`
}

type paymentAttributes struct {
	PaymentAmount    json.Number `json:"paymentAmount"`
	PaymentCurrency  string      `json:"paymentCurrency"`
	PaymentStatus    string      `json:"paymentStatus"`
	PaymentDate      string      `json:"paymentDate"`
	PaymentReference string      `json:"paymentReference"`
	RecipientDetails struct {
		BankAccountName    string `json:"bankAccountName"`
		BankAccountCountry string `json:"bankAccountCountry"`
	} `json:"recipientDetails"`
}

type receiptAttributes struct {
	Amount    json.Number `json:"amount"`
	Currency  string      `json:"currency"`
	Status    string      `json:"status"`
	Date      string      `json:"receivedDate"`
	PayerInfo string      `json:"payerInformation"`
	PayerName string      `json:"payerName"`
}

// FetchPayments returns outbound disbursements across the tracked accounts.
func (c *PaymentsClient) FetchPayments(ctx context.Context) ([]OutboundPayment, error) {
	accounts, err := c.listAccounts(ctx)
	if err != nil {
		return nil, err
	}

	var out []OutboundPayment
	for _, acc := range accounts {
		var env apiEnvelope
		if err := c.getJSON(ctx, fmt.Sprintf("/accounts/%s/payments", acc.ID), &env); err != nil {
			return nil, err
		}
		for _, res := range env.Data {
			var attrs paymentAttributes
			if err := json.Unmarshal(res.Attributes, &attrs); err != nil {
				c.log.WithField("payment_id", res.ID).Warn("skipping unparseable payment resource")
				continue
			}
			amount, err := decimal.NewFromString(attrs.PaymentAmount.String())
			if err != nil {
				c.log.WithField("payment_id", res.ID).Warn("skipping payment with bad amount")
				continue
			}
			out = append(out, OutboundPayment{
				PaymentID:        res.ID,
				AccountID:        acc.ID,
				Reference:        attrs.PaymentReference,
				Amount:           amount,
				Currency:         attrs.PaymentCurrency,
				Status:           attrs.PaymentStatus,
				Date:             parseAPIDate(attrs.PaymentDate),
				Recipient:        attrs.RecipientDetails.BankAccountName,
				RecipientCountry: attrs.RecipientDetails.BankAccountCountry,
			})
		}
	}
	c.log.WithField("count", len(out)).Debug("fetched outbound payments")
	return out, nil
}

// FetchReceivedPayments returns inbound funding received on the tracked
// settlement accounts.
func (c *PaymentsClient) FetchReceivedPayments(ctx context.Context) ([]models.ReceivedPayment, error) {
	accounts, err := c.listAccounts(ctx)
	if err != nil {
		return nil, err
	}

	var out []models.ReceivedPayment
	for _, acc := range accounts {
		var attrs accountAttributes
		if err := json.Unmarshal(acc.Attributes, &attrs); err != nil {
			attrs.AccountName = ""
		}
		var env apiEnvelope
		if err := c.getJSON(ctx, fmt.Sprintf("/accounts/%s/receipts", acc.ID), &env); err != nil {
			return nil, err
		}
		for _, res := range env.Data {
			var ra receiptAttributes
			if err := json.Unmarshal(res.Attributes, &ra); err != nil {
				c.log.WithField("receipt_id", res.ID).Warn("skipping unparseable receipt resource")
				continue
			}
			amount, err := decimal.NewFromString(ra.Amount.String())
			if err != nil {
				c.log.WithField("receipt_id", res.ID).Warn("skipping receipt with bad amount")
				continue
			}
			out = append(out, models.ReceivedPayment{
				ID:           res.ID,
				AccountID:    acc.ID,
				AccountName:  attrs.AccountName,
				Amount:       amount,
				Currency:     ra.Currency,
				Date:         parseAPIDate(ra.Date),
				Status:       ra.Status,
				RawPayerInfo: ra.PayerInfo,
				PayerName:    ra.PayerName,
			})
		}
	}
	c.log.WithField("count", len(out)).Debug("fetched received payments")
	return out, nil
}

// listAccounts fetches settlement accounts, restricted by the configured
// name filter when set.
func (c *PaymentsClient) listAccounts(ctx context.Context) ([]apiResource, error) {
	var env apiEnvelope
	if err := c.getJSON(ctx, "/accounts", &env); err != nil {
		return nil, err
	}
	if c.filter == "" {
		return env.Data, nil
	}
	var filtered []apiResource
	for _, res := range env.Data {
		var attrs accountAttributes
		if err := json.Unmarshal(res.Attributes, &attrs); err != nil {
			continue
		}
		if strings.Contains(strings.ToLower(attrs.AccountName), c.filter) {
			filtered = append(filtered, res)
		}
	}
	return filtered, nil
}

// getJSON performs one authenticated GET with retry. A 401 invalidates the
// cached token and retries once with a fresh one before giving up.
func (c *PaymentsClient) getJSON(ctx context.Context, path string, out interface{}) error {
	endpoint := "payments-api" + path
	return retry.Do(ctx, c.retry, endpoint, func(ctx context.Context) error {
		body, err := c.getOnce(ctx, path, false)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(body, out); err != nil {
			return apperrors.ProtocolError(apperrors.CodeBadResponse, endpoint, err)
		}
		return nil
	})
}

// getOnce performs a single authenticated request, re-authenticating once
// on a rejected token.
func (c *PaymentsClient) getOnce(ctx context.Context, path string, retried bool) ([]byte, error) {
	endpoint := "payments-api" + path
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CategoryInternal, apperrors.CodeUnexpectedError, "building request")
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, apperrors.ConnectivityError(apperrors.CodeConnectionFailed, endpoint, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		if retried {
			return nil, apperrors.ProtocolError(apperrors.CodeAuthFailed, endpoint, nil)
		}
		c.tokens.Invalidate()
		return c.getOnce(ctx, path, true)
	case resp.StatusCode >= 500:
		return nil, apperrors.ConnectivityError(apperrors.CodeConnectionFailed, endpoint,
			fmt.Errorf("status %d", resp.StatusCode))
	case resp.StatusCode >= 400:
		return nil, apperrors.ProtocolError(apperrors.CodeRequestRejected, endpoint,
			fmt.Errorf("status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.ConnectivityError(apperrors.CodeConnectionFailed, endpoint, err)
	}
	return body, nil
}

// parseAPIDate accepts the date shapes the API emits.
func parseAPIDate(s string) time.Time {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
