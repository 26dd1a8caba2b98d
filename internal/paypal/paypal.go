// Package paypal fetches checkout orders from the PayPal Orders API for
// donation verification. It owns the shared bearer token and refreshes
// it with the client-credentials grant when PayPal rejects it.
package paypal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const (
	liveBaseURL    = "https://api-m.paypal.com"
	sandboxBaseURL = "https://api-m.sandbox.paypal.com"
)

// Order is the subset of the PayPal order document the donation
// validator inspects.
type Order struct {
	ID            string         `json:"id"`
	Intent        string         `json:"intent"`
	Status        string         `json:"status"`
	CreateTime    time.Time      `json:"create_time"`
	PurchaseUnits []PurchaseUnit `json:"purchase_units"`
}

// PurchaseUnit is one purchase within an order.
type PurchaseUnit struct {
	Amount Amount `json:"amount"`
}

// Amount is a currency-tagged decimal carried as a string.
type Amount struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

// Client talks to the PayPal Orders API.
type Client struct {
	baseURL string
	creds   clientcredentials.Config
	http    *http.Client

	mu     sync.Mutex
	bearer string
}

// NewClient builds a PayPal client. live selects the production API,
// otherwise the sandbox. The bearer token starts empty; the first order
// lookup triggers a credential grant.
func NewClient(clientID, clientSecret string, live bool) *Client {
	baseURL := sandboxBaseURL
	if live {
		baseURL = liveBaseURL
	}

	return &Client{
		baseURL: baseURL,
		creds: clientcredentials.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			TokenURL:     baseURL + "/v1/oauth2/token",
			AuthStyle:    oauth2.AuthStyleInHeader,
		},
		http: &http.Client{Timeout: 15 * time.Second},
	}
}

// GetOrder fetches an order document. A 401 triggers one token refresh
// and one retry; any other non-200 status is an error.
func (c *Client) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	order, status, err := c.fetchOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if status == http.StatusUnauthorized {
		if err := c.refreshToken(ctx); err != nil {
			return nil, fmt.Errorf("failed to refresh access token: %w", err)
		}
		order, status, err = c.fetchOrder(ctx, orderID)
		if err != nil {
			return nil, err
		}
	}

	if status != http.StatusOK {
		return nil, fmt.Errorf("order lookup returned status %d", status)
	}
	return order, nil
}

func (c *Client) fetchOrder(ctx context.Context, orderID string) (*Order, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/v2/checkout/orders/"+url.PathEscape(orderID), nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.currentBearer())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, resp.StatusCode, nil
	}

	var order Order
	if err := json.NewDecoder(resp.Body).Decode(&order); err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to decode order: %w", err)
	}
	return &order, resp.StatusCode, nil
}

func (c *Client) refreshToken(ctx context.Context) error {
	tok, err := c.creds.Token(context.WithValue(ctx, oauth2.HTTPClient, c.http))
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.bearer = tok.AccessToken
	c.mu.Unlock()

	log.Debug().Msg("Refreshed PayPal access token")
	return nil
}

func (c *Client) currentBearer() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bearer
}
