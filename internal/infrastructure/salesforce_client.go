package infrastructure

import (
	"bytes"
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"deliverybot/internal/config"
	"deliverybot/internal/entities"

	"go.uber.org/zap"
)

const (
	defaultSalesforceTimeout         = 30 * time.Second
	maxSalesforceResponseBytes int64 = 4 << 20
)

// HTTPDoer is satisfied by *http.Client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// SalesforceClient implements interfaces.OrderStore on the Salesforce REST
// API. The session is created on first use and renewed once when a call
// returns 401.
type SalesforceClient struct {
	cfg        config.SalesforceConfig
	httpClient HTTPDoer
	privateKey *rsa.PrivateKey
	log        *zap.Logger
	now        func() time.Time

	mu      sync.Mutex
	session *salesforceSession
}

func NewSalesforceClient(cfg config.SalesforceConfig, httpClient HTTPDoer, log *zap.Logger) (*SalesforceClient, error) {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultSalesforceTimeout}
	}
	client := &SalesforceClient{
		cfg:        cfg,
		httpClient: httpClient,
		log:        log.Named("salesforce"),
		now:        time.Now,
	}
	if cfg.UsesJWT() {
		key, err := loadPrivateKey(cfg.PrivateKeyFile)
		if err != nil {
			return nil, err
		}
		client.privateKey = key
	}
	return client, nil
}

type salesforceQueryResult struct {
	TotalSize int  `json:"totalSize"`
	Done      bool `json:"done"`
	Records   []struct {
		ID          string `json:"Id"`
		OrderNumber string `json:"OrderNumber"`
	} `json:"records"`
}

type salesforceAPIError struct {
	Message   string `json:"message"`
	ErrorCode string `json:"errorCode"`
}

var soqlEscaper = strings.NewReplacer(`\`, `\\`, `'`, `\'`)

func (c *SalesforceClient) FindOrderByNumber(ctx context.Context, orderNumber string) (entities.Order, bool, error) {
	soql := fmt.Sprintf("SELECT Id, OrderNumber FROM Order WHERE OrderNumber = '%s'", soqlEscaper.Replace(orderNumber))

	var result salesforceQueryResult
	if err := c.call(ctx, http.MethodGet, "/query?q="+url.QueryEscape(soql), nil, &result); err != nil {
		return entities.Order{}, false, err
	}
	if len(result.Records) == 0 {
		return entities.Order{}, false, nil
	}

	record := result.Records[0]
	if record.OrderNumber == "" {
		record.OrderNumber = orderNumber
	}
	return entities.Order{ID: record.ID, OrderNumber: record.OrderNumber}, true, nil
}

func (c *SalesforceClient) UpdateOrderDelivery(ctx context.Context, orderID string, update entities.OrderDeliveryUpdate) error {
	fields := map[string]any{
		"Status":               update.Status,
		"Description":          update.Description,
		"Shipping_Location__c": update.ShippingLocation,
	}
	return c.call(ctx, http.MethodPatch, "/sobjects/Order/"+url.PathEscape(orderID), fields, nil)
}

// call sends a request to the versioned data API and decodes the JSON reply
// into out when given.
func (c *SalesforceClient) call(ctx context.Context, method, path string, in, out any) error {
	var payload []byte
	if in != nil {
		var err error
		if payload, err = json.Marshal(in); err != nil {
			return entities.CRMCallError(err, "encode salesforce request", nil)
		}
	}

	for attempt := 0; ; attempt++ {
		session, err := c.currentSession(ctx)
		if err != nil {
			return err
		}

		endpoint := fmt.Sprintf("%s/services/data/v%s%s", session.InstanceURL, c.cfg.APIVersion, path)
		req, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(payload))
		if err != nil {
			return entities.CRMCallError(err, "build salesforce request", map[string]any{"method": method})
		}
		req.Header.Set("Authorization", "Bearer "+session.AccessToken)
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		body, status, err := c.send(req)
		if err != nil {
			return entities.CRMCallError(err, "salesforce request failed", map[string]any{"method": method, "path": path})
		}

		if status == http.StatusUnauthorized && attempt == 0 {
			c.log.Info("salesforce_session_expired")
			c.invalidate(session)
			continue
		}
		if status < 200 || status >= 300 {
			return salesforceError(status, method, path, body)
		}
		if out != nil && len(body) > 0 {
			if err := json.Unmarshal(body, out); err != nil {
				return entities.CRMCallError(err, "decode salesforce response", map[string]any{"method": method, "path": path})
			}
		}
		return nil
	}
}

func salesforceError(status int, method, path string, body []byte) error {
	meta := map[string]any{
		"status_code": status,
		"method":      method,
		"path":        path,
	}
	var apiErrors []salesforceAPIError
	if json.Unmarshal(body, &apiErrors) == nil && len(apiErrors) > 0 {
		meta["error_code"] = apiErrors[0].ErrorCode
		meta["message"] = apiErrors[0].Message
	}
	if status == http.StatusUnauthorized {
		return entities.CRMAuthError(nil, "salesforce session rejected", meta)
	}
	return entities.CRMCallError(nil, fmt.Sprintf("salesforce returned status %d", status), meta)
}

func (c *SalesforceClient) currentSession(ctx context.Context) (salesforceSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session != nil {
		return *c.session, nil
	}
	session, err := c.login(ctx)
	if err != nil {
		return salesforceSession{}, err
	}
	c.log.Info("salesforce_logged_in",
		zap.String("instance_url", session.InstanceURL),
		zap.Bool("jwt_bearer", c.privateKey != nil),
	)
	c.session = &session
	return session, nil
}

// invalidate drops the cached session unless another caller already
// replaced it.
func (c *SalesforceClient) invalidate(stale salesforceSession) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != nil && c.session.AccessToken == stale.AccessToken {
		c.session = nil
	}
}
