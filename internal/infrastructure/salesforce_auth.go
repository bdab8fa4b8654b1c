package infrastructure

import (
	"bytes"
	"context"
	"crypto/rsa"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"deliverybot/internal/entities"

	"github.com/golang-jwt/jwt/v5"
)

const (
	jwtBearerGrantType = "urn:ietf:params:oauth:grant-type:jwt-bearer"
	jwtAssertionTTL    = 3 * time.Minute
)

// salesforceSession is an access token and the org instance it is valid for.
type salesforceSession struct {
	AccessToken string
	InstanceURL string
}

// loadPrivateKey reads the PEM encoded RSA key of the connected app.
func loadPrivateKey(path string) (*rsa.PrivateKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, entities.ConfigError("read SF_PRIVATE_KEY_FILE: "+err.Error(), map[string]any{"path": path})
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM(raw)
	if err != nil {
		return nil, entities.ConfigError("parse SF_PRIVATE_KEY_FILE: "+err.Error(), map[string]any{"path": path})
	}
	return key, nil
}

func (c *SalesforceClient) login(ctx context.Context) (salesforceSession, error) {
	if c.privateKey != nil {
		return c.loginJWT(ctx)
	}
	return c.loginSOAP(ctx)
}

// loginJWT runs the OAuth 2.0 JWT bearer flow.
func (c *SalesforceClient) loginJWT(ctx context.Context) (salesforceSession, error) {
	claims := jwt.MapClaims{
		"iss": c.cfg.ClientID,
		"sub": c.cfg.Username,
		"aud": c.cfg.LoginURL,
		"exp": c.now().Add(jwtAssertionTTL).Unix(),
	}
	assertion, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(c.privateKey)
	if err != nil {
		return salesforceSession{}, entities.CRMAuthError(err, "sign jwt assertion", nil)
	}

	form := url.Values{}
	form.Set("grant_type", jwtBearerGrantType)
	form.Set("assertion", assertion)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.LoginURL+"/services/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return salesforceSession{}, entities.CRMAuthError(err, "build token request", nil)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	body, status, err := c.send(req)
	if err != nil {
		return salesforceSession{}, entities.CRMAuthError(err, "token request failed", nil)
	}

	var token struct {
		AccessToken      string `json:"access_token"`
		InstanceURL      string `json:"instance_url"`
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	if err := json.Unmarshal(body, &token); err != nil {
		return salesforceSession{}, entities.CRMAuthError(err, "decode token response", map[string]any{"status_code": status})
	}
	if status != http.StatusOK || token.AccessToken == "" {
		return salesforceSession{}, entities.CRMAuthError(nil, "salesforce rejected the jwt assertion", map[string]any{
			"status_code": status,
			"error_code":  token.Error,
			"message":     token.ErrorDescription,
		})
	}
	return salesforceSession{AccessToken: token.AccessToken, InstanceURL: strings.TrimRight(token.InstanceURL, "/")}, nil
}

type soapLoginEnvelope struct {
	Body struct {
		LoginResponse struct {
			Result struct {
				ServerURL string `xml:"serverUrl"`
				SessionID string `xml:"sessionId"`
			} `xml:"result"`
		} `xml:"loginResponse"`
		Fault *struct {
			Code   string `xml:"faultcode"`
			String string `xml:"faultstring"`
		} `xml:"Fault"`
	} `xml:"Body"`
}

const soapLoginTemplate = `<?xml version="1.0" encoding="utf-8"?>
<env:Envelope xmlns:xsd="http://www.w3.org/2001/XMLSchema" xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance" xmlns:env="http://schemas.xmlsoap.org/soap/envelope/">
  <env:Body>
    <n1:login xmlns:n1="urn:partner.soap.sforce.com">
      <n1:username>%s</n1:username>
      <n1:password>%s</n1:password>
    </n1:login>
  </env:Body>
</env:Envelope>`

// loginSOAP runs the partner API username/password login. The security
// token is appended to the password.
func (c *SalesforceClient) loginSOAP(ctx context.Context) (salesforceSession, error) {
	payload := fmt.Sprintf(soapLoginTemplate, xmlEscape(c.cfg.Username), xmlEscape(c.cfg.Password+c.cfg.SecurityToken))
	endpoint := fmt.Sprintf("%s/services/Soap/u/%s", c.cfg.LoginURL, c.cfg.APIVersion)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(payload))
	if err != nil {
		return salesforceSession{}, entities.CRMAuthError(err, "build login request", nil)
	}
	req.Header.Set("Content-Type", "text/xml; charset=UTF-8")
	req.Header.Set("SOAPAction", "login")

	body, status, err := c.send(req)
	if err != nil {
		return salesforceSession{}, entities.CRMAuthError(err, "login request failed", nil)
	}

	var envelope soapLoginEnvelope
	if err := xml.Unmarshal(body, &envelope); err != nil {
		return salesforceSession{}, entities.CRMAuthError(err, "decode login response", map[string]any{"status_code": status})
	}
	if fault := envelope.Body.Fault; fault != nil {
		return salesforceSession{}, entities.CRMAuthError(nil, "salesforce rejected the login", map[string]any{
			"status_code": status,
			"error_code":  fault.Code,
			"message":     fault.String,
		})
	}

	result := envelope.Body.LoginResponse.Result
	serverURL, err := url.Parse(result.ServerURL)
	if err != nil || result.SessionID == "" || serverURL.Host == "" {
		return salesforceSession{}, entities.CRMAuthError(err, "login response is missing the session", map[string]any{"status_code": status})
	}
	return salesforceSession{
		AccessToken: result.SessionID,
		InstanceURL: serverURL.Scheme + "://" + serverURL.Host,
	}, nil
}

func xmlEscape(s string) string {
	var buf bytes.Buffer
	_ = xml.EscapeText(&buf, []byte(s))
	return buf.String()
}

// send executes req and returns the bounded response body.
func (c *SalesforceClient) send(req *http.Request) ([]byte, int, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSalesforceResponseBytes))
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return body, resp.StatusCode, nil
}
