package infrastructure

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"deliverybot/internal/config"
	"deliverybot/internal/entities"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeSalesforce struct {
	*httptest.Server
	logins    atomic.Int32
	expireNth int32 // first data call answered with 401 when set
	dataCalls atomic.Int32
	lastQuery string
	patched   map[string]any
	patchPath string
	tokens    []string
}

func newFakeSalesforce(t *testing.T) *fakeSalesforce {
	t.Helper()
	sf := &fakeSalesforce{}
	mux := http.NewServeMux()

	mux.HandleFunc("/services/Soap/u/59.0", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		n := sf.logins.Add(1)
		w.Header().Set("Content-Type", "text/xml")
		if !strings.Contains(string(body), "<n1:password>secret&amp;TOKEN</n1:password>") {
			w.WriteHeader(http.StatusInternalServerError)
			fmt.Fprint(w, `<?xml version="1.0" encoding="UTF-8"?><soapenv:Envelope xmlns:soapenv="http://schemas.xmlsoap.org/soap/envelope/"><soapenv:Body><soapenv:Fault><faultcode>INVALID_LOGIN</faultcode><faultstring>INVALID_LOGIN: Invalid username, password, security token; or user locked out.</faultstring></soapenv:Fault></soapenv:Body></soapenv:Envelope>`)
			return
		}
		fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?><soapenv:Envelope xmlns:soapenv="http://schemas.xmlsoap.org/soap/envelope/" xmlns="urn:partner.soap.sforce.com"><soapenv:Body><loginResponse><result><serverUrl>%s/services/Soap/u/59.0/00D000000000001</serverUrl><sessionId>session-%d</sessionId></result></loginResponse></soapenv:Body></soapenv:Envelope>`, sf.URL, n)
	})

	mux.HandleFunc("/services/data/v59.0/query", func(w http.ResponseWriter, r *http.Request) {
		if sf.reject(w, r) {
			return
		}
		sf.lastQuery = r.URL.Query().Get("q")
		w.Header().Set("Content-Type", "application/json")
		if strings.Contains(sf.lastQuery, "'12345'") {
			fmt.Fprint(w, `{"totalSize":1,"done":true,"records":[{"attributes":{"type":"Order"},"Id":"8015g000000001","OrderNumber":"12345"}]}`)
			return
		}
		if strings.Contains(sf.lastQuery, "'500'") {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `[{"message":"unexpected token","errorCode":"MALFORMED_QUERY"}]`)
			return
		}
		fmt.Fprint(w, `{"totalSize":0,"done":true,"records":[]}`)
	})

	mux.HandleFunc("/services/data/v59.0/sobjects/Order/", func(w http.ResponseWriter, r *http.Request) {
		if sf.reject(w, r) {
			return
		}
		if r.Method != http.MethodPatch {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		sf.patchPath = r.URL.Path
		sf.patched = map[string]any{}
		_ = json.NewDecoder(r.Body).Decode(&sf.patched)
		w.WriteHeader(http.StatusNoContent)
	})

	sf.Server = httptest.NewServer(mux)
	t.Cleanup(sf.Server.Close)
	return sf
}

func (sf *fakeSalesforce) reject(w http.ResponseWriter, r *http.Request) bool {
	n := sf.dataCalls.Add(1)
	sf.tokens = append(sf.tokens, strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
	if sf.expireNth > 0 && n == sf.expireNth {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `[{"message":"Session expired or invalid","errorCode":"INVALID_SESSION_ID"}]`)
		return true
	}
	return false
}

func passwordConfig(loginURL string) config.SalesforceConfig {
	return config.SalesforceConfig{
		Username:      "ops@example.com",
		Password:      "secret&",
		SecurityToken: "TOKEN",
		LoginURL:      loginURL,
		APIVersion:    "59.0",
	}
}

func TestSalesforceFindAndUpdateOrder(t *testing.T) {
	sf := newFakeSalesforce(t)
	client, err := NewSalesforceClient(passwordConfig(sf.URL), sf.Client(), zap.NewNop())
	require.NoError(t, err)

	order, found, err := client.FindOrderByNumber(t.Context(), "12345")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, entities.Order{ID: "8015g000000001", OrderNumber: "12345"}, order)
	assert.Equal(t, "SELECT Id, OrderNumber FROM Order WHERE OrderNumber = '12345'", sf.lastQuery)

	update := entities.NewOrderDeliveryUpdate("Left at door", "")
	require.NoError(t, client.UpdateOrderDelivery(t.Context(), order.ID, update))
	assert.Equal(t, "/services/data/v59.0/sobjects/Order/8015g000000001", sf.patchPath)
	assert.Equal(t, map[string]any{
		"Status":               "Delivered",
		"Description":          "Left at door",
		"Shipping_Location__c": nil,
	}, sf.patched)

	assert.Equal(t, int32(1), sf.logins.Load(), "session is reused")
	assert.Equal(t, []string{"session-1", "session-1"}, sf.tokens)
}

func TestSalesforceOrderNotFound(t *testing.T) {
	sf := newFakeSalesforce(t)
	client, err := NewSalesforceClient(passwordConfig(sf.URL), sf.Client(), zap.NewNop())
	require.NoError(t, err)

	_, found, err := client.FindOrderByNumber(t.Context(), "999")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSalesforceEscapesQuotes(t *testing.T) {
	sf := newFakeSalesforce(t)
	client, err := NewSalesforceClient(passwordConfig(sf.URL), sf.Client(), zap.NewNop())
	require.NoError(t, err)

	_, _, err = client.FindOrderByNumber(t.Context(), "1' OR Name != '")
	require.NoError(t, err)
	assert.Equal(t, `SELECT Id, OrderNumber FROM Order WHERE OrderNumber = '1\' OR Name != \''`, sf.lastQuery)
}

func TestSalesforceAPIErrors(t *testing.T) {
	sf := newFakeSalesforce(t)
	client, err := NewSalesforceClient(passwordConfig(sf.URL), sf.Client(), zap.NewNop())
	require.NoError(t, err)

	_, _, err = client.FindOrderByNumber(t.Context(), "500")
	require.Error(t, err)
	assert.True(t, entities.HasTextCode(err, entities.ErrorCRMCall))
}

func TestSalesforceReloginOnExpiredSession(t *testing.T) {
	sf := newFakeSalesforce(t)
	sf.expireNth = 1
	client, err := NewSalesforceClient(passwordConfig(sf.URL), sf.Client(), zap.NewNop())
	require.NoError(t, err)

	_, found, err := client.FindOrderByNumber(t.Context(), "12345")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, int32(2), sf.logins.Load())
	assert.Equal(t, []string{"session-1", "session-2"}, sf.tokens)
}

func TestSalesforceInvalidLogin(t *testing.T) {
	sf := newFakeSalesforce(t)
	cfg := passwordConfig(sf.URL)
	cfg.Password = "wrong"
	client, err := NewSalesforceClient(cfg, sf.Client(), zap.NewNop())
	require.NoError(t, err)

	_, _, err = client.FindOrderByNumber(t.Context(), "12345")
	require.Error(t, err)
	assert.True(t, entities.HasTextCode(err, entities.ErrorCRMAuth))
	assert.Zero(t, sf.dataCalls.Load())
}

func TestSalesforceJWTBearerLogin(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	keyFile := filepath.Join(t.TempDir(), "server.key")
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	require.NoError(t, os.WriteFile(keyFile, pemBytes, 0o600))

	var (
		claims    jwt.MapClaims
		dataToken string
	)
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	mux.HandleFunc("/services/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		if r.Form.Get("grant_type") != jwtBearerGrantType {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"error":"unsupported_grant_type","error_description":"grant type not supported"}`)
			return
		}
		claims = jwt.MapClaims{}
		_, err := jwt.ParseWithClaims(r.Form.Get("assertion"), claims, func(*jwt.Token) (any, error) {
			return &key.PublicKey, nil
		}, jwt.WithValidMethods([]string{"RS256"}))
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"error":"invalid_grant","error_description":"invalid assertion"}`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"access_token":"jwt-token","instance_url":"%s","token_type":"Bearer"}`, srv.URL)
	})
	mux.HandleFunc("/services/data/v59.0/query", func(w http.ResponseWriter, r *http.Request) {
		dataToken = r.Header.Get("Authorization")
		fmt.Fprint(w, `{"totalSize":0,"done":true,"records":[]}`)
	})

	cfg := config.SalesforceConfig{
		Username:       "ops@example.com",
		LoginURL:       srv.URL,
		APIVersion:     "59.0",
		ClientID:       "3MVG9client",
		PrivateKeyFile: keyFile,
	}
	client, err := NewSalesforceClient(cfg, srv.Client(), zap.NewNop())
	require.NoError(t, err)

	_, found, err := client.FindOrderByNumber(t.Context(), "1")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, "Bearer jwt-token", dataToken)
	assert.Equal(t, "3MVG9client", claims["iss"])
	assert.Equal(t, "ops@example.com", claims["sub"])
	assert.Equal(t, srv.URL, claims["aud"])
}

func TestNewSalesforceClientRejectsBadKeyFile(t *testing.T) {
	keyFile := filepath.Join(t.TempDir(), "bad.key")
	require.NoError(t, os.WriteFile(keyFile, []byte("not a key"), 0o600))

	_, err := NewSalesforceClient(config.SalesforceConfig{ClientID: "c", PrivateKeyFile: keyFile}, nil, zap.NewNop())
	require.Error(t, err)
	assert.True(t, entities.HasTextCode(err, entities.ErrorConfigInvalid))
}
