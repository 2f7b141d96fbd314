// Package creatio provides access to the Creatio DataService API. Every
// operation authenticates with a fresh session and releases it before
// returning; nothing is cached across calls.
package creatio

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	loginPath  = "/ServiceModel/AuthService.svc/Login"
	logoutPath = "/ServiceModel/MainMenuService.svc/Logout"
	insertPath = "/0/DataService/json/SyncReply/InsertQuery"

	csrfCookie = "BPMCSRF"
)

// Client defines the Creatio operations used by the pipeline.
type Client interface {
	// CreateRecord inserts one record into the named schema and returns the
	// identifier Creatio assigned to it.
	CreateRecord(ctx context.Context, schema string, columns map[string]any) (string, error)
}

// APIError is a non-2xx response from Creatio. Callers decide retryability
// from the status code.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("creatio: HTTP %d: %s", e.StatusCode, e.Body)
}

// ClientOption configures the Creatio client.
type ClientOption func(*httpClient)

// WithRateLimit sets a per-second rate limit for Creatio API calls.
func WithRateLimit(rps float64) ClientOption {
	return func(c *httpClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
		}
	}
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *httpClient) { c.http = hc }
}

type httpClient struct {
	baseURL  string
	username string
	password string
	http     *http.Client
	limiter  *rate.Limiter
}

// New creates a Creatio client. baseURL is the instance root, without the
// trailing /0 application path.
func New(baseURL, username, password string, timeout time.Duration, opts ...ClientOption) Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c := &httpClient{
		baseURL:  baseURL,
		username: username,
		password: password,
		http:     &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// session holds the cookies from one login. Creatio requires the BPMCSRF
// cookie value echoed back as a header on DataService calls.
type session struct {
	cookies []*http.Cookie
	csrf    string
}

func (c *httpClient) login(ctx context.Context) (*session, error) {
	body, err := json.Marshal(map[string]string{
		"UserName":     c.username,
		"UserPassword": c.password,
	})
	if err != nil {
		return nil, eris.Wrap(err, "creatio: marshal login")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+loginPath, bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "creatio: create login request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "creatio: login call")
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "creatio: read login response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var loginResp struct {
		Code    int    `json:"Code"`
		Message string `json:"Message"`
	}
	if err := json.Unmarshal(respBody, &loginResp); err != nil {
		return nil, eris.Wrap(err, "creatio: unmarshal login response")
	}
	if loginResp.Code != 0 {
		return nil, eris.Errorf("creatio: login rejected: %s", loginResp.Message)
	}

	s := &session{cookies: resp.Cookies()}
	for _, ck := range s.cookies {
		if ck.Name == csrfCookie {
			s.csrf = ck.Value
		}
	}
	return s, nil
}

// logout releases the session. Failures are logged, not returned; the
// session expires server-side regardless.
func (c *httpClient) logout(ctx context.Context, s *session) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+logoutPath, nil)
	if err != nil {
		zap.L().Warn("creatio logout request failed", zap.Error(err))
		return
	}
	c.attach(req, s)

	resp, err := c.http.Do(req)
	if err != nil {
		zap.L().Warn("creatio logout call failed", zap.Error(err))
		return
	}
	resp.Body.Close() //nolint:errcheck
}

func (c *httpClient) attach(req *http.Request, s *session) {
	for _, ck := range s.cookies {
		req.AddCookie(ck)
	}
	if s.csrf != "" {
		req.Header.Set(csrfCookie, s.csrf)
	}
}

type insertQuery struct {
	RootSchemaName string       `json:"rootSchemaName"`
	OperationType  int          `json:"operationType"`
	ColumnValues   columnValues `json:"columnValues"`
}

type columnValues struct {
	Items map[string]columnExpression `json:"items"`
}

type columnExpression struct {
	ExpressionType int             `json:"expressionType"`
	Parameter      columnParameter `json:"parameter"`
}

type columnParameter struct {
	DataValueType int `json:"dataValueType"`
	Value         any `json:"value"`
}

// Creatio DataValueType codes for the value kinds the mapping produces.
const (
	dvText    = 1
	dvInteger = 4
	dvFloat   = 5
	dvBoolean = 12
)

func toExpression(v any) columnExpression {
	p := columnParameter{DataValueType: dvText, Value: v}
	switch v.(type) {
	case bool:
		p.DataValueType = dvBoolean
	case int, int32, int64:
		p.DataValueType = dvInteger
	case float32, float64:
		p.DataValueType = dvFloat
	}
	return columnExpression{ExpressionType: 2, Parameter: p}
}

func (c *httpClient) CreateRecord(ctx context.Context, schema string, columns map[string]any) (string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", eris.Wrap(err, "creatio: rate limit")
		}
	}

	s, err := c.login(ctx)
	if err != nil {
		return "", err
	}
	defer c.logout(ctx, s)

	items := make(map[string]columnExpression, len(columns))
	for name, value := range columns {
		items[name] = toExpression(value)
	}
	body, err := json.Marshal(insertQuery{
		RootSchemaName: schema,
		OperationType:  1,
		ColumnValues:   columnValues{Items: items},
	})
	if err != nil {
		return "", eris.Wrap(err, "creatio: marshal insert query")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+insertPath, bytes.NewReader(body))
	if err != nil {
		return "", eris.Wrap(err, "creatio: create insert request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	c.attach(req, s)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", eris.Wrapf(err, "creatio: insert %s", schema)
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", eris.Wrap(err, "creatio: read insert response")
	}
	if resp.StatusCode != http.StatusOK {
		return "", &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var insertResp struct {
		ID           string `json:"id"`
		Success      bool   `json:"success"`
		ErrorInfo    *struct {
			Message string `json:"message"`
		} `json:"errorInfo"`
		RowsAffected int `json:"rowsAffected"`
	}
	if err := json.Unmarshal(respBody, &insertResp); err != nil {
		return "", eris.Wrap(err, "creatio: unmarshal insert response")
	}
	if !insertResp.Success {
		msg := "unknown error"
		if insertResp.ErrorInfo != nil {
			msg = insertResp.ErrorInfo.Message
		}
		return "", eris.Errorf("creatio: insert %s failed: %s", schema, msg)
	}
	return insertResp.ID, nil
}

var _ Client = (*httpClient)(nil)
