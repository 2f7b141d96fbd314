// Package sfcase provides JWT-authenticated Salesforce record creation for
// the case-management integration.
package sfcase

import (
	"context"
	"fmt"

	"github.com/k-capehart/go-salesforce/v3"
	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// Client defines the Salesforce operations used by the pipeline.
type Client interface {
	// InsertOne creates one record and returns its Salesforce ID.
	InsertOne(ctx context.Context, sObjectName string, record map[string]any) (string, error)
	// Query runs a SOQL query and decodes the records into out.
	Query(ctx context.Context, soql string, out any) error
}

// Creds holds the JWT bearer-flow credentials.
type Creds struct {
	Domain         string
	Username       string
	ConsumerKey    string
	ConsumerRSAPem string
}

// ClientOption configures the Salesforce client.
type ClientOption func(*sfClient)

// WithRateLimit sets a per-second rate limit for Salesforce API calls.
func WithRateLimit(rps float64) ClientOption {
	return func(c *sfClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
		}
	}
}

// sfClient wraps the go-salesforce/v3 Salesforce struct.
//
// NOTE: The underlying go-salesforce/v3 library does not accept
// context.Context, so the ctx parameter only governs the rate limiter wait.
type sfClient struct {
	sf      *salesforce.Salesforce
	limiter *rate.Limiter
}

// New authenticates against Salesforce and returns a Client.
func New(creds Creds, opts ...ClientOption) (Client, error) {
	sf, err := salesforce.Init(salesforce.Creds{
		Domain:         creds.Domain,
		Username:       creds.Username,
		ConsumerKey:    creds.ConsumerKey,
		ConsumerRSAPem: creds.ConsumerRSAPem,
	})
	if err != nil {
		return nil, eris.Wrap(err, "sfcase: init salesforce")
	}
	return NewWithSalesforce(sf, opts...), nil
}

// NewWithSalesforce wraps an already-initialized go-salesforce instance.
func NewWithSalesforce(sf *salesforce.Salesforce, opts ...ClientOption) Client {
	c := &sfClient{sf: sf}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *sfClient) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

func (c *sfClient) InsertOne(ctx context.Context, sObjectName string, record map[string]any) (string, error) {
	if err := c.wait(ctx); err != nil {
		return "", eris.Wrap(err, "sfcase: rate limit")
	}
	result, err := c.sf.InsertOne(sObjectName, record)
	if err != nil {
		return "", eris.Wrap(err, fmt.Sprintf("sfcase: insert %s", sObjectName))
	}
	if !result.Success {
		return "", eris.New(fmt.Sprintf("sfcase: insert %s failed: %v", sObjectName, result.Errors))
	}
	return result.Id, nil
}

func (c *sfClient) Query(ctx context.Context, soql string, out any) error {
	if err := c.wait(ctx); err != nil {
		return eris.Wrap(err, "sfcase: rate limit")
	}
	if err := c.sf.Query(soql, out); err != nil {
		return eris.Wrap(err, "sfcase: query")
	}
	return nil
}

var _ Client = (*sfClient)(nil)
