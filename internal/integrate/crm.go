// Package integrate pushes structured extraction records into the external
// case-management system and tracks the integration dimension.
package integrate

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/oficio-pipeline/internal/config"
	"github.com/sells-group/oficio-pipeline/internal/resilience"
	"github.com/sells-group/oficio-pipeline/pkg/creatio"
	"github.com/sells-group/oficio-pipeline/pkg/sfcase"
)

// Case and person entity names per backend.
const (
	creatioCaseSchema   = "LegalDocumentRequest"
	creatioPersonSchema = "LegalDocumentPerson"

	salesforceCaseObject   = "LegalDocumentRequest__c"
	salesforcePersonObject = "LegalDocumentPerson__c"
)

// CRM abstracts case and person creation in the external system. Every call
// authenticates on its own; implementations hold no session state.
type CRM interface {
	// CreateCase inserts a case record and returns the external identifier.
	// The idempotency token is stored on the record so a redelivered create
	// can be reconciled against the original.
	CreateCase(ctx context.Context, fields map[string]any, idempotencyToken string) (string, error)

	// CreatePerson inserts one person child record referencing caseID.
	CreatePerson(ctx context.Context, caseID string, fields map[string]any) (string, error)
}

// NewCRM builds the configured CRM backend.
func NewCRM(cfg config.CRMConfig) (CRM, error) {
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second

	switch cfg.Provider {
	case "creatio":
		client := creatio.New(cfg.BaseURL, cfg.Username, cfg.Password, timeout,
			creatio.WithRateLimit(cfg.RatePerSec))
		return &creatioCRM{client: client}, nil
	case "salesforce":
		pem, err := os.ReadFile(cfg.KeyPath)
		if err != nil {
			return nil, eris.Wrap(err, "integrate: read salesforce JWT private key")
		}
		client, err := sfcase.New(sfcase.Creds{
			Domain:         cfg.LoginURL,
			Username:       cfg.Username,
			ConsumerKey:    cfg.ClientID,
			ConsumerRSAPem: string(pem),
		}, sfcase.WithRateLimit(cfg.RatePerSec))
		if err != nil {
			return nil, err
		}
		return &salesforceCRM{client: client}, nil
	default:
		return nil, eris.Errorf("integrate: unknown crm provider %q", cfg.Provider)
	}
}

type creatioCRM struct {
	client creatio.Client
}

func (c *creatioCRM) CreateCase(ctx context.Context, fields map[string]any, idempotencyToken string) (string, error) {
	columns := cloneFields(fields)
	columns["IdempotencyToken"] = idempotencyToken
	id, err := c.client.CreateRecord(ctx, creatioCaseSchema, columns)
	return id, markCreatioTransient(err)
}

func (c *creatioCRM) CreatePerson(ctx context.Context, caseID string, fields map[string]any) (string, error) {
	columns := cloneFields(fields)
	columns["LegalDocumentRequest"] = caseID
	id, err := c.client.CreateRecord(ctx, creatioPersonSchema, columns)
	return id, markCreatioTransient(err)
}

// markCreatioTransient flags retryable HTTP failures so the retry policy
// distinguishes them from schema or validation rejections.
func markCreatioTransient(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *creatio.APIError
	if errors.As(err, &apiErr) && resilience.RetryableStatus(apiErr.StatusCode) {
		return resilience.MarkTransient(err, apiErr.StatusCode)
	}
	return err
}

type salesforceCRM struct {
	client sfcase.Client
}

func (s *salesforceCRM) CreateCase(ctx context.Context, fields map[string]any, idempotencyToken string) (string, error) {
	record := cloneFields(fields)
	record["IdempotencyToken__c"] = idempotencyToken
	return s.client.InsertOne(ctx, salesforceCaseObject, record)
}

func (s *salesforceCRM) CreatePerson(ctx context.Context, caseID string, fields map[string]any) (string, error) {
	record := cloneFields(fields)
	record["LegalDocumentRequest__c"] = caseID
	return s.client.InsertOne(ctx, salesforcePersonObject, record)
}

func cloneFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		out[k] = v
	}
	return out
}
