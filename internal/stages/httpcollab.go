package stages

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"docflow/internal/config"
	"docflow/internal/services"
)

// httpDoer lets tests substitute the transport.
type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

type restClient struct {
	baseURL string
	client  httpDoer
}

func newRESTClient(baseURL string, timeout time.Duration) restClient {
	return restClient{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (c restClient) call(ctx context.Context, stage, method, path string, body, into any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return services.Wrap(services.ErrValidation, stage, "encode request", "", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return services.Wrap(services.ErrValidation, stage, "build request", "", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if tenant, ok := services.TenantFromContext(ctx); ok {
		req.Header.Set("X-Tenant-ID", tenant)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return services.Wrap(services.ErrNetwork, stage, method+" "+path, "", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		return classifyStatus(stage, method+" "+path, resp)
	}
	if into == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
		return services.Wrap(services.ErrValidation, stage, "decode response", "", err)
	}
	return nil
}

func classifyStatus(stage, operation string, resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
	detail := fmt.Sprintf("status %d", resp.StatusCode)
	if len(snippet) > 0 {
		detail = fmt.Sprintf("%s: %s", detail, strings.TrimSpace(string(snippet)))
	}

	marker := services.ErrTransient
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		marker = services.ErrThrottle
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		marker = services.ErrAuth
	case resp.StatusCode == http.StatusNotFound:
		marker = services.ErrNotFound
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		marker = services.ErrValidation
	case resp.StatusCode >= 500:
		marker = services.ErrNetwork
	}
	return services.Wrap(marker, stage, operation, detail, nil)
}

// HTTPProvider calls a remote extraction service.
type HTTPProvider struct {
	rest restClient
}

// NewHTTPProvider builds an extraction provider against cfg.Services.ExtractionURL.
func NewHTTPProvider(cfg *config.Config) *HTTPProvider {
	return &HTTPProvider{rest: newRESTClient(cfg.Services.ExtractionURL, cfg.ServiceTimeout())}
}

func (p *HTTPProvider) Extract(ctx context.Context, tenantID, subjectID string) (Extraction, error) {
	var out struct {
		Fields     map[string]any `json:"fields"`
		Confidence float64        `json:"confidence"`
	}
	body := map[string]string{"tenantId": tenantID, "subjectId": subjectID}
	if err := p.rest.call(ctx, "extract", http.MethodPost, "/v1/extract", body, &out); err != nil {
		return Extraction{}, err
	}
	return Extraction{Fields: out.Fields, Confidence: out.Confidence}, nil
}

// HTTPRepo persists subjects through the system-of-record service.
type HTTPRepo struct {
	rest restClient
}

// NewHTTPRepo builds a subject repository against cfg.Services.RepositoryURL.
func NewHTTPRepo(cfg *config.Config) *HTTPRepo {
	return &HTTPRepo{rest: newRESTClient(cfg.Services.RepositoryURL, cfg.ServiceTimeout())}
}

func (r *HTTPRepo) UpsertSubject(ctx context.Context, subject Subject) error {
	body := map[string]any{
		"tenantId": subject.TenantID,
		"fields":   subject.Fields,
	}
	path := "/v1/subjects/" + url.PathEscape(subject.SubjectID)
	return r.rest.call(ctx, "persist", http.MethodPut, path, body, nil)
}

func (r *HTTPRepo) MarkProcessed(ctx context.Context, subjectID string) error {
	path := "/v1/subjects/" + url.PathEscape(subjectID) + "/processed"
	return r.rest.call(ctx, "finalize", http.MethodPost, path, nil, nil)
}

// HasTerminalData reports whether the system of record already holds the
// subject's terminal output. The sweeper uses this to detect workflows that
// finished their side effects but never recorded completion.
func (r *HTTPRepo) HasTerminalData(ctx context.Context, subjectID string) (bool, error) {
	path := "/v1/subjects/" + url.PathEscape(subjectID) + "/processed"
	err := r.rest.call(ctx, "sweep", http.MethodGet, path, nil, nil)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, services.ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

// HTTPCatalog talks to the commerce-platform catalog service.
type HTTPCatalog struct {
	rest restClient
}

// NewHTTPCatalog builds a catalog client against cfg.Services.CatalogURL.
func NewHTTPCatalog(cfg *config.Config) *HTTPCatalog {
	return &HTTPCatalog{rest: newRESTClient(cfg.Services.CatalogURL, cfg.ServiceTimeout())}
}

func (c *HTTPCatalog) EnsureDraft(ctx context.Context, tenantID, subjectID string, fields map[string]any) (string, error) {
	var out struct {
		DraftID string `json:"draftId"`
	}
	body := map[string]any{
		"tenantId":  tenantID,
		"subjectId": subjectID,
		"fields":    fields,
	}
	if err := c.rest.call(ctx, "draft", http.MethodPost, "/v1/drafts", body, &out); err != nil {
		return "", err
	}
	if out.DraftID == "" {
		return "", services.Wrap(services.ErrValidation, "draft", "ensure draft", "response missing draftId", nil)
	}
	return out.DraftID, nil
}

func (c *HTTPCatalog) AttachAssets(ctx context.Context, tenantID, draftID, subjectID string) ([]string, error) {
	var out struct {
		Assets []string `json:"assets"`
	}
	body := map[string]any{
		"tenantId":  tenantID,
		"subjectId": subjectID,
	}
	path := "/v1/drafts/" + url.PathEscape(draftID) + "/assets"
	if err := c.rest.call(ctx, "assets", http.MethodPost, path, body, &out); err != nil {
		return nil, err
	}
	return out.Assets, nil
}

func (c *HTTPCatalog) SyncDraft(ctx context.Context, tenantID, draftID string) error {
	body := map[string]any{"tenantId": tenantID}
	path := "/v1/drafts/" + url.PathEscape(draftID) + "/sync"
	return c.rest.call(ctx, "catalog_sync", http.MethodPost, path, body, nil)
}

// BuildHTTPCollaborators wires the configured service endpoints into stage
// collaborators. Every endpoint must be configured; partial wiring is a
// deployment error better caught at startup than mid-pipeline.
func BuildHTTPCollaborators(cfg *config.Config) (Collaborators, error) {
	missing := make([]string, 0, 3)
	if strings.TrimSpace(cfg.Services.ExtractionURL) == "" {
		missing = append(missing, "services.extraction_url")
	}
	if strings.TrimSpace(cfg.Services.RepositoryURL) == "" {
		missing = append(missing, "services.repository_url")
	}
	if strings.TrimSpace(cfg.Services.CatalogURL) == "" {
		missing = append(missing, "services.catalog_url")
	}
	if len(missing) > 0 {
		return Collaborators{}, fmt.Errorf("missing service endpoints: %s", strings.Join(missing, ", "))
	}
	return Collaborators{
		Provider: NewHTTPProvider(cfg),
		Repo:     NewHTTPRepo(cfg),
		Catalog:  NewHTTPCatalog(cfg),
	}, nil
}
