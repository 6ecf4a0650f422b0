// Package providers implements the external scoring dependencies: the AI
// context-analysis service and the customer behavioral-history service.
package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/vocilia/verify/internal/domain"
)

// HTTPContextProvider calls a remote context-analysis service over HTTP.
type HTTPContextProvider struct {
	baseURL string
	client  *http.Client
}

// NewHTTPContextProvider creates a context provider against a base URL.
func NewHTTPContextProvider(baseURL string, timeout time.Duration) *HTTPContextProvider {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPContextProvider{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

type contextRequest struct {
	FeedbackText string                 `json:"feedbackText"`
	Meta         domain.TransactionMeta `json:"meta"`
}

type scoreResponse struct {
	Score float64 `json:"score"`
}

// GetContextScore posts the feedback text and transaction context and
// returns the service's legitimacy score.
func (p *HTTPContextProvider) GetContextScore(ctx context.Context, feedbackText string, meta domain.TransactionMeta) (float64, error) {
	body, err := json.Marshal(contextRequest{FeedbackText: feedbackText, Meta: meta})
	if err != nil {
		return 0, err
	}

	return p.post(ctx, p.baseURL+"/v1/context-score", body)
}

func (p *HTTPContextProvider) post(ctx context.Context, url string, body []byte) (float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrExternalDependency, err)
	}
	defer resp.Body.Close()

	return decodeScore(resp)
}

// HTTPBehavioralProvider calls a remote behavioral-analysis service.
type HTTPBehavioralProvider struct {
	baseURL string
	client  *http.Client
}

// NewHTTPBehavioralProvider creates a behavioral provider against a base URL.
func NewHTTPBehavioralProvider(baseURL string, timeout time.Duration) *HTTPBehavioralProvider {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPBehavioralProvider{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

type behavioralRequest struct {
	BusinessID string `json:"businessId"`
	CustomerID string `json:"customerId"`
}

// GetBehavioralScore fetches the customer's behavioral legitimacy score.
func (p *HTTPBehavioralProvider) GetBehavioralScore(ctx context.Context, businessID string, customerID string) (float64, error) {
	body, err := json.Marshal(behavioralRequest{BusinessID: businessID, CustomerID: customerID})
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/behavioral-score", bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrExternalDependency, err)
	}
	defer resp.Body.Close()

	return decodeScore(resp)
}

func decodeScore(resp *http.Response) (float64, error) {
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("%w: provider returned status %d", domain.ErrExternalDependency, resp.StatusCode)
	}

	var out scoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("%w: invalid provider response: %v", domain.ErrExternalDependency, err)
	}
	if out.Score < 0 || out.Score > 1 {
		return 0, fmt.Errorf("%w: provider score %f outside [0,1]", domain.ErrExternalDependency, out.Score)
	}
	return out.Score, nil
}

// StaticProvider returns fixed scores. Used in development setups and the
// simulator when no external services are configured.
type StaticProvider struct {
	ContextScore    float64
	BehavioralScore float64
}

// GetContextScore returns the fixed context score.
func (p *StaticProvider) GetContextScore(ctx context.Context, feedbackText string, meta domain.TransactionMeta) (float64, error) {
	return p.ContextScore, nil
}

// GetBehavioralScore returns the fixed behavioral score.
func (p *StaticProvider) GetBehavioralScore(ctx context.Context, businessID string, customerID string) (float64, error) {
	return p.BehavioralScore, nil
}
