package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/farmxpert/farmxpert/orchestrator/pkg/models"
)

// ── Wire shapes ─────────────────────────────────────────────

type serviceContext struct {
	Location       string                         `json:"location,omitempty"`
	LandSize       float64                        `json:"land_size,omitempty"`
	LandUnit       string                         `json:"land_unit,omitempty"`
	Season         string                         `json:"season,omitempty"`
	Crop           string                         `json:"crop,omitempty"`
	UpstreamValues map[string]*models.AgentOutput `json:"upstream_values,omitempty"`
}

type serviceRequest struct {
	Query     string         `json:"query"`
	Context   serviceContext `json:"context"`
	SessionID string         `json:"session_id,omitempty"`
}

type serviceResponse struct {
	Status          models.OutputStatus `json:"status"`
	Confidence      *float64            `json:"confidence"`
	Recommendations []string            `json:"recommendations"`
	Warnings        []string            `json:"warnings"`
	Blockers        []string            `json:"blockers"`
	Provenance      models.Provenance   `json:"provenance"`
	Concerns        []string            `json:"concerns"`
	Summary         string              `json:"summary"`
}

// ── HTTPAdapter ─────────────────────────────────────────────

// HTTPAdapter calls a remote advisory service over HTTP/JSON.
type HTTPAdapter struct {
	info     models.AdapterInfo
	endpoint string
	client   *http.Client
}

// NewHTTPAdapter creates an adapter that POSTs to endpoint. A nil client
// gets a 30s default.
func NewHTTPAdapter(info models.AdapterInfo, endpoint string, client *http.Client) *HTTPAdapter {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPAdapter{info: info, endpoint: endpoint, client: client}
}

func (a *HTTPAdapter) Name() string { return a.info.Name }

func (a *HTTPAdapter) Describe() models.AdapterInfo { return a.info }

// Endpoint returns the service URL.
func (a *HTTPAdapter) Endpoint() string { return a.endpoint }

// Invoke sends the query, farm context and upstream values to the service
// and translates its reply into an AgentOutput.
func (a *HTTPAdapter) Invoke(ctx context.Context, input *models.AdapterInput) (*models.AgentOutput, error) {
	name := a.info.Name
	if input == nil {
		return nil, Permanent(name, errors.New("nil input"))
	}

	body, err := json.Marshal(serviceRequest{
		Query: input.Query,
		Context: serviceContext{
			Location:       input.Farm.Location,
			LandSize:       input.Farm.LandSize,
			LandUnit:       input.Farm.LandUnit,
			Season:         input.Farm.Season,
			Crop:           input.Farm.Crop,
			UpstreamValues: input.Upstream,
		},
		SessionID: input.SessionID,
	})
	if err != nil {
		return nil, Permanent(name, fmt.Errorf("marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, Permanent(name, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		// Connection refused, reset, DNS and timeouts are all worth another try.
		return nil, Transient(name, fmt.Errorf("request failed: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		statusErr := fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusRequestTimeout {
			return nil, Transient(name, statusErr)
		}
		return nil, Permanent(name, statusErr)
	}

	var sr serviceResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&sr); err != nil {
		return nil, Permanent(name, fmt.Errorf("decode response: %w", err))
	}

	out := &models.AgentOutput{
		Status:          sr.Status,
		Recommendations: sr.Recommendations,
		Warnings:        sr.Warnings,
		Blockers:        sr.Blockers,
		Provenance:      sr.Provenance,
		Concerns:        sr.Concerns,
		Summary:         sr.Summary,
	}
	if out.Provenance == "" {
		out.Provenance = models.ProvenanceGeneric
	}
	if sr.Confidence != nil {
		out.Confidence = DeriveConfidence(*sr.Confidence, out.Provenance)
	} else {
		out.Confidence = DefaultConfidence(out.Provenance)
	}
	if len(out.Concerns) == 0 {
		out.Concerns = append([]string(nil), a.info.Concerns...)
	}

	return Normalize(name, out)
}
