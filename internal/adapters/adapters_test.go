package adapters_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/farmxpert/farmxpert/orchestrator/internal/adapters"
	"github.com/farmxpert/farmxpert/orchestrator/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorClassification(t *testing.T) {
	assert.True(t, adapters.IsTransient(adapters.Transient("soil", errors.New("reset"))))
	assert.True(t, adapters.IsPermanent(adapters.Permanent("soil", errors.New("bad input"))))
	assert.True(t, adapters.IsTransient(fmt.Errorf("wrapped: %w", context.DeadlineExceeded)))
	assert.True(t, adapters.IsPermanent(errors.New("unclassified")))
	assert.False(t, adapters.IsTransient(nil))
	assert.False(t, adapters.IsPermanent(nil))

	err := adapters.Transient("weather_watcher", errors.New("timeout"))
	assert.Contains(t, err.Error(), "weather_watcher")
	var ae *adapters.Error
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, adapters.KindTransient, ae.Kind)
}

func TestDeriveConfidenceOrdering(t *testing.T) {
	exact := adapters.DefaultConfidence(models.ProvenanceExact)
	category := adapters.DefaultConfidence(models.ProvenanceCategory)
	generic := adapters.DefaultConfidence(models.ProvenanceGeneric)

	assert.InDelta(t, 0.9, exact, 1e-9)
	assert.InDelta(t, 0.75, category, 1e-9)
	assert.InDelta(t, 0.55, generic, 1e-9)
	assert.GreaterOrEqual(t, exact, category)
	assert.GreaterOrEqual(t, category, generic)

	// reported values are capped by the provenance ceiling
	assert.InDelta(t, 0.65, adapters.DeriveConfidence(0.95, models.ProvenanceGeneric), 1e-9)
	assert.InDelta(t, 0.4, adapters.DeriveConfidence(0.4, models.ProvenanceGeneric), 1e-9)
	assert.InDelta(t, 1.0, adapters.DeriveConfidence(1.7, models.ProvenanceExact), 1e-9)
	assert.Zero(t, adapters.DeriveConfidence(0, models.ProvenanceExact))
}

func TestNormalize(t *testing.T) {
	out, err := adapters.Normalize("soil_health", &models.AgentOutput{
		Status:          models.OutputBlocked,
		Confidence:      1.4,
		Recommendations: []string{"Test pH", "Test pH", " "},
		Provenance:      "weird",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Test pH"}, out.Recommendations)
	assert.Equal(t, 1.0, out.Confidence)
	assert.Equal(t, models.ProvenanceGeneric, out.Provenance)
	assert.Equal(t, []string{"soil_health blocked this action"}, out.Blockers)

	_, err = adapters.Normalize("soil_health", &models.AgentOutput{Status: models.OutputError, Summary: "unsupported crop"})
	require.Error(t, err)
	assert.True(t, adapters.IsPermanent(err))
	assert.Contains(t, err.Error(), "unsupported crop")

	_, err = adapters.Normalize("soil_health", nil)
	assert.True(t, adapters.IsPermanent(err))

	out, err = adapters.Normalize("x", &models.AgentOutput{})
	require.NoError(t, err)
	assert.Equal(t, models.OutputOK, out.Status)
	assert.NotNil(t, out.Blockers)
}

func TestRegistryKeepsRegistrationOrder(t *testing.T) {
	mk := func(name string) *adapters.Func {
		return adapters.NewFunc(models.AdapterInfo{Name: name}, func(context.Context, *models.AdapterInput) (*models.AgentOutput, error) {
			return &models.AgentOutput{Status: models.OutputOK}, nil
		})
	}
	reg := adapters.NewRegistry(mk("weather_watcher"), mk("soil_health"))
	reg.Register(mk("market_intelligence"))
	reg.Register(mk("weather_watcher")) // replace keeps position

	assert.Equal(t, []string{"weather_watcher", "soil_health", "market_intelligence"}, reg.Names())
	assert.Equal(t, 3, reg.Len())
	assert.True(t, reg.Has("soil_health"))
	assert.Nil(t, reg.General())

	_, err := reg.Get("missing")
	assert.Error(t, err)

	reg.Register(adapters.NewGeneralAdapter(nil))
	require.NotNil(t, reg.General())
	infos := reg.Infos()
	assert.Equal(t, adapters.GeneralAdapterName, infos[len(infos)-1].Name)
}

func TestHTTPAdapterSuccess(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok","confidence":0.85,"recommendations":["Apply 20kg urea"],"warnings":[],"blockers":[],"provenance":"exact"}`))
	}))
	defer srv.Close()

	a := adapters.NewHTTPAdapter(models.AdapterInfo{Name: "fertilizer_advisor", Concerns: []string{"fertilizer"}}, srv.URL, srv.Client())
	out, err := a.Invoke(context.Background(), &models.AdapterInput{
		Query:     "how much urea?",
		SessionID: "s1",
		Farm:      models.FarmContext{Location: "Pune", LandSize: 2, Season: "kharif"},
		Upstream:  map[string]*models.AgentOutput{"soil_health": {Status: models.OutputOK}},
	})
	require.NoError(t, err)
	assert.Equal(t, models.OutputOK, out.Status)
	assert.InDelta(t, 0.85, out.Confidence, 1e-9)
	assert.Equal(t, []string{"Apply 20kg urea"}, out.Recommendations)
	assert.Equal(t, []string{"fertilizer"}, out.Concerns)

	assert.Equal(t, "how much urea?", got["query"])
	assert.Equal(t, "s1", got["session_id"])
	ctxBody, ok := got["context"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Pune", ctxBody["location"])
	assert.Equal(t, "kharif", ctxBody["season"])
	assert.Contains(t, ctxBody, "upstream_values")
}

func TestHTTPAdapterMissingConfidenceUsesProvenance(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"ok","recommendations":["Sow early"],"provenance":"category"}`))
	}))
	defer srv.Close()

	a := adapters.NewHTTPAdapter(models.AdapterInfo{Name: "crop_selector"}, srv.URL, nil)
	out, err := a.Invoke(context.Background(), &models.AdapterInput{Query: "what to sow"})
	require.NoError(t, err)
	assert.InDelta(t, 0.75, out.Confidence, 1e-9)
}

func TestHTTPAdapterReportedZeroConfidenceIsKept(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"ok","confidence":0,"recommendations":["Maybe sow millet"],"provenance":"exact"}`))
	}))
	defer srv.Close()

	a := adapters.NewHTTPAdapter(models.AdapterInfo{Name: "crop_selector"}, srv.URL, nil)
	out, err := a.Invoke(context.Background(), &models.AdapterInput{Query: "what to sow"})
	require.NoError(t, err)
	assert.Zero(t, out.Confidence)
}

func TestNormalizePromotesOKWithBlockers(t *testing.T) {
	out, err := adapters.Normalize("fertilizer_advisor", &models.AgentOutput{
		Status:          models.OutputOK,
		Recommendations: []string{"Apply 20kg urea"},
		Blockers:        []string{"do not mix urea with lime"},
	})
	require.NoError(t, err)
	assert.Equal(t, models.OutputBlocked, out.Status)
	assert.Equal(t, []string{"do not mix urea with lime"}, out.Blockers)
}

func TestHTTPAdapterErrorClassification(t *testing.T) {
	cases := map[string]struct {
		status    int
		body      string
		transient bool
	}{
		"server error":  {http.StatusBadGateway, "upstream down", true},
		"rate limited":  {http.StatusTooManyRequests, "slow down", true},
		"bad request":   {http.StatusBadRequest, "missing location", false},
		"garbage body":  {http.StatusOK, "not json", false},
		"service error": {http.StatusOK, `{"status":"error","summary":"unsupported crop"}`, false},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			a := adapters.NewHTTPAdapter(models.AdapterInfo{Name: "soil_health"}, srv.URL, srv.Client())
			_, err := a.Invoke(context.Background(), &models.AdapterInput{Query: "q"})
			require.Error(t, err)
			assert.Equal(t, tc.transient, adapters.IsTransient(err))
		})
	}
}

func TestHTTPAdapterTimeoutIsTransient(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	a := adapters.NewHTTPAdapter(models.AdapterInfo{Name: "weather_watcher"}, srv.URL, srv.Client())
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := a.Invoke(ctx, &models.AdapterInput{Query: "rain?"})
	require.Error(t, err)
	assert.True(t, adapters.IsTransient(err))
}

type stubCompleter struct {
	answer string
	err    error
	prompt string
}

func (s *stubCompleter) Complete(_ context.Context, _, prompt string) (string, error) {
	s.prompt = prompt
	return s.answer, s.err
}

func TestGeneralAdapterUsesCompleter(t *testing.T) {
	c := &stubCompleter{answer: "Mulch your beds before the monsoon."}
	g := adapters.NewGeneralAdapter(c)
	out, err := g.Invoke(context.Background(), &models.AdapterInput{
		Query: "any tips?",
		Farm:  models.FarmContext{Location: "Nashik", Crop: "onion"},
	})
	require.NoError(t, err)
	assert.Equal(t, models.OutputOK, out.Status)
	assert.Equal(t, models.ProvenanceGeneric, out.Provenance)
	assert.Equal(t, []string{"Mulch your beds before the monsoon."}, out.Recommendations)
	assert.Contains(t, c.prompt, "Nashik")
	assert.Contains(t, c.prompt, "any tips?")
}

func TestGeneralAdapterNeverFails(t *testing.T) {
	g := adapters.NewGeneralAdapter(&stubCompleter{err: errors.New("llm down")})
	out, err := g.Invoke(context.Background(), &models.AdapterInput{Query: "hello"})
	require.NoError(t, err)
	assert.Equal(t, models.OutputOK, out.Status)
	assert.Empty(t, out.Blockers)
	assert.NotEmpty(t, out.Recommendations)

	out, err = adapters.NewGeneralAdapter(nil).Invoke(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, models.OutputOK, out.Status)
}
