package server_test

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/farmxpert/farmxpert/orchestrator/internal/adapters"
	"github.com/farmxpert/farmxpert/orchestrator/internal/config"
	"github.com/farmxpert/farmxpert/orchestrator/pkg/models"
	"github.com/farmxpert/farmxpert/orchestrator/pkg/server"
)

func testConfig(endpoints map[string]string) *config.Config {
	return &config.Config{
		Port:    0,
		Version: "test",
		Engine: config.EngineConfig{
			TaskTimeout:    2 * time.Second,
			MaxRetries:     1,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     time.Millisecond,
			MaxParallel:    4,
			Overhead:       time.Second,
		},
		Sessions: config.SessionConfig{
			BusyPolicy:        config.BusyCancel,
			HistoryWindow:     10,
			JanitorInterval:   time.Minute,
			WorkflowRetention: time.Hour,
		},
		Adapters: config.AdapterConfig{Endpoints: endpoints, Timeout: time.Second},
	}
}

func TestServer_EndToEnd(t *testing.T) {
	soil := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":          "ok",
			"confidence":      0.8,
			"recommendations": []string{"Apply 2 t/ha agricultural lime"},
			"provenance":      "exact",
		})
	}))
	defer soil.Close()

	local := adapters.NewFunc(models.AdapterInfo{Name: "weather_watcher", Keywords: []string{"rain"}},
		func(context.Context, *models.AdapterInput) (*models.AgentOutput, error) {
			return &models.AgentOutput{Status: models.OutputOK, Recommendations: []string{"Rain expected Thursday"}}, nil
		})

	ctx := context.Background()
	srv, err := server.NewWithConfig(ctx, testConfig(map[string]string{"soil_health": soil.URL}), server.WithAdapters(local))
	require.NoError(t, err)
	srv.Start(ctx)

	api := httptest.NewServer(srv.Handler)
	defer api.Close()

	resp, err := api.Client().Get(api.URL + "/api/v1/adapters")
	require.NoError(t, err)
	var infos []models.AdapterInfo
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&infos))
	resp.Body.Close()
	var names []string
	for _, i := range infos {
		names = append(names, i.Name)
	}
	assert.Equal(t, []string{"weather_watcher", "soil_health", "general"}, names)

	resp, err = api.Client().Post(api.URL+"/api/v1/chat", "application/json",
		strings.NewReader(`{"query":"My soil pH is 5.2, what should I do?"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var final models.Event
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		if data, ok := strings.CutPrefix(scanner.Text(), "data: "); ok {
			require.NoError(t, json.Unmarshal([]byte(data), &final))
		}
	}
	assert.Equal(t, models.EventComplete, final.Type)
	assert.Equal(t, []string{"soil_health"}, final.ContributingAdapters)
	assert.Contains(t, final.Answer, "agricultural lime")

	shutdownCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	assert.NoError(t, srv.Shutdown(shutdownCtx))
}

func TestServer_RejectsReservedAdapterName(t *testing.T) {
	_, err := server.NewWithConfig(context.Background(), testConfig(map[string]string{"general": "http://localhost:1"}))
	assert.Error(t, err)
}

func TestServer_ShutdownWithoutStart(t *testing.T) {
	srv, err := server.NewWithConfig(context.Background(), testConfig(nil))
	require.NoError(t, err)
	assert.NoError(t, srv.Shutdown(context.Background()))
}
