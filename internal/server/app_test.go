package server

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/studio-gateway/internal/config"
	"github.com/JakeFAU/studio-gateway/internal/events"
	eventsinks "github.com/JakeFAU/studio-gateway/internal/events/sinks"
	"github.com/JakeFAU/studio-gateway/internal/publisher/memory"
	"github.com/JakeFAU/studio-gateway/internal/studio"
)

func TestApp_ServesStudioLifecycle(t *testing.T) {
	backend := httptest.NewServer(fakeLightning(nil))
	t.Cleanup(backend.Close)

	cfg := testConfig(backend.URL)
	reg := prometheus.NewRegistry()
	app, err := build(context.Background(), &cfg, zap.NewNop(), reg)
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Serve(ctx, ln) }()

	base := "http://" + ln.Addr().String()

	req, err := http.NewRequest(http.MethodPost, base+"/studios?name=demo&teamspace=research&user=alice", nil)
	require.NoError(t, err)
	req.Header.Set(studio.HeaderUserID, "user-1")
	req.Header.Set(studio.HeaderAPIKey, "key-1")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	var got studio.Studio
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	require.NoError(t, resp.Body.Close())
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "cs-demo", got.ID)
	require.Equal(t, "https://lightning.example/alice/research/studios/demo", got.URL)

	req, err = http.NewRequest(http.MethodDelete, base+"/studios/cs-demo", nil)
	require.NoError(t, err)
	req.Header.Set(studio.HeaderUserID, "user-1")
	req.Header.Set(studio.HeaderAPIKey, "key-1")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Empty(t, body)

	req, err = http.NewRequest(http.MethodDelete, base+"/studios/missing", nil)
	require.NoError(t, err)
	req.Header.Set(studio.HeaderUserID, "user-1")
	req.Header.Set(studio.HeaderAPIKey, "key-1")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	body, err = io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	require.JSONEq(t, `{"detail":"cloudspace missing not found"}`, string(body))

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("app did not shut down")
	}

	// Close flushed the hub, so the lifecycle metrics are final.
	expected := `
# HELP studio_operations_completed_total Studio operations finished, partitioned by op and result.
# TYPE studio_operations_completed_total counter
studio_operations_completed_total{op="start",result="success"} 1
studio_operations_completed_total{op="stop",result="error"} 1
studio_operations_completed_total{op="stop",result="success"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "studio_operations_completed_total"))
}

func TestSetupEvents_Disabled(t *testing.T) {
	t.Parallel()

	cfg := config.Config{}
	app := &App{cfg: &cfg, logger: zap.NewNop()}
	emitter, err := setupEvents(context.Background(), app, nil, prometheus.NewRegistry())
	require.NoError(t, err)
	require.NotNil(t, emitter)
	require.Nil(t, app.eventHub)
}

func TestApp_ShutdownDrainsInFlightStart(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	backend := httptest.NewServer(fakeLightning(func() {
		once.Do(func() { close(entered) })
		<-release
	}))
	t.Cleanup(backend.Close)

	cfg := testConfig(backend.URL)
	app, err := build(context.Background(), &cfg, zap.NewNop(), prometheus.NewRegistry())
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Serve(ctx, ln) }()

	type result struct {
		code int
		body string
		err  error
	}
	results := make(chan result, 1)
	go func() {
		req, err := http.NewRequest(http.MethodPost,
			"http://"+ln.Addr().String()+"/studios?name=demo&teamspace=research&user=alice", nil)
		if err != nil {
			results <- result{err: err}
			return
		}
		req.Header.Set(studio.HeaderUserID, "user-1")
		req.Header.Set(studio.HeaderAPIKey, "key-1")
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			results <- result{err: err}
			return
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		results <- result{code: resp.StatusCode, body: string(body), err: err}
	}()

	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("start never reached the backend")
	}
	cancel()
	time.Sleep(200 * time.Millisecond)
	close(release)

	select {
	case res := <-results:
		require.NoError(t, res.err)
		require.Equal(t, http.StatusOK, res.code, res.body)
		require.Contains(t, res.body, `"id":"cs-demo"`)
	case <-time.After(5 * time.Second):
		t.Fatal("in-flight start did not complete")
	}
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("app did not shut down")
	}
}

func TestSetupPublisher_DisabledWithoutTopic(t *testing.T) {
	t.Parallel()

	cfg := config.Config{}
	app := &App{cfg: &cfg, logger: zap.NewNop()}
	publisher, err := setupPublisher(context.Background(), app)
	require.NoError(t, err)
	require.Nil(t, publisher)
	require.Nil(t, app.pubsubClient)
}

func TestSetupEvents_PublishesTerminalStagesOnly(t *testing.T) {
	t.Parallel()

	cfg := testConfig("http://127.0.0.1")
	cfg.PubSub = config.PubSubConfig{ProjectID: "proj", TopicName: "studio-events"}
	cfg.Events.PublishTerminalOnly = true
	app := &App{cfg: &cfg, logger: zap.NewNop()}
	pub := memory.New()

	emitter, err := setupEvents(context.Background(), app, pub, prometheus.NewRegistry())
	require.NoError(t, err)
	now := time.Now()
	emitter.Emit(events.Event{OperationID: "op-1", TS: now, Stage: events.StageStopRequested, StudioID: "cs-1"})
	emitter.Emit(events.Event{OperationID: "op-1", TS: now, Stage: events.StageStopped, StudioID: "cs-1"})
	require.NoError(t, app.eventHub.Close(context.Background()))

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "studio-events", msgs[0].Topic)
	require.Equal(t, "STOPPED", msgs[0].Payload.(eventsinks.Message).Stage)
}

func TestSetupEvents_SkipsPublisherWhenNil(t *testing.T) {
	t.Parallel()

	cfg := testConfig("http://127.0.0.1")
	app := &App{cfg: &cfg, logger: zap.NewNop()}
	emitter, err := setupEvents(context.Background(), app, nil, prometheus.NewRegistry())
	require.NoError(t, err)
	emitter.Emit(events.Event{OperationID: "op-1", TS: time.Now(), Stage: events.StageStopped, StudioID: "cs-1"})
	require.NoError(t, app.eventHub.Close(context.Background()))
}

func testConfig(backendURL string) config.Config {
	return config.Config{
		Server: config.ServerConfig{Host: "127.0.0.1", Port: 8008, ShutdownTimeoutSeconds: 5},
		Lightning: config.LightningConfig{
			BaseURL:        backendURL,
			WebURL:         "https://lightning.example",
			TimeoutSeconds: 5,
			Machine:        "CPU",
		},
		Events: config.EventsConfig{
			Enabled:    true,
			LogEnabled: true,
			BufferSize: 16,
			Batch:      config.EventsBatchConfig{MaxEvents: 4, MaxWaitMs: 10},
		},
		Telemetry: config.TelemetryConfig{ServiceName: "studio-gateway-test"},
	}
}

// fakeLightning answers the handful of backend calls one start and one stop
// make. A non-nil holdStart runs before the start call is answered.
func fakeLightning(holdStart func()) http.Handler {
	writeJSON := func(w http.ResponseWriter, v any) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(v)
	}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/auth/login", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]string{"token": "tok"})
	})
	mux.HandleFunc("GET /v1/memberships", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{"memberships": []map[string]string{
			{"projectId": "proj-1", "name": "research", "ownerName": "alice"},
		}})
	})
	mux.HandleFunc("GET /v1/projects/{pid}/cloudspaces", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{"cloudspaces": []any{}})
	})
	mux.HandleFunc("POST /v1/projects/{pid}/cloudspaces", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]string{"id": "cs-demo", "projectId": "proj-1", "name": "demo"})
	})
	mux.HandleFunc("POST /v1/projects/{pid}/cloudspaces/{id}/start", func(w http.ResponseWriter, _ *http.Request) {
		if holdStart != nil {
			holdStart()
		}
		writeJSON(w, map[string]string{})
	})
	mux.HandleFunc("GET /v1/cloudspaces/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != "cs-demo" {
			w.WriteHeader(http.StatusNotFound)
			writeJSON(w, map[string]string{"message": "cloudspace " + r.PathValue("id") + " not found"})
			return
		}
		writeJSON(w, map[string]string{"id": "cs-demo", "projectId": "proj-1", "name": "demo"})
	})
	mux.HandleFunc("POST /v1/projects/{pid}/cloudspaces/{id}/stop", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]string{})
	})
	return mux
}
