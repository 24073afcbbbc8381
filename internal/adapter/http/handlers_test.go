package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Strob0t/ClawDeck/internal/adapter/openresponses"
	clawotel "github.com/Strob0t/ClawDeck/internal/adapter/otel"
	"github.com/Strob0t/ClawDeck/internal/domain/instance"
	"github.com/Strob0t/ClawDeck/internal/port/broadcast"
	"github.com/Strob0t/ClawDeck/internal/port/sandbox"
	"github.com/Strob0t/ClawDeck/internal/resilience"
	"github.com/Strob0t/ClawDeck/internal/service"
)

type memStore struct {
	saved []instance.Instance
}

func (m *memStore) Load() ([]instance.Instance, error) { return nil, nil }
func (m *memStore) Save(instances []instance.Instance) error {
	m.saved = instances
	return nil
}

type nopBus struct{}

func (nopBus) Broadcast(context.Context, broadcast.Frame) {}

type stubStream struct{}

func (stubStream) Stream(_ context.Context, _ openresponses.Request, h openresponses.Handler) error {
	h(openresponses.Frame{
		Raw: "completed",
		Event: &openresponses.Event{
			Type: openresponses.EventCompleted,
			Response: &openresponses.Response{Output: []openresponses.OutputItem{{
				Type:    "message",
				Content: []openresponses.ContentPart{{Type: "output_text", Text: "done"}},
			}}},
		},
	})
	return nil
}

type stubProber struct {
	fail bool
}

func (p *stubProber) Probe(context.Context, string, string) error {
	if p.fail {
		return context.DeadlineExceeded
	}
	return nil
}

type stubProvisioner struct {
	killed []string
}

func (p *stubProvisioner) Create(_ context.Context, name, _, token string) (*sandbox.CreateResult, error) {
	return &sandbox.CreateResult{
		SandboxID:    "sb-" + name,
		Endpoint:     "http://127.0.0.1:40000",
		GatewayToken: token,
	}, nil
}

func (p *stubProvisioner) Kill(_ context.Context, id string) error {
	p.killed = append(p.killed, id)
	return nil
}

func newTestServer(t *testing.T) (*httptest.Server, *service.Registry) {
	t.Helper()

	registry, err := service.NewRegistry(&memStore{}, nopBus{})
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}
	metrics, err := clawotel.NewMetrics()
	if err != nil {
		t.Fatalf("NewMetrics failed: %v", err)
	}

	tasks := service.NewTasks()
	sessions := service.NewSessions()
	relay := service.NewRelay(stubStream{}, nopBus{}, tasks, metrics, time.Minute)
	dispatch := service.NewDispatch(registry, tasks, sessions, relay, nopBus{}, metrics)
	breakers := resilience.NewBreakerSet(5, time.Minute)
	sandboxes := service.NewSandboxes(&stubProvisioner{}, registry, sessions, breakers,
		func() (string, error) { return "gw-token", nil })
	health := service.NewHealth(registry, &stubProber{}, breakers, metrics, time.Minute, time.Second)

	r := chi.NewRouter()
	MountRoutes(r, NewHandlers(registry, tasks, sessions, dispatch, sandboxes, health))

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, registry
}

func doJSON(t *testing.T, method, url, body string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("NewRequest failed: %v", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var buf strings.Builder
	dec := json.NewDecoder(resp.Body)
	var raw json.RawMessage
	if err := dec.Decode(&raw); err == nil {
		buf.Write(raw)
	}
	return resp, []byte(buf.String())
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/health", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), `"ok"`) {
		t.Errorf("unexpected body %s", body)
	}
}

func TestInstanceCRUD(t *testing.T) {
	srv, _ := newTestServer(t)

	// Create
	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/v1/instances",
		`{"name":"alpha","endpoint":"ws://agent:18789","token":"secret"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", resp.StatusCode, body)
	}

	var created instance.Public
	if err := json.Unmarshal(body, &created); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if !created.HasToken {
		t.Error("expected hasToken true")
	}
	if strings.Contains(string(body), "secret") {
		t.Error("token must never appear in a response")
	}

	// Get
	resp, body = doJSON(t, http.MethodGet, srv.URL+"/api/v1/instances/"+created.ID, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if strings.Contains(string(body), "secret") {
		t.Error("token must never appear in a response")
	}

	// Update
	resp, body = doJSON(t, http.MethodPut, srv.URL+"/api/v1/instances/"+created.ID,
		`{"name":"beta"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var updated instance.Public
	_ = json.Unmarshal(body, &updated)
	if updated.Name != "beta" {
		t.Errorf("expected renamed instance, got %q", updated.Name)
	}

	// List
	resp, body = doJSON(t, http.MethodGet, srv.URL+"/api/v1/instances", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), `"stats"`) {
		t.Errorf("expected stats in listing, got %s", body)
	}

	// Delete
	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/api/v1/instances/"+created.ID, nil)
	delResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	_ = delResp.Body.Close()
	if delResp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", delResp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/api/v1/instances/"+created.ID, "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 after delete, got %d", resp.StatusCode)
	}
}

func TestCreateInstanceValidation(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/v1/instances", `{"name":""}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", resp.StatusCode, body)
	}

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/v1/instances", `not json`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 on malformed body, got %d", resp.StatusCode)
	}
}

func TestDispatchRejections(t *testing.T) {
	srv, registry := newTestServer(t)

	pub, err := registry.Create(context.Background(), instance.CreateRequest{
		Name: "alpha", Endpoint: "http://a",
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/v1/instances/"+pub.ID+"/dispatch",
		`{"content":""}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 on empty content, got %d: %s", resp.StatusCode, body)
	}

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/v1/instances/missing/dispatch",
		`{"content":"work"}`)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 for unknown instance, got %d", resp.StatusCode)
	}

	// Pin the busy state directly so the instant stub relay cannot race the
	// assertion.
	if err := registry.Claim(context.Background(), pub.ID, nil); err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	resp, body = doJSON(t, http.MethodPost, srv.URL+"/api/v1/instances/"+pub.ID+"/dispatch",
		`{"content":"work"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 while busy, got %d: %s", resp.StatusCode, body)
	}
	if !strings.Contains(string(body), "busy") {
		t.Errorf("expected busy message, got %s", body)
	}
}

func TestResetSession(t *testing.T) {
	srv, registry := newTestServer(t)
	pub, _ := registry.Create(context.Background(), instance.CreateRequest{
		Name: "alpha", Endpoint: "http://a",
	})

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/v1/instances/"+pub.ID+"/session/reset", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var out map[string]string
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if !strings.HasPrefix(out["sessionKey"], "manager-"+pub.ID+"-") {
		t.Errorf("unexpected session key %q", out["sessionKey"])
	}

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/v1/instances/missing/session/reset", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
}

func TestProbeInstance(t *testing.T) {
	srv, registry := newTestServer(t)
	pub, _ := registry.Create(context.Background(), instance.CreateRequest{
		Name: "alpha", Endpoint: "http://a",
	})

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/v1/instances/"+pub.ID+"/health", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), `"online"`) {
		t.Errorf("expected online verdict, got %s", body)
	}

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/v1/instances/missing/health", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
}

func TestLaunchSandbox(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/v1/sandboxes",
		`{"name":"boxed","apiKey":"sk-test"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", resp.StatusCode, body)
	}

	var pub instance.Public
	if err := json.Unmarshal(body, &pub); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if pub.SandboxID != "sb-boxed" {
		t.Errorf("expected sandbox id, got %q", pub.SandboxID)
	}
	if strings.Contains(string(body), "gw-token") {
		t.Error("gateway token must never appear in a response")
	}
}

func TestTaskEndpoints(t *testing.T) {
	srv, registry := newTestServer(t)
	pub, _ := registry.Create(context.Background(), instance.CreateRequest{
		Name: "alpha", Endpoint: "http://a",
	})

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/v1/instances/"+pub.ID+"/dispatch",
		`{"content":"work","taskId":"t1"}`)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/v1/tasks/t1", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), `"instanceId":"`+pub.ID+`"`) {
		t.Errorf("unexpected task body %s", body)
	}

	resp, body = doJSON(t, http.MethodGet, srv.URL+"/api/v1/instances/"+pub.ID+"/tasks", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), `"t1"`) {
		t.Errorf("expected task in instance history, got %s", body)
	}

	resp, body = doJSON(t, http.MethodGet, srv.URL+"/api/v1/tasks?instanceId="+pub.ID, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), `"t1"`) {
		t.Errorf("expected filtered listing, got %s", body)
	}

	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/api/v1/tasks/missing", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
}
