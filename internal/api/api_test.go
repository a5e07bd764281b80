package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bcnelson/stack-executor/internal/actionstate"
	"github.com/bcnelson/stack-executor/internal/api"
	"github.com/bcnelson/stack-executor/internal/credentials"
	"github.com/bcnelson/stack-executor/internal/domain"
	"github.com/bcnelson/stack-executor/internal/monitor"
	"github.com/bcnelson/stack-executor/internal/periphery/peripherytest"
	"github.com/bcnelson/stack-executor/internal/resource"
	"github.com/bcnelson/stack-executor/internal/secrets"
	"github.com/bcnelson/stack-executor/internal/service"
	"github.com/bcnelson/stack-executor/internal/storage/memory"
	"github.com/bcnelson/stack-executor/internal/update"
)

const composeFile = "services:\n  web:\n    image: nginx:1\n"

// testServer creates a test server with in-memory storage and a fake agent
type testServer struct {
	handler      http.Handler
	store        *memory.Store
	registry     *actionstate.Registry
	agent        *peripherytest.Client
	bootstrapKey string
}

func newTestServer() *testServer {
	store := memory.New()
	bootstrapKey := "test-bootstrap-key"

	agent := &peripherytest.Client{}
	clients := &peripherytest.Factory{Client: agent}
	registry := actionstate.NewRegistry()
	resolver := resource.NewResolver(store)
	executor := service.NewStackExecutor(service.Deps{
		Store:       store,
		Resolver:    resolver,
		Registry:    registry,
		Updates:     update.NewManager(store, nil, nil),
		Clients:     clients,
		Credentials: credentials.NewProvider(nil, nil),
		Secrets:     secrets.NewSource(store, nil, nil, ""),
		Monitor:     monitor.NewCache(clients),
		Parallelism: 2,
	})

	handler := api.NewRouter(store, resolver, executor, bootstrapKey, nil)

	return &testServer{
		handler:      handler,
		store:        store,
		registry:     registry,
		agent:        agent,
		bootstrapKey: bootstrapKey,
	}
}

func (ts *testServer) request(method, path string, body any, apiKey string) *httptest.ResponseRecorder {
	var reqBody io.Reader
	if body != nil {
		jsonBytes, _ := json.Marshal(body)
		reqBody = bytes.NewReader(jsonBytes)
	}

	req := httptest.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	rr := httptest.NewRecorder()
	ts.handler.ServeHTTP(rr, req)
	return rr
}

// seedStack registers a server and an inline stack through the API.
func (ts *testServer) seedStack(t *testing.T, name string) domain.Stack {
	t.Helper()

	rr := ts.request("POST", "/api/v1/servers", domain.CreateServerRequest{
		Name: "edge-" + name, Address: "http://agent.invalid", Enabled: true,
	}, ts.bootstrapKey)
	if rr.Code != http.StatusCreated {
		t.Fatalf("Expected status 201 creating server, got %d: %s", rr.Code, rr.Body.String())
	}
	var server domain.Server
	_ = json.Unmarshal(rr.Body.Bytes(), &server)

	rr = ts.request("POST", "/api/v1/stacks", domain.CreateStackRequest{
		Name:   name,
		Config: domain.StackConfig{ServerID: server.ID, FileContents: composeFile},
	}, ts.bootstrapKey)
	if rr.Code != http.StatusCreated {
		t.Fatalf("Expected status 201 creating stack, got %d: %s", rr.Code, rr.Body.String())
	}
	var stack domain.Stack
	_ = json.Unmarshal(rr.Body.Bytes(), &stack)
	return stack
}

func execute(typ string, params any) domain.ExecuteRequest {
	raw, _ := json.Marshal(params)
	return domain.ExecuteRequest{Type: typ, Params: raw}
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer()

	rr := ts.request("GET", "/health", nil, "")

	if rr.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rr.Code)
	}

	var resp map[string]string
	_ = json.Unmarshal(rr.Body.Bytes(), &resp)
	if resp["status"] != "ok" {
		t.Errorf("Expected status ok, got %s", resp["status"])
	}
}

func TestAuthRequired(t *testing.T) {
	ts := newTestServer()

	// Request without auth header
	rr := ts.request("GET", "/api/v1/stacks", nil, "")
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401, got %d", rr.Code)
	}

	// Request with invalid auth header format
	req := httptest.NewRequest("GET", "/api/v1/stacks", nil)
	req.Header.Set("Authorization", "Basic invalid")
	rr = httptest.NewRecorder()
	ts.handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401, got %d", rr.Code)
	}

	// Request with an unknown API key
	rr = ts.request("GET", "/api/v1/stacks", nil, "invalid-key")
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401, got %d", rr.Code)
	}
}

func TestBootstrapKeyAuth(t *testing.T) {
	ts := newTestServer()

	// Bootstrap key should work when no API keys exist
	rr := ts.request("GET", "/api/v1/stacks", nil, ts.bootstrapKey)
	if rr.Code != http.StatusOK {
		t.Errorf("Expected status 200 with bootstrap key, got %d", rr.Code)
	}
}

func TestAPIKeyLifecycle(t *testing.T) {
	ts := newTestServer()

	// Create API key using bootstrap key
	createReq := domain.CreateAPIKeyRequest{Name: "Test Key"}
	rr := ts.request("POST", "/api/v1/keys", createReq, ts.bootstrapKey)
	if rr.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}

	var createResp domain.CreateAPIKeyResponse
	_ = json.Unmarshal(rr.Body.Bytes(), &createResp)
	if createResp.Key == "" {
		t.Error("Expected key to be returned on creation")
	}

	// The bootstrap key stops working once a real key exists
	rr = ts.request("GET", "/api/v1/stacks", nil, ts.bootstrapKey)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401 for bootstrap key, got %d", rr.Code)
	}

	// Use the new API key
	rr = ts.request("GET", "/api/v1/keys", nil, createResp.Key)
	if rr.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rr.Code)
	}

	var keys []*domain.APIKey
	_ = json.Unmarshal(rr.Body.Bytes(), &keys)
	if len(keys) != 1 {
		t.Errorf("Expected 1 key, got %d", len(keys))
	}

	// Delete API key
	rr = ts.request("DELETE", "/api/v1/keys/"+createResp.ID, nil, createResp.Key)
	if rr.Code != http.StatusNoContent {
		t.Errorf("Expected status 204, got %d", rr.Code)
	}
}

func TestStackGetAndETag(t *testing.T) {
	ts := newTestServer()
	stack := ts.seedStack(t, "web")

	// By id and by name (note trailing slash for the subrouter)
	for _, ref := range []string{stack.ID, "web"} {
		rr := ts.request("GET", "/api/v1/stacks/"+ref+"/", nil, ts.bootstrapKey)
		if rr.Code != http.StatusOK {
			t.Fatalf("Expected status 200 for %s, got %d", ref, rr.Code)
		}
	}

	rr := ts.request("GET", "/api/v1/stacks/"+stack.ID+"/", nil, ts.bootstrapKey)
	etag := rr.Header().Get("ETag")
	if etag == "" {
		t.Fatal("Expected ETag header")
	}

	req := httptest.NewRequest("GET", "/api/v1/stacks/"+stack.ID+"/", nil)
	req.Header.Set("Authorization", "Bearer "+ts.bootstrapKey)
	req.Header.Set("If-None-Match", etag)
	cached := httptest.NewRecorder()
	ts.handler.ServeHTTP(cached, req)
	if cached.Code != http.StatusNotModified {
		t.Errorf("Expected status 304, got %d", cached.Code)
	}

	rr = ts.request("GET", "/api/v1/stacks/missing/", nil, ts.bootstrapKey)
	if rr.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", rr.Code)
	}
}

func TestExecuteDeploy(t *testing.T) {
	ts := newTestServer()
	stack := ts.seedStack(t, "web")

	rr := ts.request("POST", "/api/v1/execute", execute("DeployStack", domain.DeployStack{Stack: "web"}), ts.bootstrapKey)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var u domain.Update
	_ = json.Unmarshal(rr.Body.Bytes(), &u)
	if u.Status != domain.UpdateStatusComplete || !u.Success {
		t.Errorf("Expected successful complete update, got %s success=%v", u.Status, u.Success)
	}
	if u.Target.ID != stack.ID {
		t.Errorf("Expected target %s, got %s", stack.ID, u.Target.ID)
	}

	rr = ts.request("GET", "/api/v1/updates/"+u.ID, nil, ts.bootstrapKey)
	if rr.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rr.Code)
	}
	if rr.Header().Get("ETag") == "" {
		t.Error("Expected ETag on a finalized update")
	}

	rr = ts.request("GET", "/api/v1/updates?target_id="+stack.ID, nil, ts.bootstrapKey)
	var updates []*domain.Update
	_ = json.Unmarshal(rr.Body.Bytes(), &updates)
	if len(updates) != 1 {
		t.Errorf("Expected 1 update, got %d", len(updates))
	}

	rr = ts.request("GET", "/api/v1/stacks/"+stack.ID+"/", nil, ts.bootstrapKey)
	var deployed domain.Stack
	_ = json.Unmarshal(rr.Body.Bytes(), &deployed)
	if deployed.Info.DeployedContents == nil {
		t.Error("Expected deployed contents to be recorded")
	}
}

func TestExecuteErrors(t *testing.T) {
	ts := newTestServer()
	stack := ts.seedStack(t, "web")

	tests := []struct {
		name   string
		body   any
		status int
	}{
		{"unknown type", execute("LaunchRocket", domain.DeployStack{Stack: "web"}), http.StatusBadRequest},
		{"missing params", domain.ExecuteRequest{Type: "StartStack"}, http.StatusBadRequest},
		{"unknown field", execute("StartStack", map[string]any{"stack": "web", "force": true}), http.StatusBadRequest},
		{"unknown stack", execute("StartStack", domain.StartStack{Stack: "nope"}), http.StatusNotFound},
		{"empty pattern", execute("BatchStartStack", domain.BatchRequest{}), http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := ts.request("POST", "/api/v1/execute", tt.body, ts.bootstrapKey)
			if rr.Code != tt.status {
				t.Errorf("Expected status %d, got %d: %s", tt.status, rr.Code, rr.Body.String())
			}
		})
	}

	// Busy
	guard, err := ts.registry.Acquire(stack.ID, func(s *actionstate.StackActionState) { s.Deploying = true })
	if err != nil {
		t.Fatal(err)
	}
	rr := ts.request("POST", "/api/v1/execute", execute("StopStack", domain.StopStack{Stack: "web"}), ts.bootstrapKey)
	if rr.Code != http.StatusConflict {
		t.Errorf("Expected status 409, got %d", rr.Code)
	}
	guard.Release()

	// Agent failure still yields a recorded update
	ts.agent.Err = errors.New("docker daemon not running")
	rr = ts.request("POST", "/api/v1/execute", execute("RestartStack", domain.RestartStack{Stack: "web"}), ts.bootstrapKey)
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("Expected status 502, got %d", rr.Code)
	}
	var apiErr domain.APIError
	_ = json.Unmarshal(rr.Body.Bytes(), &apiErr)
	if apiErr.UpdateID == "" {
		t.Fatal("Expected the failed update id")
	}
	stored, err := ts.store.GetUpdate(context.Background(), apiErr.UpdateID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Success || stored.Status != domain.UpdateStatusComplete {
		t.Errorf("Expected failed complete update, got %s success=%v", stored.Status, stored.Success)
	}
}

func TestExecuteSurvivesClientDisconnect(t *testing.T) {
	ts := newTestServer()
	ts.seedStack(t, "web")

	ts.agent.Block = make(chan struct{})
	ts.agent.Started = make(chan struct{}, 1)

	body, _ := json.Marshal(execute("DeployStack", domain.DeployStack{Stack: "web"}))
	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest("POST", "/api/v1/execute", bytes.NewReader(body)).WithContext(ctx)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+ts.bootstrapKey)

	rr := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		ts.handler.ServeHTTP(rr, req)
		close(done)
	}()

	<-ts.agent.Started
	cancel()
	close(ts.agent.Block)
	<-done

	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var u domain.Update
	_ = json.Unmarshal(rr.Body.Bytes(), &u)
	if !u.Success || u.Status != domain.UpdateStatusComplete {
		t.Errorf("Expected successful complete update, got %s success=%v", u.Status, u.Success)
	}
}

func TestExecuteBatch(t *testing.T) {
	ts := newTestServer()
	first := ts.seedStack(t, "web-a")
	busy := ts.seedStack(t, "web-b")
	ts.seedStack(t, "db")

	guard, err := ts.registry.Acquire(busy.ID, func(s *actionstate.StackActionState) { s.Pulling = true })
	if err != nil {
		t.Fatal(err)
	}
	defer guard.Release()

	rr := ts.request("POST", "/api/v1/execute", execute("BatchRestartStack", domain.BatchRequest{Pattern: "web-*"}), ts.bootstrapKey)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp domain.BatchExecutionResponse
	_ = json.Unmarshal(rr.Body.Bytes(), &resp)
	if len(resp) != 2 {
		t.Fatalf("Expected 2 results, got %d", len(resp))
	}
	if !resp[0].Success || resp[0].Resource != first.ID || resp[0].Name != "web-a" {
		t.Errorf("Expected web-a to succeed, got %+v", resp[0])
	}
	if resp[1].Success || resp[1].Resource != busy.ID || resp[1].Name != "web-b" {
		t.Errorf("Expected web-b to fail, got %+v", resp[1])
	}
}

func TestPermissions(t *testing.T) {
	ts := newTestServer()
	stack := ts.seedStack(t, "web")

	rr := ts.request("POST", "/api/v1/users", domain.CreateUserRequest{Username: "alice"}, ts.bootstrapKey)
	if rr.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var alice domain.User
	_ = json.Unmarshal(rr.Body.Bytes(), &alice)

	rr = ts.request("POST", "/api/v1/keys", domain.CreateAPIKeyRequest{Name: "admin"}, ts.bootstrapKey)
	var adminKey domain.CreateAPIKeyResponse
	_ = json.Unmarshal(rr.Body.Bytes(), &adminKey)

	rr = ts.request("POST", "/api/v1/keys", domain.CreateAPIKeyRequest{Name: "alice", UserID: alice.ID}, adminKey.Key)
	if rr.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var aliceKey domain.CreateAPIKeyResponse
	_ = json.Unmarshal(rr.Body.Bytes(), &aliceKey)

	// No grants: nothing visible, nothing executable, no admin endpoints
	rr = ts.request("GET", "/api/v1/stacks", nil, aliceKey.Key)
	var stacks []*domain.Stack
	_ = json.Unmarshal(rr.Body.Bytes(), &stacks)
	if len(stacks) != 0 {
		t.Errorf("Expected 0 visible stacks, got %d", len(stacks))
	}
	rr = ts.request("GET", "/api/v1/keys", nil, aliceKey.Key)
	if rr.Code != http.StatusForbidden {
		t.Errorf("Expected status 403, got %d", rr.Code)
	}
	rr = ts.request("POST", "/api/v1/execute", execute("StartStack", domain.StartStack{Stack: "web"}), aliceKey.Key)
	if rr.Code != http.StatusForbidden {
		t.Errorf("Expected status 403, got %d", rr.Code)
	}

	// Grant execute
	rr = ts.request("PUT", "/api/v1/permissions", domain.Permission{
		UserID: alice.ID, ResourceType: domain.ResourceStack, ResourceID: stack.ID, Level: domain.PermissionExecute,
	}, adminKey.Key)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	rr = ts.request("POST", "/api/v1/execute", execute("StartStack", domain.StartStack{Stack: "web"}), aliceKey.Key)
	if rr.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	rr = ts.request("GET", "/api/v1/stacks/web/action-state", nil, aliceKey.Key)
	if rr.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rr.Code)
	}
	var state actionstate.StackActionState
	_ = json.Unmarshal(rr.Body.Bytes(), &state)
	if state.Busy() {
		t.Errorf("Expected idle stack, got %+v", state)
	}
}

func TestRefreshStack(t *testing.T) {
	ts := newTestServer()
	stack := ts.seedStack(t, "web")

	rr := ts.request("POST", "/api/v1/stacks/"+stack.ID+"/refresh", nil, ts.bootstrapKey)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var refreshed domain.Stack
	_ = json.Unmarshal(rr.Body.Bytes(), &refreshed)
	if len(refreshed.Info.RemoteContents) != 1 || refreshed.Info.RemoteContents[0].Contents != composeFile {
		t.Errorf("Expected inline contents as remote contents, got %+v", refreshed.Info.RemoteContents)
	}
	if len(refreshed.Info.LatestServices) != 1 {
		t.Errorf("Expected 1 latest service, got %d", len(refreshed.Info.LatestServices))
	}
}

func TestVariablesHideSecrets(t *testing.T) {
	ts := newTestServer()

	rr := ts.request("PUT", "/api/v1/variables/DB_PASS", domain.Variable{Value: "hunter2", IsSecret: true}, ts.bootstrapKey)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	ts.request("PUT", "/api/v1/variables/REGION", domain.Variable{Value: "eu-west"}, ts.bootstrapKey)

	rr = ts.request("GET", "/api/v1/variables", nil, ts.bootstrapKey)
	if bytes.Contains(rr.Body.Bytes(), []byte("hunter2")) {
		t.Error("Secret value leaked in variable listing")
	}
	if !bytes.Contains(rr.Body.Bytes(), []byte("eu-west")) {
		t.Error("Expected plain variable value in listing")
	}
}
