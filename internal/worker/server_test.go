package worker

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestWorker starts a worker server without a browser engine. The engine
// is only touched by tool handlers, which these tests never invoke.
func newTestWorker(t *testing.T) (*Server, string) {
	t.Helper()

	srv := NewServer("tenant-42", MCPConfig{
		Name:    "playwright-mcp-worker",
		Version: "0.1.0",
	}, nil, testLogger())

	port, err := srv.Start(0)
	if err != nil {
		t.Fatalf("Failed to start worker server: %v", err)
	}
	t.Cleanup(srv.Shutdown)

	return srv, fmt.Sprintf("http://127.0.0.1:%d", port)
}

func TestServer_Health(t *testing.T) {
	_, baseURL := newTestWorker(t)

	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		t.Fatalf("Health request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}

	var health struct {
		Status     string `json:"status"`
		InstanceID string `json:"instance_id"`
		BootID     string `json:"boot_id"`
		Sessions   int    `json:"sessions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatalf("Failed to decode health: %v", err)
	}

	if health.Status != "ok" {
		t.Errorf("Expected status ok, got %q", health.Status)
	}
	if health.InstanceID != "tenant-42" {
		t.Errorf("Expected instance tenant-42, got %q", health.InstanceID)
	}
	if health.BootID == "" {
		t.Error("Expected a boot id")
	}
	if health.Sessions != 0 {
		t.Errorf("Expected 0 sessions, got %d", health.Sessions)
	}
}

func TestServer_RejectsGetAndDeleteMCP(t *testing.T) {
	_, baseURL := newTestWorker(t)

	for _, method := range []string{http.MethodGet, http.MethodDelete} {
		req, _ := http.NewRequest(method, baseURL+"/mcp", nil)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("%s /mcp failed: %v", method, err)
		}

		if resp.StatusCode != http.StatusMethodNotAllowed {
			t.Errorf("%s /mcp: expected 405, got %d", method, resp.StatusCode)
		}

		var env struct {
			JSONRPC string `json:"jsonrpc"`
			Error   struct {
				Code int `json:"code"`
			} `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
			t.Fatalf("Failed to decode envelope: %v", err)
		}
		resp.Body.Close()

		if env.JSONRPC != "2.0" {
			t.Errorf("%s /mcp: expected jsonrpc 2.0, got %q", method, env.JSONRPC)
		}
		if env.Error.Code != -32000 {
			t.Errorf("%s /mcp: expected code -32000, got %d", method, env.Error.Code)
		}
	}
}

func TestServer_UnknownSessionReturns404(t *testing.T) {
	_, baseURL := newTestWorker(t)

	resp, err := http.Post(baseURL+"/messages?sessionId=no-such-session", "application/json", strings.NewReader("{}"))
	if err != nil {
		t.Fatalf("Messages request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown session, got %d", resp.StatusCode)
	}

	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode body: %v", err)
	}
	if body["error"] == "" {
		t.Error("Expected an error message in the body")
	}
}

func TestServer_MissingSessionIDReturns404(t *testing.T) {
	_, baseURL := newTestWorker(t)

	resp, err := http.Post(baseURL+"/messages", "application/json", strings.NewReader("{}"))
	if err != nil {
		t.Fatalf("Messages request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404 without session id, got %d", resp.StatusCode)
	}
}

func TestServer_SSESessionLifecycle(t *testing.T) {
	srv, baseURL := newTestWorker(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/sse", nil)
	if err != nil {
		t.Fatalf("Failed to build SSE request: %v", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("SSE request failed: %v", err)
	}
	defer resp.Body.Close()

	// The endpoint event arrives once the session is registered.
	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("Failed to read SSE stream: %v", err)
	}
	if !strings.HasPrefix(line, "event:") {
		t.Errorf("Expected an SSE event line, got %q", line)
	}

	waitForSessions(t, srv, 1)

	// Client disconnect tears the session down.
	cancel()
	waitForSessions(t, srv, 0)
}

func TestServer_SSEEndpointEventIsRelative(t *testing.T) {
	_, baseURL := newTestWorker(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/sse", nil)
	if err != nil {
		t.Fatalf("Failed to build SSE request: %v", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("SSE request failed: %v", err)
	}
	defer resp.Body.Close()

	// The first event names the message endpoint. Clients resolve it against
	// the public origin they connected through, so it must be a relative
	// path: an absolute URL would point at this worker's loopback port and
	// route messages around the proxy.
	reader := bufio.NewReader(resp.Body)
	var endpoint string
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("Failed to read SSE stream: %v", err)
		}
		if strings.HasPrefix(line, "data:") {
			endpoint = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			break
		}
	}

	if !strings.HasPrefix(endpoint, "/messages?sessionId=") {
		t.Errorf("Expected relative /messages endpoint, got %q", endpoint)
	}
	if strings.Contains(endpoint, "://") || strings.Contains(endpoint, "127.0.0.1") {
		t.Errorf("Endpoint event leaks a host: %q", endpoint)
	}
}

func waitForSessions(t *testing.T, srv *Server, want int) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if srv.SessionCount() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Session count did not reach %d (have %d)", want, srv.SessionCount())
}

func TestServer_ToolsListOverStreamableHTTP(t *testing.T) {
	_, baseURL := newTestWorker(t)

	body := `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`
	req, _ := http.NewRequest(http.MethodPost, baseURL+"/mcp", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("tools/list request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read response: %v", err)
	}
	payload := string(raw)

	// The stateless transport may answer as plain JSON or a single SSE data
	// frame; extract the JSON either way.
	if strings.Contains(resp.Header.Get("Content-Type"), "text/event-stream") {
		for _, line := range strings.Split(payload, "\n") {
			if strings.HasPrefix(line, "data:") {
				payload = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
				break
			}
		}
	}

	var result struct {
		JSONRPC string `json:"jsonrpc"`
		ID      int    `json:"id"`
		Result  struct {
			Tools []struct {
				Name string `json:"name"`
			} `json:"tools"`
		} `json:"result"`
	}
	if err := json.Unmarshal([]byte(payload), &result); err != nil {
		t.Fatalf("Failed to decode tools/list result %q: %v", payload, err)
	}

	if result.ID != 1 {
		t.Errorf("Expected request id 1 echoed back, got %d", result.ID)
	}

	names := make(map[string]bool)
	for _, tool := range result.Result.Tools {
		names[tool.Name] = true
	}
	for _, want := range []string{toolNavigate, toolClick, toolFill, toolScreenshot} {
		if !names[want] {
			t.Errorf("Expected tool %q in tools/list", want)
		}
	}
}
