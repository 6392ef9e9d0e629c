package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/kalambet/oracle/internal/content"
	"github.com/kalambet/oracle/internal/pipeline"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   string
	Auth   string
}

type testServer struct {
	server   *httptest.Server
	requests []recordedRequest
}

func newTestServer(t *testing.T, responses map[string]string) *testServer {
	t.Helper()
	ts := &testServer{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		body.ReadFrom(r.Body)

		ts.requests = append(ts.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.RequestURI(),
			Body:   body.String(),
			Auth:   r.Header.Get("Authorization"),
		})

		key := r.Method + " " + r.URL.Path
		if resp, ok := responses[key]; ok {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(resp))
			return
		}

		w.WriteHeader(404)
		w.Write([]byte(`{"error":{"message":"no state stored for user","type":"not_found"}}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client() *apiClient {
	return &apiClient{
		baseURL:    ts.server.URL,
		token:      "test-token",
		httpClient: ts.server.Client(),
	}
}

func (ts *testServer) lastBody(t *testing.T) map[string]any {
	t.Helper()
	if len(ts.requests) == 0 {
		t.Fatal("no requests recorded")
	}
	var body map[string]any
	if err := json.Unmarshal([]byte(ts.requests[len(ts.requests)-1].Body), &body); err != nil {
		t.Fatalf("body parse error: %v", err)
	}
	return body
}

// resetFlags restores every flag of every command to its default so that
// tests sharing rootCmd do not leak flag values into each other.
func resetFlags(cmd *cobra.Command) {
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		f.Value.Set(f.DefValue)
		f.Changed = false
	})
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

// execute runs rootCmd against ts and returns stdout.
func execute(t *testing.T, ts *testServer, args ...string) (string, error) {
	t.Helper()
	oldClient := newAPIClient
	oldNoColor := color.NoColor
	t.Cleanup(func() {
		newAPIClient = oldClient
		color.NoColor = oldNoColor
		rootCmd.SetArgs(nil)
		rootCmd.SetOut(nil)
		resetFlags(rootCmd)
	})
	resetFlags(rootCmd)
	color.NoColor = true
	if ts != nil {
		newAPIClient = func() (*apiClient, error) { return ts.client(), nil }
	} else {
		newAPIClient = func() (*apiClient, error) { return nil, errors.New("no server in this test") }
	}

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestClient_SendsBearerToken(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /v1/query": `{"runId":"r1","state":"Completed"}`,
	})

	var out pipeline.Response
	if err := ts.client().postJSON(context.Background(), "/v1/query", map[string]string{"userId": "u1"}, &out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.RunID != "r1" {
		t.Errorf("RunID = %q, want r1", out.RunID)
	}

	r := ts.requests[0]
	if r.Method != http.MethodPost || r.Path != "/v1/query" {
		t.Errorf("request = %s %s, want POST /v1/query", r.Method, r.Path)
	}
	if r.Auth != "Bearer test-token" {
		t.Errorf("auth = %q, want Bearer test-token", r.Auth)
	}
}

func TestDecodeJSON_ErrorMessage(t *testing.T) {
	ts := newTestServer(t, nil)

	err := ts.client().getJSON(context.Background(), "/v1/users/u1/state", &struct{}{})
	if err == nil {
		t.Fatal("expected error for 404")
	}
	if !strings.Contains(err.Error(), "404") || !strings.Contains(err.Error(), "no state stored") {
		t.Errorf("error = %q, want status and message", err)
	}
}

func TestClient_ServerDown(t *testing.T) {
	ts := newTestServer(t, nil)
	c := ts.client()
	ts.server.Close()

	err := c.getJSON(context.Background(), "/health", &struct{}{})
	if err == nil || !strings.Contains(err.Error(), "oracle serve") {
		t.Errorf("err = %v, want a hint to start the server", err)
	}
}

func TestAskCommand(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /v1/query": `{
			"runId":"run-1234","state":"Completed","responseText":"Walk gently with the Healer.",
			"withheldTraditions":["native_american"],"integrationOpportunities":["Journal the dialogue"],
			"contentVersion":"2024.1","sovereigntyDecisions":[]
		}`,
	})

	out, err := execute(t, ts, "ask", "--user", "ana", "--type", "wisdom_synthesis",
		"--profile", `{"culturalBackground":"celtic"}`, "I", "want", "healing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	body := ts.lastBody(t)
	if body["userInput"] != "I want healing" {
		t.Errorf("userInput = %v", body["userInput"])
	}
	if body["userId"] != "ana" || body["queryType"] != "wisdom_synthesis" {
		t.Errorf("body = %v", body)
	}
	hint, _ := body["userProfile"].(map[string]any)
	if hint["culturalBackground"] != "celtic" {
		t.Errorf("userProfile = %v", body["userProfile"])
	}
	if _, ok := body["consent"]; ok {
		t.Error("consent sent without --no-consent")
	}

	for _, want := range []string{"Walk gently with the Healer.", "Journal the dialogue", "native_american", "run-1234"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestAskCommand_NoConsentAndJSON(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /v1/query": `{"runId":"r1","state":"Completed","responseText":"guidance"}`,
	})

	out, err := execute(t, ts, "ask", "--user", "ana", "--no-consent", "--json", "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if body := ts.lastBody(t); body["consent"] != false {
		t.Errorf("consent = %v, want false", body["consent"])
	}
	var resp pipeline.Response
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if resp.ResponseText != "guidance" {
		t.Errorf("ResponseText = %q", resp.ResponseText)
	}
}

func TestAskCommand_Validation(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"missing user", []string{"ask", "hello"}, "--user is required"},
		{"bad profile", []string{"ask", "--user", "ana", "--profile", "{nope", "hello"}, "JSON"},
		{"no text", []string{"ask", "--user", "ana"}, "arg"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, nil, tt.args...)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want it to mention %q", err, tt.want)
			}
		})
	}
}

func TestStateShow(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /v1/users/ana/state": `{"userId":"ana","profile":{"primaryCulture":"celtic"},"shadow":{"sessions":2}}`,
	})

	out, err := execute(t, ts, "state", "show", "ana")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, `"primaryCulture": "celtic"`) {
		t.Errorf("output missing profile:\n%s", out)
	}
	if !strings.Contains(out, `"sessions": 2`) {
		t.Errorf("output missing shadow sessions:\n%s", out)
	}
}

func TestStateShow_NotFound(t *testing.T) {
	ts := newTestServer(t, nil)
	if _, err := execute(t, ts, "state", "show", "nobody"); err == nil {
		t.Fatal("expected error for unknown user")
	}
}

func TestStateRuns(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /v1/users/ana/runs": `[
			{"id":"0123456789abcdef","queryType":"comprehensive","finalState":"Completed","withheldTraditions":["native_american"],"createdAt":"2026-01-02T03:04:05Z"},
			{"id":"fedcba9876543210","queryType":"story_weaving","finalState":"Completed","withheldTraditions":[],"createdAt":"2026-01-01T03:04:05Z"}
		]`,
	})

	out, err := execute(t, ts, "state", "runs", "ana", "--limit", "5")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := ts.requests[0].Path; got != "/v1/users/ana/runs?limit=5" {
		t.Errorf("path = %q", got)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2:\n%s", len(lines), out)
	}
	if !strings.HasPrefix(lines[0], "01234567") || !strings.Contains(lines[0], "withheld: native_american") {
		t.Errorf("first line = %q", lines[0])
	}
	if strings.Contains(lines[1], "withheld") {
		t.Errorf("second line = %q, want no withheld list", lines[1])
	}
}

func TestGateCheck(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /v1/sovereignty/check": `{"tradition":"native_american","level":"sacred","permitted":false,"riskLevel":"high","guidanceText":"Please consult traditional authorities."}`,
	})

	out, err := execute(t, ts, "gate", "check", "native_american", "--requester", "celtic", "--no-consent")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	body := ts.lastBody(t)
	if body["tradition"] != "native_american" || body["requesterCulture"] != "celtic" || body["consentGiven"] != false {
		t.Errorf("body = %v", body)
	}
	for _, want := range []string{"withheld", "sacred", "risk high", "consult traditional authorities"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestShareCommand(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /v1/community/share": `{"shareId":"s1","queued":true,"content":"x","decision":{"tradition":"buddhist","permitted":true}}`,
	})

	if _, err := execute(t, ts, "share", "--user", "ana", "--community", "circle", "--tradition", "buddhist", "Attention", "is", "devotion"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	body := ts.lastBody(t)
	if body["content"] != "Attention is devotion" || body["community"] != "circle" {
		t.Errorf("body = %v", body)
	}

	if _, err := execute(t, ts, "share", "--user", "ana", "text"); err == nil {
		t.Error("expected error without --community and --tradition")
	}
}

func TestShareCommand_Withheld(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /v1/community/share": `{"queued":false,"content":"Sacred wisdom requires permission.","decision":{"tradition":"native_american","level":"sacred","permitted":false,"riskLevel":"high","guidanceText":"Sacred wisdom requires permission."}}`,
	})

	out, err := execute(t, ts, "share", "--user", "ana", "--community", "circle", "--tradition", "native_american", "ceremony")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "withheld") || !strings.Contains(out, "Sacred wisdom requires permission.") {
		t.Errorf("output = %q", out)
	}
}

// mockTeachings records AddTeachings calls.
type mockTeachings struct {
	tradition string
	source    string
	texts     []string
	err       error
}

func (m *mockTeachings) AddTeachings(_ context.Context, tradition, source string, texts []string) (int, error) {
	m.tradition, m.source, m.texts = tradition, source, texts
	return len(texts), m.err
}

func TestImportTeachings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.md")
	text := "Remember that the ancestors walk beside you on the path.\n\n" +
		"Short line.\n\n" +
		"The well is a sacred threshold between the worlds.\n\n" +
		"Buy milk and bread on the way home tonight."
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		t.Fatal(err)
	}

	store := &mockTeachings{}
	found, added, err := importTeachings(context.Background(), store, content.Default(), path, "Celtic", "")
	if err != nil {
		t.Fatalf("importTeachings: %v", err)
	}
	if found != 2 || added != 2 {
		t.Errorf("found, added = %d, %d; want 2, 2", found, added)
	}
	if store.tradition != "celtic" {
		t.Errorf("tradition = %q, want celtic", store.tradition)
	}
	if store.source != path {
		t.Errorf("source = %q, want file path", store.source)
	}
}

func TestImportTeachings_Errors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.txt")
	if err := os.WriteFile(path, []byte("Remember the wisdom of the ancestors on every path."), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, _, err := importTeachings(context.Background(), &mockTeachings{}, content.Default(), path, "atlantean", ""); err == nil {
		t.Error("expected error for unregistered tradition")
	}
	if _, _, err := importTeachings(context.Background(), &mockTeachings{}, content.Default(), filepath.Join(t.TempDir(), "missing.txt"), "celtic", ""); err == nil {
		t.Error("expected error for missing file")
	}
	if _, _, err := importTeachings(context.Background(), &mockTeachings{err: errors.New("disk full")}, content.Default(), path, "celtic", "book"); err == nil {
		t.Error("expected error from store")
	}
}

func TestPIDFile(t *testing.T) {
	path := pidFilePath(filepath.Join(t.TempDir(), "data"))
	if err := writePIDFile(path); err != nil {
		t.Fatalf("writePIDFile: %v", err)
	}
	pid, err := readPIDFile(path)
	if err != nil {
		t.Fatalf("readPIDFile: %v", err)
	}
	if pid != os.Getpid() {
		t.Errorf("pid = %d, want %d", pid, os.Getpid())
	}
	removePIDFile(path)
	if _, err := readPIDFile(path); err == nil {
		t.Error("expected error after removal")
	}
}

func TestRenderResponse_NoWithheld(t *testing.T) {
	old := color.NoColor
	color.NoColor = true
	defer func() { color.NoColor = old }()

	var buf bytes.Buffer
	renderResponse(&buf, pipeline.Response{RunID: "r1", ResponseText: "text", WithheldTraditions: []string{}})
	if strings.Contains(buf.String(), "Withheld") {
		t.Errorf("output mentions withheld traditions:\n%s", buf.String())
	}
	if strings.Contains(buf.String(), "\033[") {
		t.Errorf("output has ANSI codes with NoColor:\n%q", buf.String())
	}
}
