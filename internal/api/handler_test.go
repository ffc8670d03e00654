package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gwlsn/remuxer/internal/events"
	"github.com/gwlsn/remuxer/internal/ffmpeg"
	"github.com/gwlsn/remuxer/internal/fftest"
	"github.com/gwlsn/remuxer/internal/jobs"
	"github.com/gwlsn/remuxer/internal/scan"
	"github.com/gwlsn/remuxer/internal/settings"
	"github.com/gwlsn/remuxer/internal/store"
)

func TestMain(m *testing.M) {
	fftest.Run()
	os.Exit(m.Run())
}

type testEnv struct {
	handler  *Handler
	router   http.Handler
	engine   *jobs.Engine
	channel  *events.Channel
	hub      *Hub
	mediaDir string
	outDir   string
	settings string
}

func setupTestHandler(t *testing.T) *testEnv {
	t.Helper()
	tmpDir := t.TempDir()

	mediaDir := filepath.Join(tmpDir, "TV Shows", "Test Show", "Season 1")
	if err := os.MkdirAll(mediaDir, 0755); err != nil {
		t.Fatalf("failed to create test dirs: %v", err)
	}
	for _, name := range []string{"episode1.mkv", "episode2.mkv"} {
		path := filepath.Join(mediaDir, name)
		if err := os.WriteFile(path, []byte("fake video"), 0644); err != nil {
			t.Fatalf("failed to create test file: %v", err)
		}
	}

	ffmpegPath, ffprobePath := fftest.Install(t)

	db, err := store.NewSQLiteStore(filepath.Join(tmpDir, "remuxer.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	ch := events.NewChannel()
	scanner := scan.New(ffmpeg.NewProber(ffprobePath), db, ch, scan.Options{})
	engine := jobs.NewEngine(scanner, ffmpeg.NewMuxer(ffmpegPath), ch, db, jobs.ControllerOptions{FFmpegPath: ffmpegPath})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	hub := NewHub()
	go hub.Pump(ctx, ch, 10*time.Millisecond, 50)

	settingsPath := filepath.Join(tmpDir, "remuxer_settings.json")
	handler := NewHandler(ctx, engine, settings.NewStore(settingsPath), db, hub)

	return &testEnv{
		handler:  handler,
		router:   NewRouter(handler),
		engine:   engine,
		channel:  ch,
		hub:      hub,
		mediaDir: mediaDir,
		outDir:   filepath.Join(tmpDir, "out"),
		settings: settingsPath,
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) wait(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := e.engine.Wait(ctx); err != nil {
		t.Fatalf("engine did not finish: %v", err)
	}
}

func TestSettingsEndpoints(t *testing.T) {
	env := setupTestHandler(t)

	w := env.do(t, "GET", "/api/settings", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	var got settings.Settings
	json.Unmarshal(w.Body.Bytes(), &got)
	if got != settings.Defaults() {
		t.Errorf("expected defaults, got %+v", got)
	}

	w = env.do(t, "PUT", "/api/settings", map[string]interface{}{
		"fileAction":   "move",
		"outputFormat": "mov",
		"unknownKey":   42,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	json.Unmarshal(w.Body.Bytes(), &got)
	if got.FileAction != "move" || got.OutputFormat != ".mov" {
		t.Errorf("update not applied: %+v", got)
	}
	if !got.IncludeAudio {
		t.Error("fields absent from the body should keep their values")
	}

	if _, err := os.Stat(env.settings); err != nil {
		t.Errorf("settings file not written: %v", err)
	}
}

func TestSettingsInvalidBody(t *testing.T) {
	env := setupTestHandler(t)

	req := httptest.NewRequest("PUT", "/api/settings", strings.NewReader("{not json"))
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", w.Code)
	}
}

func TestScanPreviewJobFlow(t *testing.T) {
	env := setupTestHandler(t)

	w := env.do(t, "POST", "/api/scan", ScanRequest{Paths: []string{filepath.Dir(env.mediaDir)}, OutputDir: env.outDir})
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d: %s", w.Code, w.Body.String())
	}
	env.wait(t)

	if n := len(env.engine.Descriptors()); n != 2 {
		t.Fatalf("expected 2 descriptors, got %d", n)
	}

	w = env.do(t, "GET", "/api/preview", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("preview: expected status 200, got %d", w.Code)
	}
	var preview struct {
		Commands []jobs.PreviewEntry `json:"commands"`
	}
	json.Unmarshal(w.Body.Bytes(), &preview)
	if len(preview.Commands) != 2 {
		t.Fatalf("expected 2 commands, got %d", len(preview.Commands))
	}
	if !strings.Contains(preview.Commands[0].Command, "episode1.mkv") {
		t.Errorf("unexpected first command: %s", preview.Commands[0].Command)
	}

	w = env.do(t, "POST", "/api/job", nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("job: expected status 202, got %d: %s", w.Code, w.Body.String())
	}
	var started map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &started)
	runID, _ := started["run_id"].(string)
	if runID == "" {
		t.Fatal("expected a run id")
	}
	env.wait(t)

	for _, name := range []string{"episode1.mp4", "episode2.mp4"} {
		if _, err := os.Stat(filepath.Join(env.outDir, name)); err != nil {
			t.Errorf("missing output %s: %v", name, err)
		}
	}

	w = env.do(t, "GET", "/api/status", nil)
	var status jobs.Status
	json.Unmarshal(w.Body.Bytes(), &status)
	if status.State != jobs.StateIdle || status.LastRun == nil || status.LastRun.Remuxed != 2 {
		t.Errorf("unexpected status: %+v", status)
	}

	w = env.do(t, "GET", "/api/runs", nil)
	var runs struct {
		Runs []struct {
			ID      string `json:"id"`
			Summary string `json:"summary"`
		} `json:"runs"`
	}
	json.Unmarshal(w.Body.Bytes(), &runs)
	if len(runs.Runs) != 1 || runs.Runs[0].ID != runID {
		t.Fatalf("unexpected runs: %s", w.Body.String())
	}
	if !strings.Contains(runs.Runs[0].Summary, "2/2 remuxed") {
		t.Errorf("unexpected run summary: %q", runs.Runs[0].Summary)
	}

	w = env.do(t, "GET", "/api/runs/"+runID, nil)
	var run store.RunRecord
	json.Unmarshal(w.Body.Bytes(), &run)
	if w.Code != http.StatusOK || len(run.Files) != 2 {
		t.Errorf("unexpected run detail (%d): %s", w.Code, w.Body.String())
	}
}

func TestScanBadRequests(t *testing.T) {
	env := setupTestHandler(t)

	if w := env.do(t, "POST", "/api/scan", ScanRequest{}); w.Code != http.StatusBadRequest {
		t.Errorf("empty paths: expected 400, got %d", w.Code)
	}

	empty := t.TempDir()
	if w := env.do(t, "POST", "/api/scan", ScanRequest{Paths: []string{empty}}); w.Code != http.StatusBadRequest {
		t.Errorf("no videos: expected 400, got %d", w.Code)
	}
}

func TestStartJobWithoutScan(t *testing.T) {
	env := setupTestHandler(t)

	if w := env.do(t, "POST", "/api/job", nil); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
	if w := env.do(t, "GET", "/api/preview", nil); w.Code != http.StatusBadRequest {
		t.Errorf("preview: expected 400, got %d", w.Code)
	}
}

func TestControlEndpoints(t *testing.T) {
	env := setupTestHandler(t)

	for _, action := range []string{"pause", "resume", "skip", "cancel"} {
		if w := env.do(t, "POST", "/api/job/"+action, nil); w.Code != http.StatusConflict {
			t.Errorf("%s while idle: expected 409, got %d", action, w.Code)
		}
	}
	if w := env.do(t, "POST", "/api/job/explode", nil); w.Code != http.StatusNotFound {
		t.Errorf("unknown action: expected 404, got %d", w.Code)
	}
}

func TestGetRunNotFound(t *testing.T) {
	env := setupTestHandler(t)

	if w := env.do(t, "GET", "/api/runs/nope", nil); w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
	if w := env.do(t, "GET", "/api/runs?limit=abc", nil); w.Code != http.StatusBadRequest {
		t.Errorf("bad limit: expected 400, got %d", w.Code)
	}
}

func TestEventsStream(t *testing.T) {
	env := setupTestHandler(t)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, "GET", srv.URL+"/api/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /api/events: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q", ct)
	}

	reader := bufio.NewReader(resp.Body)
	readData := func() string {
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				t.Fatalf("read stream: %v", err)
			}
			if strings.HasPrefix(line, "data: ") {
				return strings.TrimPrefix(line, "data: ")
			}
		}
	}

	if first := readData(); !strings.Contains(first, `"init"`) {
		t.Fatalf("expected init event, got %s", first)
	}

	env.channel.Publish(events.Log(events.LevelInfo, "hello from the engine"))
	data := readData()
	var ev events.Event
	if err := json.Unmarshal([]byte(data), &ev); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if ev.Kind != events.KindLog || ev.Text != "hello from the engine" {
		t.Errorf("unexpected event: %+v", ev)
	}
}

func TestHubBroadcast(t *testing.T) {
	hub := NewHub()
	a := hub.Subscribe()
	b := hub.Subscribe()

	hub.Broadcast(events.Status("ready"))
	for _, ch := range []chan events.Event{a, b} {
		select {
		case e := <-ch:
			if e.Text != "ready" {
				t.Errorf("unexpected event: %+v", e)
			}
		default:
			t.Error("subscriber did not receive the event")
		}
	}

	hub.Unsubscribe(a)
	if hub.Subscribers() != 1 {
		t.Errorf("subscribers = %d, want 1", hub.Subscribers())
	}

	// A full subscriber must not block the others.
	for i := 0; i < 1000; i++ {
		hub.Broadcast(events.Status("spam"))
	}
	hub.Unsubscribe(b)
}
