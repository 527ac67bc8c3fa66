package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/playfleet/stationsync/internal/config"
	"github.com/playfleet/stationsync/internal/events"
	"github.com/playfleet/stationsync/internal/health"
	"github.com/playfleet/stationsync/internal/metrics"
	"github.com/playfleet/stationsync/internal/model"
	"github.com/playfleet/stationsync/internal/protocol"
	"github.com/playfleet/stationsync/internal/store"
)

type fakeStations struct {
	stations []*model.Station
}

func (f *fakeStations) Stations(ctx context.Context) ([]*model.Station, error) {
	return f.stations, nil
}

func (f *fakeStations) Station(ctx context.Context, id string) (*model.Station, error) {
	for _, s := range f.stations {
		if s.ID == id {
			return s, nil
		}
	}
	return nil, fmt.Errorf("station %s: %w", id, store.ErrStationNotFound)
}

type fakeSyncer struct {
	mu    sync.Mutex
	calls []string
	roles []protocol.Role
	done  chan struct{}
}

func (f *fakeSyncer) SyncStation(ctx context.Context, id string, role protocol.Role, sink events.ProgressSink) (bool, error) {
	f.mu.Lock()
	f.calls = append(f.calls, id)
	f.roles = append(f.roles, role)
	f.mu.Unlock()
	if f.done != nil {
		defer close(f.done)
	}

	if id == "missing" {
		return false, fmt.Errorf("load: %w", store.ErrStationNotFound)
	}
	if sink != nil {
		sink.Report(events.SyncProgress{StationID: id, Scope: events.ScopeStation, Kind: events.ProgressDone, Success: true})
	}
	return true, nil
}

type fakeHealth struct{}

func (fakeHealth) Check(ctx context.Context, addr string, role protocol.Role) health.Result {
	if role == protocol.RoleAdmin {
		return health.Result{Status: health.Online, Registration: protocol.RegistrationAcceptedBlocked}
	}
	return health.Result{Status: health.TcpConnectionFailed}
}

func (fakeHealth) Statuses() []health.PlayerHealth {
	return []health.PlayerHealth{{Address: "10.0.0.1", Status: health.Online}}
}

type fakePlayers struct {
	connected map[string]bool
	sent      []string
}

func (f *fakePlayers) HasConnection(addr string) bool { return f.connected[addr] }

func (f *fakePlayers) FetchContents(ctx context.Context, addr string) (string, bool) {
	return `{"station":"s1"}`, true
}

func (f *fakePlayers) MediaControl(ctx context.Context, addr, command string, args ...string) bool {
	f.sent = append(f.sent, "media:"+command+":"+strings.Join(args, ","))
	return true
}

func (f *fakePlayers) Light(ctx context.Context, addr, preset string, args ...string) bool {
	f.sent = append(f.sent, "light:"+preset)
	return true
}

func (f *fakePlayers) Disconnect(ctx context.Context, addr string) bool {
	f.sent = append(f.sent, "disconnect")
	return true
}

type testEnv struct {
	server  *Server
	cfg     *config.Config
	syncer  *fakeSyncer
	players *fakePlayers
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := config.DefaultConfig()
	env := &testEnv{
		cfg:     cfg,
		syncer:  &fakeSyncer{},
		players: &fakePlayers{connected: map[string]bool{"10.0.0.1": true}},
	}
	env.server = NewServer(cfg, Deps{
		Stations: &fakeStations{stations: []*model.Station{{
			ID:           "s1",
			Name:         "Lobby",
			ControllerID: "p1",
			Players:      []model.Player{{ID: "p1", Address: "10.0.0.1"}, {ID: "p2", Address: "10.0.0.2"}},
			Folders:      []model.Folder{{ID: "f1", Contents: []model.Content{{ID: "c1"}, {ID: "c2"}}}},
		}}},
		Syncer:  env.syncer,
		Health:  fakeHealth{},
		Players: env.players,
		Metrics: metrics.New(),
	})
	return env
}

func (e *testEnv) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)

	var out map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
			t.Fatalf("%s %s: invalid json %q: %v", method, path, rec.Body.String(), err)
		}
	}
	return rec, out
}

func TestPing(t *testing.T) {
	env := newTestEnv(t)
	rec, body := env.do(t, http.MethodGet, "/api/public/ping", "")
	if rec.Code != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("ping = %d %v", rec.Code, body)
	}
	if rec.Header().Get("X-Frame-Options") != "DENY" {
		t.Error("security headers missing")
	}
}

func TestListStations(t *testing.T) {
	env := newTestEnv(t)
	rec, body := env.do(t, http.MethodGet, "/api/stations", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	list := body["stations"].([]any)
	if len(list) != 1 {
		t.Fatalf("stations = %v", list)
	}
	st := list[0].(map[string]any)
	if st["players"].(float64) != 2 || st["contents"].(float64) != 2 {
		t.Errorf("summary = %v", st)
	}
}

func TestGetStationNotFound(t *testing.T) {
	env := newTestEnv(t)
	rec, _ := env.do(t, http.MethodGet, "/api/stations/nope", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestSyncStationWait(t *testing.T) {
	env := newTestEnv(t)
	rec, body := env.do(t, http.MethodPost, "/api/stations/s1/sync?role=user&wait=true", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	if body["success"] != true {
		t.Errorf("success = %v", body["success"])
	}
	evs := body["events"].([]any)
	if len(evs) != 1 || evs[0].(map[string]any)["kind"] != "done" {
		t.Errorf("events = %v", evs)
	}
	if env.syncer.roles[0] != protocol.RoleUser {
		t.Errorf("role = %q", env.syncer.roles[0])
	}
}

func TestSyncStationErrors(t *testing.T) {
	env := newTestEnv(t)

	rec, _ := env.do(t, http.MethodPost, "/api/stations/s1/sync?role=root", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad role status = %d", rec.Code)
	}
	if len(env.syncer.calls) != 0 {
		t.Error("sync must not run with an invalid role")
	}

	rec, _ = env.do(t, http.MethodPost, "/api/stations/missing/sync?wait=true", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing station status = %d", rec.Code)
	}
}

func TestSyncStationBackground(t *testing.T) {
	env := newTestEnv(t)
	env.syncer.done = make(chan struct{})

	rec, body := env.do(t, http.MethodPost, "/api/stations/s1/sync", "")
	if rec.Code != http.StatusAccepted || body["status"] != "started" {
		t.Fatalf("status = %d %v", rec.Code, body)
	}

	select {
	case <-env.syncer.done:
	case <-time.After(2 * time.Second):
		t.Fatal("background sync did not run")
	}
}

func TestCheckPlayer(t *testing.T) {
	env := newTestEnv(t)
	rec, body := env.do(t, http.MethodGet, "/api/players/10.0.0.1:8765/health?role=admin", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if body["status"] != "Online" || body["blocked"] != true || body["address"] != "10.0.0.1:8765" {
		t.Errorf("body = %v", body)
	}

	_, body = env.do(t, http.MethodGet, "/api/players/10.0.0.9/health", "")
	if body["status"] != "TcpConnectionFailed" || body["online"] != false {
		t.Errorf("body = %v", body)
	}
}

func TestPlayerControl(t *testing.T) {
	env := newTestEnv(t)

	rec, _ := env.do(t, http.MethodPost, "/api/players/10.0.0.2/control", `{"command":"play"}`)
	if rec.Code != http.StatusConflict {
		t.Errorf("unconnected player status = %d, want 409", rec.Code)
	}

	rec, _ = env.do(t, http.MethodPost, "/api/players/10.0.0.1/control", `{"args":["x"]}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing command status = %d, want 400", rec.Code)
	}

	rec, _ = env.do(t, http.MethodPost, "/api/players/10.0.0.1/control", `{"command":"seek","args":["12","fast"]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("control status = %d", rec.Code)
	}
	env.do(t, http.MethodPost, "/api/players/10.0.0.1/light", `{"command":"warm"}`)
	env.do(t, http.MethodPost, "/api/players/10.0.0.1/disconnect", "")

	want := []string{"media:seek:12,fast", "light:warm", "disconnect"}
	if strings.Join(env.players.sent, "|") != strings.Join(want, "|") {
		t.Errorf("sent = %v, want %v", env.players.sent, want)
	}
}

func TestGetContentsPassesManifestThrough(t *testing.T) {
	env := newTestEnv(t)
	rec, body := env.do(t, http.MethodGet, "/api/players/10.0.0.1/contents", "")
	if rec.Code != http.StatusOK || body["station"] != "s1" {
		t.Errorf("contents = %d %v", rec.Code, body)
	}
}

func TestSetSyncConfig(t *testing.T) {
	env := newTestEnv(t)

	rec, _ := env.do(t, http.MethodPost, "/api/config/sync", `{"default_role":"root"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid role status = %d", rec.Code)
	}
	if env.cfg.GetSync().DefaultRole != "admin" {
		t.Errorf("invalid update was kept: %q", env.cfg.GetSync().DefaultRole)
	}

	rec, _ = env.do(t, http.MethodPost, "/api/config/sync", `{"default_role":"user","retry_interval_sec":60,"health_interval_sec":30}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	if got := env.cfg.GetSync(); got.DefaultRole != "user" || got.RetryIntervalSec != 60 {
		t.Errorf("sync config = %+v", got)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodGet, "/api/public/ping", "")

	rec, _ := env.do(t, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "stationsync_http_requests_total 1") {
		t.Errorf("http request counter missing:\n%s", rec.Body.String())
	}
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(1)
	now := time.Now()
	if !rl.allow("a", now) || !rl.allow("a", now) {
		t.Fatal("burst of two should pass")
	}
	if rl.allow("a", now) {
		t.Error("third request in the same instant should be limited")
	}
	if !rl.allow("b", now) {
		t.Error("buckets are per client")
	}
	if !rl.allow("a", now.Add(time.Second)) {
		t.Error("bucket should refill")
	}
}
