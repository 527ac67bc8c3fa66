package api

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/playfleet/stationsync/internal/config"
	"github.com/playfleet/stationsync/internal/metrics"
	"github.com/playfleet/stationsync/internal/model"
	"github.com/playfleet/stationsync/internal/protocol"
	"github.com/playfleet/stationsync/internal/store"
)

type fakeEditor struct {
	stations  *fakeStations
	cached    []model.CachedMedia
	deletions []model.PendingDeletion
}

func (f *fakeEditor) SaveStation(ctx context.Context, s *model.Station) error {
	for i, cur := range f.stations.stations {
		if cur.ID == s.ID {
			f.stations.stations[i] = s
			return nil
		}
	}
	f.stations.stations = append(f.stations.stations, s)
	return nil
}

func (f *fakeEditor) DeleteStation(ctx context.Context, id string) error {
	for i, cur := range f.stations.stations {
		if cur.ID == id {
			f.stations.stations = append(f.stations.stations[:i], f.stations.stations[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("station %s: %w", id, store.ErrStationNotFound)
}

func (f *fakeEditor) AddCachedMedia(ctx context.Context, stationID string, m model.CachedMedia) error {
	f.cached = append(f.cached, m)
	return nil
}

func (f *fakeEditor) RemoveCachedMedia(ctx context.Context, stationID string, m model.CachedMedia) error {
	for i, e := range f.cached {
		if e.ContentID == m.ContentID {
			f.cached = append(f.cached[:i], f.cached[i+1:]...)
			return nil
		}
	}
	return nil
}

func (f *fakeEditor) AddPendingDeletion(ctx context.Context, stationID string, d model.PendingDeletion) error {
	f.deletions = append(f.deletions, d)
	return nil
}

type fakeCache struct {
	files map[string][]byte
}

func (f *fakeCache) Write(stationID, contentID, ext string, data []byte) error {
	f.files[stationID+"/"+contentID+"."+ext] = data
	return nil
}

func (f *fakeCache) Remove(stationID, contentID, ext string) error {
	delete(f.files, stationID+"/"+contentID+"."+ext)
	return nil
}

type editEnv struct {
	*testEnv
	stations *fakeStations
	editor   *fakeEditor
	cache    *fakeCache
}

func newEditEnv(t *testing.T) *editEnv {
	t.Helper()
	stations := &fakeStations{stations: []*model.Station{{
		ID:           "s1",
		Name:         "Lobby",
		ControllerID: "p1",
		Players:      []model.Player{{ID: "p1", Address: "10.0.0.1"}, {ID: "p2", Address: "10.0.0.2"}},
		Folders: []model.Folder{{ID: "f1", Contents: []model.Content{
			{ID: "c1", PlayerID: "p1", Media: &model.Media{ID: 41, Kind: protocol.MediaImage, Extension: "png"}},
			{ID: "c2", PlayerID: "p2", Media: &model.Media{ID: -2, Kind: protocol.MediaVideo, Extension: "mp4"}},
			{ID: "c3", PlayerID: "p2"},
			{ID: "c4"},
		}}},
	}}}
	env := &editEnv{
		testEnv:  &testEnv{cfg: config.DefaultConfig(), syncer: &fakeSyncer{}, players: &fakePlayers{}},
		stations: stations,
		editor:   &fakeEditor{stations: stations},
		cache:    &fakeCache{files: map[string][]byte{"s1/c2.mp4": []byte("old")}},
	}
	env.editor.cached = []model.CachedMedia{{ContentID: "c2", PlayerID: "p2", Extension: "mp4"}}
	env.server = NewServer(env.cfg, Deps{
		Stations: stations,
		Editor:   env.editor,
		Files:    env.cache,
		Syncer:   env.syncer,
		Health:   fakeHealth{},
		Players:  env.players,
		Metrics:  metrics.New(),
	})
	return env
}

func (e *editEnv) upload(t *testing.T, stationID string, fields map[string]string, filename, data string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		w.WriteField(k, v)
	}
	if filename != "" {
		part, err := w.CreateFormFile("file", filename)
		if err != nil {
			t.Fatal(err)
		}
		part.Write([]byte(data))
	}
	w.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/stations/"+stationID+"/media", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestEditRoutesNeedEditor(t *testing.T) {
	env := newTestEnv(t)
	rec, _ := env.do(t, http.MethodPost, "/api/stations/s1/deletions", `{"content_id":"c1"}`)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 without an editor", rec.Code)
	}
}

func TestCreateStation(t *testing.T) {
	env := newEditEnv(t)

	rec, body := env.do(t, http.MethodPost, "/api/stations",
		`{"id":"s2","name":"Hall","controller_id":"a","players":[{"id":"a","address":"10.0.1.1"}],"folders":[]}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %v", rec.Code, body)
	}
	st, err := env.stations.Station(context.Background(), "s2")
	if err != nil || st.Name != "Hall" {
		t.Errorf("stored station = %+v, %v", st, err)
	}

	tests := []struct {
		name string
		body string
		want int
	}{
		{"existing id", `{"id":"s1"}`, http.StatusConflict},
		{"missing id", `{"name":"x"}`, http.StatusBadRequest},
		{"foreign controller", `{"id":"s3","controller_id":"zz","players":[{"id":"a"}]}`, http.StatusBadRequest},
		{"content on unknown player", `{"id":"s3","folders":[{"id":"f","contents":[{"id":"c","player_id":"zz"}]}]}`, http.StatusBadRequest},
		{"malformed", `{`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, _ := env.do(t, http.MethodPost, "/api/stations", tt.body)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestDeleteStation(t *testing.T) {
	env := newEditEnv(t)
	rec, _ := env.do(t, http.MethodDelete, "/api/stations/s1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(env.stations.stations) != 0 {
		t.Errorf("stations left = %d", len(env.stations.stations))
	}
	rec, _ = env.do(t, http.MethodDelete, "/api/stations/s1", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", rec.Code)
	}
}

func TestUploadMediaNewContent(t *testing.T) {
	env := newEditEnv(t)

	rec := env.upload(t, "s1", map[string]string{"content_id": "c3", "kind": "image"}, "Poster.JPG", "jpeg bytes")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	if got := string(env.cache.files["s1/c3.jpg"]); got != "jpeg bytes" {
		t.Errorf("cached file = %q", got)
	}
	want := model.CachedMedia{ContentID: "c3", PlayerID: "p2", Extension: "jpg"}
	if n := len(env.editor.cached); n != 2 || env.editor.cached[1] != want {
		t.Errorf("upload queue = %+v", env.editor.cached)
	}
	st, _ := env.stations.Station(context.Background(), "s1")
	m := st.Content("c3").Media
	if m == nil || m.Assigned() || m.Kind != protocol.MediaImage || m.Extension != "jpg" {
		t.Errorf("content media = %+v", m)
	}
	if len(env.editor.deletions) != 0 {
		t.Errorf("deletions = %+v", env.editor.deletions)
	}
}

func TestUploadMediaReplacesAssigned(t *testing.T) {
	env := newEditEnv(t)

	rec := env.upload(t, "s1", map[string]string{"content_id": "c1"}, "new.png", "png bytes")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	want := []model.PendingDeletion{{PlayerID: "p1", MediaID: 41}}
	if fmt.Sprint(env.editor.deletions) != fmt.Sprint(want) {
		t.Errorf("deletions = %+v, want %+v", env.editor.deletions, want)
	}
	st, _ := env.stations.Station(context.Background(), "s1")
	if m := st.Content("c1").Media; m.Assigned() || m.Kind != protocol.MediaImage {
		t.Errorf("c1 media = %+v, want image placeholder", m)
	}
}

func TestUploadMediaReplacesQueuedFile(t *testing.T) {
	env := newEditEnv(t)

	rec := env.upload(t, "s1", map[string]string{"content_id": "c2"}, "clip.webm", "webm bytes")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	if _, ok := env.cache.files["s1/c2.mp4"]; ok {
		t.Error("superseded cached file kept")
	}
	if _, ok := env.cache.files["s1/c2.webm"]; !ok {
		t.Error("new file not cached")
	}
	if len(env.editor.deletions) != 0 {
		t.Errorf("placeholder media queued for deletion: %+v", env.editor.deletions)
	}
}

func TestUploadMediaErrors(t *testing.T) {
	tests := []struct {
		name     string
		station  string
		fields   map[string]string
		filename string
		want     int
	}{
		{"unknown station", "nope", map[string]string{"content_id": "c1"}, "a.png", http.StatusNotFound},
		{"unknown content", "s1", map[string]string{"content_id": "zz"}, "a.png", http.StatusNotFound},
		{"content without player", "s1", map[string]string{"content_id": "c4", "kind": "image"}, "a.png", http.StatusConflict},
		{"kind unknown", "s1", map[string]string{"content_id": "c3"}, "a.png", http.StatusBadRequest},
		{"kind invalid", "s1", map[string]string{"content_id": "c3", "kind": "audio"}, "a.mp3", http.StatusBadRequest},
		{"no file", "s1", map[string]string{"content_id": "c1"}, "", http.StatusBadRequest},
		{"no extension", "s1", map[string]string{"content_id": "c1"}, "poster", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newEditEnv(t)
			rec := env.upload(t, tt.station, tt.fields, tt.filename, "data")
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d, body %s", rec.Code, tt.want, rec.Body)
			}
			if len(env.editor.cached) != 1 {
				t.Errorf("upload queue changed: %+v", env.editor.cached)
			}
		})
	}
}

func TestDeleteAssignedMediaQueuesDeletion(t *testing.T) {
	env := newEditEnv(t)

	rec, body := env.do(t, http.MethodPost, "/api/stations/s1/deletions", `{"content_id":"c1"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %v", rec.Code, body)
	}
	if body["remote"] != true {
		t.Errorf("remote = %v", body["remote"])
	}
	want := []model.PendingDeletion{{PlayerID: "p1", MediaID: 41}}
	if fmt.Sprint(env.editor.deletions) != fmt.Sprint(want) {
		t.Errorf("deletions = %+v", env.editor.deletions)
	}
	st, _ := env.stations.Station(context.Background(), "s1")
	if st.Content("c1").Media != nil {
		t.Error("c1 media kept")
	}
}

func TestDeleteQueuedMediaDropsUpload(t *testing.T) {
	env := newEditEnv(t)

	rec, body := env.do(t, http.MethodPost, "/api/stations/s1/deletions", `{"content_id":"c2"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %v", rec.Code, body)
	}
	if len(env.editor.cached) != 0 {
		t.Errorf("upload queue = %+v", env.editor.cached)
	}
	if len(env.cache.files) != 0 {
		t.Errorf("cached files = %v", env.cache.files)
	}
	if len(env.editor.deletions) != 0 {
		t.Errorf("deletions = %+v", env.editor.deletions)
	}

	rec, _ = env.do(t, http.MethodPost, "/api/stations/s1/deletions", `{"content_id":"c2"}`)
	if rec.Code != http.StatusNotFound {
		t.Errorf("repeat status = %d, want 404", rec.Code)
	}
}
