package store

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/playfleet/stationsync/internal/model"
	"github.com/playfleet/stationsync/internal/protocol"
)

func openTestDB(t *testing.T) *Database {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "data", "stationsync.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func sampleStation(id string) *model.Station {
	return &model.Station{
		ID:           id,
		Name:         "Station " + id,
		ControllerID: "p1",
		Players: []model.Player{
			{ID: "p1", Name: "Wall", Address: "10.0.0.1"},
			{ID: "p2", Name: "Desk", Address: "10.0.0.2"},
		},
		Folders: []model.Folder{{
			ID: "f1",
			Contents: []model.Content{
				{ID: "c1", PlayerID: "p1", Media: &model.Media{ID: -1, Kind: protocol.MediaVideo, Extension: "mp4"}},
			},
		}},
	}
}

func TestRepositoryStations(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(openTestDB(t))

	if _, err := repo.Station(ctx, "missing"); !errors.Is(err, ErrStationNotFound) {
		t.Fatalf("Station(missing) err = %v, want ErrStationNotFound", err)
	}

	s := sampleStation("a")
	if err := repo.SaveStation(ctx, s); err != nil {
		t.Fatalf("SaveStation: %v", err)
	}
	s.Content("c1").Media.ID = 12
	if err := repo.SaveStation(ctx, s); err != nil {
		t.Fatalf("SaveStation update: %v", err)
	}
	if err := repo.SaveStation(ctx, sampleStation("b")); err != nil {
		t.Fatalf("SaveStation b: %v", err)
	}

	got, err := repo.Station(ctx, "a")
	if err != nil {
		t.Fatalf("Station: %v", err)
	}
	if got.Content("c1").Media.ID != 12 {
		t.Errorf("media id = %d, want 12", got.Content("c1").Media.ID)
	}

	all, err := repo.Stations(ctx)
	if err != nil || len(all) != 2 {
		t.Fatalf("Stations = %d, %v", len(all), err)
	}

	players, err := repo.Players(ctx)
	if err != nil || len(players) != 4 {
		t.Errorf("Players = %d, %v", len(players), err)
	}

	p, stationID, err := repo.PlayerByAddress(ctx, "10.0.0.2")
	if err != nil || p.ID != "p2" || stationID != "a" {
		t.Errorf("PlayerByAddress = %+v, %s, %v", p, stationID, err)
	}
	if _, _, err := repo.PlayerByAddress(ctx, "10.9.9.9"); !errors.Is(err, ErrPlayerNotFound) {
		t.Errorf("PlayerByAddress(unknown) err = %v", err)
	}

	if err := repo.DeleteStation(ctx, "b"); err != nil {
		t.Fatalf("DeleteStation: %v", err)
	}
	if err := repo.DeleteStation(ctx, "b"); !errors.Is(err, ErrStationNotFound) {
		t.Errorf("second DeleteStation err = %v", err)
	}
}

func TestRepositoryQueues(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(openTestDB(t))
	if err := repo.SaveStation(ctx, sampleStation("a")); err != nil {
		t.Fatalf("SaveStation: %v", err)
	}

	entries := []model.CachedMedia{
		{ContentID: "c2", PlayerID: "p2", Extension: "png"},
		{ContentID: "c1", PlayerID: "p1", Extension: "mp4"},
	}
	for _, e := range entries {
		if err := repo.AddCachedMedia(ctx, "a", e); err != nil {
			t.Fatalf("AddCachedMedia: %v", err)
		}
	}
	got, err := repo.CachedMedia(ctx, "a")
	if err != nil || len(got) != 2 || got[0].ContentID != "c2" {
		t.Fatalf("CachedMedia = %+v, %v", got, err)
	}
	if err := repo.RemoveCachedMedia(ctx, "a", got[0]); err != nil {
		t.Fatalf("RemoveCachedMedia: %v", err)
	}
	if got, _ := repo.CachedMedia(ctx, "a"); len(got) != 1 || got[0].ContentID != "c1" {
		t.Errorf("after remove: %+v", got)
	}

	del := model.PendingDeletion{PlayerID: "p2", MediaID: 7}
	repo.AddPendingDeletion(ctx, "a", del)
	repo.AddPendingDeletion(ctx, "a", del)
	dels, err := repo.PendingDeletions(ctx, "a")
	if err != nil || len(dels) != 1 || dels[0] != del {
		t.Fatalf("PendingDeletions = %+v, %v", dels, err)
	}
	if err := repo.RemovePendingDeletion(ctx, "a", del); err != nil {
		t.Fatalf("RemovePendingDeletion: %v", err)
	}
	if dels, _ := repo.PendingDeletions(ctx, "a"); len(dels) != 0 {
		t.Errorf("deletions left: %+v", dels)
	}
}

func TestSnapshots(t *testing.T) {
	ctx := context.Background()
	snaps := NewSnapshots(openTestDB(t))

	if _, ok, err := snaps.Get(ctx, "a"); ok || err != nil {
		t.Fatalf("Get(missing) = %v, %v", ok, err)
	}
	snaps.Put(ctx, "a", []byte("one"))
	snaps.Put(ctx, "a", []byte("two"))
	snaps.Put(ctx, "b", []byte("three"))

	data, ok, err := snaps.Get(ctx, "a")
	if !ok || err != nil || string(data) != "two" {
		t.Errorf("Get = %q, %v, %v", data, ok, err)
	}
	ids, err := snaps.Pending(ctx)
	if err != nil || len(ids) != 2 {
		t.Errorf("Pending = %v, %v", ids, err)
	}

	if err := snaps.Delete(ctx, "a"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := snaps.Delete(ctx, "a"); err != nil {
		t.Errorf("Delete(missing): %v", err)
	}
	if _, ok, _ := snaps.Get(ctx, "a"); ok {
		t.Error("snapshot still present after Delete")
	}
}

func TestFileCache(t *testing.T) {
	cache, err := NewFileCache(filepath.Join(t.TempDir(), "media"))
	if err != nil {
		t.Fatalf("NewFileCache: %v", err)
	}

	if got := cache.Path("st", "c1", ".png"); filepath.Base(got) != "c1.png" {
		t.Errorf("Path = %s", got)
	}
	if got := cache.Path("st", "../../etc/passwd", ""); filepath.Dir(filepath.Dir(got)) != cache.dir {
		t.Errorf("Path escaped the cache: %s", got)
	}

	payload := []byte{1, 2, 3}
	if err := cache.Write("st", "c1", "png", payload); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := cache.Read("st", "c1", "png")
	if err != nil || !bytes.Equal(got, payload) {
		t.Errorf("Read = %v, %v", got, err)
	}
	if err := cache.Remove("st", "c1", "png"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := cache.Remove("st", "c1", "png"); err != nil {
		t.Errorf("Remove(missing): %v", err)
	}
	if _, err := cache.Read("st", "c1", "png"); err == nil {
		t.Error("Read after Remove succeeded")
	}
}
