package scheduler

import (
	"context"
	"errors"
	"testing"

	"github.com/playfleet/stationsync/internal/config"
	"github.com/playfleet/stationsync/internal/events"
	"github.com/playfleet/stationsync/internal/protocol"
)

type fakePending struct {
	ids []string
	err error
}

func (f fakePending) Pending(ctx context.Context) ([]string, error) { return f.ids, f.err }

type fakeSyncer struct {
	calls   []string
	roles   []protocol.Role
	results map[string]bool
	errs    map[string]error
}

func (f *fakeSyncer) SyncStation(ctx context.Context, id string, role protocol.Role, sink events.ProgressSink) (bool, error) {
	f.calls = append(f.calls, id)
	f.roles = append(f.roles, role)
	return f.results[id], f.errs[id]
}

func TestRetryPending(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Sync.DefaultRole = "user"
	syncer := &fakeSyncer{
		results: map[string]bool{"a": true, "c": true},
		errs:    map[string]error{"b": errors.New("disk gone")},
	}
	s := NewScheduler(cfg, fakePending{ids: []string{"a", "b", "c", "d"}}, syncer)

	if got := s.RetryPending(context.Background()); got != 2 {
		t.Errorf("succeeded = %d, want 2", got)
	}
	if len(syncer.calls) != 4 {
		t.Fatalf("calls = %v", syncer.calls)
	}
	for _, r := range syncer.roles {
		if r != protocol.RoleUser {
			t.Errorf("role = %q, want user", r)
		}
	}
}

func TestRetryPendingNothingToDo(t *testing.T) {
	syncer := &fakeSyncer{}
	s := NewScheduler(config.DefaultConfig(), fakePending{}, syncer)
	s.RetryPending(context.Background())

	s = NewScheduler(config.DefaultConfig(), fakePending{err: errors.New("db locked")}, syncer)
	s.RetryPending(context.Background())

	if len(syncer.calls) != 0 {
		t.Errorf("calls = %v", syncer.calls)
	}
}

func TestRetryPendingInvalidRole(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Sync.DefaultRole = "root"
	syncer := &fakeSyncer{}
	s := NewScheduler(cfg, fakePending{ids: []string{"a"}}, syncer)
	s.RetryPending(context.Background())
	if len(syncer.calls) != 0 {
		t.Errorf("sync ran with an invalid role: %v", syncer.calls)
	}
}

func TestRetryPendingStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	syncer := &fakeSyncer{}
	s := NewScheduler(config.DefaultConfig(), fakePending{ids: []string{"a", "b"}}, syncer)
	s.RetryPending(ctx)
	if len(syncer.calls) != 0 {
		t.Errorf("calls after cancel = %v", syncer.calls)
	}
}
