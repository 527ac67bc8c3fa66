package protocol

import "testing"

type recordingSettler struct {
	calls  int
	values []any
}

func (s *recordingSettler) Settle(v any) {
	s.calls++
	s.values = append(s.values, v)
}

func (s *recordingSettler) last() any {
	if len(s.values) == 0 {
		return "<unset>"
	}
	return s.values[len(s.values)-1]
}

func TestRouterSettlesReplies(t *testing.T) {
	cases := []struct {
		name string
		cmd  Command
		want any
	}{
		{"pong", Texts("network", "pong"), true},
		{"registration accepted", Texts("network", "registration", "accepted"), RegistrationAccepted},
		{"registration blocked", Texts("network", "registration", "accepted_block"), RegistrationAcceptedBlocked},
		{"registration other", Texts("network", "registration", "denied"), RegistrationRejected},
		{"registration possible", Texts("network", "isRegistrationPossible", "yes"), true},
		{"registration impossible", Texts("network", "isRegistrationPossible", "no"), false},
		{"contents", Texts("contents", "put", `{"a":1}`), `{"a":1}`},
		{"media id", Texts("media", "put", "42"), 42},
		{"media bad id", Texts("media", "put", "x"), nil},
		{"media missing id", Texts("media", "put"), nil},
		{"unknown", Texts("weather", "rain"), nil},
		{"too short", Texts("network"), nil},
		{"error sentinel", InterpretationError(), nil},
	}

	r := NewRouter(RouterHooks{})
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := &recordingSettler{}
			r.Route("10.0.0.1", tc.cmd, s)
			if s.calls != 1 {
				t.Fatalf("settled %d times, want 1", s.calls)
			}
			if s.last() != tc.want {
				t.Errorf("settled with %v (%T), want %v (%T)", s.last(), s.last(), tc.want, tc.want)
			}
		})
	}
}

func TestRouterPushHooks(t *testing.T) {
	var pings, blocks, unblocks []string
	r := NewRouter(RouterHooks{
		OnPing:    func(a string) { pings = append(pings, a) },
		OnBlock:   func(a string) { blocks = append(blocks, a) },
		OnUnblock: func(a string) { unblocks = append(unblocks, a) },
	})

	s := &recordingSettler{}
	r.Route("p1", Texts("network", "ping"), s)
	r.Route("p1", Texts("system", "block"), s)
	r.Route("p2", Texts("system", "unblock"), s)

	if s.calls != 0 {
		t.Errorf("push commands must not settle the pending request, got %d", s.calls)
	}
	if len(pings) != 1 || len(blocks) != 1 || len(unblocks) != 1 || unblocks[0] != "p2" {
		t.Errorf("hooks: pings=%v blocks=%v unblocks=%v", pings, blocks, unblocks)
	}
}

func TestRouterNilPending(t *testing.T) {
	r := NewRouter(RouterHooks{})
	r.Route("p1", Texts("network", "pong"), nil)
	r.Route("p1", InterpretationError(), nil)
}
