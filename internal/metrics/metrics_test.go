package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHandlerExposesCollectors(t *testing.T) {
	m := New()
	m.SetOpenConnections(3)
	m.ObserveRequest("network/ping", "reply", 20*time.Millisecond)
	m.ObserveRequest("network/ping", "timeout", 3*time.Second)
	m.IncDecodeErrors()
	m.AddMediaBytes(1024)
	m.ObserveSync(true, 2*time.Second)
	m.IncHealthCheck("Online")
	m.IncHTTPRequests()
	m.IncHTTPErrors()

	refreshed := false
	srv := httptest.NewServer(m.Handler(func() { refreshed = true }))
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("GET metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	text := string(body)

	if !refreshed {
		t.Error("updateGauges was not called before the scrape")
	}
	for _, want := range []string{
		"stationsync_open_connections 3",
		`stationsync_player_requests_total{command="network/ping",outcome="reply"} 1`,
		`stationsync_player_requests_total{command="network/ping",outcome="timeout"} 1`,
		"stationsync_decode_errors_total 1",
		"stationsync_media_bytes_sent_total 1024",
		`stationsync_station_syncs_total{result="success"} 1`,
		`stationsync_health_checks_total{status="Online"} 1`,
		"stationsync_http_errors_total 1",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
