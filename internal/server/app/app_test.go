package app

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"myhook/internal/server/config"
	"myhook/internal/server/web"
	"myhook/internal/shared/protocol"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Server.HTTPAddr = "127.0.0.1:0"
	cfg.Server.MetricsAddr = "127.0.0.1:0"
	cfg.Server.MainDomain = "example.com"
	cfg.Tunnel.TokenDelay = 0
	return cfg
}

func startApp(t *testing.T, cfg *config.Config) *App {
	t.Helper()
	a, err := New(cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(a.Shutdown)
	return a
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

func TestAppServes(t *testing.T) {
	a := startApp(t, testConfig())
	base := "http://" + a.Addr("http").String()
	metricsBase := "http://" + a.Addr("metrics").String()

	status, body := get(t, base+web.StatsPath)
	if status != http.StatusOK {
		t.Fatalf("stats status = %d", status)
	}
	var st web.Stats
	if err := json.Unmarshal([]byte(body), &st); err != nil {
		t.Fatalf("stats body %q: %v", body, err)
	}

	if status, _ := get(t, metricsBase+"/readyz"); status != http.StatusOK {
		t.Errorf("readyz = %d, want 200", status)
	}
	if _, body := get(t, metricsBase+"/metrics"); !strings.Contains(body, "myhook_active_tunnels") {
		t.Error("metrics output missing myhook_active_tunnels")
	}
}

func TestAppShutdownAnswersPendingCallers(t *testing.T) {
	a := startApp(t, testConfig())
	addr := a.Addr("http").String()

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/tunnel", nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	msg, _ := protocol.JSONCodec{}.Decode(data)
	var url string
	msg.Bind(&url)
	sub := strings.TrimPrefix(url, "http://")
	sub = sub[:strings.Index(sub, ".")]

	type answer struct {
		status int
		err    error
	}
	done := make(chan answer, 1)
	go func() {
		req, _ := http.NewRequest(http.MethodGet, "http://"+addr+"/slow", nil)
		req.Host = sub + ".example.com"
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			done <- answer{err: err}
			return
		}
		resp.Body.Close()
		done <- answer{status: resp.StatusCode}
	}()

	deadline := time.Now().Add(3 * time.Second)
	for a.correlator.Pending() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("request never became pending")
		}
		time.Sleep(10 * time.Millisecond)
	}

	a.Shutdown()

	select {
	case ans := <-done:
		if ans.err != nil {
			t.Fatalf("caller error = %v", ans.err)
		}
		if ans.status != http.StatusServiceUnavailable {
			t.Errorf("status = %d, want 503", ans.status)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("caller left hanging after shutdown")
	}
	if a.registry.Count() != 0 {
		t.Errorf("Count() = %d after shutdown", a.registry.Count())
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	a, err := New(testConfig(), zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- a.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}

func TestStartFailsOnBusyPort(t *testing.T) {
	first := startApp(t, testConfig())

	cfg := testConfig()
	cfg.Server.HTTPAddr = first.Addr("http").String()
	second, err := New(cfg, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	defer second.Shutdown()
	if err := second.Start(context.Background()); err == nil {
		t.Fatal("Start() on a busy port succeeded")
	}
}
