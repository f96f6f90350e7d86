package lavviebot

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

const devicesBody = `{
  "litterboxes": [{
    "device_id": "lb-1",
    "iot_code_tail": "A1B2",
    "device_name": "Hallway",
    "current_firmware": "1.2.0",
    "latest_firmware": "1.3.0",
    "humidity": 41.5,
    "temperature_c": 22.1,
    "top_litter_status": 0,
    "waste_drawer_status": 2,
    "last_seen": "2026-10-16T08:00:00Z",
    "last_used": "",
    "error_log": [{"error_code": "E07", "error_message": "drawer open", "created_at": "2026-10-15T20:00:00Z"}]
  }],
  "lavvie_scanners": [{"device_id": "sc-1", "wifi_status": true, "last_seen": null}],
  "lavvie_tags": [],
  "cats": [{"cat_id": "cat-1", "cat_name": "Miso", "cat_weight_pnds": 9.44, "poop_count": 3}]
}`

// fakeCloud is a scripted PurrSong cloud.
type fakeCloud struct {
	mu            sync.Mutex
	password      string
	validToken    string
	loginStatus   int
	devicesStatus []int // consumed per devices call; empty means 200
	devices       string
	logins        int
	fetches       int
	lastAuth      string
}

func newFakeCloud() *fakeCloud {
	return &fakeCloud{password: "secret", validToken: "tok-1", devices: devicesBody}
}

func (f *fakeCloud) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch r.URL.Path {
	case loginPath:
		f.logins++
		if f.loginStatus != 0 {
			w.WriteHeader(f.loginStatus)
			return
		}
		var req loginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Password != f.password {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(loginResponse{Token: f.validToken, UserID: "user-42"}) //nolint:errcheck // test server
	case devicesPath:
		f.fetches++
		f.lastAuth = r.Header.Get("Authorization")
		if len(f.devicesStatus) > 0 {
			status := f.devicesStatus[0]
			f.devicesStatus = f.devicesStatus[1:]
			if status != http.StatusOK {
				w.WriteHeader(status)
				return
			}
		}
		if f.lastAuth != "Bearer "+f.validToken {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(f.devices)) //nolint:errcheck // test server
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeCloud) loginCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.logins
}

func (f *fakeCloud) lastAuthorization() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastAuth
}

func newTestClient(t *testing.T, cloud *fakeCloud, password string) *Client {
	t.Helper()
	srv := httptest.NewServer(cloud)
	t.Cleanup(srv.Close)
	c := NewClient(Credentials{Email: "owner@example.com", Password: password}, Options{
		BaseURL: srv.URL,
		Timeout: 2 * time.Second,
	})
	t.Cleanup(func() { c.Close() }) //nolint:errcheck // test cleanup
	return c
}

func TestFetchSnapshot_DecodesDevices(t *testing.T) {
	cloud := newFakeCloud()
	c := newTestClient(t, cloud, "secret")

	snap, err := c.FetchSnapshot(context.Background())
	if err != nil {
		t.Fatalf("FetchSnapshot() error = %v", err)
	}

	lb, ok := snap.LitterBox("lb-1")
	if !ok {
		t.Fatal("litter box lb-1 missing")
	}
	if lb.Name != "Hallway" || lb.IoTCodeTail != "A1B2" || lb.Humidity != 41.5 {
		t.Errorf("litter box decoded wrong: %+v", lb)
	}
	if !lb.LastSeen.Equal(time.Date(2026, 10, 16, 8, 0, 0, 0, time.UTC)) {
		t.Errorf("LastSeen = %v", lb.LastSeen)
	}
	if !lb.LastUsed.IsZero() {
		t.Errorf("empty last_used should decode to zero time, got %v", lb.LastUsed)
	}
	if len(lb.ErrorLog) != 1 || lb.ErrorLog[0].Code != "E07" {
		t.Errorf("ErrorLog = %+v", lb.ErrorLog)
	}

	cat, ok := snap.Cat("cat-1")
	if !ok || cat.Name != "Miso" || cat.UseCount != 3 {
		t.Errorf("cat decoded wrong: %+v", cat)
	}
	if snap.DeviceCount() != 3 {
		t.Errorf("DeviceCount() = %d, want 3", snap.DeviceCount())
	}
}

func TestFetchSnapshot_ReusesToken(t *testing.T) {
	cloud := newFakeCloud()
	c := newTestClient(t, cloud, "secret")

	for i := 0; i < 3; i++ {
		if _, err := c.FetchSnapshot(context.Background()); err != nil {
			t.Fatalf("FetchSnapshot() #%d error = %v", i, err)
		}
	}
	if n := cloud.loginCount(); n != 1 {
		t.Errorf("logins = %d, want 1", n)
	}
	if got := cloud.lastAuthorization(); got != "Bearer tok-1" {
		t.Errorf("Authorization = %q", got)
	}
}

func TestFetchSnapshot_ExpiredTokenReloginOnce(t *testing.T) {
	cloud := newFakeCloud()
	c := newTestClient(t, cloud, "secret")

	if _, err := c.FetchSnapshot(context.Background()); err != nil {
		t.Fatalf("warm-up FetchSnapshot() error = %v", err)
	}

	// Server rotates its token; the cached one now gets 401.
	cloud.mu.Lock()
	cloud.validToken = "tok-2"
	cloud.mu.Unlock()

	if _, err := c.FetchSnapshot(context.Background()); err != nil {
		t.Fatalf("FetchSnapshot() after rotation error = %v", err)
	}
	if n := cloud.loginCount(); n != 2 {
		t.Errorf("logins = %d, want 2", n)
	}
}

func TestFetchSnapshot_ErrorClassification(t *testing.T) {
	tests := []struct {
		name     string
		password string
		login    int
		devices  []int
		body     string
		want     error
	}{
		{name: "bad password", password: "wrong", want: ErrAuth},
		{name: "login forbidden", password: "secret", login: http.StatusForbidden, want: ErrAuth},
		{name: "rate limited", password: "secret", devices: []int{http.StatusTooManyRequests}, want: ErrRateLimit},
		{name: "login rate limited", password: "secret", login: http.StatusTooManyRequests, want: ErrRateLimit},
		{name: "server error", password: "secret", devices: []int{http.StatusBadGateway}, want: ErrTransport},
		{name: "malformed body", password: "secret", body: "{not json", want: ErrTransport},
		{name: "fresh token rejected", password: "secret", devices: []int{http.StatusUnauthorized}, want: ErrAuth},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cloud := newFakeCloud()
			cloud.loginStatus = tt.login
			cloud.devicesStatus = tt.devices
			if tt.body != "" {
				cloud.devices = tt.body
			}
			c := newTestClient(t, cloud, tt.password)

			_, err := c.FetchSnapshot(context.Background())
			if !errors.Is(err, tt.want) {
				t.Errorf("FetchSnapshot() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestFetchSnapshot_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c := NewClient(Credentials{Email: "a@b.c", Password: "x"}, Options{BaseURL: srv.URL, Timeout: 50 * time.Millisecond})
	defer c.Close() //nolint:errcheck // test cleanup

	_, err := c.FetchSnapshot(context.Background())
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("error = %v, want ErrTransport", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want wrapped DeadlineExceeded", err)
	}
}

func TestClose(t *testing.T) {
	cloud := newFakeCloud()
	c := newTestClient(t, cloud, "secret")

	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}

	_, err := c.FetchSnapshot(context.Background())
	if !errors.Is(err, ErrSessionClosed) || !errors.Is(err, ErrTransport) {
		t.Errorf("FetchSnapshot() after Close error = %v, want ErrSessionClosed+ErrTransport", err)
	}
	if cloud.loginCount() != 0 {
		t.Errorf("closed client contacted the cloud")
	}
}

func TestClearToken_ForcesLogin(t *testing.T) {
	cloud := newFakeCloud()
	c := newTestClient(t, cloud, "secret")

	if _, err := c.FetchSnapshot(context.Background()); err != nil {
		t.Fatalf("FetchSnapshot() error = %v", err)
	}
	c.ClearToken()
	if _, err := c.FetchSnapshot(context.Background()); err != nil {
		t.Fatalf("FetchSnapshot() error = %v", err)
	}
	if n := cloud.loginCount(); n != 2 {
		t.Errorf("logins = %d, want 2", n)
	}
}
