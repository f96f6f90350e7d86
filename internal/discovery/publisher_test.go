package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/purrsong-bridge/internal/account"
	"github.com/nerrad567/purrsong-bridge/internal/coordinator"
	"github.com/nerrad567/purrsong-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/purrsong-bridge/internal/lavviebot"
	"github.com/nerrad567/purrsong-bridge/internal/projection"
	"github.com/nerrad567/purrsong-bridge/internal/snapshot"
)

type message struct {
	topic    string
	payload  string
	retained bool
}

// fakeTransport records publishes and can be told to fail.
type fakeTransport struct {
	mu       sync.Mutex
	messages []message
	retained map[string]string
	fail     error
	handlers map[string]mqtt.MessageHandler
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{retained: map[string]string{}, handlers: map[string]mqtt.MessageHandler{}}
}

func (f *fakeTransport) Publish(topic string, payload []byte, _ byte, retained bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.messages = append(f.messages, message{topic: topic, payload: string(payload), retained: retained})
	if retained {
		f.retained[topic] = string(payload)
	}
	return nil
}

func (f *fakeTransport) Subscribe(topic string, _ byte, h mqtt.MessageHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[topic] = h
	return nil
}

func (f *fakeTransport) setFail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = err
}

func (f *fakeTransport) get(topic string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.retained[topic]
	return p, ok
}

func (f *fakeTransport) count(match func(string) bool) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, m := range f.messages {
		if match(m.topic) {
			n++
		}
	}
	return n
}

func (f *fakeTransport) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = nil
}

// fakeSession serves whatever the test last put in data, or err.
type fakeSession struct {
	mu   sync.Mutex
	data snapshot.Data
	err  error
}

func (s *fakeSession) FetchSnapshot(context.Context) (*snapshot.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return snapshot.New(s.data, time.Now()), nil
}

func (s *fakeSession) ClearToken()  {}
func (s *fakeSession) Close() error { return nil }

func (s *fakeSession) set(data snapshot.Data, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = data
	s.err = err
}

func testData(humidity float64, topStatus int) snapshot.Data {
	return snapshot.Data{
		LitterBoxes: map[string]snapshot.LitterBox{
			"lb1": {
				DeviceID:          "lb1",
				IoTCodeTail:       "A1B2",
				Name:              "Upstairs",
				CurrentFirmware:   "1.0.3",
				LatestFirmware:    "1.0.4",
				Humidity:          humidity,
				TopLitterStatus:   topStatus,
				WasteDrawerStatus: 2,
			},
		},
		Cats: map[string]snapshot.Cat{
			"c1": {CatID: "c1", Name: "Miso", WeightLbs: 9.5, UseCount: 3},
		},
	}
}

var testTopics = mqtt.Topics{Prefix: "purrsong", DiscoveryPrefix: "homeassistant"}

func newTestCoordinator(t *testing.T, sess *fakeSession) *coordinator.Coordinator {
	t.Helper()
	c, err := coordinator.New(coordinator.Options{
		Credentials: lavviebot.Credentials{Email: "cat@example.com", Password: "pw"},
		NewSession:  func(lavviebot.Credentials) (lavviebot.Session, error) { return sess, nil },
		Interval:    time.Hour,
	})
	if err != nil {
		t.Fatalf("coordinator.New() error = %v", err)
	}
	if err := c.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	t.Cleanup(func() { c.Close() }) //nolint:errcheck // Test cleanup
	return c
}

func testEntry() account.Entry {
	return account.Entry{ID: "e1", Version: account.CurrentVersion, Title: account.DefaultTitle, State: account.StateLoaded}
}

func attach(t *testing.T) (*Publisher, *fakeTransport, *fakeSession, *coordinator.Coordinator) {
	t.Helper()
	sess := &fakeSession{data: testData(48.5, 2)}
	coord := newTestCoordinator(t, sess)
	tr := newFakeTransport()
	p := NewPublisher(tr, Options{Topics: testTopics, QoS: 1, Version: "test"})
	p.Attach(testEntry(), coord)
	return p, tr, sess, coord
}

func statusOf(t *testing.T, tr *fakeTransport) Status {
	t.Helper()
	raw, ok := tr.get("purrsong/e1/status")
	if !ok {
		t.Fatal("no status published")
	}
	var s Status
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		t.Fatalf("status payload %q: %v", raw, err)
	}
	return s
}

func TestPublisher_AttachPublishesEverything(t *testing.T) {
	_, tr, _, _ := attach(t)

	entityCount := 0
	for _, d := range projection.Catalogue {
		if d.Kind == snapshot.KindLitterBox || d.Kind == snapshot.KindCat {
			entityCount++
		}
	}
	configs := tr.count(func(topic string) bool { return strings.HasSuffix(topic, "/config") })
	if configs != entityCount {
		t.Errorf("published %d configs, want %d", configs, entityCount)
	}

	raw, ok := tr.get("homeassistant/sensor/lb1_humidity/config")
	if !ok {
		t.Fatal("humidity config not published")
	}
	var cfg map[string]any
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		t.Fatalf("config payload: %v", err)
	}
	checks := map[string]any{
		"unique_id":           "lb1_humidity",
		"state_topic":         "purrsong/e1/lb1/humidity",
		"availability_topic":  "purrsong/e1/availability",
		"unit_of_measurement": "%",
		"device_class":        "humidity",
	}
	for k, want := range checks {
		if cfg[k] != want {
			t.Errorf("config[%s] = %v, want %v", k, cfg[k], want)
		}
	}
	device, _ := cfg["device"].(map[string]any)
	if device["manufacturer"] != "PurrSong" || device["model"] != "Lavviebot S" {
		t.Errorf("config device = %v", device)
	}

	binRaw, _ := tr.get("homeassistant/binary_sensor/lb1_storage_refill_needed/config")
	if !strings.Contains(binRaw, `"payload_on":"ON"`) {
		t.Errorf("binary sensor config missing payload_on: %s", binRaw)
	}

	states := map[string]string{
		"purrsong/e1/lb1/humidity":              "48.5",
		"purrsong/e1/lb1/storage_refill_needed": "OFF",
		"purrsong/e1/c1/weight":                 "9.5",
		"purrsong/e1/c1/litter_box_use_count":   "3",
		"purrsong/e1/availability":              PayloadOnline,
	}
	for topic, want := range states {
		if got, _ := tr.get(topic); got != want {
			t.Errorf("%s = %q, want %q", topic, got, want)
		}
	}

	update, _ := tr.get("purrsong/e1/lb1/firmware_update")
	if update != `{"installed_version":"1.0.3","latest_version":"1.0.4"}` {
		t.Errorf("firmware update state = %s", update)
	}

	if s := statusOf(t, tr); s.State != account.StateLoaded || s.Devices != 2 {
		t.Errorf("status = %+v", s)
	}
}

func TestPublisher_OnlyChangedStatesRepublished(t *testing.T) {
	_, tr, sess, coord := attach(t)
	ctx := context.Background()
	isEntity := func(topic string) bool {
		return strings.HasPrefix(topic, "purrsong/e1/lb1/") || strings.HasPrefix(topic, "purrsong/e1/c1/") ||
			strings.HasSuffix(topic, "/config")
	}

	tr.reset()
	if _, err := coord.Refresh(ctx); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if n := tr.count(isEntity); n != 0 {
		t.Errorf("unchanged snapshot republished %d entity messages", n)
	}

	tr.reset()
	sess.set(testData(51, 2), nil)
	if _, err := coord.Refresh(ctx); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if n := tr.count(isEntity); n != 1 {
		t.Errorf("one changed value published %d entity messages, want 1", n)
	}
	if got, _ := tr.get("purrsong/e1/lb1/humidity"); got != "51" {
		t.Errorf("humidity = %q, want 51", got)
	}
}

func TestPublisher_StateDependentIconRepublishesConfig(t *testing.T) {
	_, tr, sess, coord := attach(t)

	tr.reset()
	sess.set(testData(48.5, 0), nil)
	if _, err := coord.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	raw, _ := tr.get("homeassistant/binary_sensor/lb1_storage_refill_needed/config")
	if !strings.Contains(raw, "mdi:alert-octagram") {
		t.Errorf("config icon not updated: %s", raw)
	}
	if got, _ := tr.get("purrsong/e1/lb1/storage_refill_needed"); got != "ON" {
		t.Errorf("storage_refill_needed = %q, want ON", got)
	}
}

func TestPublisher_TransportFailureGoesOfflineKeepsStates(t *testing.T) {
	_, tr, sess, coord := attach(t)
	ctx := context.Background()

	sess.set(snapshot.Data{}, fmt.Errorf("%w: timeout", lavviebot.ErrTransport))
	if _, err := coord.Refresh(ctx); !errors.Is(err, coordinator.ErrUpdateFailed) {
		t.Fatalf("Refresh() error = %v, want ErrUpdateFailed", err)
	}

	if got, _ := tr.get("purrsong/e1/availability"); got != PayloadOffline {
		t.Errorf("availability = %q, want offline", got)
	}
	if got, _ := tr.get("purrsong/e1/lb1/humidity"); got != "48.5" {
		t.Errorf("humidity = %q, want last value 48.5", got)
	}
	s := statusOf(t, tr)
	if s.FailureKind != coordinator.FailureTransport || s.State != account.StateLoaded {
		t.Errorf("status = %+v", s)
	}

	sess.set(testData(48.5, 2), nil)
	if _, err := coord.Refresh(ctx); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if got, _ := tr.get("purrsong/e1/availability"); got != PayloadOnline {
		t.Errorf("availability after recovery = %q, want online", got)
	}
	if s := statusOf(t, tr); s.FailureKind != "" {
		t.Errorf("failure kind after recovery = %q", s.FailureKind)
	}
}

func TestPublisher_AuthFailureReportsReauth(t *testing.T) {
	_, tr, sess, coord := attach(t)

	sess.set(snapshot.Data{}, fmt.Errorf("%w: 401", lavviebot.ErrAuth))
	if _, err := coord.Refresh(context.Background()); !errors.Is(err, coordinator.ErrAuthFailed) {
		t.Fatalf("Refresh() error = %v, want ErrAuthFailed", err)
	}

	if got, _ := tr.get("purrsong/e1/availability"); got != PayloadOffline {
		t.Errorf("availability = %q, want offline", got)
	}
	if s := statusOf(t, tr); s.State != account.StateReauthRequired || s.FailureKind != coordinator.FailureAuth {
		t.Errorf("status = %+v", s)
	}
}

func TestPublisher_Detach(t *testing.T) {
	p, tr, sess, coord := attach(t)

	p.Detach("e1")
	if got, _ := tr.get("purrsong/e1/availability"); got != PayloadOffline {
		t.Errorf("availability = %q, want offline", got)
	}

	tr.reset()
	sess.set(testData(60, 2), nil)
	if _, err := coord.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if n := tr.count(func(string) bool { return true }); n != 0 {
		t.Errorf("detached account published %d messages", n)
	}

	// Detaching twice is harmless.
	p.Detach("e1")
}

func TestPublisher_AccountStateForUnattachedEntry(t *testing.T) {
	tr := newFakeTransport()
	p := NewPublisher(tr, Options{Topics: testTopics})

	e := testEntry()
	e.State = account.StateReauthRequired
	e.LastError = "invalid credentials"
	p.AccountState(e)

	if got, _ := tr.get("purrsong/e1/availability"); got != PayloadOffline {
		t.Errorf("availability = %q, want offline", got)
	}
	if s := statusOf(t, tr); s.State != account.StateReauthRequired || s.Error != "invalid credentials" {
		t.Errorf("status = %+v", s)
	}
}

func TestPublisher_RepublishOnHomeAssistantBirth(t *testing.T) {
	p, tr, _, _ := attach(t)
	if err := p.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	tr.mu.Lock()
	handler := tr.handlers["homeassistant/status"]
	tr.mu.Unlock()
	if handler == nil {
		t.Fatal("no subscription to homeassistant/status")
	}

	tr.reset()
	if err := handler("homeassistant/status", []byte("offline")); err != nil {
		t.Fatalf("handler error = %v", err)
	}
	if n := tr.count(func(string) bool { return true }); n != 0 {
		t.Errorf("offline birth message triggered %d publishes", n)
	}

	if err := handler("homeassistant/status", []byte("online")); err != nil {
		t.Fatalf("handler error = %v", err)
	}
	if tr.count(func(topic string) bool { return strings.HasSuffix(topic, "/config") }) == 0 {
		t.Error("configs not republished")
	}
	if tr.count(func(topic string) bool { return topic == "purrsong/e1/availability" }) != 1 {
		t.Error("availability not republished")
	}
}

func TestPublisher_FailedPublishRetried(t *testing.T) {
	sess := &fakeSession{data: testData(48.5, 2)}
	coord := newTestCoordinator(t, sess)
	tr := newFakeTransport()
	tr.setFail(mqtt.ErrNotConnected)

	p := NewPublisher(tr, Options{Topics: testTopics})
	p.Attach(testEntry(), coord)

	tr.setFail(nil)
	if _, err := coord.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if got, ok := tr.get("purrsong/e1/lb1/humidity"); !ok || got != "48.5" {
		t.Errorf("humidity = %q, %v; want retried publish", got, ok)
	}
	if _, ok := tr.get("homeassistant/sensor/lb1_humidity/config"); !ok {
		t.Error("config not retried")
	}
}

func TestEncodeState(t *testing.T) {
	when := time.Date(2026, 10, 1, 8, 30, 0, 0, time.UTC)
	tests := []struct {
		name string
		v    any
		ok   bool
		want string
	}{
		{"missing", nil, false, "None"},
		{"nil value", nil, true, "None"},
		{"true", true, true, "ON"},
		{"false", false, true, "OFF"},
		{"float", 12.25, true, "12.25"},
		{"whole float", 12.0, true, "12"},
		{"int", 4, true, "4"},
		{"string", "Bentonite", true, "Bentonite"},
		{"time", when, true, "2026-10-01T08:30:00Z"},
		{"update", projection.UpdateState{InstalledVersion: "1", LatestVersion: "2"}, true,
			`{"installed_version":"1","latest_version":"2"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := string(encodeState(tt.v, tt.ok)); got != tt.want {
				t.Errorf("encodeState() = %q, want %q", got, tt.want)
			}
		})
	}
}
