package relay

import (
	"encoding/json"
	"io"
	"log"
	"math"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"promptrelay/envelope"
)

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func newTestServer(t *testing.T, cfg Config) *Server {
	t.Helper()
	if cfg.Logger == nil {
		cfg.Logger = quietLogger()
	}
	return New(cfg)
}

// candidateBody builds a wire body carrying userText the way the upstream
// client encodes it.
func candidateBody(userText string) string {
	inner, _ := json.Marshal([][]string{{userText}})
	outer, _ := json.Marshal([]any{nil, string(inner)})
	return envelope.PayloadPrefix + envelope.Encode(string(outer)) + "&at=tok"
}

func decodedField(t *testing.T, body string) string {
	t.Helper()
	decoded := envelope.Decode(body)
	i := strings.Index(decoded, "]&")
	if i < 0 {
		t.Fatalf("no delimiter in %q", decoded)
	}
	clean := strings.TrimPrefix(decoded[:i+1], envelope.PayloadPrefix)
	var outer []any
	if err := json.Unmarshal([]byte(clean), &outer); err != nil {
		t.Fatalf("outer parse: %v", err)
	}
	var inner [][]string
	if err := json.Unmarshal([]byte(outer[1].(string)), &inner); err != nil {
		t.Fatalf("inner parse: %v", err)
	}
	return inner[0][0]
}

func postRewrite(t *testing.T, s *Server, body string) *httptest.ResponseRecorder {
	t.Helper()
	r := httptest.NewRequest(http.MethodPost, "http://promptrelay/rewrite", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded;charset=UTF-8")
	w := httptest.NewRecorder()
	s.ServeHTTP(w, r)
	return w
}

func TestRewriteInjects(t *testing.T) {
	s := newTestServer(t, Config{})
	w := postRewrite(t, s, candidateBody("hello"))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if got := w.Header().Get(outcomeHeader); got != "injected" {
		t.Fatalf("outcome = %q, want injected", got)
	}
	field := decodedField(t, w.Body.String())
	if !strings.HasPrefix(field, injectionMarker) {
		t.Fatalf("field missing marker: %q", field)
	}
	if !strings.HasSuffix(field, "\n[USER MESSAGE]:\nhello") {
		t.Fatalf("user text lost: %q", field)
	}
	if !strings.HasSuffix(w.Body.String(), "&at=tok") {
		t.Fatalf("trailer lost: %q", w.Body.String())
	}
}

func TestRewriteNotCandidate(t *testing.T) {
	s := newTestServer(t, Config{})
	body := "q=hello&lang=en"
	w := postRewrite(t, s, body)
	if got := w.Header().Get(outcomeHeader); got != "not-candidate" {
		t.Fatalf("outcome = %q, want not-candidate", got)
	}
	if w.Body.String() != body {
		t.Fatalf("non-candidate body changed: %q", w.Body.String())
	}
}

func TestRewriteBinaryPassesThrough(t *testing.T) {
	s := newTestServer(t, Config{})
	body := "f.req=\x00binary"
	w := postRewrite(t, s, body)
	if got := w.Header().Get(outcomeHeader); got != "not-candidate" {
		t.Fatalf("outcome = %q, want not-candidate", got)
	}
	if w.Body.String() != body {
		t.Fatalf("binary body changed")
	}
}

func TestRewriteMalformedFailsOpen(t *testing.T) {
	s := newTestServer(t, Config{})
	body := envelope.PayloadPrefix + envelope.Encode(`[null,`) + "]&at=tok"
	w := postRewrite(t, s, body)
	if got := w.Header().Get(outcomeHeader); got != "skipped-unparseable" {
		t.Fatalf("outcome = %q, want skipped-unparseable", got)
	}
	if w.Body.String() != body {
		t.Fatalf("malformed body changed: %q", w.Body.String())
	}
}

func TestRewriteFirstMessageOnlyLatch(t *testing.T) {
	s := newTestServer(t, Config{})
	if err := s.settings.Update(Settings{Mode: "first"}); err != nil {
		t.Fatalf("update settings: %v", err)
	}
	first := postRewrite(t, s, candidateBody("hello"))
	if got := first.Header().Get(outcomeHeader); got != "injected" {
		t.Fatalf("first outcome = %q, want injected", got)
	}
	second := postRewrite(t, s, candidateBody("again"))
	if got := second.Header().Get(outcomeHeader); got != "disabled" {
		t.Fatalf("second outcome = %q, want disabled", got)
	}
	if field := decodedField(t, second.Body.String()); field != "again" {
		t.Fatalf("latched session modified field: %q", field)
	}
}

func TestRewriteRetryIsIdempotent(t *testing.T) {
	s := newTestServer(t, Config{})
	first := postRewrite(t, s, candidateBody("hello"))
	second := postRewrite(t, s, first.Body.String())
	if got := second.Header().Get(outcomeHeader); got != "skipped-duplicate" {
		t.Fatalf("retry outcome = %q, want skipped-duplicate", got)
	}
	if second.Body.String() != first.Body.String() {
		t.Fatalf("retry changed the body")
	}
}

func TestOversizePayloadDisablesInjection(t *testing.T) {
	s := newTestServer(t, Config{})
	if err := s.settings.Update(Settings{Instructions: strings.Repeat("a", 9000)}); err != nil {
		t.Fatalf("update settings: %v", err)
	}
	body := candidateBody("hello")
	w := postRewrite(t, s, body)
	if got := w.Header().Get(outcomeHeader); got != "disabled" {
		t.Fatalf("outcome = %q, want disabled", got)
	}
	if w.Body.String() != body {
		t.Fatalf("disabled call changed the body")
	}
}

func TestForwardRewritesAndRelays(t *testing.T) {
	var got string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		got = string(b)
		w.Header().Set("X-Upstream", "1")
		w.WriteHeader(http.StatusAccepted)
		io.WriteString(w, "done")
	}))
	defer upstream.Close()
	u, _ := url.Parse(upstream.URL)

	s := newTestServer(t, Config{AllowedHosts: []string{u.Hostname()}})
	r := httptest.NewRequest(http.MethodPost, "http://promptrelay/forward?url="+url.QueryEscape(upstream.URL), strings.NewReader(candidateBody("hello")))
	w := httptest.NewRecorder()
	s.ServeHTTP(w, r)

	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %q", w.Code, w.Body.String())
	}
	if w.Header().Get("X-Upstream") != "1" {
		t.Fatalf("upstream header not relayed")
	}
	if w.Body.String() != "done" {
		t.Fatalf("upstream body not relayed: %q", w.Body.String())
	}
	if field := decodedField(t, got); !strings.HasPrefix(field, injectionMarker) {
		t.Fatalf("upstream received uninjected field: %q", field)
	}
}

func TestForwardRejectsUnlistedHost(t *testing.T) {
	s := newTestServer(t, Config{AllowedHosts: []string{"gemini.google.com"}})
	r := httptest.NewRequest(http.MethodPost, "http://promptrelay/forward?url=http://evil.example/x", strings.NewReader("f.req=x"))
	w := httptest.NewRecorder()
	s.ServeHTTP(w, r)
	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", w.Code)
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	s := newTestServer(t, Config{})

	r := httptest.NewRequest(http.MethodGet, "http://promptrelay/settings", nil)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, r)
	var st Settings
	if err := json.Unmarshal(w.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.MaxInstructionSize != defaultMaxInstructionSize || st.HardLimit != defaultHardLimit {
		t.Fatalf("defaults not applied: %+v", st)
	}

	update := `{"instructions":"be brief","context":"notes","mode":"first"}`
	r = httptest.NewRequest(http.MethodPost, "http://promptrelay/settings", strings.NewReader(update))
	w = httptest.NewRecorder()
	s.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("update status = %d", w.Code)
	}

	r = httptest.NewRequest(http.MethodGet, "http://promptrelay/settings", nil)
	w = httptest.NewRecorder()
	s.ServeHTTP(w, r)
	if err := json.Unmarshal(w.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.Instructions != "be brief" || st.Context != "notes" || st.Mode != "first" {
		t.Fatalf("settings not stored: %+v", st)
	}
}

func TestTranscriptEndpoint(t *testing.T) {
	s := newTestServer(t, Config{})
	req := `{"title":"Chat","blocks":[{"role":"user","text":"hi"},{"role":"model","text":"hello"}]}`
	r := httptest.NewRequest(http.MethodPost, "http://promptrelay/transcript", strings.NewReader(req))
	w := httptest.NewRecorder()
	s.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	out := w.Body.String()
	for _, want := range []string{"# Chat", "**User:**\nhi", "**Model:**\nhello"} {
		if !strings.Contains(out, want) {
			t.Fatalf("transcript missing %q:\n%s", want, out)
		}
	}
}

func TestStyleEndpoint(t *testing.T) {
	s := newTestServer(t, Config{})
	r := httptest.NewRequest(http.MethodPost, "http://promptrelay/style?scope=host", strings.NewReader("p { color: red }"))
	w := httptest.NewRecorder()
	s.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), ".host p {") {
		t.Fatalf("selector not scoped: %q", w.Body.String())
	}
}

// walkMotionJSON synthesizes device-motion samples for a steady walk: a
// sinusoidal magnitude at stepHz sampled at 50 Hz over the given duration.
func walkMotionJSON(t *testing.T, stepHz float64, dur time.Duration) string {
	t.Helper()
	var req motionRequest
	startMs := int64(1_700_000_000_000)
	n := int(dur.Seconds() * 50)
	for i := 0; i < n; i++ {
		sec := float64(i) / 50
		req.Samples = append(req.Samples, struct {
			AtMs      int64   `json:"at_ms"`
			Magnitude float64 `json:"magnitude"`
		}{
			AtMs:      startMs + int64(i*20),
			Magnitude: 9.8 + 3.0*math.Sin(2*math.Pi*stepHz*sec),
		})
	}
	b, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return string(b)
}

func TestMotionDrivesPlaybackRate(t *testing.T) {
	s := newTestServer(t, Config{})
	r := httptest.NewRequest(http.MethodPost, "http://promptrelay/motion", strings.NewReader(walkMotionJSON(t, 2.0, 10*time.Second)))
	w := httptest.NewRecorder()
	s.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %q", w.Code, w.Body.String())
	}
	var resp motionResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	// 2 Hz steps is 120 steps/min, the 1x baseline.
	if resp.StepsPerMinute < 100 || resp.StepsPerMinute > 140 {
		t.Fatalf("steps_per_minute = %.1f, want ~120", resp.StepsPerMinute)
	}
	if math.Abs(resp.PlaybackRate-resp.StepsPerMinute/120) > 1e-9 {
		t.Fatalf("playback_rate = %.3f for %.1f spm", resp.PlaybackRate, resp.StepsPerMinute)
	}
}

func TestMotionRejectsEmpty(t *testing.T) {
	s := newTestServer(t, Config{})
	r := httptest.NewRequest(http.MethodPost, "http://promptrelay/motion", strings.NewReader(`{"samples":[]}`))
	w := httptest.NewRecorder()
	s.ServeHTTP(w, r)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestScreenshotRejectsPost(t *testing.T) {
	s := newTestServer(t, Config{})
	r := httptest.NewRequest(http.MethodPost, "http://promptrelay/screenshot", nil)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, r)
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", w.Code)
	}
}

func TestControlWithoutController(t *testing.T) {
	s := newTestServer(t, Config{})
	r := httptest.NewRequest(http.MethodPost, "http://promptrelay/control?action=forward", nil)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, r)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
}

func TestPing(t *testing.T) {
	s := newTestServer(t, Config{})
	r := httptest.NewRequest(http.MethodGet, "http://promptrelay/ping", nil)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, r)
	if w.Body.String() != "pong\n" {
		t.Fatalf("ping = %q", w.Body.String())
	}
}
