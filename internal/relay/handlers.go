package relay

import (
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"promptrelay/envelope"
	"promptrelay/internal/control"
	"promptrelay/style"
	"promptrelay/transcript"
)

// hardReadLimit is a safety ceiling to avoid unbounded memory reads.
const hardReadLimit = 10 << 20

const outcomeHeader = "X-Promptrelay-Outcome"

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Content-Length", strconv.Itoa(len(s.cfg.IndexHTML)))
	io.WriteString(w, s.cfg.IndexHTML)
}

func (s *Server) handleRewrite(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, hardReadLimit))
	r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	out, outcome := s.rewrite(body)
	ct := firstNonEmpty(r.Header.Get("Content-Type"), "application/x-www-form-urlencoded;charset=UTF-8")
	w.Header().Set("Content-Type", ct)
	w.Header().Set(outcomeHeader, outcome)
	w.Header().Set("Content-Length", strconv.Itoa(len(out)))
	_, _ = w.Write(out)
}

// rewrite applies the applicability guard and, for candidate bodies, the
// transcoder. The returned body is always sendable.
func (s *Server) rewrite(body []byte) ([]byte, string) {
	if !isTextual(body) || !envelope.IsCandidate(string(body)) {
		return body, "not-candidate"
	}
	logBody(s.logger, "BODY", string(body))
	out, outcome := s.transcode(string(body))
	return []byte(out), outcome.String()
}

func (s *Server) handleForward(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	target := firstNonEmpty(r.URL.Query().Get("url"), r.Header.Get("X-Promptrelay-Target"))
	if target == "" {
		http.Error(w, "missing url", http.StatusBadRequest)
		return
	}
	u, err := url.Parse(target)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		http.Error(w, "bad url", http.StatusBadRequest)
		return
	}
	if !hostAllowed(u.Host, s.cfg.AllowedHosts) {
		http.Error(w, "host not allowed", http.StatusForbidden)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, hardReadLimit))
	r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	out, outcome := s.rewrite(body)

	req, err := http.NewRequestWithContext(r.Context(), http.MethodPost, u.String(), strings.NewReader(string(out)))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	copyHeader(req.Header, r.Header)
	stripHopHeaders(req.Header)
	req.Header.Del("X-Promptrelay-Target")
	req.Header.Del("Content-Length")
	req.ContentLength = int64(len(out))

	resp, err := s.client.Do(req)
	if err != nil {
		// The outgoing request must still complete from the client's view;
		// upstream unreachability is the one genuine gateway failure.
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()
	copyHeader(w.Header(), resp.Header)
	stripHopHeaders(w.Header())
	w.Header().Set(outcomeHeader, outcome)
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.writeSettings(w, s.settings.Current())
	case http.MethodPost, http.MethodPut:
		var st Settings
		if err := json.NewDecoder(io.LimitReader(r.Body, hardReadLimit)).Decode(&st); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := s.settings.Update(st); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		s.writeSettings(w, s.settings.Current())
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) writeSettings(w http.ResponseWriter, st Settings) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(st)
}

type transcriptRequest struct {
	Title         string            `json:"title,omitempty"`
	HTML          string            `json:"html,omitempty"`
	UserSelector  string            `json:"user_selector,omitempty"`
	ModelSelector string            `json:"model_selector,omitempty"`
	Blocks        []transcriptBlock `json:"blocks,omitempty"`
}

type transcriptBlock struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req transcriptRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, hardReadLimit)).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var blocks []transcript.Block
	if req.HTML != "" {
		sel := transcript.DefaultSelectors()
		if req.UserSelector != "" {
			sel.User = req.UserSelector
		}
		if req.ModelSelector != "" {
			sel.Model = req.ModelSelector
		}
		var err error
		blocks, err = transcript.Extract(strings.NewReader(req.HTML), sel)
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
	} else {
		for _, b := range req.Blocks {
			blocks = append(blocks, transcript.Block{Role: transcript.ParseRole(b.Role), Text: b.Text})
		}
	}
	out := transcript.Render(req.Title, blocks)
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.Header().Set("Content-Length", strconv.Itoa(len(out)))
	io.WriteString(w, out)
}

func (s *Server) handleStyle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, hardReadLimit))
	r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	scope := firstNonEmpty(r.URL.Query().Get("scope"), "promptrelay")
	out, err := style.Sanitize(string(body), scope)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	w.Header().Set("Content-Type", "text/css; charset=utf-8")
	w.Header().Set("Content-Length", strconv.Itoa(len(out)))
	io.WriteString(w, out)
}

func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.control == nil {
		http.Error(w, "controller not enabled", http.StatusServiceUnavailable)
		return
	}
	_ = r.ParseForm()
	action := firstNonEmpty(r.FormValue("action"), r.URL.Query().Get("action"))
	if action == "" {
		http.Error(w, "missing action", http.StatusBadRequest)
		return
	}
	ctx, cancel := contextWithTimeout(r, 10*time.Second)
	defer cancel()
	var err error
	if action == "set_rate" {
		rate, perr := strconv.ParseFloat(firstNonEmpty(r.FormValue("rate"), r.URL.Query().Get("rate")), 64)
		if perr != nil {
			http.Error(w, "bad rate", http.StatusBadRequest)
			return
		}
		err = s.control.SetRate(ctx, rate)
	} else {
		err = s.control.Do(ctx, action)
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, "ok\n")
}

type motionRequest struct {
	Samples []struct {
		AtMs      int64   `json:"at_ms"`
		Magnitude float64 `json:"magnitude"`
	} `json:"samples"`
}

type motionResponse struct {
	StepsPerMinute float64 `json:"steps_per_minute"`
	PlaybackRate   float64 `json:"playback_rate"`
}

// handleMotion ingests device-motion magnitude samples and retunes the
// playback rate from the estimated walking cadence. The rate is reported
// even without a controller so clients can poll the estimate.
func (s *Server) handleMotion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req motionRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, hardReadLimit)).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if len(req.Samples) == 0 {
		http.Error(w, "no samples", http.StatusBadRequest)
		return
	}
	var last time.Time
	for _, smp := range req.Samples {
		at := time.UnixMilli(smp.AtMs)
		s.cadence.Add(at, smp.Magnitude)
		if at.After(last) {
			last = at
		}
	}
	spm := s.cadence.StepsPerMinute(last)
	rate := control.RateForCadence(spm)
	s.logger.Printf("MOTION samples=%d spm=%.1f rate=%.2f", len(req.Samples), spm, rate)
	if s.control != nil {
		ctx, cancel := contextWithTimeout(r, 10*time.Second)
		defer cancel()
		if err := s.control.SetRate(ctx, rate); err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(motionResponse{StepsPerMinute: spm, PlaybackRate: rate})
}

func (s *Server) handleScreenshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.control == nil {
		http.Error(w, "controller not enabled", http.StatusServiceUnavailable)
		return
	}
	maxWidth := 480
	if v := r.URL.Query().Get("w"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			maxWidth = n
		}
	}
	ctx, cancel := contextWithTimeout(r, 20*time.Second)
	defer cancel()
	png, err := s.control.Screenshot(ctx, maxWidth)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(png)))
	_, _ = w.Write(png)
}

func (s *Server) handlePing(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, "pong\n")
}
