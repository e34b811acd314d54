package relay

import (
	"log"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"promptrelay/envelope"
	"promptrelay/internal/control"
)

const defaultIndexHTML = `<!DOCTYPE html>
<html><body>
<h1>Promptrelay</h1>
<form action="/rewrite" method="post">
<h3>Rewrite a request body</h3>
<textarea name="body" rows="6" cols="80"></textarea><br>
<button type="submit">Rewrite</button>
</form>
</body></html>`

const defaultAllowedHosts = "gemini.google.com"

// Config describes server wiring and runtime behaviour.
type Config struct {
	IndexHTML    string
	SettingsPath string
	AllowedHosts []string
	Logger       *log.Logger
	Clock        func() time.Time
	Client       *http.Client
	Controller   *control.Controller
}

// DefaultConfig populates configuration from environment variables.
func DefaultConfig() Config {
	cfg := Config{
		IndexHTML:    defaultIndexHTML,
		Logger:       log.Default(),
		Clock:        time.Now,
		SettingsPath: strings.TrimSpace(os.Getenv("PROMPTRELAY_SETTINGS")),
	}
	allow := strings.TrimSpace(os.Getenv("PROMPTRELAY_ALLOW"))
	if allow == "" {
		allow = defaultAllowedHosts
	}
	cfg.AllowedHosts = parseAllowList(allow)
	return cfg
}

// Server exposes the HTTP handlers implementing the relay behaviour.
type Server struct {
	cfg      Config
	mux      *http.ServeMux
	handler  http.Handler
	logger   *log.Logger
	settings *settingsStore
	client   *http.Client
	control  *control.Controller
	cadence  *control.CadenceEstimator
	clock    func() time.Time

	mu      sync.Mutex
	session envelope.Session
}

// New wires a new relay server with the provided configuration. The
// injection session starts enabled unless the composed payload already
// exceeds the configured instruction ceiling, in which case it is disabled
// for the whole process lifetime.
func New(cfg Config) *Server {
	if cfg.IndexHTML == "" {
		cfg.IndexHTML = defaultIndexHTML
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 60 * time.Second}
	}
	if len(cfg.AllowedHosts) == 0 {
		cfg.AllowedHosts = parseAllowList(defaultAllowedHosts)
	}
	s := &Server{
		cfg:      cfg,
		mux:      http.NewServeMux(),
		logger:   cfg.Logger,
		settings: newSettingsStore(cfg.SettingsPath),
		client:   cfg.Client,
		control:  cfg.Controller,
		cadence:  control.NewCadenceEstimator(0),
		clock:    cfg.Clock,
	}
	st := s.settings.Current()
	s.session = envelope.NewSession(envelope.ModeFromParam(st.Mode))
	if payload := st.Payload(); len(payload) > st.MaxInstructionSize {
		s.session.Enabled = false
		s.logger.Printf("INJECT disabled for session: payload %d bytes exceeds max_instruction_size %d", len(payload), st.MaxInstructionSize)
	}
	s.registerRoutes()
	s.handler = withLogging(s.logger, s.mux)
	return s
}

// NewServer builds a server from environment configuration.
func NewServer() http.Handler {
	return New(DefaultConfig())
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/", s.handleRoot)
	s.mux.HandleFunc("/rewrite", s.handleRewrite)
	s.mux.HandleFunc("/forward", s.handleForward)
	s.mux.HandleFunc("/settings", s.handleSettings)
	s.mux.HandleFunc("/transcript", s.handleTranscript)
	s.mux.HandleFunc("/style", s.handleStyle)
	s.mux.HandleFunc("/control", s.handleControl)
	s.mux.HandleFunc("/motion", s.handleMotion)
	s.mux.HandleFunc("/screenshot", s.handleScreenshot)
	s.mux.HandleFunc("/ping", s.handlePing)
}

// transcode runs one body through the injector under the session lock.
// Settings are re-read on every call so live edits apply immediately; an
// oversized payload skips injection for this call without latching.
func (s *Server) transcode(body string) (string, envelope.Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.settings.Current()
	s.session.Mode = envelope.ModeFromParam(st.Mode)
	payload := st.Payload()
	if len(payload) > st.MaxInstructionSize {
		s.logger.Printf("INJECT skipped: payload %d bytes exceeds max_instruction_size %d", len(payload), st.MaxInstructionSize)
		return body, envelope.Disabled
	}
	out, outcome := envelope.Transcode(body, payload, st.HardLimit, injectionMarker, s.session.Enabled)
	s.session.Apply(outcome)
	s.logger.Printf("INJECT outcome=%s in=%dB out=%dB", outcome, len(body), len(out))
	return out, outcome
}
