package relay

import (
	"log"
	"net/http"
	"strconv"
)

func withLogging(logger *log.Logger, next http.Handler) http.Handler {
	if logger == nil {
		logger = log.Default()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.Printf("REQ %s %s Host=%s UA=%q From=%s", r.Method, r.URL.String(), r.Host, r.UserAgent(), r.RemoteAddr)
		logHeader := func(name string) {
			if v := r.Header.Get(name); v != "" {
				logger.Printf("HDR %s: %s", name, v)
			}
		}
		logHeader("Content-Type")
		logHeader("Content-Length")
		logHeader("X-Promptrelay-Target")

		next.ServeHTTP(w, r)
	})
}

// logBody logs the leading slice of a request body for debugging. Bodies are
// textual by the time this is called.
func logBody(logger *log.Logger, tag, body string) {
	if logger == nil || body == "" {
		return
	}
	shown := body
	if len(shown) > 200 {
		shown = shown[:200]
	}
	logger.Printf("%s %d bytes (first %d shown): %s", tag, len(body), len(shown), strconv.Quote(shown))
}
