package middleware

import (
	"net/http"
	"strings"

	log "github.com/sirupsen/logrus"
)

// the dashboard is meant to be used locally, plus from the charting
// notebook which runs its own dev server
var allowedOrigins = map[string]bool{
	"http://localhost:8180": true,
	"http://localhost:8888": true,
	"test":                  true,
}

func Cors() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			userAgent := r.Header.Get("User-Agent")

			switch {
			case
				origin == "",
				allowedOrigins[origin],
				strings.HasPrefix(userAgent, "curl/"),
				strings.HasPrefix(userAgent, "test-agent"):
				{
					if origin != "" {
						w.Header().Set("Access-Control-Allow-Origin", origin)
						w.Header().Set("Access-Control-Allow-Headers",
							"Accept, Content-Type, Content-Length, Accept-Encoding, X-HEALTHSYNC-TOKEN",
						)
						w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
					}
				}
			default:
				log.Warnf("CORS: origin not allowed for path [%s] and origin [%s]", r.URL.Path, origin)
				w.WriteHeader(http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
