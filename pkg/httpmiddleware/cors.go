package httpmiddleware

import (
	"net/http"

	"github.com/go-chi/cors"
)

// CORSConfig configures CORS.
type CORSConfig struct {
	// AllowOrigins is the list of allowed origins; "*" allows any.
	AllowOrigins     []string
	AllowHeaders     []string
	AllowCredentials bool
	// MaxAge is the preflight cache duration in seconds.
	MaxAge int
}

// CORS applies the origin policy to every request.
func CORS(cfg CORSConfig) Middleware {
	origins := cfg.AllowOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	headers := cfg.AllowHeaders
	if len(headers) == 0 {
		headers = []string{"Accept", "Content-Type", "X-Request-ID"}
	}
	return cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{
			http.MethodGet, http.MethodPost, http.MethodPut,
			http.MethodDelete, http.MethodOptions,
		},
		AllowedHeaders:   headers,
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: cfg.AllowCredentials,
		MaxAge:           cfg.MaxAge,
	})
}
