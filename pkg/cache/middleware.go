package cache

import (
	"bytes"
	"net/http"
)

// recordingWriter captures the status code and body flowing through an
// http.ResponseWriter so a successful response can be cached afterwards.
type recordingWriter struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (w *recordingWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *recordingWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

// Middleware caches successful GET responses keyed by request URI.
//
// Only GET requests with a 200 response are stored, so errors are never
// served stale. Hits are answered from memory with the original
// Content-Type and an X-Cache: HIT header; misses pass through with
// X-Cache: MISS.
func Middleware(c *Cache) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet {
				next.ServeHTTP(w, r)
				return
			}

			key := r.URL.RequestURI()

			if body, contentType, ok := c.Get(key); ok {
				if contentType != "" {
					w.Header().Set("Content-Type", contentType)
				}
				w.Header().Set("X-Cache", "HIT")
				w.WriteHeader(http.StatusOK)
				_, _ = w.Write(body)
				return
			}

			rw := &recordingWriter{ResponseWriter: w}
			rw.Header().Set("X-Cache", "MISS")
			next.ServeHTTP(rw, r)

			if rw.status == http.StatusOK {
				c.Set(key, rw.body.Bytes(), rw.Header().Get("Content-Type"))
			}
		})
	}
}
