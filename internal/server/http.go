package server

import (
	"context"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// HTTPServer serves health, metrics, dashboards, the command API, and the
// inbound webhook path.
type HTTPServer struct {
	server *http.Server
	log    *logrus.Entry
}

func NewHTTPServer(addr string, handler http.Handler, log *logrus.Entry) *HTTPServer {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &HTTPServer{
		server: &http.Server{
			Addr:              addr,
			Handler:           logRequests(handler, log),
			ReadHeaderTimeout: 10 * time.Second,
		},
		log: log,
	}
}

func (s *HTTPServer) ListenAndServe() error {
	s.log.WithField("addr", s.server.Addr).Info("http server listening")
	return s.server.ListenAndServe()
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func logRequests(next http.Handler, log *logrus.Entry) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   rec.status,
			"duration": time.Since(start).String(),
		}).Debug("http request")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
