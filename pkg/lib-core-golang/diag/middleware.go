package diag

import (
	"net/http"
	"time"

	uuid "github.com/satori/go.uuid"
)

// Note: router types can not be referenced here since it'll create cyclic
// imports, hence raw func(next http.Handler) http.Handler

// NewRequestIDMiddleware - creates a middleware that will maintain the requestId header
func NewRequestIDMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			requestID := req.Header.Get("x-request-id")
			if requestID == "" {
				requestID = uuid.NewV4().String()
			}
			nextCtx := ContextWithRequestID(req.Context(), requestID)
			w.Header().Add("x-request-id", requestID)
			next.ServeHTTP(w, req.WithContext(nextCtx))
		})
	}
}

type loggingResponseWrapper struct {
	target http.ResponseWriter
	status int
}

func (w *loggingResponseWrapper) Header() http.Header {
	return w.target.Header()
}

func (w *loggingResponseWrapper) Write(b []byte) (int, error) {
	return w.target.Write(b)
}

func (w *loggingResponseWrapper) WriteHeader(status int) {
	w.target.WriteHeader(status)
	w.status = status
}

func (w *loggingResponseWrapper) getStatus() int {
	if w.status == 0 {
		return http.StatusOK
	}
	return w.status
}

type logRequestsCfg struct {
	ignorePaths map[string]bool
	logger      Logger
	now         func() time.Time
}

// LogRequestsMiddlewareOpt is a type used to supply various opts
// for requests logger middleware
type LogRequestsMiddlewareOpt func(*logRequestsCfg)

// IgnorePath option specify paths to skip log requests for
func IgnorePath(path string) LogRequestsMiddlewareOpt {
	return func(cfg *logRequestsCfg) {
		cfg.ignorePaths[path] = true
	}
}

func withMiddlewareLogger(logger Logger) LogRequestsMiddlewareOpt {
	return func(cfg *logRequestsCfg) {
		cfg.logger = logger
	}
}

func withMiddlewareNow(now func() time.Time) LogRequestsMiddlewareOpt {
	return func(cfg *logRequestsCfg) {
		cfg.now = now
	}
}

// NewLogRequestsMiddleware - log request start/end
func NewLogRequestsMiddleware(opts ...LogRequestsMiddlewareOpt) func(next http.Handler) http.Handler {
	cfg := logRequestsCfg{
		ignorePaths: map[string]bool{"/v1/healthcheck/ping": true},
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = CreateLogger()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			method := req.Method
			path := req.URL.Path

			if cfg.ignorePaths[path] {
				next.ServeHTTP(w, req)
				return
			}

			cfg.logger.
				WithData(MsgData{
					"method":    method,
					"url":       req.URL.RequestURI(),
					"path":      path,
					"userAgent": req.UserAgent(),
				}).
				Info(req.Context(), "BEGIN REQ: %s %s", method, path)

			wrappedWriter := loggingResponseWrapper{target: w}
			reqStartedAt := cfg.now()
			next.ServeHTTP(&wrappedWriter, req)
			reqDuration := cfg.now().Sub(reqStartedAt)

			responseStatus := wrappedWriter.getStatus()

			cfg.logger.
				WithData(MsgData{
					"statusCode": responseStatus,
					"duration":   reqDuration.Seconds(),
				}).
				Info(req.Context(), "END REQ: %v - %v", responseStatus, path)
		})
	}
}
