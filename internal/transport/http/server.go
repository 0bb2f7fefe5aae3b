package httptransport

import (
	"net/http"
	"time"

	"go.uber.org/zap"
)

// ServerConfig contains tunables for the HTTP server.
type ServerConfig struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DefaultServerConfig returns the timeouts used by the API binary.
func DefaultServerConfig(address string) ServerConfig {
	return ServerConfig{
		Address:      address,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// NewServer creates *http.Server with provided handler. Server-level errors
// (TLS handshakes, panics in handlers) are routed to logger.
func NewServer(cfg ServerConfig, handler http.Handler, logger *zap.Logger) *http.Server {
	srv := &http.Server{
		Addr:         cfg.Address,
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	if logger != nil {
		if stdLog, err := zap.NewStdLogAt(logger.Named("http"), zap.WarnLevel); err == nil {
			srv.ErrorLog = stdLog
		}
	}
	return srv
}
