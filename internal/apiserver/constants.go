package apiserver

import "time"

// Server timeout constants
const (
	// RequestTimeout is the maximum time for processing a request. It covers the
	// trigger's invocation window.
	RequestTimeout = 6 * time.Minute

	// ReadTimeout is the maximum duration for reading the entire request
	ReadTimeout = 15 * time.Second

	// WriteTimeout is the maximum duration for writing the response
	WriteTimeout = RequestTimeout + 15*time.Second

	// IdleTimeout is the maximum time to wait for the next request
	IdleTimeout = 60 * time.Second

	// HealthCheckTimeout is the timeout for health check requests
	HealthCheckTimeout = 5 * time.Second

	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout = 30 * time.Second
)

// APIVersion is reported by the health endpoint
const APIVersion = "v1"
