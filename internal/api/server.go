package api

import (
	"fmt"
	"net/http"
	"time"
)

// NewServer wraps the router in an *http.Server with the usual timeouts.
// Event streams lift the write deadline per request.
func NewServer(port uint16, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           h,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
