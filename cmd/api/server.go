package main

import (
	"net/http"
	"time"
)

const (
	writeTimeout = 30 * time.Second
	// requestTimeout must stay below writeTimeout or the connection is cut
	// before the router can answer 504.
	requestTimeout = writeTimeout - 5*time.Second
)

func newServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       60 * time.Second,
	}
}
