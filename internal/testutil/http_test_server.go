// Package testutil holds HTTP fakes shared by package tests.
package testutil

import (
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
)

// NewIPv4Server starts handler on an ephemeral 127.0.0.1 port and closes it
// when the test ends. Hosts without IPv4 loopback skip the test. Close may be
// called early to simulate an unreachable upstream.
func NewIPv4Server(t *testing.T, handler http.Handler) *httptest.Server {
	t.Helper()
	l, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Skipf("skipping test: tcp4 loopback unavailable (%v)", err)
	}
	srv := httptest.NewUnstartedServer(handler)
	_ = srv.Listener.Close()
	srv.Listener = l
	srv.Start()
	t.Cleanup(srv.Close)
	return srv
}
