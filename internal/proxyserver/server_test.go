package proxyserver

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestServer_ReleasesSlotOnConnectionClose(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	pool := newTestPool(t, "tok-1")

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	srv, err := New(listener.Addr().String(), upstream.URL, pool)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	go srv.httpServer.Serve(listener)
	defer srv.httpServer.Close()

	var dialedConn net.Conn
	client := &http.Client{Transport: &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			conn, err := net.Dial(network, addr)
			if err != nil {
				return nil, err
			}
			dialedConn = conn
			return conn, nil
		},
	}}

	resp, err := client.Get("http://" + listener.Addr().String() + "/x")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()

	if pool.Available() != 0 {
		t.Fatalf("expected slot checked out while connection is open, available=%d", pool.Available())
	}

	dialedConn.Close()

	deadline := time.Now().Add(time.Second)
	for pool.Available() != 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if pool.Available() != 1 {
		t.Errorf("expected slot released after connection close, available=%d", pool.Available())
	}
}
