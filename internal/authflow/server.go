package authflow

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"
)

// callbackServer is the ephemeral loopback listener that catches the
// provider's redirect. It lives for exactly one authorization session.
type callbackServer struct {
	port     int
	listener net.Listener
	server   *http.Server
}

// bindLoopback probes ports in [min, max] on the loopback interface and
// keeps the first listener that binds. Holding the listener (rather
// than probe-and-release) means the port cannot be seized between probe
// and serve.
func bindLoopback(min, max int) (*callbackServer, error) {
	for port := min; port <= max; port++ {
		listener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
		if err != nil {
			continue
		}
		return &callbackServer{port: port, listener: listener}, nil
	}
	return nil, ErrNoPortAvailable
}

// serve starts handling requests. onCallback receives the single
// expected OAuth redirect; /health answers liveness probes; everything
// else is a 404.
func (s *callbackServer) serve(onCallback http.HandlerFunc) {
	mux := http.NewServeMux()
	mux.HandleFunc("/callback", onCallback)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		// ErrServerClosed is the normal teardown path.
		_ = s.server.Serve(s.listener)
	}()
}

// close releases the port immediately and drains any in-flight response
// in the background. Settlement happens inside the callback handler, so
// a synchronous Shutdown here would wait on the caller itself.
func (s *callbackServer) close() {
	if s.listener != nil {
		_ = s.listener.Close()
	}
	if s.server != nil {
		srv := s.server
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(ctx)
		}()
	}
}
