package readiness

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/corralhq/corral/internal/daemon"
)

func TestNoChecksReadyImmediately(t *testing.T) {
	s := NewSet(context.Background(), nil, nil, "")
	o := s.Wait(context.Background())
	if !o.Ready {
		t.Fatalf("expected immediate ready, got %+v", o)
	}
}

func TestDelayProbeSucceedsWhenAlive(t *testing.T) {
	check, err := Compile(daemon.ReadyCheck{Kind: daemon.ReadyDelay, Delay: 50 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}
	s := NewSet(context.Background(), []CompiledCheck{check}, func() bool { return true }, "")
	o := s.Wait(context.Background())
	if !o.Ready {
		t.Fatalf("expected ready, got %+v", o)
	}
}

func TestOutputProbeMatchesRegex(t *testing.T) {
	check, err := Compile(daemon.ReadyCheck{Kind: daemon.ReadyOutput, OutputRegex: "Listening"})
	if err != nil {
		t.Fatal(err)
	}
	s := NewSet(context.Background(), []CompiledCheck{check}, nil, "")
	go func() {
		time.Sleep(20 * time.Millisecond)
		s.FeedLine("starting up")
		s.FeedLine("Listening on 8080")
	}()
	o := s.Wait(context.Background())
	if !o.Ready {
		t.Fatalf("expected ready, got %+v", o)
	}
}

func TestHTTPProbeSucceedsOn2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	check, err := Compile(daemon.ReadyCheck{Kind: daemon.ReadyHTTP, URL: srv.URL})
	if err != nil {
		t.Fatal(err)
	}
	s := NewSet(context.Background(), []CompiledCheck{check}, nil, "")
	o := s.Wait(context.Background())
	if !o.Ready {
		t.Fatalf("expected ready, got %+v", o)
	}
}

func TestPortProbeSucceedsOnConnect(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			c.Close()
		}
	}()

	port := ln.Addr().(*net.TCPAddr).Port
	check, err := Compile(daemon.ReadyCheck{Kind: daemon.ReadyPort, Port: port})
	if err != nil {
		t.Fatal(err)
	}
	s := NewSet(context.Background(), []CompiledCheck{check}, nil, "")
	o := s.Wait(context.Background())
	if !o.Ready {
		t.Fatalf("expected ready, got %+v", o)
	}
}

func TestCmdProbeSucceedsOnZeroExit(t *testing.T) {
	check, err := Compile(daemon.ReadyCheck{Kind: daemon.ReadyCmd, Cmd: "true"})
	if err != nil {
		t.Fatal(err)
	}
	s := NewSet(context.Background(), []CompiledCheck{check}, nil, "")
	o := s.Wait(context.Background())
	if !o.Ready {
		t.Fatalf("expected ready, got %+v", o)
	}
}

func TestFirstSuccessWins(t *testing.T) {
	slow, err := Compile(daemon.ReadyCheck{Kind: daemon.ReadyDelay, Delay: 5 * time.Second})
	if err != nil {
		t.Fatal(err)
	}
	fast, err := Compile(daemon.ReadyCheck{Kind: daemon.ReadyCmd, Cmd: "true"})
	if err != nil {
		t.Fatal(err)
	}
	s := NewSet(context.Background(), []CompiledCheck{slow, fast}, func() bool { return true }, "")
	start := time.Now()
	o := s.Wait(context.Background())
	if !o.Ready {
		t.Fatalf("expected ready, got %+v", o)
	}
	if time.Since(start) > 2*time.Second {
		t.Fatalf("expected fast probe to win, took %v", time.Since(start))
	}
}
