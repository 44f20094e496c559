package ratelimit

import (
	"testing"
	"time"
)

func TestAllowWithinCapSucceeds(t *testing.T) {
	l := New(3, time.Second)
	now := time.Now()
	for i := 0; i < 3; i++ {
		if !l.AllowAt("conn1", now) {
			t.Fatalf("request %d should be allowed", i)
		}
	}
}

func TestAllowRejectsOverCap(t *testing.T) {
	l := New(2, time.Second)
	now := time.Now()
	l.AllowAt("conn1", now)
	l.AllowAt("conn1", now)
	if l.AllowAt("conn1", now) {
		t.Fatal("third request within the window should be rejected")
	}
}

func TestAllowResetsAfterWindow(t *testing.T) {
	l := New(1, time.Second)
	now := time.Now()
	if !l.AllowAt("conn1", now) {
		t.Fatal("first request should be allowed")
	}
	if l.AllowAt("conn1", now.Add(500*time.Millisecond)) {
		t.Fatal("second request inside the window should be rejected")
	}
	if !l.AllowAt("conn1", now.Add(1500*time.Millisecond)) {
		t.Fatal("request after the window elapses should be allowed")
	}
}

func TestKeysAreIndependent(t *testing.T) {
	l := New(1, time.Second)
	now := time.Now()
	if !l.AllowAt("a", now) {
		t.Fatal("conn a should be allowed")
	}
	if !l.AllowAt("b", now) {
		t.Fatal("conn b should be independent of conn a")
	}
}

func TestForgetClearsState(t *testing.T) {
	l := New(1, time.Second)
	now := time.Now()
	l.AllowAt("conn1", now)
	l.Forget("conn1")
	if !l.AllowAt("conn1", now) {
		t.Fatal("request after Forget should be allowed again")
	}
}
