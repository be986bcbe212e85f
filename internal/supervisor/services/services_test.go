// PerkForge - Loyalty and Gamification Event Engine
// Copyright 2026 PerkForge Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/perkforge/perkforge

package services

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"
)

type fakeHTTPServer struct {
	listenErr   error
	shutdownErr error
	shutdowns   atomic.Int32
	release     chan struct{}
}

func newFakeHTTPServer() *fakeHTTPServer {
	return &fakeHTTPServer{release: make(chan struct{})}
}

func (f *fakeHTTPServer) ListenAndServe() error {
	if f.listenErr != nil {
		return f.listenErr
	}
	<-f.release
	return http.ErrServerClosed
}

func (f *fakeHTTPServer) Shutdown(_ context.Context) error {
	f.shutdowns.Add(1)
	close(f.release)
	return f.shutdownErr
}

func TestHTTPServerService_GracefulShutdown(t *testing.T) {
	srv := newFakeHTTPServer()
	svc := NewHTTPServerService(srv, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve() error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve() did not return after cancel")
	}
	if srv.shutdowns.Load() != 1 {
		t.Errorf("shutdowns = %d, want 1", srv.shutdowns.Load())
	}
}

func TestHTTPServerService_StartupFailure(t *testing.T) {
	srv := newFakeHTTPServer()
	srv.listenErr = errors.New("address in use")
	svc := NewHTTPServerService(srv, time.Second)

	err := svc.Serve(context.Background())
	if err == nil || !errors.Is(err, srv.listenErr) {
		t.Errorf("Serve() error = %v, want wrapped listen error", err)
	}
}

func TestHTTPServerService_String(t *testing.T) {
	if got := NewHTTPServerService(newFakeHTTPServer(), 0).String(); got != "http-server" {
		t.Errorf("String() = %q", got)
	}
}

type fakeRouter struct {
	runErr   error
	closeErr error
	closed   atomic.Bool
}

func (f *fakeRouter) Run(ctx context.Context) error {
	if f.runErr != nil {
		return f.runErr
	}
	<-ctx.Done()
	return ctx.Err()
}

func (f *fakeRouter) Close() error {
	f.closed.Store(true)
	return f.closeErr
}

func TestRouterService_StopsOnCancel(t *testing.T) {
	router := &fakeRouter{}
	svc := NewRouterService(router)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve() error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve() did not return after cancel")
	}
	if !router.closed.Load() {
		t.Error("router was not closed on shutdown")
	}
}

func TestRouterService_RunFailurePropagates(t *testing.T) {
	router := &fakeRouter{runErr: errors.New("nats connection lost")}
	svc := NewRouterService(router)

	err := svc.Serve(context.Background())
	if err == nil || !errors.Is(err, router.runErr) {
		t.Errorf("Serve() error = %v, want wrapped run error", err)
	}
	if !router.closed.Load() {
		t.Error("router was not closed after failure")
	}
}

type fakeSweeper struct{ runErr error }

func (f *fakeSweeper) Run(ctx context.Context) error {
	if f.runErr != nil {
		return f.runErr
	}
	<-ctx.Done()
	return ctx.Err()
}

func TestSweeperService_StopsOnCancel(t *testing.T) {
	svc := NewSweeperService(&fakeSweeper{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := svc.Serve(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Serve() error = %v, want context.Canceled", err)
	}
}

func TestSweeperService_FailurePropagates(t *testing.T) {
	want := errors.New("store unavailable")
	svc := NewSweeperService(&fakeSweeper{runErr: want})

	if err := svc.Serve(context.Background()); !errors.Is(err, want) {
		t.Errorf("Serve() error = %v, want %v", err, want)
	}
}

type countingCleaner struct{ calls atomic.Int32 }

func (c *countingCleaner) Cleanup() int {
	c.calls.Add(1)
	return 0
}

func TestMaintenanceService_Ticks(t *testing.T) {
	cleaner := &countingCleaner{}
	svc := NewMaintenanceService("dlq-maintenance", cleaner, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	if err := svc.Serve(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Serve() error = %v, want deadline exceeded", err)
	}
	if cleaner.calls.Load() < 2 {
		t.Errorf("Cleanup() called %d times, want at least 2", cleaner.calls.Load())
	}
}

func TestMaintenanceService_String(t *testing.T) {
	if got := NewMaintenanceService("dlq-maintenance", &countingCleaner{}, 0).String(); got != "dlq-maintenance" {
		t.Errorf("String() = %q", got)
	}
}
