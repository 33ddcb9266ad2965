// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

// Package firestoretest runs the Firestore emulator for tests that exercise
// the Firestore KV backend against a real server.
package firestoretest

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"testing"
	"time"
)

func freePort(t *testing.T) int {
	l, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		t.Fatalf("reserving emulator port: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

// Start launches the emulator on a free port, points the Firestore SDK at it
// through FIRESTORE_EMULATOR_HOST, and blocks until it accepts connections.
// The emulator is shut down when the test finishes. Tests are skipped when
// the gcloud launcher is not installed.
func Start(ctx context.Context, t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("gcloud"); err != nil {
		t.Skip("gcloud not in PATH, skipping emulator-backed test")
	}
	addr := fmt.Sprintf("localhost:%d", freePort(t))
	t.Logf("starting firestore emulator on %s", addr)
	cmd := exec.Command("gcloud", "emulators", "firestore", "start", "--host-port="+addr)
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		t.Fatalf("starting firestore emulator: %v", err)
	}
	exited := make(chan struct{})
	go func() {
		cmd.Wait()
		close(exited)
	}()
	t.Setenv("FIRESTORE_EMULATOR_HOST", addr)
	t.Cleanup(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		req, _ := http.NewRequestWithContext(shutdownCtx, http.MethodPost, "http://"+addr+"/shutdown", nil)
		if resp, err := http.DefaultClient.Do(req); err == nil {
			resp.Body.Close()
		}
		select {
		case <-exited:
		case <-time.After(5 * time.Second):
			cmd.Process.Kill()
		}
	})
	deadline := time.After(30 * time.Second)
	for {
		if c, err := net.Dial("tcp", addr); err == nil {
			c.Close()
			return
		}
		select {
		case <-exited:
			t.Fatalf("firestore emulator exited during startup: %v", cmd.ProcessState)
		case <-deadline:
			t.Fatal("timed out waiting for the firestore emulator")
		case <-ctx.Done():
			t.Fatalf("emulator startup interrupted: %v", ctx.Err())
		case <-time.After(200 * time.Millisecond):
		}
	}
}
