package main

import (
	"context"
	"net"
	"path/filepath"
	"strings"
	"testing"
)

func TestCheckPorts(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		api       int
		admin     int
		wantError string
	}{
		{"defaults", 8080, 9000, ""},
		{"adjacent", 8080, 8081, ""},
		{"collision", 8080, 8080, "must differ (both 8080)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := checkPorts(tt.api, tt.admin)
			if tt.wantError == "" {
				if err != nil {
					t.Fatalf("checkPorts(%d, %d) = %v, want nil", tt.api, tt.admin, err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantError) {
				t.Fatalf("checkPorts(%d, %d) = %v, want error containing %q", tt.api, tt.admin, err, tt.wantError)
			}
		})
	}
}

func TestNotifySystemd_Errors(t *testing.T) {
	tests := []struct {
		name      string
		socket    string
		wantError string
	}{
		{"not under systemd", "", "NOTIFY_SOCKET not set"},
		{"stale socket path", filepath.Join(t.TempDir(), "medbridge-notify.sock"), "dial failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("NOTIFY_SOCKET", tt.socket)

			err := notifySystemd()
			if err == nil {
				t.Fatal("notifySystemd() = nil, want error")
			}
			if !strings.Contains(err.Error(), tt.wantError) {
				t.Errorf("error = %q, want substring %q", err, tt.wantError)
			}
		})
	}
}

func TestNotifySystemd_SendsReady(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "notify.sock")

	var lc net.ListenConfig
	conn, err := lc.ListenPacket(context.Background(), "unixgram", sockPath)
	if err != nil {
		t.Fatalf("listen unixgram: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	t.Setenv("NOTIFY_SOCKET", sockPath)

	if err := notifySystemd(); err != nil {
		t.Fatalf("notifySystemd() = %v, want nil", err)
	}

	buf := make([]byte, 64)
	n, _, err := conn.ReadFrom(buf)
	if err != nil {
		t.Fatalf("read from socket: %v", err)
	}
	if got := string(buf[:n]); got != "READY=1" {
		t.Errorf("payload = %q, want %q", got, "READY=1")
	}
}
