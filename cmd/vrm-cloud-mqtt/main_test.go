package main

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"

	"github.com/nerrad567/vrm-cloud-mqtt/internal/auth"
	"github.com/nerrad567/vrm-cloud-mqtt/internal/bridge"
	"github.com/nerrad567/vrm-cloud-mqtt/internal/poller"
	"github.com/nerrad567/vrm-cloud-mqtt/internal/vrm/vrmtest"
)

func TestParseFlags(t *testing.T) {
	t.Setenv("VRM_CONFIG", "")

	tests := []struct {
		name string
		args []string
		want options
	}{
		{
			name: "defaults",
			args: nil,
			want: options{configPath: defaultConfigPath, configOptional: true, envFile: ".env"},
		},
		{
			name: "explicit config",
			args: []string{"-c", "/etc/vrm.yaml"},
			want: options{configPath: "/etc/vrm.yaml", envFile: ".env"},
		},
		{
			name: "long flags",
			args: []string{"--config=/etc/vrm.yaml", "--env-file", "/run/vrm.env", "--debug"},
			want: options{configPath: "/etc/vrm.yaml", envFile: "/run/vrm.env", debug: true},
		},
		{
			name: "version",
			args: []string{"--version"},
			want: options{configPath: defaultConfigPath, configOptional: true, envFile: ".env", showVersion: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseFlags(tt.args, io.Discard)
			if err != nil {
				t.Fatalf("parseFlags() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("parseFlags() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestParseFlags_Errors(t *testing.T) {
	if _, err := parseFlags([]string{"--bogus"}, io.Discard); err == nil {
		t.Error("unknown flag accepted")
	}
	if _, err := parseFlags([]string{"extra"}, io.Discard); err == nil {
		t.Error("positional argument accepted")
	}
	if _, err := parseFlags([]string{"--help"}, io.Discard); !errors.Is(err, pflag.ErrHelp) {
		t.Errorf("--help error = %v, want ErrHelp", err)
	}
}

// TestGetConfigPath_EnvOverride verifies environment variable override.
func TestGetConfigPath_EnvOverride(t *testing.T) {
	t.Setenv("VRM_CONFIG", "/custom/path/config.yaml")

	if path := getConfigPath(); path != "/custom/path/config.yaml" {
		t.Errorf("getConfigPath() = %q", path)
	}
	opts, err := parseFlags(nil, io.Discard)
	if err != nil {
		t.Fatalf("parseFlags() error = %v", err)
	}
	if opts.configOptional {
		t.Error("config from VRM_CONFIG treated as optional")
	}
}

// writeRunConfig writes a config for srv with an unreachable broker.
func writeRunConfig(t *testing.T, srv *vrmtest.Server, site, password string) options {
	t.Helper()
	dir := t.TempDir()
	content := `
vrm:
  username: "` + srv.Username + `"
  password: "` + password + `"
  site_id: "` + site + `"
  base_url: "` + srv.URL + `"
  request_timeout: 5
mqtt:
  broker:
    host: "127.0.0.1"
    port: 1
    client_id: "vrm-cloud-mqtt-test"
poll:
  interval: 1
  max_backoff: 2
  cycle_timeout: 10
cache:
  path: "` + filepath.Join(dir, "credential.json") + `"
database:
  path: "` + filepath.Join(dir, "bridge.db") + `"
logging:
  level: error
`
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return options{configPath: path}
}

func newRunServer(t *testing.T) *vrmtest.Server {
	t.Helper()
	for _, key := range []string{"VRM_USERNAME", "VRM_PASSWORD", "VRM_SITE_ID", "VRM_BASE_URL", "VRM_MQTT_HOST", "VRM_MQTT_PORT", "VRM_API_ENABLED", "VRM_INFLUXDB_ENABLED"} {
		t.Setenv(key, "")
	}
	srv := vrmtest.NewServer()
	t.Cleanup(srv.Close)
	srv.AddSite("1234", map[string]any{"Device": "Gateway", "instance": 0, "description": "Uptime", "rawValue": 42})
	return srv
}

func TestRun_MissingConfigFile(t *testing.T) {
	err := run(context.Background(), options{configPath: "/nonexistent/path/config.yaml"})
	if err == nil || !strings.Contains(err.Error(), "loading config") {
		t.Errorf("run() error = %v, want config load failure", err)
	}
}

func TestRun_InvalidConfig(t *testing.T) {
	srv := newRunServer(t)
	opts := writeRunConfig(t, srv, "", srv.Password)

	err := run(context.Background(), opts)
	if err == nil || !strings.Contains(err.Error(), "VRM.SiteID") {
		t.Errorf("run() error = %v, want site validation failure", err)
	}
}

func TestRun_UnknownSiteIsFatal(t *testing.T) {
	srv := newRunServer(t)
	opts := writeRunConfig(t, srv, "999999", srv.Password)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := run(ctx, opts)
	var fatal *bridge.FatalError
	if !errors.As(err, &fatal) || !errors.Is(err, poller.ErrSiteNotFound) {
		t.Fatalf("run() error = %v, want fatal unknown site", err)
	}
	if n := srv.CallCount(vrmtest.RouteDiagnostics); n != 1 {
		t.Errorf("diagnostics calls = %d, want 1", n)
	}
}

func TestRun_StartupAuthFailure(t *testing.T) {
	srv := newRunServer(t)
	opts := writeRunConfig(t, srv, "1234", "not-the-password")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := run(ctx, opts)
	if !errors.Is(err, bridge.ErrStartupAuth) || !errors.Is(err, auth.ErrAuthentication) {
		t.Fatalf("run() error = %v, want startup authentication failure", err)
	}
	if n := srv.CallCount(vrmtest.RouteDiagnostics); n != 0 {
		t.Errorf("diagnostics calls = %d, want 0", n)
	}
}

func TestRun_ShutdownOnCancel(t *testing.T) {
	srv := newRunServer(t)
	opts := writeRunConfig(t, srv, "1234", srv.Password)

	ctx, cancel := context.WithTimeout(context.Background(), 1500*time.Millisecond)
	defer cancel()

	// The broker is unreachable, so cycles fail to publish but the loop
	// keeps running until the context ends.
	if err := run(ctx, opts); err != nil {
		t.Fatalf("run() error = %v, want nil on shutdown", err)
	}
	if n := srv.CallCount(vrmtest.RouteDiagnostics); n < 1 {
		t.Errorf("diagnostics calls = %d, want at least 1", n)
	}
	if n := srv.CallCount(vrmtest.RouteLogin); n != 1 {
		t.Errorf("login calls = %d, want 1 (credential reused across cycles)", n)
	}
}
