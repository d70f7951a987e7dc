package main

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/danmuck/enginectl/internal/testutil/testlog"
)

func TestParseOptionsRequiresExactlyOneSource(t *testing.T) {
	testlog.Start(t)

	if _, err := parseOptions(nil); !errors.Is(err, errUsage) {
		t.Fatalf("no source: expected usage error, got %v", err)
	}
	if _, err := parseOptions([]string{"--code", "1+1", "--file", "x.py"}); !errors.Is(err, errUsage) {
		t.Fatalf("both sources: expected usage error, got %v", err)
	}
	if _, err := parseOptions([]string{"--code", "1+1"}); err != nil {
		t.Fatalf("code only: %v", err)
	}
}

func TestParseOptionsDefaults(t *testing.T) {
	testlog.Start(t)

	opts, err := parseOptions([]string{"--code", "1+1"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if opts.multicastGroup != "239.0.0.1:6766" {
		t.Fatalf("group = %q", opts.multicastGroup)
	}
	if opts.timeout != 5*time.Second {
		t.Fatalf("timeout = %v", opts.timeout)
	}
	if opts.execMode != "ExecuteFile" {
		t.Fatalf("exec mode = %q", opts.execMode)
	}
}

func TestParseOptionsRejectsUnknownExecMode(t *testing.T) {
	testlog.Start(t)

	if _, err := parseOptions([]string{"--code", "1+1", "--exec-mode", "RunFast"}); !errors.Is(err, errUsage) {
		t.Fatalf("expected usage error, got %v", err)
	}
}

func TestParseOptionsArgsRequireFile(t *testing.T) {
	testlog.Start(t)

	if _, err := parseOptions([]string{"--code", "1+1", "--args", "preset=iso"}); !errors.Is(err, errUsage) {
		t.Fatalf("expected usage error, got %v", err)
	}
	if _, err := parseOptions([]string{"--file", "x.py", "--args", "preset=iso"}); err != nil {
		t.Fatalf("file with args: %v", err)
	}
}

func TestParseOptionsConfigFileUnderFlags(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "enginectl.toml")
	body := `project_name = "Demo"
multicast_group = "239.0.0.2:7000"
timeout_seconds = 2.5
no_launch = true
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	opts, err := parseOptions([]string{"--code", "1+1", "--config", path, "--multicast-group", "239.0.0.3:8000"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	// Flag beats file; file beats default.
	if opts.multicastGroup != "239.0.0.3:8000" {
		t.Fatalf("group = %q", opts.multicastGroup)
	}
	if opts.projectName != "Demo" {
		t.Fatalf("project name = %q", opts.projectName)
	}
	if opts.timeout != 2500*time.Millisecond {
		t.Fatalf("timeout = %v", opts.timeout)
	}
	if !opts.noLaunch {
		t.Fatalf("no_launch not applied")
	}
}

func TestParseOptionsEnvProjectDir(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	t.Setenv(envProjectDir, dir)

	opts, err := parseOptions([]string{"--code", "1+1"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if opts.projectPath != dir {
		t.Fatalf("project path = %q, want %q", opts.projectPath, dir)
	}
}
