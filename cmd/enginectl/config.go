package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/danmuck/enginectl/internal/config"
	"github.com/danmuck/enginectl/internal/protocol"
	"github.com/danmuck/enginectl/internal/remote"
)

// envProjectDir lets wrappers point enginectl at a checkout without
// flags.
const envProjectDir = "ENGINECTL_PROJECT_DIR"

var errUsage = errors.New("usage")

type options struct {
	code string
	file string

	projectPath    string
	projectName    string
	multicastGroup string
	execMode       string
	timeout        time.Duration
	verbose        bool

	detached bool
	wait     time.Duration

	noLaunch         bool
	noRestartOnCrash bool
	scriptArgs       string
	statusAddr       string
	configPath       string
	initConfig       bool
}

func newFlagSet(opts *options) *pflag.FlagSet {
	fs := pflag.NewFlagSet("enginectl", pflag.ContinueOnError)
	fs.StringVar(&opts.code, "code", "", "Python code to execute")
	fs.StringVar(&opts.file, "file", "", "Python file to execute")
	fs.StringVar(&opts.projectPath, "project-path", "", "path to .uproject file (enables instance verification and auto-launch)")
	fs.StringVar(&opts.projectName, "project-name", "", "project name to filter instances (default: auto-detect)")
	fs.StringVar(&opts.multicastGroup, "multicast-group", remote.DefaultGroupAddress, "discovery group ip:port")
	fs.StringVar(&opts.execMode, "exec-mode", string(protocol.ModeExecuteFile), "execution mode: ExecuteFile | ExecuteStatement | EvaluateStatement")
	fs.DurationVar(&opts.timeout, "timeout", remote.DefaultCommandTimeout, "command execution timeout")
	fs.BoolVarP(&opts.verbose, "verbose", "v", false, "enable verbose logging")
	fs.BoolVar(&opts.detached, "detached", false, "re-run detached and exit")
	fs.DurationVar(&opts.wait, "wait", 0, "delay before execution (useful with --detached)")
	fs.BoolVar(&opts.noLaunch, "no-launch", false, "do not auto-launch the editor when no instance is found")
	fs.BoolVar(&opts.noRestartOnCrash, "no-restart-on-crash", false, "disable editor restart after a crashed command")
	fs.StringVar(&opts.scriptArgs, "args", "", "script arguments as comma-separated key=value pairs, injected as sys.argv")
	fs.StringVar(&opts.statusAddr, "status-addr", "", "serve /health /status /metrics on this address while running")
	fs.StringVar(&opts.configPath, "config", "", "optional enginectl.toml path")
	fs.BoolVar(&opts.initConfig, "init-config", false, "write a starter enginectl.toml and exit")
	return fs
}

// parseOptions resolves flags over the optional TOML file over
// environment defaults.
func parseOptions(args []string) (options, error) {
	var opts options
	fs := newFlagSet(&opts)
	if err := fs.Parse(args); err != nil {
		return options{}, fmt.Errorf("%w: %v", errUsage, err)
	}

	if opts.configPath != "" && !opts.initConfig {
		file, defined, err := config.Load(opts.configPath)
		if err != nil {
			return options{}, err
		}
		applyFile(&opts, file, defined, fs)
	}

	if opts.projectPath == "" {
		if dir := os.Getenv(envProjectDir); dir != "" && opts.projectName == "" {
			// Name filtering falls back to the wrapper-provided checkout.
			opts.projectPath = dir
		}
	}

	if opts.initConfig {
		return opts, nil
	}

	if (opts.code == "") == (opts.file == "") {
		return options{}, fmt.Errorf("%w: exactly one of --code or --file is required", errUsage)
	}
	mode := protocol.ExecMode(opts.execMode)
	if err := mode.Validate(); err != nil {
		return options{}, fmt.Errorf("%w: --exec-mode %q", errUsage, opts.execMode)
	}
	if opts.scriptArgs != "" && opts.file == "" {
		return options{}, fmt.Errorf("%w: --args requires --file", errUsage)
	}
	if !strings.Contains(opts.multicastGroup, ":") {
		return options{}, fmt.Errorf("%w: --multicast-group must be ip:port", errUsage)
	}
	return opts, nil
}

// applyFile fills every option the user did not set on the command
// line from keys the file actually defines.
func applyFile(opts *options, file config.FileOptions, defined config.Defined, fs *pflag.FlagSet) {
	if defined.Has("project_path") && !fs.Changed("project-path") {
		opts.projectPath = file.ProjectPath
	}
	if defined.Has("project_name") && !fs.Changed("project-name") {
		opts.projectName = file.ProjectName
	}
	if defined.Has("multicast_group") && !fs.Changed("multicast-group") {
		opts.multicastGroup = file.MulticastGroup
	}
	if defined.Has("timeout_seconds") && !fs.Changed("timeout") {
		opts.timeout = time.Duration(file.TimeoutSeconds * float64(time.Second))
	}
	if defined.Has("status_addr") && !fs.Changed("status-addr") {
		opts.statusAddr = file.StatusAddr
	}
	if defined.Has("no_launch") && !fs.Changed("no-launch") {
		opts.noLaunch = file.NoLaunch
	}
}
