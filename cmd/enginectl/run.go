package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/enginectl/internal/admin"
	"github.com/danmuck/enginectl/internal/config"
	"github.com/danmuck/enginectl/internal/launch"
	"github.com/danmuck/enginectl/internal/logging"
	"github.com/danmuck/enginectl/internal/observability"
	"github.com/danmuck/enginectl/internal/project"
	"github.com/danmuck/enginectl/internal/protocol"
	"github.com/danmuck/enginectl/internal/remote"
)

// projectContext is what run could resolve about the local checkout.
// Zero values mean the corresponding feature (filtering, verification,
// auto-launch) is unavailable rather than an error.
type projectContext struct {
	root       string
	descriptor string
	name       string
}

func resolveProject(opts options) projectContext {
	var pc projectContext

	if opts.projectPath != "" {
		path, err := filepath.Abs(opts.projectPath)
		if err == nil {
			if info, statErr := os.Stat(path); statErr == nil {
				if info.IsDir() {
					if root, descriptor, findErr := project.FindRoot(path); findErr == nil {
						pc.root, pc.descriptor = root, descriptor
					}
				} else {
					pc.root, pc.descriptor = filepath.Dir(path), path
				}
			}
		}
		if pc.descriptor == "" {
			log.Warn().Str("path", opts.projectPath).Msg("project path did not resolve to a .uproject")
		}
	}

	switch {
	case opts.projectName != "":
		pc.name = opts.projectName
	case pc.descriptor != "":
		base := filepath.Base(pc.descriptor)
		pc.name = strings.TrimSuffix(base, filepath.Ext(base))
	default:
		start := os.Getenv(envProjectDir)
		if start == "" {
			start, _ = os.Getwd()
		}
		if name, ok := project.FindName(start); ok {
			pc.name = name
			if root, descriptor, err := project.FindRoot(start); err == nil {
				pc.root, pc.descriptor = root, descriptor
			}
		}
	}
	return pc
}

// requireProjectTarget rejects a run that resolved neither a project
// name nor a descriptor. Unfiltered discovery would execute against
// whatever instance answers first, which is never what the user meant.
func requireProjectTarget(pc projectContext) error {
	if pc.name == "" && pc.descriptor == "" {
		return fmt.Errorf("%w: no project resolved; pass --project-name or --project-path, "+
			"set %s, or run from a project checkout", errUsage, envProjectDir)
	}
	return nil
}

// relaunchSelf re-executes the current invocation detached, minus the
// --detached flag, and returns immediately.
func relaunchSelf() error {
	self, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve own binary: %w", err)
	}
	var args []string
	for _, a := range os.Args[1:] {
		if a != "--detached" {
			args = append(args, a)
		}
	}
	pid, err := launch.EditorStarter{}.StartDetached(self, args)
	if err != nil {
		return err
	}
	log.Info().Int("pid", pid).Msg("detached run started")
	return nil
}

// buildCommand turns the options into the wire command string.
func buildCommand(opts options) (string, error) {
	if opts.code != "" {
		return opts.code, nil
	}
	path, err := filepath.Abs(opts.file)
	if err != nil {
		return "", fmt.Errorf("resolve script path: %w", err)
	}
	if opts.scriptArgs == "" {
		return path, nil
	}
	source, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read script: %w", err)
	}
	argv := buildArgv(path, parseScriptArgs(opts.scriptArgs))
	log.Debug().Strs("argv", argv).Msg("script arguments injected")
	return injectArgv(string(source), argv), nil
}

// verifyInstance re-selects among candidates by asking each one for its
// project file path, so two identically named projects can be told
// apart. Falls back to the given identity when verification cannot run.
func verifyInstance(ctx context.Context, client *remote.Client, pc projectContext, id remote.Identity, timeout time.Duration) remote.Identity {
	candidates := client.Candidates()
	if pc.descriptor == "" || len(candidates) < 2 {
		return id
	}
	want, err := filepath.Abs(pc.descriptor)
	if err != nil {
		return id
	}
	for _, candidate := range candidates {
		client.AdoptInstance(candidate)
		if err := client.OpenConnection(); err != nil {
			log.Debug().Err(err).Str("node", candidate.NodeID).Msg("verification connect failed")
			continue
		}
		path, ok := client.QueryProjectPath(ctx, timeout)
		_ = client.CloseConnection()
		if ok && samePath(path, want) {
			log.Info().Str("node", candidate.NodeID).Str("project_file", path).Msg("instance verified by project path")
			return candidate
		}
	}
	log.Warn().Str("project_file", want).Msg("no instance matched the project path, using first candidate")
	client.AdoptInstance(id)
	return id
}

func samePath(a, b string) bool {
	return strings.EqualFold(filepath.Clean(filepath.ToSlash(a)), filepath.Clean(filepath.ToSlash(b)))
}

func printResult(res remote.Result) error {
	if res.Success {
		if res.Result != "" {
			fmt.Printf("Result: %s\n", res.Result)
		}
		if len(res.Output) > 0 {
			fmt.Println("Output:")
			for _, line := range res.Output {
				fmt.Printf("  %s: %s\n", line.Type, line.Output)
			}
		}
		return nil
	}
	if res.Raw != nil {
		if raw, err := json.MarshalIndent(res.Raw, "", "  "); err == nil {
			fmt.Println(string(raw))
		}
	}
	return errors.New("command execution failed")
}

func run(opts options) error {
	logging.Configure(logging.ProfileRuntime)
	observability.InitLogger("enginectl")
	if opts.verbose {
		logging.SetLevel(zerolog.DebugLevel)
	}

	if opts.initConfig {
		path := opts.configPath
		if path == "" {
			path = "enginectl.toml"
		}
		if err := config.WriteTemplate(path, false); err != nil {
			return err
		}
		log.Info().Str("path", path).Msg("config template written")
		return nil
	}
	if opts.detached {
		return relaunchSelf()
	}
	if opts.wait > 0 {
		log.Debug().Dur("wait", opts.wait).Msg("delaying execution")
		time.Sleep(opts.wait)
	}

	ctx := context.Background()
	pc := resolveProject(opts)
	if err := requireProjectTarget(pc); err != nil {
		return err
	}
	if pc.name != "" {
		log.Debug().Str("project", pc.name).Msg("filtering discovery by project name")
	}

	command, err := buildCommand(opts)
	if err != nil {
		return err
	}

	client, err := remote.NewClient(remote.Config{
		GroupAddress:   opts.multicastGroup,
		ProjectName:    pc.name,
		CommandTimeout: opts.timeout,
	})
	if err != nil {
		return err
	}
	defer client.Close()

	orch := launch.NewOrchestrator(
		launch.Config{
			ProjectRoot: pc.root,
			ProjectFile: pc.descriptor,
			AutoLaunch:  !opts.noLaunch && pc.descriptor != "",
		},
		client,
		project.Fixer{},
		project.EditorLocator{},
		launch.EditorStarter{},
	)

	if opts.statusAddr != "" {
		srv := admin.NewServer(orch, client)
		go func() {
			if err := srv.Start(opts.statusAddr); err != nil {
				log.Error().Err(err).Msg("status server failed")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	id, err := orch.EnsureInstance(ctx)
	if err != nil {
		if errors.Is(err, launch.ErrLaunchDisabled) && pc.descriptor == "" {
			return errors.New("no instance found; pass --project-name to filter, " +
				"--project-path to enable auto-launch, or run from a project checkout")
		}
		return err
	}
	id = verifyInstance(ctx, client, pc, id, opts.timeout)

	req := remote.Request{
		Command:    command,
		Mode:       protocol.ExecMode(opts.execMode),
		Unattended: true,
		Timeout:    opts.timeout,
	}

	// One restart attempt after a crashed command unless disabled or we
	// have nothing to relaunch.
	attempts := 1
	if !opts.noRestartOnCrash && pc.descriptor != "" && !opts.noLaunch {
		attempts = 2
	}

	var res remote.Result
	for attempt := 1; ; attempt++ {
		if err = client.OpenConnection(); err != nil {
			return err
		}
		res, err = client.Execute(ctx, req)
		_ = client.CloseConnection()

		if errors.Is(err, remote.ErrPeerCrashed) && attempt < attempts {
			log.Warn().Msg("editor appears to have crashed, restarting")
			if _, launchErr := orch.EnsureInstance(ctx); launchErr != nil {
				return fmt.Errorf("restart after crash: %w", launchErr)
			}
			continue
		}
		break
	}
	if err != nil {
		return err
	}
	return printResult(res)
}
