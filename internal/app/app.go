package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/rbright/griprig/internal/cli"
	"github.com/rbright/griprig/internal/config"
	"github.com/rbright/griprig/internal/doctor"
	"github.com/rbright/griprig/internal/health"
	"github.com/rbright/griprig/internal/indicator"
	"github.com/rbright/griprig/internal/ipc"
	"github.com/rbright/griprig/internal/logging"
	"github.com/rbright/griprig/internal/metrics"
	"github.com/rbright/griprig/internal/rig"
	"github.com/rbright/griprig/internal/serialport"
	"github.com/rbright/griprig/internal/trial"
	"github.com/rbright/griprig/internal/version"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

type Runner struct {
	Stdout io.Writer
	Stderr io.Writer
	Logger *slog.Logger

	// rigOptions overrides hardware collaborators for the run command.
	rigOptions *rig.Options
}

func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	r := Runner{Stdout: stdout, Stderr: stderr}
	return r.Execute(ctx, args)
}

func (r Runner) Execute(ctx context.Context, args []string) int {
	parsed, err := cli.Parse(args)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n\n", err)
		fmt.Fprint(r.Stderr, cli.HelpText(version.Name))
		return 2
	}

	if parsed.ShowHelp {
		fmt.Fprint(r.Stdout, cli.HelpText(version.Name))
		return 0
	}

	if parsed.Command == cli.CommandVersion {
		fmt.Fprintln(r.Stdout, version.String())
		return 0
	}

	cfgLoaded, cfgErr := config.Load(parsed.ConfigPath)
	level := config.Default().Log.Level
	if cfgErr == nil {
		level = cfgLoaded.Config.Log.Level
	}

	logRuntime, err := logging.New(level)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: setup logging: %v\n", err)
		return 1
	}
	defer func() { _ = logRuntime.Close() }()

	logger := r.Logger
	if logger == nil {
		logger = logRuntime.Logger
	}

	if cfgErr != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", cfgErr)
		logger.Error("load config failed", "error", cfgErr.Error())
		return 1
	}
	for _, w := range cfgLoaded.Warnings {
		msg := w.Message
		if w.Line > 0 {
			msg = fmt.Sprintf("line %d: %s", w.Line, w.Message)
		}
		fmt.Fprintf(r.Stderr, "warning: %s\n", msg)
		logger.Warn("config warning", "line", w.Line, "message", w.Message)
	}

	logger.Info("command start",
		"command", parsed.Command,
		"args", parsed.Args,
		"config", cfgLoaded.Path,
		"log", logRuntime.Path,
	)

	switch parsed.Command {
	case cli.CommandDoctor:
		report := doctor.Run(cfgLoaded)
		fmt.Fprintln(r.Stdout, report.String())
		if report.OK() {
			return 0
		}
		return 1
	case cli.CommandHealth:
		return r.commandHealth(ctx, cfgLoaded.Config)
	case cli.CommandRun:
		return r.commandRun(ctx, cfgLoaded.Config, logger)
	case cli.CommandStatus:
		return r.commandStatus(ctx)
	case cli.CommandPorts:
		return r.commandPorts(ctx, cfgLoaded.Config)
	case cli.CommandStart:
		return r.forwardOrFail(ctx, ipc.CommandStart, parsed.Args)
	case cli.CommandParticipant:
		return r.forwardOrFail(ctx, ipc.CommandParticipant, parsed.Args)
	case cli.CommandPoll:
		return r.forwardOrFail(ctx, ipc.CommandPoll, parsed.Args)
	case cli.CommandDebug:
		return r.forwardOrFail(ctx, ipc.CommandDebug, parsed.Args)
	default:
		fmt.Fprintf(r.Stderr, "error: unsupported command %q\n", parsed.Command)
		return 2
	}
}

func (r Runner) commandStatus(ctx context.Context) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintln(r.Stdout, "not running")
		return 0
	}

	resp, handled, err := tryForward(ctx, socketPath, ipc.CommandStatus, nil)
	if handled {
		if err != nil {
			fmt.Fprintf(r.Stderr, "error: %v\n", err)
			return 1
		}
		if resp.Message == "" {
			resp.Message = resp.State
		}
		fmt.Fprintln(r.Stdout, resp.Message)
		return 0
	}

	fmt.Fprintln(r.Stdout, "not running")
	return 0
}

// commandPorts asks the daemon, which marks its open port, and falls back to
// a local scan when none is running.
func (r Runner) commandPorts(ctx context.Context, cfg config.Config) int {
	if socketPath, err := ipc.RuntimeSocketPath(); err == nil {
		resp, handled, err := tryForward(ctx, socketPath, ipc.CommandPorts, nil)
		if handled {
			if err != nil {
				fmt.Fprintf(r.Stderr, "error: %v\n", err)
				return 1
			}
			fmt.Fprintln(r.Stdout, resp.Message)
			return 0
		}
	}

	ports, err := serialport.DefaultScanner.List(cfg.Serial.Candidates)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if len(ports) == 0 {
		fmt.Fprintln(r.Stdout, "no serial ports found")
		return 1
	}
	for _, p := range ports {
		fmt.Fprintf(r.Stdout, "  %s | usb=%04x:%04x | arduino=%t\n", p.Path, p.VendorID, p.ProductID, p.Known)
	}
	return 0
}

func (r Runner) commandHealth(ctx context.Context, cfg config.Config) int {
	addr := strings.TrimSpace(cfg.Health.GRPCAddr)
	if addr == "" {
		fmt.Fprintln(r.Stderr, "error: health.grpc_addr is not configured")
		return 1
	}

	resp, err := health.Check(ctx, addr, health.Service, 2*time.Second)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	fmt.Fprintln(r.Stdout, health.Format(resp))
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return 1
	}
	return 0
}

func (r Runner) forwardOrFail(ctx context.Context, command string, args []string) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	resp, handled, err := tryForward(ctx, socketPath, command, args)
	if !handled {
		fmt.Fprintf(r.Stderr, "error: no running griprig daemon; start one with `griprig run`\n")
		return 1
	}
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if resp.Message != "" {
		fmt.Fprintln(r.Stdout, resp.Message)
	}
	return 0
}

// commandRun owns the controller port until ctx is cancelled.
func (r Runner) commandRun(ctx context.Context, cfg config.Config, logger *slog.Logger) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	listener, err := ipc.Acquire(ctx, socketPath, 180*time.Millisecond, 8)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	defer ipc.Release(listener, socketPath)

	opts := rig.Options{}
	if r.rigOptions != nil {
		opts = *r.rigOptions
	}

	if cfg.Cues.Enable {
		cues := indicator.NewCues(indicator.PulsePlayer{}, logger)
		opts.Displays = append([]trial.Display{cues}, opts.Displays...)
		defer cues.Wait()
	}

	var (
		healthListener  net.Listener
		metricsListener net.Listener
	)
	if addr := strings.TrimSpace(cfg.Health.GRPCAddr); addr != "" {
		healthListener, err = net.Listen("tcp", addr)
		if err != nil {
			fmt.Fprintf(r.Stderr, "error: health endpoint: %v\n", err)
			return 1
		}
		opts.Health = health.NewServer(logger)
	}
	if addr := strings.TrimSpace(cfg.Metrics.Addr); addr != "" {
		metricsListener, err = net.Listen("tcp", addr)
		if err != nil {
			if healthListener != nil {
				_ = healthListener.Close()
			}
			fmt.Fprintf(r.Stderr, "error: metrics endpoint: %v\n", err)
			return 1
		}
		metrics.RegisterMetrics()
	}

	daemon := rig.New(cfg, logger, opts)

	serveCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	servers := 0
	serverErrCh := make(chan error, 3)
	serve := func(fn func() error) {
		servers++
		go func() {
			err := fn()
			if err != nil {
				cancel()
			}
			serverErrCh <- err
		}()
	}

	serve(func() error { return ipc.Serve(serveCtx, listener, daemon) })
	if healthListener != nil {
		serve(func() error { return opts.Health.Serve(serveCtx, healthListener) })
	}
	if metricsListener != nil {
		serve(func() error { return metrics.Serve(serveCtx, metricsListener) })
	}

	fmt.Fprintf(r.Stdout, "griprig running (socket %s)\n", socketPath)
	runErr := daemon.Run(serveCtx)
	cancel()

	var serverErr error
	for i := 0; i < servers; i++ {
		if err := <-serverErrCh; err != nil && serverErr == nil {
			serverErr = err
		}
	}

	if runErr != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", runErr)
		logger.Error("rig loop failed", "error", runErr.Error())
		return 1
	}
	if serverErr != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", serverErr)
		logger.Error("server failed", "error", serverErr.Error())
		return 1
	}
	logger.Info("rig stopped")
	return 0
}

func tryForward(ctx context.Context, socketPath string, command string, args []string) (ipc.Response, bool, error) {
	resp, err := ipc.Send(ctx, socketPath, ipc.Request{Command: command, Args: args}, 2*time.Second)
	if err == nil {
		if resp.OK {
			return resp, true, nil
		}
		return resp, true, errors.New(resp.Error)
	}

	if ipc.Unreachable(err) {
		return ipc.Response{}, false, nil
	}

	return ipc.Response{}, true, fmt.Errorf("forward command %q: %w", command, err)
}
