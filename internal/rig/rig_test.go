package rig

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rbright/griprig/internal/config"
	"github.com/rbright/griprig/internal/health"
	"github.com/rbright/griprig/internal/ipc"
	"github.com/rbright/griprig/internal/link"
	"github.com/rbright/griprig/internal/protocol"
	"github.com/rbright/griprig/internal/serialport"
	"github.com/stretchr/testify/require"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// fakeController answers OPEN and CHECK_SEN the way the rig firmware does.
type fakeController struct {
	// silent controllers swallow every command.
	silent bool

	in     chan []byte
	fail   chan error
	closed chan struct{}
	once   sync.Once

	mu       sync.Mutex
	commands []protocol.Command
}

func newFakeController() *fakeController {
	return &fakeController{
		in:     make(chan []byte, 64),
		fail:   make(chan error, 1),
		closed: make(chan struct{}),
	}
}

func (f *fakeController) Read(p []byte) (int, error) {
	select {
	case b := <-f.in:
		return copy(p, b), nil
	case err := <-f.fail:
		return 0, err
	case <-f.closed:
		return 0, io.EOF
	}
}

func (f *fakeController) Write(p []byte) (int, error) {
	select {
	case <-f.closed:
		return 0, io.ErrClosedPipe
	default:
	}
	if len(p) != protocol.CommandFrameLen {
		return 0, errors.New("unexpected frame length")
	}
	cmd := protocol.Command(p[1])
	f.mu.Lock()
	f.commands = append(f.commands, cmd)
	f.mu.Unlock()

	if f.silent {
		return len(p), nil
	}
	switch cmd {
	case protocol.CommandOpen:
		f.in <- []byte("REP:HI:PER")
	case protocol.CommandCheckSensors:
		f.in <- []byte("REP:Y:PER")
	}
	return len(p), nil
}

func (f *fakeController) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeController) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

func (f *fakeController) sent(c protocol.Command) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, got := range f.commands {
		if got == c {
			return true
		}
	}
	return false
}

// fakeBoard gives a tty a USB identity under the scanner's sysfs root.
func fakeBoard(t *testing.T, sysfsRoot, name, vid, pid string) {
	t.Helper()
	device := filepath.Join(sysfsRoot, name, "device")
	require.NoError(t, os.MkdirAll(device, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(device, "idVendor"), []byte(vid+"\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(device, "idProduct"), []byte(pid+"\n"), 0o644))
}

type harness struct {
	rig         *Rig
	port        string
	resultsDir  string
	controllers chan *fakeController
	cancel      context.CancelFunc
	done        chan struct{}
	runErr      error
}

func newHarness(t *testing.T, mutate func(*config.Config, *Options)) *harness {
	t.Helper()

	devDir := t.TempDir()
	port := filepath.Join(devDir, "ttyACM0")
	require.NoError(t, os.WriteFile(port, nil, 0o600))

	cfg := config.Default()
	cfg.Serial.Candidates = []string{filepath.Join(devDir, "ttyACM*")}
	cfg.Serial.DiscoveryIntervalMS = 20
	cfg.Device.PollMS = 10
	cfg.Recording.ResultsDir = t.TempDir()

	h := &harness{
		port:        port,
		resultsDir:  cfg.Recording.ResultsDir,
		controllers: make(chan *fakeController, 8),
		done:        make(chan struct{}),
	}
	scanner := serialport.Scanner{SysfsRoot: t.TempDir()}
	fakeBoard(t, scanner.SysfsRoot, "ttyACM0", "2341", "805a")
	opts := Options{
		Scanner: &scanner,
		Open: func(string) (link.Transport, error) {
			c := newFakeController()
			h.controllers <- c
			return c, nil
		},
	}
	if mutate != nil {
		mutate(&cfg, &opts)
	}

	h.rig = New(cfg, nil, opts)
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() {
		defer close(h.done)
		h.runErr = h.rig.Run(ctx)
	}()
	t.Cleanup(func() { _ = h.stop() })
	return h
}

// stop cancels the loop and waits for Run to return.
func (h *harness) stop() error {
	h.cancel()
	select {
	case <-h.done:
		return h.runErr
	case <-time.After(2 * time.Second):
		return errors.New("rig loop did not stop")
	}
}

func (h *harness) nextController(t *testing.T) *fakeController {
	t.Helper()
	select {
	case c := <-h.controllers:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for port open")
		return nil
	}
}

func (h *harness) do(t *testing.T, command string, args ...string) ipc.Response {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return h.rig.Handle(ctx, ipc.Request{Command: command, Args: args})
}

func (h *harness) waitReady(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool {
		resp := h.do(t, ipc.CommandStatus)
		return resp.OK && containsAll(resp.Message, "Arduino Connected", "sensors: Connected ready=true")
	}, 2*time.Second, 10*time.Millisecond)
}

func containsAll(s string, parts ...string) bool {
	for _, p := range parts {
		if !strings.Contains(s, p) {
			return false
		}
	}
	return true
}

func TestRunDiscoversControllerAndReportsReady(t *testing.T) {
	h := newHarness(t, nil)
	c := h.nextController(t)
	h.waitReady(t)

	require.True(t, c.sent(protocol.CommandOpen))
	require.True(t, c.sent(protocol.CommandCheckSensors))

	resp := h.do(t, ipc.CommandStatus)
	require.True(t, resp.OK)
	require.Equal(t, "inactive", resp.State)
	require.Contains(t, resp.Message, "port: "+h.port)
	require.Contains(t, resp.Message, "task: None (0/22)")
}

func TestParticipantAndStartRunOnTheLoop(t *testing.T) {
	h := newHarness(t, nil)
	c := h.nextController(t)
	h.waitReady(t)

	resp := h.do(t, ipc.CommandStart)
	require.False(t, resp.OK)
	require.Contains(t, resp.Error, "no participant")

	resp = h.do(t, ipc.CommandParticipant, "7")
	require.True(t, resp.OK, resp.Error)
	require.DirExists(t, filepath.Join(h.resultsDir, "PID7"))
	require.Eventually(t, func() bool { return c.sent(protocol.CommandStopPeriodic) }, time.Second, 5*time.Millisecond)

	resp = h.do(t, ipc.CommandParticipant, "7")
	require.False(t, resp.OK)
	require.Contains(t, resp.Error, "exists")

	resp = h.do(t, ipc.CommandParticipant, "7", "--force")
	require.True(t, resp.OK, resp.Error)

	resp = h.do(t, ipc.CommandStart)
	require.True(t, resp.OK, resp.Error)
	require.Equal(t, "task 1.1 started", resp.Message)
	require.Equal(t, "resting", resp.State)

	resp = h.do(t, ipc.CommandStart)
	require.False(t, resp.OK)
	require.Contains(t, resp.Error, "in progress")
}

func TestConnectionLossRollsBackTaskAndRediscovers(t *testing.T) {
	h := newHarness(t, nil)
	first := h.nextController(t)
	h.waitReady(t)

	require.True(t, h.do(t, ipc.CommandParticipant, "3").OK)
	require.True(t, h.do(t, ipc.CommandStart).OK)

	first.fail <- errors.New("device unplugged")

	second := h.nextController(t)
	require.NotSame(t, first, second)
	h.waitReady(t)

	resp := h.do(t, ipc.CommandStatus)
	require.Equal(t, "inactive", resp.State)
	require.Contains(t, resp.Message, "task: None (0/22)")
	require.Contains(t, resp.Message, "recording=false")

	resp = h.do(t, ipc.CommandStart)
	require.True(t, resp.OK, resp.Error)
	require.Equal(t, "task 1.1 started", resp.Message)
}

func TestHandleRejectsMalformedRequests(t *testing.T) {
	h := newHarness(t, nil)
	h.nextController(t)
	h.waitReady(t)

	tests := []struct {
		name    string
		command string
		args    []string
		want    string
	}{
		{name: "unknown", command: "jump", want: "unknown command: jump"},
		{name: "start args", command: ipc.CommandStart, args: []string{"now"}, want: "usage: start"},
		{name: "participant missing", command: ipc.CommandParticipant, want: "usage: participant"},
		{name: "participant not number", command: ipc.CommandParticipant, args: []string{"abc"}, want: "not a number"},
		{name: "participant range", command: ipc.CommandParticipant, args: []string{"101"}, want: "invalid participant"},
		{name: "poll value", command: ipc.CommandPoll, args: []string{"maybe"}, want: "usage: poll on|off"},
		{name: "debug without participant", command: ipc.CommandDebug, args: []string{"on"}, want: "no participant"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp := h.do(t, tc.command, tc.args...)
			require.False(t, resp.OK)
			require.Contains(t, resp.Error, tc.want)
		})
	}
}

func TestPollAndDebugToggle(t *testing.T) {
	h := newHarness(t, nil)
	c := h.nextController(t)
	h.waitReady(t)
	require.True(t, h.do(t, ipc.CommandParticipant, "1").OK)

	resp := h.do(t, ipc.CommandPoll, "on")
	require.True(t, resp.OK, resp.Error)
	require.Equal(t, "periodic sampling on", resp.Message)
	require.Eventually(t, func() bool { return c.sent(protocol.CommandStartPeriodic) }, time.Second, 5*time.Millisecond)

	resp = h.do(t, ipc.CommandStart)
	require.False(t, resp.OK)
	require.Contains(t, resp.Error, "periodic sampling")

	require.True(t, h.do(t, ipc.CommandPoll, "off").OK)
	resp = h.do(t, ipc.CommandDebug, "on")
	require.True(t, resp.OK, resp.Error)
	require.Contains(t, h.do(t, ipc.CommandStatus).Message, "debug=true recording=true")
}

func TestPortsMarksOpenPort(t *testing.T) {
	h := newHarness(t, nil)
	h.nextController(t)
	h.waitReady(t)

	resp := h.do(t, ipc.CommandPorts)
	require.True(t, resp.OK, resp.Error)
	require.Contains(t, resp.Message, "* "+h.port+" | usb=2341:805a | arduino=true")
}

func TestOpenFailureKeepsDiscovering(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	h := newHarness(t, func(_ *config.Config, opts *Options) {
		next := opts.Open
		opts.Open = func(path string) (link.Transport, error) {
			mu.Lock()
			attempts++
			n := attempts
			mu.Unlock()
			if n < 3 {
				return nil, errors.New("device busy")
			}
			return next(path)
		}
	})

	h.nextController(t)
	h.waitReady(t)
	mu.Lock()
	defer mu.Unlock()
	require.GreaterOrEqual(t, attempts, 3)
}

func TestHealthTracksSensorReadiness(t *testing.T) {
	server := health.NewServer(nil)
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = server.Serve(ctx, listener) }()

	h := newHarness(t, func(_ *config.Config, opts *Options) {
		opts.Health = server
	})
	h.nextController(t)
	h.waitReady(t)

	status := func() healthpb.HealthCheckResponse_ServingStatus {
		resp, err := health.Check(context.Background(), listener.Addr().String(), health.Service, time.Second)
		if err != nil {
			return healthpb.HealthCheckResponse_UNKNOWN
		}
		return resp.GetStatus()
	}
	require.Eventually(t, func() bool {
		return status() == healthpb.HealthCheckResponse_SERVING
	}, 2*time.Second, 20*time.Millisecond)

	require.NoError(t, h.stop())
	require.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, status())
}

func TestHandleAfterStopReportsStopped(t *testing.T) {
	h := newHarness(t, nil)
	h.nextController(t)
	require.NoError(t, h.stop())

	resp := h.rig.Handle(context.Background(), ipc.Request{Command: ipc.CommandStatus})
	require.False(t, resp.OK)
	require.Equal(t, ErrStopped.Error(), resp.Error)
}

func TestDiscoveryIgnoresForeignPorts(t *testing.T) {
	var mu sync.Mutex
	var opened []string
	var board string
	h := newHarness(t, func(cfg *config.Config, opts *Options) {
		devDir := filepath.Dir(cfg.Serial.Candidates[0])
		board = filepath.Join(devDir, "ttyACM1")
		require.NoError(t, os.WriteFile(board, nil, 0o600))

		sysfs := t.TempDir()
		fakeBoard(t, sysfs, "ttyACM0", "1a86", "7523")
		fakeBoard(t, sysfs, "ttyACM1", "2341", "8057")
		opts.Scanner = &serialport.Scanner{SysfsRoot: sysfs}

		next := opts.Open
		opts.Open = func(path string) (link.Transport, error) {
			mu.Lock()
			opened = append(opened, path)
			mu.Unlock()
			return next(path)
		}
	})

	h.nextController(t)
	h.waitReady(t)
	require.Contains(t, h.do(t, ipc.CommandStatus).Message, "port: "+board+" ")

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{board}, opened)
}

func TestSilentBoardIsReleasedAndNextBoardTried(t *testing.T) {
	silent := newFakeController()
	silent.silent = true
	var board string
	h := newHarness(t, func(cfg *config.Config, opts *Options) {
		cfg.Protocol.ReplyTimeoutMS = 50
		devDir := filepath.Dir(cfg.Serial.Candidates[0])
		board = filepath.Join(devDir, "ttyACM1")
		require.NoError(t, os.WriteFile(board, nil, 0o600))
		fakeBoard(t, opts.Scanner.SysfsRoot, "ttyACM1", "2341", "805a")

		next := opts.Open
		opts.Open = func(path string) (link.Transport, error) {
			if filepath.Base(path) == "ttyACM0" {
				return silent, nil
			}
			return next(path)
		}
	})

	c := h.nextController(t)
	h.waitReady(t)
	require.True(t, silent.sent(protocol.CommandOpen))
	require.True(t, silent.isClosed())
	require.True(t, c.sent(protocol.CommandOpen))
	require.Contains(t, h.do(t, ipc.CommandStatus).Message, "port: "+board+" ")
}
