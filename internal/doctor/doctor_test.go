package doctor

import (
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rbright/griprig/internal/config"
	"github.com/rbright/griprig/internal/serialport"
	"github.com/stretchr/testify/require"
)

func TestReportOKAndString(t *testing.T) {
	report := Report{Checks: []Check{
		{Name: "one", Pass: true, Message: "good"},
		{Name: "two", Pass: false, Message: "bad"},
	}}

	require.False(t, report.OK())
	text := report.String()
	require.Contains(t, text, "[OK] one: good")
	require.Contains(t, text, "[FAIL] two: bad")
}

func TestCheckEnv(t *testing.T) {
	t.Setenv("TEST_DOCTOR_ENV", "/run/user/1000")

	check := checkEnv(
		"TEST_DOCTOR_ENV",
		func(v string) bool { return strings.HasPrefix(v, "/run") },
		"looks good",
		"unexpected",
	)

	require.True(t, check.Pass)
	require.Equal(t, "looks good", check.Message)
}

// fakePorts creates device nodes for names; those listed in boards also get
// an Arduino USB identity under the scanner's sysfs root.
func fakePorts(t *testing.T, names []string, boards ...string) (serialport.Scanner, []string) {
	t.Helper()
	dir := t.TempDir()
	sys := t.TempDir()
	for _, name := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o600))
	}
	for _, name := range boards {
		device := filepath.Join(sys, name, "device")
		require.NoError(t, os.MkdirAll(device, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(device, "idVendor"), []byte("2341\n"), 0o644))
		require.NoError(t, os.WriteFile(filepath.Join(device, "idProduct"), []byte("805a\n"), 0o644))
	}
	return serialport.Scanner{SysfsRoot: sys}, []string{filepath.Join(dir, "ttyACM*")}
}

func TestCheckCueSinkFailure(t *testing.T) {
	check := checkCueSink(func() (string, error) { return "", errors.New("connect pulse server: refused") })
	require.False(t, check.Pass)
	require.Equal(t, "cues.sink", check.Name)
	require.Contains(t, check.Message, "refused")
}

func TestCheckSerialListsCandidates(t *testing.T) {
	scanner, patterns := fakePorts(t, []string{"ttyACM0", "ttyACM1"}, "ttyACM1")

	check := checkSerial(config.SerialConfig{Candidates: patterns}, scanner)
	require.True(t, check.Pass, check.Message)
	require.Contains(t, check.Message, "ttyACM1 (arduino)")
	require.Contains(t, check.Message, "ttyACM0")
	require.NotContains(t, check.Message, "no recognized Arduino board")
}

func TestCheckSerialFailsWithoutArduino(t *testing.T) {
	scanner, patterns := fakePorts(t, []string{"ttyACM0"})

	check := checkSerial(config.SerialConfig{Candidates: patterns}, scanner)
	require.False(t, check.Pass)
	require.Contains(t, check.Message, "no recognized Arduino board")
}

func TestCheckSerialFailsWithoutPorts(t *testing.T) {
	scanner, patterns := fakePorts(t, nil)

	check := checkSerial(config.SerialConfig{Candidates: patterns}, scanner)
	require.False(t, check.Pass)
	require.Contains(t, check.Message, "no ports match")
}

func TestCheckSerialPinnedPort(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "ttyACM9")
	check := checkSerial(config.SerialConfig{Port: missing}, serialport.Scanner{})
	require.False(t, check.Pass)

	require.NoError(t, os.WriteFile(missing, nil, 0o600))
	check = checkSerial(config.SerialConfig{Port: missing}, serialport.Scanner{})
	require.True(t, check.Pass)
	require.Contains(t, check.Message, "pinned to")
}

func TestCheckResultsDir(t *testing.T) {
	root := t.TempDir()

	check := checkResultsDir(root)
	require.True(t, check.Pass)
	require.Contains(t, check.Message, "is writable")

	check = checkResultsDir(filepath.Join(root, "Results"))
	require.True(t, check.Pass)
	require.Contains(t, check.Message, "will be created")

	check = checkResultsDir(filepath.Join(root, "missing", "Results"))
	require.False(t, check.Pass)

	file := filepath.Join(root, "file")
	require.NoError(t, os.WriteFile(file, nil, 0o600))
	check = checkResultsDir(file)
	require.False(t, check.Pass)
	require.Contains(t, check.Message, "not a directory")

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestCheckListenAddr(t *testing.T) {
	check := checkListenAddr("metrics.addr", "127.0.0.1:0")
	require.True(t, check.Pass)
	require.Contains(t, check.Message, "available")

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	check = checkListenAddr("health.grpc_addr", listener.Addr().String())
	require.True(t, check.Pass)
	require.Contains(t, check.Message, "in use")
}

func TestRunIncludesConfiguredEndpoints(t *testing.T) {
	scanner, patterns := fakePorts(t, []string{"ttyACM0"}, "ttyACM0")
	t.Setenv("XDG_RUNTIME_DIR", t.TempDir())

	cfg := config.Default()
	cfg.Serial.Candidates = patterns
	cfg.Recording.ResultsDir = t.TempDir()
	cfg.Metrics.Addr = "127.0.0.1:0"

	sink := func() (string, error) { return "alsa_output.usb", nil }
	report := run(config.Loaded{Path: "/tmp/griprig.toml", Config: cfg, Exists: true}, scanner, sink)
	require.True(t, report.OK(), report.String())

	text := report.String()
	require.Contains(t, text, `[OK] config: loaded "/tmp/griprig.toml"`)
	require.Contains(t, text, "[OK] serial.port:")
	require.Contains(t, text, "[OK] recording.results_dir:")
	require.Contains(t, text, "[OK] XDG_RUNTIME_DIR:")
	require.Contains(t, text, `[OK] cues.sink: playing on "alsa_output.usb"`)
	require.Contains(t, text, "[OK] metrics.addr:")
	require.NotContains(t, text, "health.grpc_addr")
}

func TestRunFlagsMissingConfigAsDefaults(t *testing.T) {
	scanner, patterns := fakePorts(t, []string{"ttyACM0"}, "ttyACM0")

	cfg := config.Default()
	cfg.Serial.Candidates = patterns
	cfg.Recording.ResultsDir = t.TempDir()
	cfg.Cues.Enable = false

	sink := func() (string, error) {
		t.Fatal("sink probed with cues disabled")
		return "", nil
	}
	report := run(config.Loaded{Path: "/tmp/none.toml", Config: cfg}, scanner, sink)
	require.Contains(t, report.String(), "not found; using defaults")
	require.NotContains(t, report.String(), "cues.sink")
}
