package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mfxhutch/pumpprobe/internal/config"
)

const testConfig = `
sequencer:
  rate: 10Hz
  settle_ms: 1
  stop_timeout_ms: 500
shutters:
  driver: %s
daq:
  driver: sim
  sim_event_rate_hz: 10000
defaults:
  debug_level: 0
  mock_gpio: true
`

// writeTestConfig writes a fast simulated-hutch config under a "configs"
// directory so it passes ValidateConfigPath.
func writeTestConfig(t *testing.T, shutterDriver string) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "configs")
	require.NoError(t, os.Mkdir(dir, 0o755))
	path := filepath.Join(dir, "test.yaml")
	body := strings.Replace(testConfig, "%s", shutterDriver, 1)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

// resetFlags restores every flag to its default; cobra keeps flag state
// between Execute calls on the same command tree.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	cmd.PersistentFlags().VisitAll(reset)
	cmd.Flags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append(args, "--debug", "0"))
	err := rootCmd.Execute()
	return out.String(), err
}

// ---------- delay ----------

func TestDelayCommand(t *testing.T) {
	path := writeTestConfig(t, "sim")
	out, err := execute(t, "delay", "--config", path, "0", "1e6", "1.2e7")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 4)
	assert.Contains(t, lines[1], "simultaneous")
	assert.Contains(t, lines[1], "210")
	assert.Contains(t, lines[1], "248935.000")
	assert.Contains(t, lines[2], "one-prior")
	assert.Contains(t, lines[3], "two-prior")
}

func TestDelayCommand_OutOfRange(t *testing.T) {
	path := writeTestConfig(t, "sim")
	_, err := execute(t, "delay", "--config", path, "15500001")
	assert.Error(t, err)
}

func TestDelayCommand_NotANumber(t *testing.T) {
	path := writeTestConfig(t, "sim")
	_, err := execute(t, "delay", "--config", path, "soon")
	assert.Error(t, err)
}

// ---------- scan ----------

func TestScanCommand_LightAndDark(t *testing.T) {
	path := writeTestConfig(t, "sim")
	out, err := execute(t, "scan", "--config", path,
		"--delays", "1e6", "--nruns", "1", "--light-events", "10", "--dark-events", "5", "--pulse1")
	require.NoError(t, err)
	assert.Contains(t, out, "completed after 2 runs")
}

func TestScanCommand_GPIOShutters(t *testing.T) {
	path := writeTestConfig(t, "gpio")
	out, err := execute(t, "scan", "--config", path,
		"--delays", "2e6,8e6", "--nruns", "2", "--light-events", "5", "--dark-events", "0", "--pulse2")
	require.NoError(t, err)
	assert.Contains(t, out, "completed after 4 runs")
}

func TestScanCommand_RejectsOutOfRangeDelay(t *testing.T) {
	path := writeTestConfig(t, "sim")
	_, err := execute(t, "scan", "--config", path,
		"--delays", "2e7", "--nruns", "1", "--light-events", "5", "--dark-events", "0")
	assert.Error(t, err)
}

func TestScanCommand_RejectsUnknownRate(t *testing.T) {
	path := writeTestConfig(t, "sim")
	_, err := execute(t, "scan", "--config", path,
		"--nruns", "1", "--light-events", "5", "--dark-events", "0", "--rate", "7Hz")
	assert.Error(t, err)
}

// ---------- readback / program ----------

func TestReadbackCommand(t *testing.T) {
	path := writeTestConfig(t, "sim")
	out, err := execute(t, "readback", "--config", path, "--apply", "3e6")
	require.NoError(t, err)
	assert.Contains(t, out, "delay read back: 3000000.0 ns")
}

func TestProgramCommand(t *testing.T) {
	path := writeTestConfig(t, "sim")
	out, err := execute(t, "program", "--config", path, "--rate", "30Hz")
	require.NoError(t, err)
	assert.Contains(t, out, "rate 30Hz, stopped, 5 of 20 slots used")
	assert.Contains(t, out, "PulsePicker")
	assert.Contains(t, out, "DAQ Readout")
}

// ---------- config / flags ----------

func TestConfigPathOutsideConfigsRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hutch.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0o644))
	_, err := execute(t, "delay", "--config", path, "0")
	assert.Error(t, err)
}

func TestValidatePort(t *testing.T) {
	for _, p := range []int{1, 8080, 65535} {
		assert.NoError(t, validatePort(p), "port %d", p)
	}
	for _, p := range []int{0, -1, 65536} {
		assert.Error(t, validatePort(p), "port %d", p)
	}
}

func TestParseDelays(t *testing.T) {
	got, err := parseDelays([]string{"0", "1e6", "15500000"})
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 1e6, 15.5e6}, got)

	_, err = parseDelays([]string{"1e6", "x"})
	assert.Error(t, err)
}

func TestFormDefaults(t *testing.T) {
	c := config.Default()
	h, err := newHutch(c)
	require.NoError(t, err)

	fd := formDefaults(h)
	assert.Equal(t, 3000, fd.LightEvents)
	assert.Equal(t, "10Hz", fd.Rate)
	assert.Equal(t, 15.5e6, fd.MaxDelayNs)
	assert.Contains(t, fd.Rates, "120Hz")
}
