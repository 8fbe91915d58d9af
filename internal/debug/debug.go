package debug

import (
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"
)

// Debug levels
const (
	LevelOff     = 0 // No output
	LevelInfo    = 1 // Important info (scan plan, run outcomes)
	LevelLive    = 2 // Live info (delays applied, runs started)
	LevelVerbose = 3 // Verbose (trigger settings, device writes)
	LevelTrace   = 4 // Trace (process variables, GPIO)
)

var (
	mu     sync.RWMutex
	level  int
	out    io.Writer = os.Stdout
	logger           = zerolog.Nop()
)

// Init initializes the debug system with a level (0-4).
// 0 = no output
// 1 = important info (scan plan, run outcomes, cleanup)
// 2 = live info (delays applied, DAQ runs started/completed)
// 3 = verbose (trigger settings, sequencer program, shutter writes)
// 4 = trace (process variables, GPIO, very low level)
func Init(debugLevel int) {
	mu.Lock()
	defer mu.Unlock()
	level = debugLevel
	rebuild()
}

// SetOutput redirects log output, e.g. to tee it into the web status stream.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	out = w
	rebuild()
}

func rebuild() {
	if level <= LevelOff {
		logger = zerolog.Nop()
		return
	}
	cw := zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: "15:04:05.000",
		NoColor:    out != os.Stdout,
	}
	logger = zerolog.New(cw).With().Timestamp().Logger().Level(zerologLevel(level))
}

func zerologLevel(l int) zerolog.Level {
	switch {
	case l >= LevelTrace:
		return zerolog.TraceLevel
	case l >= LevelVerbose:
		return zerolog.DebugLevel
	default:
		return zerolog.InfoLevel
	}
}

// Level returns the current debug level.
func Level() int {
	mu.RLock()
	defer mu.RUnlock()
	return level
}

// IsEnabled returns true if debug level is >= the requested level.
func IsEnabled(minLevel int) bool {
	return Level() >= minLevel
}

// Logger returns the underlying structured logger for callers that attach
// fields (scan id, run kind, ...). It is a no-op logger when debug is off.
func Logger() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// --- Level 1 functions (Info): important info ---

// Info prints a level 1 message (important info).
func Info(format string, args ...interface{}) {
	if IsEnabled(LevelInfo) {
		l := Logger()
		l.Info().Msgf(format, args...)
	}
}

// Warn prints a warning (level 1). Used for user interruption and
// read-back mismatches, which are not errors.
func Warn(format string, args ...interface{}) {
	if IsEnabled(LevelInfo) {
		l := Logger()
		l.Warn().Msgf(format, args...)
	}
}

// Summary prints an important summary (level 1).
func Summary(title string) {
	if IsEnabled(LevelInfo) {
		l := Logger()
		l.Info().Msg("═══════════════════════════════════════")
		l.Info().Msgf("  %s", title)
		l.Info().Msg("═══════════════════════════════════════")
	}
}

// --- Level 2 functions (Live): real-time info ---

// Live prints a level 2 message (live info).
func Live(format string, args ...interface{}) {
	if IsEnabled(LevelLive) {
		l := Logger()
		l.Info().Str("lvl", "live").Msgf(format, args...)
	}
}

// Delay prints a trigger delay change (level 2).
func Delay(delayNs float64, eventCode int) {
	if IsEnabled(LevelLive) {
		l := Logger()
		l.Info().Str("lvl", "live").Float64("delay_ns", delayNs).Int("inhibit_ec", eventCode).Msg("Laser delay set")
	}
}

// Run prints the start of a DAQ run (level 2).
func Run(rep, totalReps int, kind string, events int) {
	if IsEnabled(LevelLive) {
		l := Logger()
		l.Info().Str("lvl", "live").Msgf("Starting %s run (repetition %d/%d, %d events)", kind, rep, totalReps, events)
	}
}

// --- Level 3 functions (Verbose): everything ---

// Verbose prints a level 3 message (verbose).
func Verbose(format string, args ...interface{}) {
	if IsEnabled(LevelVerbose) {
		l := Logger()
		l.Debug().Msgf(format, args...)
	}
}

// PrintStruct prints a struct in formatted form (level 3).
func PrintStruct(name string, v interface{}) {
	if IsEnabled(LevelVerbose) {
		l := Logger()
		l.Debug().Msgf("%s: %+v", name, v)
	}
}

// Section prints a section separator (level 3).
func Section(name string) {
	if IsEnabled(LevelVerbose) {
		l := Logger()
		l.Debug().Msg("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
		l.Debug().Msgf("  %s", name)
		l.Debug().Msg("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	}
}

// Step prints a numbered step (level 3).
func Step(num int, description string) {
	if IsEnabled(LevelVerbose) {
		l := Logger()
		l.Debug().Msgf("Step %d: %s", num, description)
	}
}

// Value prints a named value in formatted form (level 1).
func Value(name string, value interface{}) {
	if IsEnabled(LevelInfo) {
		l := Logger()
		l.Info().Msgf("  %s = %v", name, value)
	}
}

// --- Level 4 functions (Trace): very low level ---

// Trace prints a level 4 message (trace).
func Trace(format string, args ...interface{}) {
	if IsEnabled(LevelTrace) {
		l := Logger()
		l.Trace().Msgf(format, args...)
	}
}

// GPIO prints a GPIO operation (level 4).
func GPIO(operation string, pin int, value interface{}) {
	if IsEnabled(LevelTrace) {
		l := Logger()
		l.Trace().Str("op", operation).Int("pin", pin).Interface("value", value).Msg("gpio")
	}
}

// PV prints a process-variable write or read (level 4).
func PV(operation, name string, value interface{}) {
	if IsEnabled(LevelTrace) {
		l := Logger()
		l.Trace().Str("op", operation).Str("pv", name).Interface("value", value).Msg("pv")
	}
}

// --- General functions ---

// Error prints a debug error (level 1+).
func Error(err error) {
	if IsEnabled(LevelInfo) {
		l := Logger()
		l.Error().Err(err).Msg("error")
	}
}

// Errorf prints an error with context (level 1+).
func Errorf(err error, format string, args ...interface{}) {
	if IsEnabled(LevelInfo) {
		l := Logger()
		l.Error().Err(err).Msgf(format, args...)
	}
}
