package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mfxhutch/pumpprobe/internal/debug"
	"github.com/mfxhutch/pumpprobe/internal/logic/scan"
)

var scanFlags struct {
	delays      []float64
	nruns       int
	lightEvents int
	darkEvents  int
	pulse1      bool
	pulse2      bool
	pulse3      bool
	rate        string
	record      bool
}

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run a pump-probe delay scan",
	Long: `Run light (and optionally dark) DAQ runs for every delay, nruns times.

Without --delays a single light run per repetition is taken with the OPO
shutter closed and the triggers left as they are.

Examples:
  pumpprobe scan --delays 1e6,2e6 --nruns 2 --pulse1 --dark-events 500
  pumpprobe scan --light-events 1200 --rate 30Hz --record
`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

func init() {
	f := scanCmd.Flags()
	f.Float64SliceVar(&scanFlags.delays, "delays", nil, "pump-probe delays in ns (0 to 15.5e6)")
	f.IntVar(&scanFlags.nruns, "nruns", 1, "number of repetitions over all delays")
	f.IntVar(&scanFlags.lightEvents, "light-events", 0, "events per light run (default from config)")
	f.IntVar(&scanFlags.darkEvents, "dark-events", 0, "events per dark run, 0 for no dark runs")
	f.BoolVar(&scanFlags.pulse1, "pulse1", false, "open the pulse 1 shutter for light runs")
	f.BoolVar(&scanFlags.pulse2, "pulse2", false, "open the pulse 2 shutter for light runs")
	f.BoolVar(&scanFlags.pulse3, "pulse3", false, "open the pulse 3 shutter for light runs")
	f.StringVar(&scanFlags.rate, "rate", "", "sequencer rate, e.g. 10Hz (default from config)")
	f.BoolVar(&scanFlags.record, "record", false, "record the DAQ runs (default from config)")
	rootCmd.AddCommand(scanCmd)
}

// buildScanRequest merges the scan flags with the configured defaults.
func buildScanRequest(cmd *cobra.Command) scan.Request {
	req := scan.Request{
		Delays:      scanFlags.delays,
		Repetitions: scanFlags.nruns,
		LightEvents: cfg.Scan.LightEvents,
		DarkEvents:  scanFlags.darkEvents,
		Rate:        cfg.Sequencer.Rate,
		Record:      cfg.DAQ.Record,
	}
	req.Shutters.Pulse1 = scanFlags.pulse1
	req.Shutters.Pulse2 = scanFlags.pulse2
	req.Shutters.Pulse3 = scanFlags.pulse3
	if cmd.Flags().Changed("light-events") {
		req.LightEvents = scanFlags.lightEvents
	}
	if scanFlags.rate != "" {
		req.Rate = scanFlags.rate
	}
	if cmd.Flags().Changed("record") {
		req.Record = scanFlags.record
	}
	return req
}

func runScan(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	req := buildScanRequest(cmd)

	h, err := newHutch(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := h.Close(); err != nil {
			debug.Errorf(err, "closing GPIO driver failed")
		}
	}()

	ctx, cancel := signal.NotifyContext(contextOrBackground(cmd), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	debug.Summary("Scan Plan")
	debug.PrintStruct("Request", req)

	out, err := h.runScan(ctx, req)
	fmt.Fprintf(cmd.OutOrStdout(), "scan %s: %s after %d runs\n", out.ScanID, out.Status, out.RunsDone)
	if errors.Is(err, scan.ErrInterrupted) {
		return nil
	}
	return err
}

// contextOrBackground guards commands executed without a context.
func contextOrBackground(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
