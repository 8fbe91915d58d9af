package main

import (
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mfxhutch/pumpprobe/internal/debug"
	"github.com/mfxhutch/pumpprobe/internal/logic/timing"
)

var delayCmd = &cobra.Command{
	Use:   "delay <ns>...",
	Short: "Print the trigger settings for delays without touching hardware",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runDelay,
}

var readbackApply float64

var readbackCmd = &cobra.Command{
	Use:   "readback",
	Short: "Apply a delay to the trigger pair and read it back",
	Long: `Configure the trigger defaults, apply --apply ns and reconstruct the
delay from the trigger read-back.`,
	Args: cobra.NoArgs,
	RunE: runReadback,
}

func init() {
	readbackCmd.Flags().Float64Var(&readbackApply, "apply", 0, "delay in ns to apply before reading back")
	rootCmd.AddCommand(delayCmd, readbackCmd)
}

func parseDelays(args []string) ([]float64, error) {
	delays := make([]float64, 0, len(args))
	for _, a := range args {
		v, err := strconv.ParseFloat(a, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid delay %q: %w", a, err)
		}
		delays = append(delays, v)
	}
	return delays, nil
}

func runDelay(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	delays, err := parseDelays(args)
	if err != nil {
		return err
	}
	q := timing.NewQuantizer(cfg)

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DELAY_NS\tBUCKET\tINHIBIT_EC\tINHIBIT_FINE_NS\tPACEMAKER_EC\tPACEMAKER_FINE_NS")
	for _, d := range delays {
		s, err := q.Settings(d)
		if err != nil {
			tw.Flush()
			return err
		}
		fmt.Fprintf(tw, "%g\t%s\t%d\t%.3f\t%d\t%.3f\n", d, s.Bucket.Name,
			s.Inhibit.EventCode, s.Inhibit.FineDelayNs, s.Pacemaker.EventCode, s.Pacemaker.FineDelayNs)
	}
	return tw.Flush()
}

func runReadback(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	h, err := newHutch(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := h.Close(); err != nil {
			debug.Errorf(err, "closing GPIO driver failed")
		}
	}()

	if err := h.triggers.ConfigureDefaults(); err != nil {
		return err
	}
	if _, err := h.triggers.Apply(readbackApply); err != nil {
		return err
	}
	got, err := h.triggers.ReadDelay()
	if err != nil {
		return err
	}
	debug.Value("Applied delay", readbackApply)
	fmt.Fprintf(cmd.OutOrStdout(), "delay read back: %.1f ns\n", got)
	return nil
}
