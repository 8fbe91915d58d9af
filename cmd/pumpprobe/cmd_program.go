package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mfxhutch/pumpprobe/internal/debug"
	"github.com/mfxhutch/pumpprobe/internal/hw/sequencer"
)

var programRate string

var programCmd = &cobra.Command{
	Use:   "program",
	Short: "Load the event sequencer program and print it",
	Args:  cobra.NoArgs,
	RunE:  runProgram,
}

func init() {
	programCmd.Flags().StringVar(&programRate, "rate", "", "sequencer rate (default from config)")
	rootCmd.AddCommand(programCmd)
}

func runProgram(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	rate := cfg.Sequencer.Rate
	if programRate != "" {
		rate = programRate
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

	if err := h.sequencer.LoadProgram(rate); err != nil {
		return err
	}
	readRate, err := h.sequencer.Rate()
	if err != nil {
		return err
	}
	status, err := h.sequencer.Status()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "rate %s, %s, %d of %d slots used\n", readRate, status, len(sequencer.Program), sequencer.Capacity)
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SLOT\tEVENT_CODE\tDELTA_BEAM\tFIDUCIAL\tCOMMENT")
	for i, s := range sequencer.Program {
		fmt.Fprintf(tw, "%d\t%d\t%d\t%d\t%s\n", i, s.EventCode, s.DeltaBeam, s.Fiducial, s.Comment)
	}
	return tw.Flush()
}
