package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mfxhutch/pumpprobe/internal/debug"
	"github.com/mfxhutch/pumpprobe/internal/hw/sequencer"
	"github.com/mfxhutch/pumpprobe/internal/web"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP control server",
	Long: `Serve the scan API (POST /api/scan, POST /api/scan/stop, GET /api/state),
the status event stream and Prometheus metrics.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 8080, "listen port")
	rootCmd.AddCommand(serveCmd)
}

func validatePort(p int) error {
	if p <= 0 || p > 65535 {
		return fmt.Errorf("port must be 1-65535, got %d", p)
	}
	return nil
}

// formDefaults exposes the configured scan defaults to web clients.
func formDefaults(h *hutch) web.FormConfig {
	return web.FormConfig{
		LightEvents:     h.cfg.Scan.LightEvents,
		Rate:            h.cfg.Sequencer.Rate,
		Rates:           sequencer.Rates,
		Record:          h.cfg.DAQ.Record,
		MaxDelayNs:      h.quantizer.MaxDelayNs(),
		ZeroDelayPolicy: h.cfg.Scan.ZeroDelayPolicy,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := validatePort(servePort); err != nil {
		return err
	}
	if err := loadConfig(); err != nil {
		return err
	}

	broadcaster := web.NewStatusBroadcaster()
	debug.SetOutput(io.MultiWriter(os.Stdout, web.BroadcastWriter(broadcaster)))

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

	handlers := web.NewHandlers(broadcaster, scanRunner{h: h}, h.quantizer, formDefaults(h))
	srv := web.NewServer(fmt.Sprintf(":%d", servePort), handlers, h.metrics.Handler())
	return srv.Run(ctx)
}
