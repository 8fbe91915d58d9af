package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/mfxhutch/pumpprobe/internal/config"
	"github.com/mfxhutch/pumpprobe/internal/debug"
)

var (
	cfgPath    string
	debugLevel int
	cfg        *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "pumpprobe",
	Short: "Pump-probe laser delay scans for the MFX hutch",
	Long: `pumpprobe sets the laser delay through the EVR trigger pair, drives the
event sequencer and the laser shutters, and takes light and dark DAQ runs
for every requested delay.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", filepath.Join("configs", "default.yaml"), "path to config file")
	rootCmd.PersistentFlags().IntVar(&debugLevel, "debug", -1, "debug level 0-4 (default from config)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig loads configuration and initializes logging (called by
// commands that need it).
func loadConfig() error {
	if err := config.ValidateConfigPath(cfgPath); err != nil {
		return err
	}
	var err error
	cfg, err = config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	level := cfg.Defaults.DebugLevel
	if debugLevel >= 0 {
		level = debugLevel
	}
	debug.Init(level)
	debug.Section("Initialization")
	debug.Value("Config path", cfgPath)
	debug.Value("Debug level", level)
	return nil
}
