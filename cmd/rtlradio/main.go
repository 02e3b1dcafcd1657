// Command rtlradio receives AM and FM broadcasts with an RTL2832U/R820T
// dongle.
package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"go-rtl-radio/internal/config"
)

var (
	configPath string
	logLevel   string

	// cfg is loaded before any subcommand runs.
	cfg *config.Config
)

// Flags shared by the receiving commands. They override the config file
// when set.
var (
	deviceIndex   int
	frequency     config.Frequency
	sampleRate    config.Frequency
	bandwidth     config.Frequency
	carrierOffset config.Frequency
	mode          string
	gain          string
	ppm           float64
)

var rootCmd = &cobra.Command{
	Use:           "rtlradio",
	Short:         "Listen to AM and FM radio with an RTL-SDR dongle",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if configPath != "" {
			cfg, err = config.Load(configPath)
			if err != nil {
				return err
			}
		} else {
			cfg = config.New()
		}
		applyFlags(cmd)
		if err := cfg.Validate(); err != nil {
			return err
		}

		level, _ := cfg.LogLevel()
		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: level,
		}))
		slog.SetDefault(logger)
		if configPath != "" {
			slog.Info("Configuration loaded", "path", configPath)
		}
		return nil
	},
}

// applyFlags copies the flags given on the command line over cfg.
func applyFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.Log.Level = logLevel
	}
	if flags.Changed("device") {
		cfg.Device.Index = deviceIndex
	}
	if flags.Changed("frequency") {
		cfg.Radio.Frequency = frequency
	}
	if flags.Changed("sample-rate") {
		cfg.Radio.SampleRate = sampleRate
	}
	if flags.Changed("bandwidth") {
		cfg.Radio.Bandwidth = bandwidth
	}
	if flags.Changed("carrier-offset") {
		cfg.Radio.CarrierOffset = carrierOffset
	}
	if flags.Changed("mode") {
		cfg.Radio.Mode = mode
	}
	if flags.Changed("gain") {
		cfg.Device.Gain = gain
	}
	if flags.Changed("ppm") {
		cfg.Device.PPM = ppm
	}
}

// addRadioFlags registers the tuning flags on cmd.
func addRadioFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.IntVarP(&deviceIndex, "device", "d", 0, "Index of the dongle to open")
	flags.VarP(&frequency, "frequency", "f", "Station frequency, e.g. 100.3MHz or 531k")
	flags.VarP(&sampleRate, "sample-rate", "s", "Dongle sample rate, e.g. 1.024M")
	flags.Var(&bandwidth, "bandwidth", "AM channel bandwidth")
	flags.Var(&carrierOffset, "carrier-offset", "Distance between the AM station and the dongle's center frequency")
	flags.StringVarP(&mode, "mode", "m", config.ModeAM, "Demodulation mode [am|wbfm]")
	flags.StringVarP(&gain, "gain", "g", "auto", "Tuner gain in dB, or auto")
	flags.Float64VarP(&ppm, "ppm", "p", 0, "Crystal frequency correction in ppm")
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configPath, "config", "c", "", "YAML configuration file")
	flags.StringVar(&logLevel, "log-level", "info", "Log level [debug|info|warn|error]")

	for _, cmd := range []*cobra.Command{listenCmd, recordCmd, serveCmd} {
		addRadioFlags(cmd)
	}
	addDemodFlags(demodCmd)
	recordCmd.Flags().StringP("output", "o", "recording.wav", "WAV file to write")
	recordCmd.Flags().Duration("duration", 0, "Stop after this long (0 records until interrupted)")

	rootCmd.AddCommand(probeCmd, listenCmd, recordCmd, serveCmd, demodCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("Command failed", "error", err)
		os.Exit(1)
	}
}
