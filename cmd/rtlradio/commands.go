package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"go-rtl-radio/internal/api"
	"go-rtl-radio/internal/audio"
	"go-rtl-radio/internal/config"
	"go-rtl-radio/internal/dsp"
	"go-rtl-radio/internal/iqsource"
	"go-rtl-radio/internal/radio"
	"go-rtl-radio/internal/rtl2832u"
	"go-rtl-radio/internal/usb"
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "List attached dongles and identify the tuner of the selected one",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		infos, err := usb.List(usb.KnownDongles)
		if err != nil {
			return err
		}
		if len(infos) == 0 {
			return usb.ErrNoDevice
		}
		for i, info := range infos {
			fmt.Fprintf(cmd.OutOrStdout(), "%d: %s\n", i, info)
		}

		dev, err := openDongle()
		if err != nil {
			return err
		}
		defer dev.Close()
		fmt.Fprintf(cmd.OutOrStdout(), "Device %d tuner: %s\n", cfg.Device.Index, dev.TunerName())
		return nil
	},
}

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Play a station through the speakers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		dev, err := openDongle()
		if err != nil {
			return err
		}
		defer dev.Close()

		speaker, err := audio.NewSpeaker(cfg.Audio.SampleRate)
		if err != nil {
			return err
		}
		defer speaker.Close()

		ctx, stop := signalContext()
		defer stop()
		return newReceiver(dev, speaker).Run(ctx)
	},
}

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record a station to a WAV file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")
		duration, _ := cmd.Flags().GetDuration("duration")

		dev, err := openDongle()
		if err != nil {
			return err
		}
		defer dev.Close()

		ctx, stop := signalContext()
		defer stop()
		if duration > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, duration)
			defer cancel()
		}
		return recordTo(ctx, dev, output)
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Play a station and serve the control API",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		dev, err := openDongle()
		if err != nil {
			return err
		}
		defer dev.Close()

		speaker, err := audio.NewSpeaker(cfg.Audio.SampleRate)
		if err != nil {
			return err
		}
		defer speaker.Close()

		rcv := newReceiver(dev, speaker)
		app := api.NewApp(api.New(rcv, slog.Default()))

		ctx, stop := signalContext()
		defer stop()
		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return rcv.Run(ctx)
		})
		g.Go(func() error {
			slog.Info("Starting control API", "address", cfg.Address())
			return app.Listen(cfg.Address())
		})
		g.Go(func() error {
			<-ctx.Done()
			slog.Info("Shutting down server...")
			return app.ShutdownWithContext(context.Background())
		})
		return g.Wait()
	},
}

// inputRate is the rate of headerless capture files.
var inputRate int

var demodCmd = &cobra.Command{
	Use:   "demod [flags] input.iq output.wav",
	Short: "Demodulate a recorded I/Q file to a WAV file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		// Captures are centered on the station unless told otherwise.
		if !cmd.Flags().Changed("carrier-offset") {
			cfg.Radio.CarrierOffset = 0
		}
		src, err := iqsource.OpenFile(args[0], inputRate, slog.Default())
		if err != nil {
			return err
		}
		defer src.Close()

		ctx, stop := signalContext()
		defer stop()
		return recordTo(ctx, src, args[1])
	},
}

func addDemodFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.IntVarP(&inputRate, "input-rate", "r", 1_024_000, "Sample rate of headerless input files")
	flags.StringVarP(&mode, "mode", "m", config.ModeAM, "Demodulation mode [am|wbfm]")
	flags.Var(&bandwidth, "bandwidth", "AM channel bandwidth")
	flags.Var(&carrierOffset, "carrier-offset", "AM carrier offset from the center of the capture (default 0)")
}

// openDongle opens and tunes the configured dongle.
func openDongle() (*rtl2832u.Device, error) {
	usbDev, err := usb.Open(usb.KnownDongles, cfg.Device.Index)
	if err != nil {
		return nil, err
	}
	slog.Info("Opened dongle", "device", usbDev.Info())

	g, err := cfg.TunerGain()
	if err != nil {
		usbDev.Close()
		return nil, err
	}
	dev, err := rtl2832u.Open(usbDev, rtl2832u.Options{
		PPM:    cfg.Device.PPM,
		Gain:   g,
		Logger: slog.Default(),
	})
	if err != nil {
		usbDev.Close()
		return nil, err
	}

	rate, err := dev.SetSampleRate(cfg.Radio.SampleRate.Int())
	if err != nil {
		dev.Close()
		return nil, err
	}
	center, err := dev.SetCenterFrequency(cfg.Radio.Frequency.Hz() - cfg.TuningOffset())
	if err != nil {
		dev.Close()
		return nil, err
	}
	slog.Info("Dongle ready", "tuner", dev.TunerName(), "frequency", center+cfg.TuningOffset(), "center", center,
		"sample_rate", rate, "gain", g, "ppm", cfg.Device.PPM)
	return dev, nil
}

// demodulatorFactory builds the configured demodulator for an input rate.
func demodulatorFactory() radio.DemodulatorFactory {
	out := cfg.Audio.SampleRate
	if cfg.Radio.Mode == config.ModeWBFM {
		tau := cfg.Radio.DeemphTau
		return func(inRate int) dsp.Demodulator {
			return dsp.NewWBFM(inRate, out, tau)
		}
	}
	bw, offset := cfg.Radio.Bandwidth.Hz(), cfg.Radio.CarrierOffset.Hz()
	return func(inRate int) dsp.Demodulator {
		am := dsp.NewAM(inRate, out, bw)
		am.SetCarrierOffset(offset)
		return am
	}
}

func newReceiver(src iqsource.Source, sink audio.Sink) *radio.Receiver {
	var offset float64
	if _, ok := src.(radio.Hardware); ok {
		offset = cfg.TuningOffset()
	}
	return radio.New(src, demodulatorFactory(), sink, radio.Options{
		BlockSize:      cfg.Stream.BlockSize,
		RingBufferSize: cfg.Stream.RingBufferSize,
		TuningOffset:   offset,
		Logger:         slog.Default(),
	})
}

// recordTo demodulates src into a WAV file at path.
func recordTo(ctx context.Context, src iqsource.Source, path string) (err error) {
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	rec := audio.NewWAVRecorder(out, cfg.Audio.SampleRate)
	defer func() {
		err = errors.Join(err, rec.Close(), out.Close())
		if rec.Clipped() > 0 {
			slog.Warn("Audio clipped", "samples", rec.Clipped())
		}
		slog.Info("Recording written", "path", path)
	}()

	return newReceiver(src, rec).Run(ctx)
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
