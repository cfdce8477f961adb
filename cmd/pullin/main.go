package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/21syl/pullin-sdr/internal/loopfilt"
	"github.com/21syl/pullin-sdr/internal/receiver"
)

func main() {
	var (
		configPath string
		verbose    bool
		epochs     int
		loopOrder  int
		spoofPower float64
		realFile   string
		imagFile   string
	)

	rootCmd := &cobra.Command{
		Use:   "pullin",
		Short: "GNSS spoofing pull-in receiver",
		Long: `Acquires and tracks ranging signals from recorded baseband sample
files and reports whether each channel's tracking loop was captured by a
counterfeit signal.

Example usage:
  pullin --config scenario.yaml --epochs 5000 --loop-order 2 --spoof-power 7`,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logrus.New()
			if verbose {
				log.SetLevel(logrus.DebugLevel)
			}

			cfg := receiver.DefaultConfig()
			if configPath != "" {
				var err error
				if cfg, err = receiver.Load(configPath); err != nil {
					return err
				}
			}
			if realFile != "" {
				cfg.RealFile = realFile
			}
			if imagFile != "" {
				cfg.ImagFile = imagFile
			}
			if cmd.Flags().Changed("epochs") {
				cfg.Epochs = epochs
			}
			if cmd.Flags().Changed("loop-order") {
				cfg.CodeLoopOrder = loopfilt.Order(loopOrder)
			}
			if cmd.Flags().Changed("spoof-power") {
				cfg.SpoofPowerDB = spoofPower
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(),
				os.Interrupt, syscall.SIGTERM)
			defer stop()

			result, err := receiver.New(cfg, log).Run(ctx)
			if err != nil {
				return err
			}
			for _, ch := range result.Channels {
				if ch.Err != nil {
					log.WithField("prn", ch.PRN).WithError(ch.Err).
						Error("channel failed")
					continue
				}
				fields := logrus.Fields{
					"prn":        ch.PRN,
					"peakMetric": fmt.Sprintf("%.2f", ch.Acq.PeakMetric),
					"doppler":    fmt.Sprintf("%.1f", ch.Acq.CarrierFreq-cfg.IntermediateFreq),
					"epochs":     len(ch.Track.Records),
					"spoofed":    ch.Track.SpoofingDetected,
					"lostLock":   ch.Track.LossOfLock,
				}
				if n := len(ch.Track.CNR); n > 0 {
					fields["cnr"] = fmt.Sprintf("%.1f", ch.Track.CNR[n-1])
				}
				log.WithFields(fields).Info("channel summary")
			}
			return nil
		},
	}

	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "Scenario YAML file")
	rootCmd.Flags().StringVar(&realFile, "real-file", "", "Real-component sample file")
	rootCmd.Flags().StringVar(&imagFile, "imag-file", "", "Imaginary-component sample file")
	rootCmd.Flags().IntVarP(&epochs, "epochs", "e", 5000, "Number of 1 ms epochs to track")
	rootCmd.Flags().IntVarP(&loopOrder, "loop-order", "o", 2, "Code loop filter order (1, 2 or 3)")
	rootCmd.Flags().Float64VarP(&spoofPower, "spoof-power", "p", 0, "Counterfeit power advantage hint (dB)")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Verbose logging")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
