package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"mpu6050-ng/internal/config"
	"mpu6050-ng/internal/placement"
	"mpu6050-ng/internal/rate"
	"mpu6050-ng/internal/web"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "mpu6050-ng",
		Short:         "MPU6050 accelerometer and gyroscope service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("config", "", "path to YAML config (default: simulated sensor)")
	root.PersistentFlags().String("log-level", "", "override log.level from the config")

	root.AddCommand(newRunCmd(), newPlacementsCmd(), newNegotiateCmd(), newInitCmd())
	return root
}

// loadConfig reads --config, or the built-in defaults when it is empty, and
// applies --log-level.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg := config.Default()
	if path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return config.Config{}, fmt.Errorf("config load failed: %w", err)
		}
	}
	if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
		cfg.Log.Level = lvl
	}
	return cfg, nil
}

func setupLogging(lc config.LogConfig, logs *web.LogBuffer) error {
	lvl, err := log.ParseLevel(lc.Level)
	if err != nil {
		return err
	}
	log.SetLevel(lvl)
	if lc.JSON {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	if logs != nil {
		log.AddHook(logs)
	}
	return nil
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "run the sensor service",
		Long: `run powers the sensor on demand, samples the enabled channels and
publishes them to the configured sinks. Without --config a simulated sensor
is used and the HTTP API listens on :8080.`,
		Example: `  mpu6050-ng run --config=/etc/mpu6050-ng.yaml
  mpu6050-ng run --log-level=debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logs := web.NewLogBuffer(cfg.Web.LogTail)
			if err := setupLogging(cfg.Log, logs); err != nil {
				return err
			}
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return run(ctx, cfg, logs)
		},
	}
}

func run(ctx context.Context, cfg config.Config, logs *web.LogBuffer) error {
	rt, err := newRuntime(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.Close(); err != nil {
			log.WithError(err).Warn("shutdown")
		}
	}()

	log.WithFields(log.Fields{
		"placement": cfg.Sensor.Placement,
		"lpf":       cfg.Sensor.LPF,
		"mode":      cfg.Sensor.Mode,
		"sim":       cfg.Sim.Enable,
	}).Info("mpu6050-ng starting")

	if err := rt.Start(ctx); err != nil {
		return err
	}

	if cfg.Web.Enable {
		log.WithField("listen", cfg.Web.Listen).Info("web api listening")
		err := web.Serve(ctx, cfg.Web.Listen, rt.Handler(logs))
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
	} else {
		<-ctx.Done()
	}
	log.Info("mpu6050-ng stopping")
	return nil
}

func newPlacementsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "placements",
		Short: "list the supported sensor placements",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			for i, name := range placement.Names() {
				fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\n", i, name)
			}
			return nil
		},
	}
}

func newNegotiateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "negotiate",
		Short: "show the rate divisor chosen for a pair of poll intervals",
		Example: `  mpu6050-ng negotiate --accel 20ms --gyro 5ms --lpf 42hz
  mpu6050-ng negotiate --accel 1ms --gyro 1s --lpf none`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			accel, _ := cmd.Flags().GetDuration("accel")
			gyro, _ := cmd.Flags().GetDuration("gyro")
			name, _ := cmd.Flags().GetString("lpf")
			lpf, err := rate.ParseLPF(name)
			if err != nil {
				return err
			}
			accel, gyro = rate.ClampPollInterval(accel), rate.ClampPollInterval(gyro)
			div := rate.Negotiate(accel, gyro, lpf)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "accel_interval=%s gyro_interval=%s lpf=%s\n", accel, gyro, lpf)
			fmt.Fprintf(out, "divisor=%d sample_interval=%s output_rate_hz=%.3f\n",
				div, rate.SampleInterval(div, lpf), rate.OutputRateHz(div, lpf))
			return nil
		},
	}
	cmd.Flags().Duration("accel", rate.DefaultPollInterval, "accelerometer poll interval")
	cmd.Flags().Duration("gyro", rate.DefaultPollInterval, "gyroscope poll interval")
	cmd.Flags().String("lpf", rate.DefaultLPF.String(), "digital low-pass filter setting")
	return cmd
}

func newInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "print a configuration template",
		Long: `init prints the effective configuration as YAML: the built-in defaults,
or the file given with --config after defaults are applied.`,
		Example: `  mpu6050-ng init > mpu6050-ng.yaml`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(cfg); err != nil {
				return err
			}
			return enc.Close()
		},
	}
	return cmd
}
