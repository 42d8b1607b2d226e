package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/skipor/seqcache/cmd/seqcache/config"
	"github.com/skipor/seqcache/internal/tag"
	"github.com/skipor/seqcache/internal/util"
	"github.com/skipor/seqcache/log"
)

// Set by build.
var version = "dev"

const envPrefix = "SEQCACHE"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", util.Unwrap(err))
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	var cfgFile string
	root := &cobra.Command{
		Use:           "seqcache",
		Short:         "Sequencer frame cache tools",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cfgFile != "" {
				v.SetConfigFile(cfgFile)
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "path to json, yaml or toml config")

	def := config.Default()
	flags := root.PersistentFlags()
	flags.String("log-destination", def.LogDestination, "log destination: stderr, stdout or file path")
	flags.String("log-level", def.LogLevel, "log level: debug, info, warn, error, fatal")
	flags.String("cache-size", def.CacheSize, "cache memory limit: 2g, 64m; 0 for no limit")

	sim := &cobra.Command{
		Use:   "simulate",
		Short: "Render synthetic sequencer workload through frame cache",
		Long: `Simulate renders frames of synthetic strips in parallel workers, caching every
render stage the way sequencer render pipeline does, while memory pressure loop
recycles entries and strips are invalidated from time to time. Cache metrics of
every scene are printed at the end.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := config.Load(v)
			if err != nil {
				return errors.Wrap(err, "config load failed")
			}
			parsed, err := config.Parse(*conf)
			if err != nil {
				return errors.Wrap(err, "config parse failed")
			}
			l := log.NewLogger(parsed.LogLevel, parsed.LogDestination)
			l.Debugf("Config: %#v", conf)
			if tag.Debug {
				l.Warn("Using debug build. It has more runtime checks and large performance overhead.")
			}
			return runSimulation(cmd.Context(), l, parsed, cmd.OutOrStdout())
		},
	}
	simFlags := sim.Flags()
	simFlags.String("frame-size", def.FrameSize, "frame size in pixels: WIDTHxHEIGHT")
	simFlags.Int("workers", def.Workers, "concurrent render workers")
	simFlags.Int("frames", def.Frames, "timeline frames per scene")
	simFlags.Int("strips", def.Strips, "strips stacked in every scene")
	simFlags.Int("scenes", def.Scenes, "scenes rendered concurrently")
	simFlags.Int("passes", def.Passes, "passes over all frames")
	simFlags.Int64("seed", def.Seed, "random seed of invalidations")

	cobra.CheckErr(v.BindPFlags(flags))
	cobra.CheckErr(v.BindPFlags(simFlags))
	config.SetDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	root.AddCommand(sim, &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "seqcache version: %s\n", version)
		},
	})
	return root
}
