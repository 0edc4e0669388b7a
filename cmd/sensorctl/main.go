package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/abelzeko/sensor-archive/internal/app"
	"github.com/abelzeko/sensor-archive/internal/config"
	"github.com/abelzeko/sensor-archive/internal/logging"
)

// cli holds the flags shared by all commands and the application opened for them
type cli struct {
	configPath string
	verbose    bool
	app        *app.App
}

func newRootCmd(c *cli) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "sensorctl",
		Short: "Sensor Archive - import and summarize air sensor data",
		Long: `sensorctl downloads the daily files of a sensor from the sensor archive,
stores the readings in a local database and prints per-period summaries.`,
		SilenceUsage:      true,
		PersistentPreRunE: c.open,
	}

	rootCmd.PersistentFlags().StringVar(&c.configPath, "config", "", "path to the configuration file")
	rootCmd.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "log progress details")

	rootCmd.AddCommand(
		newSyncCmd(c),
		newShowCmd(c),
		newResolveTypeCmd(c),
		newDeleteCmd(c),
		newSensorsCmd(c),
		newTypesCmd(c),
		newClearCacheCmd(c),
		newSettingCmd(c),
		newCatalogCmd(c),
		newArchiveCmd(c),
	)
	return rootCmd
}

// open loads the configuration and builds the application before any command runs
func (c *cli) open(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadConfig(c.configPath)
	if err != nil {
		return err
	}

	// Command output goes to stdout, logs stay on stderr
	logCfg := logging.Config{Level: "warn", Format: cfg.Logging.Format, Output: cfg.Logging.Output}
	if c.verbose {
		logCfg.Level = cfg.Logging.Level
	}
	if logCfg.Output == "" || strings.EqualFold(logCfg.Output, "stdout") {
		logCfg.Output = "stderr"
	}
	logger, err := logging.InitLogger(logCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	a, err := app.Build(cmd.Context(), cfg, logger.WithComponent(logging.ComponentCLI), app.Options{})
	if err != nil {
		return err
	}
	c.app = a
	return nil
}

func (c *cli) close() {
	if c.app != nil {
		c.app.Close()
		c.app = nil
	}
}

// run executes one command line and releases the database afterwards
func run(ctx context.Context, args []string, out io.Writer) error {
	c := &cli{}
	defer c.close()

	rootCmd := newRootCmd(c)
	rootCmd.SetArgs(args)
	rootCmd.SetOut(out)
	return rootCmd.ExecuteContext(ctx)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
