// Package cli implements the serialdev command line tool.
package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"serial-device/internal/config"
	"serial-device/internal/device"
	"serial-device/internal/utils"
)

// App carries the state shared by every subcommand
type App struct {
	out         io.Writer
	viper       *viper.Viper
	configPath  string
	managerOpts []device.Option

	config  *config.Config
	logger  *zap.Logger
	manager *device.Manager
}

// NewRootCommand builds the serialdev command tree. Output goes to out;
// opts are passed to every device manager the commands create.
func NewRootCommand(out io.Writer, opts ...device.Option) *cobra.Command {
	app := &App{
		out:         out,
		viper:       config.New(),
		managerOpts: opts,
	}
	app.viper.SetDefault("logging.level", "warn")
	app.viper.SetDefault("logging.format", "console")
	app.viper.SetDefault("logging.output", "stderr")

	root := &cobra.Command{
		Use:   "serialdev",
		Short: "Discover and talk to serial devices",
		Long: `serialdev finds devices that identify themselves over a serial line.

Every candidate port is opened, sent an "id" frame and given one timeout to
answer. Devices whose reply starts with the configured prefix are usable by
name with the cmd subcommand.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: app.setup,
		PersistentPostRun: func(cmd *cobra.Command, args []string) { app.teardown() },
	}
	root.SetOut(out)

	flags := root.PersistentFlags()
	flags.StringVarP(&app.configPath, "config", "c", "", "path to config file")
	flags.StringP("prefix", "p", "", "device name prefix to accept")
	flags.IntP("baud", "b", 115200, "baud rate")
	flags.DurationP("timeout", "t", 2*time.Second, "per-frame I/O timeout")
	flags.String("log-level", "warn", "log level: debug, info, warn, error")

	bindings := map[string]string{
		"device.id_prefix": "prefix",
		"device.baud_rate": "baud",
		"device.timeout":   "timeout",
		"logging.level":    "log-level",
	}
	for key, name := range bindings {
		if err := app.viper.BindPFlag(key, flags.Lookup(name)); err != nil {
			panic(fmt.Sprintf("bind flag %s: %v", name, err))
		}
	}

	root.AddCommand(
		newPortsCommand(app),
		newScanCommand(app),
		newCmdCommand(app),
	)
	return root
}

// Execute runs the command tree against os.Args
func Execute(out io.Writer) error {
	return NewRootCommand(out).Execute()
}

func (a *App) setup(cmd *cobra.Command, args []string) error {
	if err := config.LoadFile(a.viper, a.configPath); err != nil {
		return err
	}
	cfg, err := config.LoadFrom(a.viper)
	if err != nil {
		return err
	}
	a.config = cfg

	logger, err := utils.NewLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	a.logger = logger

	manager, err := device.NewManager(device.OptionsFromConfig(cfg.Device), logger, a.managerOpts...)
	if err != nil {
		return err
	}
	a.manager = manager
	return nil
}

func (a *App) teardown() {
	if a.manager != nil {
		if err := a.manager.Shutdown(); err != nil {
			a.logger.Warn("Failed to close devices", zap.Error(err))
		}
	}
	if a.logger != nil {
		_ = utils.CloseLogger(a.logger)
	}
}
