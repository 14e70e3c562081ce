// Package cli holds the cobra commands of the bleperipheral tool.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jwoglom/bleperipheral/pkg/api"
	"github.com/jwoglom/bleperipheral/pkg/bluetooth"
	"github.com/jwoglom/bleperipheral/pkg/config"
	"github.com/jwoglom/bleperipheral/pkg/led"
	"github.com/jwoglom/bleperipheral/pkg/peripheral"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Version is printed by the version command
var Version = "0.1.0"

const exeName = "bleperipheral"

type options struct {
	configPath      string
	backend         string
	hci             int
	setupController bool
	name            string
	logLevel        string
	apiAddr         string
}

// Commands returns the root command with every subcommand attached
func Commands() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:           exeName,
		Short:         exeName + " runs a BLE peripheral that advertises, accepts one central and drives LEDs",
		SilenceUsage:  true,
		SilenceErrors: true,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.HelpFunc()(cmd, args)
		},
	}
	bindFlags(rootCmd.PersistentFlags(), opts)

	versCmd := &cobra.Command{
		Use:     "version",
		Short:   "Display the " + exeName + " version number",
		Example: "  " + exeName + " version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", exeName, Version)
		},
	}
	rootCmd.AddCommand(versCmd)

	rootCmd.AddCommand(variantCmd(peripheral.VariantHello, opts,
		"Enable the Bluetooth stack and report the board"))
	rootCmd.AddCommand(variantCmd(peripheral.VariantPeripheral, opts,
		"Advertise, accept a single connection and blink the run LED"))
	rootCmd.AddCommand(variantCmd(peripheral.VariantLED, opts,
		"Like peripheral, plus the encrypted LED service"))

	return rootCmd
}

func bindFlags(fs *pflag.FlagSet, opts *options) {
	fs.StringVarP(&opts.configPath, "config", "c", "",
		"configuration file (default ~/"+config.CfgFilename+")")
	fs.StringVarP(&opts.backend, "backend", "b", "",
		"bluetooth host stack: hci, bluez or sim")
	fs.IntVarP(&opts.hci, "hci", "i", 0,
		"HCI index for the controller on Linux machine")
	fs.BoolVar(&opts.setupController, "setup-controller", false,
		"power on the controller and register a pairing agent through bluetoothctl (bluez backend)")
	fs.StringVar(&opts.name, "name", "",
		"advertised device name; overrides the configuration")
	fs.StringVarP(&opts.logLevel, "loglevel", "l", "",
		"log level to use (trace, debug, info, warn, error)")
	fs.StringVar(&opts.apiAddr, "api", "",
		"listen address of the monitor API, e.g. :8080; empty disables it")
}

// applyFlags copies the flags that were set on the command line over cfg
func applyFlags(fs *pflag.FlagSet, opts *options, cfg *config.Config) {
	if fs.Changed("backend") {
		cfg.Backend = opts.backend
	}
	if fs.Changed("hci") {
		cfg.AdapterID = opts.hci
	}
	if fs.Changed("setup-controller") {
		cfg.SetupController = opts.setupController
	}
	if fs.Changed("name") {
		cfg.DeviceName = opts.name
	}
	if fs.Changed("loglevel") {
		cfg.LogLevel = opts.logLevel
	}
	if fs.Changed("api") {
		cfg.APIAddr = opts.apiAddr
	}
}

func loadConfig(fs *pflag.FlagSet, opts *options) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	applyFlags(fs, opts, cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setupLogging(level string) error {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return errors.Wrapf(err, "invalid log level %q", level)
	}
	log.SetLevel(lvl)
	log.SetFormatter(&log.TextFormatter{
		DisableQuote: true,
		ForceColors:  true,
	})
	return nil
}

func variantCmd(variant peripheral.Variant, opts *options, short string) *cobra.Command {
	return &cobra.Command{
		Use:     variant.String(),
		Short:   short,
		Example: "  " + exeName + " " + variant.String() + " --backend hci --hci 0",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd.Flags(), opts)
			if err != nil {
				return err
			}
			if err := setupLogging(cfg.LogLevel); err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			return run(ctx, cfg, variant)
		},
	}
}

func run(ctx context.Context, cfg *config.Config, variant peripheral.Variant) error {
	ble, err := bluetooth.New(bluetooth.Options{
		Backend:         cfg.Backend,
		AdapterID:       cfg.AdapterID,
		SetupController: cfg.SetupController,
	})
	if err != nil {
		return errors.Wrap(err, "could not start BLE")
	}

	leds, err := led.NewBank(cfg.LEDs.Run, cfg.LEDs.Connection, cfg.LEDs.User)
	if err != nil {
		return errors.Wrap(err, "could not open LEDs")
	}

	app := peripheral.New(cfg, variant, ble, leds)

	if cfg.APIAddr != "" {
		server := api.New(ble, app.LEDState())
		app.SetObserver(server)
		app.LEDState().SetEventNotifier(server)
		go func() {
			if err := server.Start(cfg.APIAddr); err != nil {
				log.Errorf("HTTP server failed: %v", err)
			}
		}()
	}

	return app.Run(ctx)
}
