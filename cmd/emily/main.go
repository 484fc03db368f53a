package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/atsn/emily/app"
	"github.com/atsn/emily/cli/dashboard"
	"github.com/atsn/emily/internal/configuration"
	"github.com/atsn/emily/internal/debug"
	"github.com/atsn/emily/server"
)

const configFilepath = "~/.config/emily/config.json"

var rootCmd = &cobra.Command{
	Use:     "emily",
	Short:   "A CLI for the Emily marketing dashboard",
	Version: "1.0",
}

func main() {
	os.Exit(run())
}

func run() int {
	config, err := configuration.Parse(configFilepath)
	if err != nil {
		panic(err)
	}

	debug.Configure(debug.Opts{Level: config.Logging.Level, File: config.Logging.File})
	logger := debug.GetLogger()
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.NewApp(ctx, config, logger)
	if err != nil {
		panic(err)
	}
	// Ensure the store is closed when the program exits normally
	defer a.Close()

	rootCmd.AddCommand(dashboard.NewCmd(a))
	rootCmd.AddCommand(server.NewServeCmd(a))
	rootCmd.AddCommand(newHistoryCmd(a))
	rootCmd.AddCommand(newLeadsCmd(a))
	rootCmd.AddCommand(newThemeCmd(a))
	rootCmd.AddCommand(newLoginCmd(a))
	rootCmd.AddCommand(newLogoutCmd(a))
	rootCmd.AddCommand(newProfileCmd(a))
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		return 1
	}
	return 0
}
