package main

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"routekit/internal/version"
)

var rootCmd = &cobra.Command{
	Use:   "routekit",
	Short: "Resolve and watch Next.js entrypoints",
	Long: `routekit classifies a Next.js project's pages, app routes and middleware
and streams consistent snapshots of them, optionally following file changes.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := setupColor(cmd); err != nil {
			return err
		}
		if _, err := setupLogging(cmd); err != nil {
			return err
		}
		stopProfiling, err := setupProfiling(cmd)
		if err != nil {
			return err
		}
		cleanups = append(cleanups, stopProfiling)
		stopTracing, err := setupTracing(cmd)
		if err != nil {
			return err
		}
		cleanups = append(cleanups, stopTracing)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		runCleanups()
	},
}

var (
	cleanups    []func()
	cleanupOnce sync.Once
)

// runCleanups stops tracing and profiling in reverse setup order.
func runCleanups() {
	cleanupOnce.Do(func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	})
}

var errSilentExit = errors.New("exit")

// main loads .env, registers subcommands and persistent flags, and executes
// the root command. Any error exits with status 1.
func main() {
	// A missing .env is fine.
	_ = godotenv.Load()

	rootCmd.Version = version.Current().Version

	rootCmd.AddCommand(entrypointsCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)

	flags := rootCmd.PersistentFlags()
	flags.String("color", "auto", "colorize output (auto|on|off)")
	flags.String("log-level", "", "log level (debug|info|warn|error); default $ROUTEKIT_LOG_LEVEL or warn")
	flags.String("log-format", "text", "log format (text|json)")
	flags.String("trace", "", "trace output file (- for stderr)")
	flags.String("trace-level", "off", "trace level (off|summary|detail|debug)")
	flags.String("trace-mode", "stream", "trace storage mode (stream|ring|both)")
	flags.String("trace-format", "auto", "trace format (auto|text|ndjson)")
	flags.Int("trace-ring-size", 4096, "ring buffer capacity for trace-mode ring|both")
	flags.String("cpu-profile", "", "write a CPU profile to this file")
	flags.String("mem-profile", "", "write a heap profile to this file on exit")
	flags.String("runtime-trace", "", "write a Go runtime trace to this file")

	if err := rootCmd.Execute(); err != nil {
		runCleanups()
		if !errors.Is(err, errSilentExit) {
			fmt.Fprintln(os.Stderr, color.RedString("error:"), err)
		}
		os.Exit(1)
	}
}

func setupColor(cmd *cobra.Command) error {
	mode, err := cmd.Root().PersistentFlags().GetString("color")
	if err != nil {
		return err
	}
	switch mode {
	case "on":
		color.NoColor = false
	case "off":
		color.NoColor = true
	case "auto":
		color.NoColor = !isTerminal(os.Stdout)
	default:
		return fmt.Errorf("invalid --color value %q (expected auto|on|off)", mode)
	}
	return nil
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}
