package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"routekit/internal/project"
	"routekit/internal/subscribe"
	"routekit/internal/ui"
	"routekit/internal/wire"
)

const formatPretty = "pretty"

var (
	entrypointsFlags  projectFlags
	entrypointsFormat string
	entrypointsUI     string
)

func init() {
	entrypointsFlags.register(entrypointsCmd)
	entrypointsCmd.Flags().StringVar(&entrypointsFormat, "format", formatPretty, "output format (pretty|json|msgpack)")
	entrypointsCmd.Flags().StringVar(&entrypointsUI, "ui", "auto", "live terminal view in watch mode (auto|on|off)")
}

var entrypointsCmd = &cobra.Command{
	Use:   "entrypoints [dir]",
	Short: "Print the routes and middleware of a project",
	Long: `Resolve the pages, app routes and middleware of the project in dir (default:
the current directory) and print one snapshot. With --watch, keep printing a new
snapshot whenever the project's files change, until interrupted.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runEntrypoints,
}

func runEntrypoints(cmd *cobra.Command, args []string) error {
	format := strings.ToLower(entrypointsFormat)
	switch format {
	case formatPretty, string(wire.FormatJSON), string(wire.FormatMsgpack):
	default:
		return fmt.Errorf("unsupported format %q (must be pretty, json or msgpack)", entrypointsFormat)
	}
	mode, err := readUIMode(entrypointsUI)
	if err != nil {
		return err
	}

	dir := ""
	if len(args) > 0 {
		dir = args[0]
	}
	cfg, err := resolveProjectConfig(cmd, dir, &entrypointsFlags)
	if err != nil {
		return err
	}
	p, err := project.Open(cfg, project.Options{})
	if err != nil {
		return err
	}
	defer p.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sub, err := subscribe.Entrypoints(ctx, p, subscribe.Options{})
	if err != nil {
		return err
	}
	defer func() {
		sub.Cancel()
		sub.Wait()
	}()

	if shouldUseTUI(mode, format, cfg.Watch) {
		return runEntrypointsUI(ctx, p.Path(), sub)
	}
	return streamEntrypoints(cmd.OutOrStdout(), format, sub, cfg.Watch)
}

// streamEntrypoints writes every update until the subscription ends. A
// one-shot run fails when its only update is an error.
func streamEntrypoints(out io.Writer, format string, sub *subscribe.Subscription[wire.Entrypoints], watch bool) error {
	var enc *wire.Encoder
	if format != formatPretty {
		var err error
		if enc, err = wire.NewEncoder(out, wire.Format(format)); err != nil {
			return err
		}
	}
	var lastErr error
	for u := range sub.Updates() {
		lastErr = u.Err
		if enc != nil {
			if err := enc.Encode(subscribe.WireUpdate(u)); err != nil {
				return err
			}
			continue
		}
		printPretty(out, subscribe.WireUpdate(u), watch)
	}
	if !watch && lastErr != nil {
		if format == formatPretty {
			return errSilentExit
		}
		return lastErr
	}
	return nil
}

func runEntrypointsUI(parent context.Context, title string, sub *subscribe.Subscription[wire.Entrypoints]) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	updates := make(chan wire.Update)
	go func() {
		defer close(updates)
		for u := range sub.Updates() {
			select {
			case updates <- subscribe.WireUpdate(u):
			case <-ctx.Done():
				return
			}
		}
	}()
	program := tea.NewProgram(ui.NewEntrypointsModel(title, updates), tea.WithOutput(os.Stdout), tea.WithContext(ctx))
	_, err := program.Run()
	if parent.Err() != nil {
		return nil
	}
	return err
}

var (
	headerColor   = color.New(color.Bold)
	conflictColor = color.New(color.FgRed)
	pageColor     = color.New(color.FgGreen)
	apiColor      = color.New(color.FgCyan)
	dimColor      = color.New(color.Faint)
)

func printPretty(out io.Writer, u wire.Update, watch bool) {
	if watch {
		headerColor.Fprintf(out, "update %d\n", u.Seq)
	}
	if u.Error != nil {
		fmt.Fprintf(out, "%s %s\n", color.RedString(u.Error.Kind+" error:"), u.Error.Message)
		return
	}
	e := u.Payload
	if len(e.Routes) == 0 {
		dimColor.Fprintln(out, "no routes")
	}
	for _, r := range e.Routes {
		fmt.Fprintf(out, "%s %s %s\n", typeColor(r.Type).Sprintf("%-10s", r.Type), r.Pathname, dimColor.Sprint(endpointIDs(r)))
	}
	if mw := e.Middleware; mw != nil {
		matcher := "all paths"
		if mw.Matcher != nil {
			matcher = strings.Join(mw.Matcher, ", ")
		}
		fmt.Fprintf(out, "%s #%d runtime=%s matcher=%s\n", headerColor.Sprint("middleware"), mw.Endpoint, mw.Runtime, matcher)
	}
	for _, d := range e.Diagnostics {
		keys := make([]string, 0, len(d.Payload))
		for k := range d.Payload {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, k+"="+strconv.Quote(d.Payload[k]))
		}
		fmt.Fprintf(out, "%s %s/%s %s\n", color.YellowString("diagnostic"), d.Category, d.Name, strings.Join(parts, " "))
	}
}

func typeColor(t string) *color.Color {
	switch t {
	case "conflict":
		return conflictColor
	case "page", "app-page":
		return pageColor
	default:
		return apiColor
	}
}

func endpointIDs(r wire.Route) string {
	var parts []string
	for _, e := range []struct {
		label string
		id    *uint64
	}{{"endpoint", r.Endpoint}, {"html", r.HTMLEndpoint}, {"data", r.DataEndpoint}, {"rsc", r.RSCEndpoint}} {
		if e.id != nil {
			parts = append(parts, e.label+"#"+strconv.FormatUint(*e.id, 10))
		}
	}
	return strings.Join(parts, " ")
}
