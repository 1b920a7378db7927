package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Keyring-Network/newslens/internal/api"
	"github.com/Keyring-Network/newslens/internal/events"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

type server interface {
	Start(ctx context.Context, addr string) error
}

var (
	newServer = func(dispatcher api.Dispatcher, broker api.Broker, cache api.CacheStatus, backend api.BackendStatus, logger *slog.Logger) server {
		return api.NewServer(dispatcher, broker, cache, backend, logger)
	}
	notifyContext = signal.NotifyContext
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Fatal(err)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "newslens",
		Short:         "News bias and related coverage for the active browser tab",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config file")

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the orchestrator daemon for the popup",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, cmd.ErrOrStderr())
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "check [url]",
		Short: "Check bias and related coverage once and print the results",
		Long: `Run both popup requests against the active tab and print every result as a JSON line.

With a url argument the page is opened in a new tab first.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := ""
			if len(args) == 1 {
				target = args[0]
			}
			return runCheck(cmd.Context(), configPath, target, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "newslens %s (commit: %s, built: %s)\n", version, commit, date)
		},
	})
	return root
}

func runServe(parent context.Context, configPath string, stderr io.Writer) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := notifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := buildApp(ctx, configPath, stderr)
	if err != nil {
		return err
	}
	defer a.Close()

	srv := newServer(a.dispatcher, a.broker, a.cache, a.gateway, a.logger)
	return srv.Start(ctx, a.cfg.Addr())
}

// runCheck dispatches both actions synchronously and drains whatever the
// controller published for them.
func runCheck(parent context.Context, configPath string, target string, stdout io.Writer, stderr io.Writer) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	a, err := buildApp(ctx, configPath, stderr)
	if err != nil {
		return err
	}
	defer a.Close()

	if target != "" {
		opener, ok := a.session.(tabOpener)
		if !ok {
			return fmt.Errorf("browser session cannot open %s", target)
		}
		if _, err := opener.OpenTab(ctx, target); err != nil {
			return err
		}
	}

	results := a.broker.Subscribe(ctx)
	for _, action := range []events.Action{events.ActionCheckBias, events.ActionFetchRelatedArticles} {
		req := a.dispatcher.Stamp(events.Request{Action: action})
		if err := a.dispatcher.Dispatch(ctx, req); err != nil {
			a.logger.Debug("check finished with error", "request_id", req.RequestID, "action", action, "error", err)
		}
	}

	encoder := json.NewEncoder(stdout)
	for {
		select {
		case result := <-results:
			if err := encoder.Encode(result); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}
