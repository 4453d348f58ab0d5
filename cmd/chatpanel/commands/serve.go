package commands

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/chatpanel-ai/chatpanel/internal/app"
	"github.com/chatpanel-ai/chatpanel/internal/config"
	"github.com/chatpanel-ai/chatpanel/internal/logging"
	"github.com/chatpanel-ai/chatpanel/internal/server"
	"github.com/chatpanel-ai/chatpanel/internal/storage"
	"github.com/chatpanel-ai/chatpanel/internal/transport"
	"github.com/chatpanel-ai/chatpanel/pkg/types"
)

var (
	serveHost string
	servePort int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Expose the engine to an editor webview over websocket",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := getWorkDir()
		if err != nil {
			return err
		}
		cfg, err := config.Load(dir)
		if err != nil {
			return err
		}
		if serveHost != "" {
			cfg.Server.Host = serveHost
		}
		if servePort != 0 {
			cfg.Server.Port = servePort
		}
		return serve(cmd.Context(), cfg)
	},
}

func init() {
	serveCmd.Flags().StringVar(&assistantCmd, "cmd", "", "Assistant process command line (required)")
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Bind host (default from config)")
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Bind port (default from config)")
	serveCmd.MarkFlagRequired("cmd")
}

func serve(ctx context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	parts := strings.Fields(assistantCmd)
	proc := exec.CommandContext(ctx, parts[0], parts[1:]...)
	stdin, err := proc.StdinPipe()
	if err != nil {
		return err
	}
	stdout, err := proc.StdoutPipe()
	if err != nil {
		return err
	}
	proc.Stderr = os.Stderr
	if err := proc.Start(); err != nil {
		return fmt.Errorf("failed to start assistant process: %w", err)
	}

	conversations := storage.New(cfg.StorageDir)
	if err := os.MkdirAll(cfg.StorageDir, 0o755); err != nil {
		return err
	}

	var engine *app.App
	stdio := transport.NewStdio(stdout, stdin, func(ev types.InboundEvent) {
		engine.Dispatcher.Dispatch(ev)
	})
	engine = app.New(cfg, stdio, conversations)
	defer engine.Close()

	watcher, err := storage.NewWatcher(conversations, engine.Bus)
	if err != nil {
		logging.Warn().Err(err).Msg("conversation watcher disabled")
	} else {
		watcher.Start()
		defer watcher.Stop()
	}

	go func() {
		if err := stdio.Run(ctx); err != nil && ctx.Err() == nil {
			logging.Error().Err(err).Msg("transport closed")
		}
		stop()
	}()

	srv := server.New(engine, cfg.Server)
	err = srv.ListenAndServe(ctx)
	_ = proc.Wait()
	return err
}
