package commands

import (
	"bufio"
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
	"github.com/chatpanel-ai/chatpanel/internal/headless"
	"github.com/chatpanel-ai/chatpanel/internal/logging"
	"github.com/chatpanel-ai/chatpanel/internal/storage"
	"github.com/chatpanel-ai/chatpanel/internal/transport"
	"github.com/chatpanel-ai/chatpanel/pkg/types"
)

var (
	assistantCmd string
	verbose      bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Attach an assistant process on stdio and chat in the terminal",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := getWorkDir()
		if err != nil {
			return err
		}
		cfg, err := config.Load(dir)
		if err != nil {
			return err
		}
		return runHeadless(cmd.Context(), cfg)
	},
}

func init() {
	runCmd.Flags().StringVar(&assistantCmd, "cmd", "", "Assistant process command line (required)")
	runCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show thinking and tool results")
	runCmd.MarkFlagRequired("cmd")
}

func runHeadless(ctx context.Context, cfg *config.Config) error {
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

	// The transport needs the dispatcher and the engine needs the transport;
	// bind the handler after construction.
	var engine *app.App
	stdio := transport.NewStdio(stdout, stdin, func(ev types.InboundEvent) {
		engine.Dispatcher.Dispatch(ev)
	})
	engine = app.New(cfg, stdio, conversations)
	defer engine.Close()

	printer := headless.NewPrinter(os.Stdout, verbose)
	printer.Subscribe(engine.Bus)
	defer printer.Unsubscribe()

	errCh := make(chan error, 1)
	go func() {
		errCh <- stdio.Run(ctx)
	}()

	go readInput(ctx, engine)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && ctx.Err() == nil {
			logging.Error().Err(err).Msg("transport closed")
		}
	}
	_ = proc.Wait()
	return nil
}

// readInput forwards terminal lines as user messages.
func readInput(ctx context.Context, engine *app.App) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		if text == "/clear" {
			engine.ClearConversation(ctx)
			continue
		}
		engine.SendMessage(ctx, text)
	}
}
