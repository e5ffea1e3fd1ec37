package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"chromate/internal/bootstrap"
	"chromate/internal/config"
	"chromate/internal/domain"
	"chromate/internal/usecase"
)

const settleQuiet = 500 * time.Millisecond

var (
	fromStdin  bool
	wakeWord   bool
	singleShot bool
	bridgeAddr string
	relay      bool
	noBrowser  bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start a voice session",
	Long: `Start a voice session and keep it running until interrupted.

With --stdin every input line is treated as one final transcript, and the
session ends once the input is consumed and the last command has finished.`,
	Args: cobra.NoArgs,
	RunE: runSession,
}

func runSession(cmd *cobra.Command, args []string) error {
	runCfg := applyRunFlags(cmd, cfg)
	out := cmd.OutOrStdout()

	opts := bootstrap.Options{Events: newConsoleEvents(out)}
	if fromStdin {
		opts.Transcripts = cmd.InOrStdin()
	}
	services, err := bootstrap.Build(runCfg, logger, opts)
	if err != nil {
		return err
	}
	defer func() {
		if err := services.Close(); err != nil {
			logger.Warn("shutdown incomplete", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if services.Browser != nil {
		if err := services.Browser.Start(ctx); err != nil {
			return err
		}
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return services.Run(groupCtx)
	})

	if err := services.Listen(groupCtx); err != nil {
		cancel()
		_ = group.Wait()
		return err
	}

	if services.Lines != nil {
		group.Go(func() error {
			select {
			case <-groupCtx.Done():
				return nil
			case <-services.Lines.Done():
			}
			waitForSettled(groupCtx, services.Controller, settleQuiet)
			cancel()
			return nil
		})
	} else {
		fmt.Fprintln(out, "listening, press Ctrl+C to stop")
	}

	return group.Wait()
}

func applyRunFlags(cmd *cobra.Command, base config.Config) config.Config {
	runCfg := base
	flags := cmd.Flags()
	if flags.Changed("wake") {
		runCfg.Wake.Enabled = wakeWord
	}
	if flags.Changed("single-shot") {
		runCfg.Session.Continuous = !singleShot
	}
	if flags.Changed("bridge") {
		runCfg.Bridge.ListenAddr = bridgeAddr
	}
	if flags.Changed("relay") {
		runCfg.Bridge.Relay = relay
	}
	if flags.Changed("no-browser") {
		runCfg.Browser.Enabled = !noBrowser
	}
	return runCfg
}

// waitForSettled returns once no command has been in flight for quiet.
func waitForSettled(ctx context.Context, controller *usecase.SessionController, quiet time.Duration) {
	ticker := time.NewTicker(quiet / 5)
	defer ticker.Stop()

	lastBusy := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			switch controller.Status().State {
			case domain.SessionStateInterpreting, domain.SessionStateExecuting:
				lastBusy = now
			default:
				if now.Sub(lastBusy) >= quiet {
					return
				}
			}
		}
	}
}
