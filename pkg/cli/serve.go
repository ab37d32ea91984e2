package cli

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/fractionalquest/copilot/pkg/server"
	"github.com/fractionalquest/copilot/pkg/usecase/chat"
	"github.com/fractionalquest/copilot/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

type serveConfig struct {
	addr          string
	idleTimeout   time.Duration
	sweepInterval time.Duration
	messageEvery  time.Duration
	messageBurst  int64
	keepAlive     time.Duration
	shutdownWait  time.Duration
}

func serveCommand() *cli.Command {
	cfg := newConfig()
	var sc serveConfig

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "addr",
			Usage:       "Listen address",
			Value:       "127.0.0.1:8080",
			Sources:     cli.EnvVars("COPILOT_ADDR"),
			Destination: &sc.addr,
		},
		&cli.DurationFlag{
			Name:        "idle-timeout",
			Usage:       "Unmount sessions without activity for this long",
			Value:       chat.DefaultIdleTimeout,
			Sources:     cli.EnvVars("COPILOT_IDLE_TIMEOUT"),
			Destination: &sc.idleTimeout,
		},
		&cli.DurationFlag{
			Name:        "sweep-interval",
			Usage:       "How often idle sessions are swept",
			Value:       time.Minute,
			Sources:     cli.EnvVars("COPILOT_SWEEP_INTERVAL"),
			Destination: &sc.sweepInterval,
		},
		&cli.DurationFlag{
			Name:        "message-interval",
			Usage:       "Sustained minimum interval between messages of one session",
			Value:       time.Second,
			Sources:     cli.EnvVars("COPILOT_MESSAGE_INTERVAL"),
			Destination: &sc.messageEvery,
		},
		&cli.IntFlag{
			Name:        "message-burst",
			Usage:       "Messages a session may send back to back",
			Value:       3,
			Sources:     cli.EnvVars("COPILOT_MESSAGE_BURST"),
			Destination: &sc.messageBurst,
		},
		&cli.DurationFlag{
			Name:        "keep-alive",
			Usage:       "Interval of keep-alive comments on the event stream",
			Value:       15 * time.Second,
			Sources:     cli.EnvVars("COPILOT_KEEP_ALIVE"),
			Destination: &sc.keepAlive,
		},
		&cli.DurationFlag{
			Name:        "shutdown-timeout",
			Usage:       "Grace period for open sessions on shutdown",
			Value:       10 * time.Second,
			Sources:     cli.EnvVars("COPILOT_SHUTDOWN_TIMEOUT"),
			Destination: &sc.shutdownWait,
		},
	}
	flags = append(flags, globalFlags(cfg)...)
	flags = append(flags, llmFlags(cfg)...)
	flags = append(flags, memoryFlags(cfg)...)
	flags = append(flags, sessionFlags(cfg)...)
	flags = append(flags, cfg.tools.Flags()...)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the assistant API for the job board pages",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setupLogger(ctx)
			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			env, err := cfg.setup(ctx)
			if err != nil {
				return err
			}
			defer env.close()

			manager := chat.NewManager(env.input, chat.WithIdleTimeout(sc.idleTimeout))
			go manager.Run(ctx, sc.sweepInterval)

			srv := server.New(manager, env.catalog,
				server.WithMessageRate(sc.messageEvery, int(sc.messageBurst)),
				server.WithKeepAlive(sc.keepAlive),
			)

			errCh := make(chan error, 1)
			go func() {
				logging.From(ctx).Info("serving assistant", slog.String("addr", sc.addr))
				errCh <- srv.Listen(sc.addr)
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			logging.From(ctx).Info("shutting down", slog.Int("sessions", manager.Len()))
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sc.shutdownWait)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return goerr.Wrap(err, "failed to shutdown")
			}
			return nil
		},
	}
}
