// Command pingclient connects to a pingserver, pings it periodically and
// prints the round-trip time of every echo.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Zereker/msgnet"
	"github.com/Zereker/msgnet/example/ping"
	"github.com/Zereker/msgnet/internal/config"
	"github.com/Zereker/msgnet/internal/logging"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "pingclient:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to a TOML config file")
	interval := flag.Duration("interval", time.Second, "time between pings")
	broadcast := flag.Bool("broadcast", false, "ask the server to message every other client once accepted")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	logger, err := logging.New("pingclient", cfg.LogLevel)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := msgnet.NewClient[ping.MsgType](append(cfg.Options(), msgnet.LoggerOption(logger))...)
	if err := client.Connect(ctx, cfg.Host, cfg.Port); err != nil {
		return err
	}
	defer client.Disconnect()

	go func() {
		ticker := time.NewTicker(*interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := client.Send(ping.NewPing(time.Now())); err != nil {
					logger.Warn("ping not sent", "error", err)
				}
			}
		}
	}()

	in := client.Incoming()
	for {
		waitCtx, cancel := context.WithTimeout(ctx, *interval)
		_ = in.WaitContext(waitCtx)
		cancel()
		if ctx.Err() != nil {
			return nil
		}

		for {
			om, ok := in.PopFront()
			if !ok {
				break
			}
			handle(client, logger, &om.Msg, *broadcast)
		}

		if conn := client.Conn(); (conn == nil || conn.IsClosed()) && in.Empty() {
			logger.Warn("server down")
			return nil
		}
	}
}

func handle(client *msgnet.Client[ping.MsgType], logger *logging.Logger, msg *msgnet.Message[ping.MsgType], broadcast bool) {
	switch msg.Header.ID {
	case ping.ServerAccept:
		logger.Info("server accepted connection")
		if broadcast {
			_ = client.Send(msgnet.NewMessage(ping.MessageAll))
		}

	case ping.ServerDeny:
		logger.Warn("server denied connection")

	case ping.ServerPing:
		rtt, err := ping.RoundTrip(msg, time.Now())
		if err != nil {
			logger.Warn("malformed ping", "error", err)
			return
		}
		logger.Info("ping", "rtt", rtt)

	case ping.ServerMessage:
		sender, err := ping.Sender(msg)
		if err != nil {
			logger.Warn("malformed server message", "error", err)
			return
		}
		logger.Info("hello from client", "sender", sender)

	default:
		logger.Warn("unexpected message", "type", msg.Header.ID)
	}
}
