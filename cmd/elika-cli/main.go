package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
	"github.com/pzhenzhou/elika-client/pkg/common"
)

var (
	logger = common.InitLogger().WithName("main")
)

// CLI holds the flags shared by every subcommand.
type CLI struct {
	Conn      common.ConnConfig      `embed:""`
	Pool      common.PoolConfig      `embed:"" prefix:"pool."`
	Breaker   common.BreakerConfig   `embed:"" prefix:"breaker."`
	Metrics   common.MetricsConfig   `embed:"" prefix:"metrics."`
	WebServer common.WebServerConfig `embed:"" prefix:"web."`
	Addr      string                 `help:"Server address as host:port, overrides --host and --port" name:"addr" env:"ELIKA_ADDR"`

	Ping       PingCmd       `cmd:"" help:"Check that the server answers PING."`
	Do         DoCmd         `cmd:"" help:"Send one raw command and print the reply."`
	Subscribe  SubscribeCmd  `cmd:"" help:"Print messages published to channels until interrupted."`
	Psubscribe PsubscribeCmd `cmd:"" help:"Print messages published to channels matching glob patterns."`
	Bench      BenchCmd      `cmd:"" help:"Run SET/GET through a connection pool and report latency and pool stats."`
}

func (c *CLI) validate() error {
	if c.Addr != "" {
		if err := c.Conn.ParseAddr(c.Addr); err != nil {
			return err
		}
	}
	if err := c.Conn.Validate(); err != nil {
		return err
	}
	return c.Pool.Validate()
}

// loadEnv reads .env.local and .env when present so ELIKA_* variables can
// live next to the binary.
func loadEnv() {
	for _, file := range []string{".env.local", ".env"} {
		if err := godotenv.Load(file); err != nil && !os.IsNotExist(err) {
			logger.Error(err, "Failed to load env file", "File", file)
		}
	}
}

func main() {
	loadEnv()
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("elika-cli"),
		kong.Description("Command line client for RESP servers."),
		kong.UsageOnError(),
	)
	if err := cli.validate(); err != nil {
		kctx.FatalIfErrorf(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGQUIT, syscall.SIGTERM)
	defer stop()
	kctx.BindTo(ctx, (*context.Context)(nil))
	if err := kctx.Run(&cli); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		if kind := common.ErrorKind(err); kind != "" {
			logger.V(1).Info("Command failed", "Kind", kind)
		}
		os.Exit(1)
	}
}
