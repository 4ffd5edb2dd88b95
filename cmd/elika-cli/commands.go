package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/pzhenzhou/elika-client/pkg/client"
	"github.com/pzhenzhou/elika-client/pkg/common"
	"github.com/pzhenzhou/elika-client/pkg/pubsub"
	"github.com/pzhenzhou/elika-client/pkg/respio"
)

const connectAttempts = 5

// dial connects with exponential backoff. Server errors such as a wrong
// password are not retried.
func dial(ctx context.Context, cli *CLI) (*client.Client, error) {
	return backoff.Retry(ctx, func() (*client.Client, error) {
		c, err := client.Dial(ctx, &cli.Conn)
		if err != nil && (common.IsServerError(err) || common.IsUsageFault(err)) {
			return nil, backoff.Permanent(err)
		}
		if err != nil {
			logger.Info("Connect failed, retrying", "Addr", cli.Conn.Addr(), "Reason", err.Error())
		}
		return c, err
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(connectAttempts))
}

type PingCmd struct {
	Message string `arg:"" optional:"" help:"Payload echoed back by the server."`
}

func (p *PingCmd) Run(ctx context.Context, cli *CLI) error {
	c, err := dial(ctx, cli)
	if err != nil {
		return err
	}
	defer c.Close()
	start := time.Now()
	var reply string
	if p.Message != "" {
		reply, err = c.Echo(p.Message)
	} else {
		reply, err = c.Ping()
	}
	if err != nil {
		return err
	}
	fmt.Printf("%s (%s)\n", reply, time.Since(start).Round(time.Microsecond))
	return nil
}

type DoCmd struct {
	Command []string `arg:"" help:"Command and arguments, e.g. SET key value."`
}

func (d *DoCmd) Run(ctx context.Context, cli *CLI) error {
	c, err := dial(ctx, cli)
	if err != nil {
		return err
	}
	defer c.Close()
	conn := c.Conn()
	cmd := []byte(strings.ToUpper(d.Command[0]))
	if err := conn.SendCommand(cmd, respio.EncodeMany(d.Command[1:]...)...); err != nil {
		return err
	}
	reply, err := conn.GetOne()
	if err != nil {
		return err
	}
	fmt.Println(reply.String())
	return nil
}

// printer writes every subscription frame to stdout.
type printer struct {
	pubsub.BaseListener
}

func (printer) OnSubscribe(channel string, count int64) {
	fmt.Printf("subscribed %s (%d)\n", channel, count)
}

func (printer) OnPSubscribe(pattern string, count int64) {
	fmt.Printf("psubscribed %s (%d)\n", pattern, count)
}

func (printer) OnUnsubscribe(channel string, count int64) {
	fmt.Printf("unsubscribed %s (%d)\n", channel, count)
}

func (printer) OnPUnsubscribe(pattern string, count int64) {
	fmt.Printf("punsubscribed %s (%d)\n", pattern, count)
}

func (printer) OnMessage(channel, message string) {
	fmt.Printf("%s: %s\n", channel, message)
}

func (printer) OnPMessage(pattern, channel, message string) {
	fmt.Printf("%s (%s): %s\n", channel, pattern, message)
}

type SubscribeCmd struct {
	Channels []string `arg:"" help:"Channels to subscribe to."`
}

func (s *SubscribeCmd) Run(ctx context.Context, cli *CLI) error {
	return listen(ctx, cli, func(c *client.Client, ps *pubsub.PubSub) error {
		return c.Subscribe(ctx, ps, s.Channels...)
	})
}

// PsubscribeCmd also serves keyspace notifications, e.g.
// psubscribe '__keyevent@0__:expired'.
type PsubscribeCmd struct {
	Patterns []string `arg:"" help:"Glob patterns to subscribe to."`
}

func (s *PsubscribeCmd) Run(ctx context.Context, cli *CLI) error {
	return listen(ctx, cli, func(c *client.Client, ps *pubsub.PubSub) error {
		return c.PSubscribe(ctx, ps, s.Patterns...)
	})
}

func listen(ctx context.Context, cli *CLI, run func(*client.Client, *pubsub.PubSub) error) error {
	c, err := dial(ctx, cli)
	if err != nil {
		return err
	}
	defer c.Close()
	err = run(c, pubsub.New(printer{}))
	if ctx.Err() != nil {
		logger.Info("Subscription stopped", "Reason", ctx.Err().Error())
		return nil
	}
	return err
}
