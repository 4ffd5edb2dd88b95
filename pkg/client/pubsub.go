package client

import (
	"context"

	"github.com/pzhenzhou/elika-client/pkg/common"
	"github.com/pzhenzhou/elika-client/pkg/pubsub"
	"github.com/pzhenzhou/elika-client/pkg/respio"
)

var publishCmd = []byte("PUBLISH")

// Publish returns how many subscribers received message.
func (c *Client) Publish(channel, message string) (int64, error) {
	return c.integer(publishCmd, respio.Encode(channel), respio.Encode(message))
}

// Subscribe blocks dispatching to ps until every subscription is gone or ctx
// is done. The client is usable again afterwards unless ctx was cancelled,
// which leaves the connection broken.
func (c *Client) Subscribe(ctx context.Context, ps *pubsub.PubSub, channels ...string) error {
	return c.subscribed(ps.Proceed(ctx, c.conn, channels...))
}

// PSubscribe is Subscribe for glob patterns.
func (c *Client) PSubscribe(ctx context.Context, ps *pubsub.PubSub, patterns ...string) error {
	return c.subscribed(ps.ProceedWithPatterns(ctx, c.conn, patterns...))
}

func (c *Client) subscribed(err error) error {
	if err != nil && c.metrics != nil {
		c.metrics.IncrementErrorCounter(common.ErrorKind(err))
	}
	return err
}
