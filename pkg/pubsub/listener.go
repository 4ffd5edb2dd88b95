package pubsub

// Listener receives the frames of a subscription. Callbacks run on the
// goroutine that called Proceed and may call back into the PubSub, e.g. to
// unsubscribe from OnMessage.
type Listener interface {
	OnSubscribe(channel string, subscribedChannels int64)
	OnUnsubscribe(channel string, subscribedChannels int64)
	OnMessage(channel, message string)
	OnPMessage(pattern, channel, message string)
	OnPSubscribe(pattern string, subscribedChannels int64)
	OnPUnsubscribe(pattern string, subscribedChannels int64)
	OnPong(payload string)
}

// BaseListener ignores every frame. Embed it and override what you need.
type BaseListener struct{}

func (BaseListener) OnSubscribe(string, int64)         {}
func (BaseListener) OnUnsubscribe(string, int64)       {}
func (BaseListener) OnMessage(string, string)          {}
func (BaseListener) OnPMessage(string, string, string) {}
func (BaseListener) OnPSubscribe(string, int64)        {}
func (BaseListener) OnPUnsubscribe(string, int64)      {}
func (BaseListener) OnPong(string)                     {}
