package queue

// Ack is the decision a message handler returns to the transport.
type Ack int

const (
	// AckOk removes the message from the channel.
	AckOk Ack = iota
	// AckRetry leaves the message unacknowledged; the broker redelivers it
	// after the ack wait elapses.
	AckRetry
	// AckDiscard removes a message that can never be processed (poison).
	// The transport treats it like AckOk; the distinction exists so that
	// handlers can count anomalies.
	AckDiscard
)

// Publisher publishes a durable message on a named channel. Publish returns
// only once the broker has acknowledged the message, or with an error.
type Publisher interface {
	Publish(channel string, payload []byte) error
}

// Subscriber delivers each message on a channel to the handler and applies the
// handler's ack decision. Handlers run until Close; connection loss is handled
// by the transport, not the handler.
type Subscriber interface {
	Subscribe(channel string, handler func(payload []byte) Ack) error
}

// Queue is a handle on the broker with an explicit lifecycle.
type Queue interface {
	Publisher
	Subscriber
	Check() error
	Close() error
}
