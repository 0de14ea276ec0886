package queue

import (
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// NoopQueue stands in for the broker when it could not be reached at startup
// and the deployment does not require it. Publishes are dropped with a
// warning; subscriptions are refused so the ingestion pipeline stays off
// rather than silently consuming nothing.
type NoopQueue struct{}

func (q NoopQueue) Publish(channel string, payload []byte) error {
	log.Warnf("queue unavailable, dropping message for channel %s", channel)
	return nil
}

func (q NoopQueue) Subscribe(channel string, handler func(payload []byte) Ack) error {
	return errors.Errorf("queue unavailable, cannot subscribe to channel %s", channel)
}

func (q NoopQueue) Check() error {
	return errors.New("queue unavailable")
}

func (q NoopQueue) Close() error {
	return nil
}
