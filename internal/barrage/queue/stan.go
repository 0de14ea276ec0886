package queue

import (
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/stan.go"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/barrageproject/barrage/internal/barrage/configuration"
)

// DurableStanQueue is a Queue backed by NATS Streaming. The underlying STAN
// connection is renewed on connection loss and all subscriptions are replayed,
// so consumers survive broker restarts. Messages fetched but not acked before
// a disconnect are redelivered by the broker once the subscription is back.
type DurableStanQueue struct {
	mutex sync.RWMutex

	config        configuration.NatsConfig
	options       []stan.Option
	subscriptions []func(conn stan.Conn) error

	currentConn stan.Conn
	nc          *nats.Conn
}

func ConnectDurableStanQueue(config configuration.NatsConfig) (*DurableStanQueue, error) {
	// the underlying NATS connection reconnects automatically; keeping one
	// around makes message acks work better during STAN connection loss
	nc, err := nats.Connect(config.Url,
		nats.Name(config.ClientID),
		nats.MaxReconnects(-1),
		nats.ReconnectBufSize(-1))
	if err != nil {
		return nil, err
	}

	q := &DurableStanQueue{
		config: config,
		nc:     nc,
	}
	q.options = []stan.Option{
		stan.SetConnectionLostHandler(q.onConnectionLost),
		stan.NatsConn(nc),
	}
	err = q.reconnect()
	if err != nil {
		nc.Close()
		return nil, err
	}
	return q, nil
}

// Publish blocks until the broker acknowledges the message.
func (q *DurableStanQueue) Publish(channel string, payload []byte) error {
	q.mutex.RLock()
	defer q.mutex.RUnlock()

	if q.currentConn == nil {
		return errors.New("no STAN connection")
	}
	return q.currentConn.Publish(channel, payload)
}

// Subscribe registers a durable queue subscription in manual ack mode. The
// handler's decision controls the ack: AckRetry leaves the message to be
// redelivered after the ack wait, everything else acks it.
func (q *DurableStanQueue) Subscribe(channel string, handler func(payload []byte) Ack) error {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	opts := []stan.SubscriptionOption{
		stan.SetManualAckMode(),
		stan.DurableName(channel + "-durable"),
		stan.DeliverAllAvailable(),
	}
	if q.config.AckWait > 0 {
		opts = append(opts, stan.AckWait(q.config.AckWait))
	}

	s := func(conn stan.Conn) error {
		_, err := conn.QueueSubscribe(channel, q.config.QueueGroup, func(msg *stan.Msg) {
			decision := handler(msg.Data)
			if decision == AckRetry {
				return
			}
			if err := msg.Ack(); err != nil {
				log.WithError(err).Errorf("error acknowledging message on channel %s", channel)
			}
		}, opts...)
		return err
	}
	q.subscriptions = append(q.subscriptions, s)

	return s(q.currentConn)
}

func (q *DurableStanQueue) Check() error {
	q.mutex.RLock()
	currentConn := q.currentConn
	q.mutex.RUnlock()

	if currentConn == nil {
		return errors.New("no STAN connection")
	}
	natsConn := currentConn.NatsConn()
	if natsConn == nil || !natsConn.IsConnected() {
		return errors.New("not connected to NATS")
	}
	return nil
}

func (q *DurableStanQueue) Close() error {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	var result *multierror.Error
	if q.currentConn != nil {
		result = multierror.Append(result, q.currentConn.Close())
		q.currentConn = nil
	}
	q.nc.Close()
	return result.ErrorOrNil()
}

func (q *DurableStanQueue) onConnectionLost(_ stan.Conn, e error) {
	// runs in its own goroutine, it can take all the time needed
	log.WithError(e).Error("STAN connection lost")
	for {
		err := q.reconnect()
		if err == nil {
			return
		}
		log.WithError(err).Error("error while reconnecting to STAN")
		backoff := q.config.ConnectionBackoff
		if backoff <= 0 {
			backoff = time.Second
		}
		time.Sleep(backoff)
	}
}

func (q *DurableStanQueue) reconnect() error {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	// close any previous connection, just in case it was still open
	if q.currentConn != nil {
		q.closeConnection()
	}

	newConnection, err := stan.Connect(q.config.ClusterID, q.config.ClientID, q.options...)
	q.currentConn = newConnection
	if err != nil {
		log.WithError(err).Error("error while connecting to STAN")
		return err
	}

	for _, s := range q.subscriptions {
		err := s(q.currentConn)
		if err != nil {
			// on any subscription error consider connection unsuccessful
			log.WithError(err).Error("error while resubscribing to STAN")
			q.closeConnection()
			return err
		}
	}

	return nil
}

func (q *DurableStanQueue) closeConnection() {
	err := q.currentConn.Close()
	if err != nil {
		log.WithError(err).Error("error while closing STAN connection")
	}
	q.currentConn = nil
}
