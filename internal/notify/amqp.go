package notify

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rotisserie/eris"

	"github.com/sells-group/leadstorm/internal/config"
	"github.com/sells-group/leadstorm/internal/model"
)

// channel is the part of *amqp.Channel the publisher uses.
type channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPPublisher publishes run events to a durable topic exchange.
type AMQPPublisher struct {
	mu         sync.Mutex
	conn       io.Closer
	ch         channel
	exchange   string
	routingKey string
}

// DialAMQP connects to the broker and declares the exchange.
func DialAMQP(cfg config.AMQPConfig) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, eris.Wrap(err, "notify: amqp dial")
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, eris.Wrap(err, "notify: amqp channel")
	}

	p, err := newAMQPPublisher(conn, ch, cfg.Exchange, cfg.RoutingKey)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	return p, nil
}

func newAMQPPublisher(conn io.Closer, ch channel, exchange, routingKey string) (*AMQPPublisher, error) {
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return nil, eris.Wrapf(err, "notify: declare exchange %s", exchange)
	}
	return &AMQPPublisher{
		conn:       conn,
		ch:         ch,
		exchange:   exchange,
		routingKey: routingKey,
	}, nil
}

// RunFinished publishes a persistent JSON RunEvent.
func (p *AMQPPublisher) RunFinished(ctx context.Context, run model.Run) error {
	body, err := json.Marshal(RunEvent{
		Type:       EventRunFinished,
		Run:        run,
		OccurredAt: time.Now().UTC(),
	})
	if err != nil {
		return eris.Wrap(err, "notify: marshal run event")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.ch.PublishWithContext(ctx, p.exchange, p.routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    run.ID,
		Type:         EventRunFinished,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	if err != nil {
		return eris.Wrapf(err, "notify: publish run %s", run.ID)
	}
	return nil
}

// Close closes the channel and the connection.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	chErr := p.ch.Close()
	var connErr error
	if p.conn != nil {
		connErr = p.conn.Close()
	}
	if chErr != nil {
		return eris.Wrap(chErr, "notify: close amqp channel")
	}
	return eris.Wrap(connErr, "notify: close amqp connection")
}
