package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Config holds RabbitMQ connection and topology configuration.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	VHost    string

	// Job topology: a direct exchange routing into a durable work queue,
	// plus a retry queue that dead-letters expired messages back onto the
	// work queue. Retry delay is per-message (Expiration), so one retry
	// queue serves every backoff step.
	JobExchange   string
	JobQueue      string
	JobRoutingKey string

	// Event topology: a fanout exchange for status events. Every consumer
	// binds its own exclusive queue, mirroring group broadcast semantics.
	EventExchange string

	RetryAttempts     int
	RetryInterval     time.Duration
	Heartbeat         time.Duration
	ConnectionTimeout time.Duration
}

// RetryQueue returns the name of the delay queue paired with the work queue.
func (c *Config) RetryQueue() string {
	return c.JobQueue + ".retry"
}

// Client wraps an AMQP connection with the pipeline's topology declared.
type Client struct {
	config      *Config
	conn        *amqp.Connection
	channel     *amqp.Channel
	logger      *slog.Logger
	closeChan   chan *amqp.Error
	isConnected bool
}

// NewClient connects to RabbitMQ and declares exchanges, queues, and bindings.
func NewClient(config *Config, logger *slog.Logger) (*Client, error) {
	client := &Client{
		config:    config,
		logger:    logger,
		closeChan: make(chan *amqp.Error),
	}

	if err := client.connect(); err != nil {
		return nil, fmt.Errorf("failed to create RabbitMQ client: %w", err)
	}

	return client, nil
}

// connect establishes the connection with retry logic.
func (c *Client) connect() error {
	var err error

	dsn := fmt.Sprintf("amqp://%s:%s@%s:%d%s",
		c.config.User,
		c.config.Password,
		c.config.Host,
		c.config.Port,
		c.config.VHost,
	)

	amqpConfig := amqp.Config{
		Heartbeat: c.config.Heartbeat,
		Locale:    "en_US",
	}

	attempts := c.config.RetryAttempts
	if attempts <= 0 {
		attempts = 1
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		c.logger.Info("Connecting to RabbitMQ",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", attempts),
		)

		c.conn, err = amqp.DialConfig(dsn, amqpConfig)
		if err == nil {
			c.logger.Info("Successfully connected to RabbitMQ")
			break
		}

		c.logger.Error("Failed to connect to RabbitMQ",
			slog.Any("error", err),
			slog.Int("attempt", attempt),
		)

		if attempt < attempts {
			time.Sleep(c.config.RetryInterval)
		}
	}

	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", attempts, err)
	}

	c.channel, err = c.conn.Channel()
	if err != nil {
		c.conn.Close()
		return fmt.Errorf("failed to create channel: %w", err)
	}

	if err := c.setup(); err != nil {
		c.channel.Close()
		c.conn.Close()
		return fmt.Errorf("failed to setup topology: %w", err)
	}

	c.closeChan = make(chan *amqp.Error)
	c.channel.NotifyClose(c.closeChan)
	c.isConnected = true

	c.logger.Info("RabbitMQ client initialized",
		slog.String("job_exchange", c.config.JobExchange),
		slog.String("job_queue", c.config.JobQueue),
		slog.String("retry_queue", c.config.RetryQueue()),
		slog.String("event_exchange", c.config.EventExchange),
	)

	return nil
}

// setup declares the job exchange, work/retry queues, and the event fanout.
func (c *Client) setup() error {
	err := c.channel.ExchangeDeclare(
		c.config.JobExchange, // name
		"direct",             // type
		true,                 // durable
		false,                // auto-deleted
		false,                // internal
		false,                // no-wait
		nil,                  // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare job exchange: %w", err)
	}

	_, err = c.channel.QueueDeclare(
		c.config.JobQueue, // name
		true,              // durable
		false,             // auto-delete
		false,             // exclusive
		false,             // no-wait
		nil,               // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare work queue: %w", err)
	}

	err = c.channel.QueueBind(
		c.config.JobQueue,
		c.config.JobRoutingKey,
		c.config.JobExchange,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to bind work queue: %w", err)
	}

	// Retry queue: messages sit here until their per-message TTL expires,
	// then dead-letter back onto the work queue for redelivery.
	_, err = c.channel.QueueDeclare(
		c.config.RetryQueue(),
		true,
		false,
		false,
		false,
		amqp.Table{
			"x-dead-letter-exchange":    c.config.JobExchange,
			"x-dead-letter-routing-key": c.config.JobRoutingKey,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to declare retry queue: %w", err)
	}

	err = c.channel.ExchangeDeclare(
		c.config.EventExchange,
		"fanout",
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to declare event exchange: %w", err)
	}

	return nil
}

// PublishJob publishes a job onto the work queue.
func (c *Client) PublishJob(ctx context.Context, body []byte) error {
	if !c.isConnected {
		return fmt.Errorf("not connected to RabbitMQ")
	}

	err := c.channel.PublishWithContext(
		ctx,
		c.config.JobExchange,
		c.config.JobRoutingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
		},
	)
	if err != nil {
		c.logger.Error("Failed to publish job",
			slog.Any("error", err),
		)
		return fmt.Errorf("failed to publish job: %w", err)
	}

	c.logger.Debug("Job published",
		slog.Int("body_size", len(body)),
		slog.String("queue", c.config.JobQueue),
	)

	return nil
}

// PublishRetry parks a job on the retry queue for the given delay. When
// the message expires it is dead-lettered back onto the work queue.
func (c *Client) PublishRetry(ctx context.Context, body []byte, delay time.Duration) error {
	if !c.isConnected {
		return fmt.Errorf("not connected to RabbitMQ")
	}

	err := c.channel.PublishWithContext(
		ctx,
		"", // default exchange routes by queue name
		c.config.RetryQueue(),
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
			Expiration:   strconv.FormatInt(delay.Milliseconds(), 10),
		},
	)
	if err != nil {
		c.logger.Error("Failed to publish job to retry queue",
			slog.Any("error", err),
			slog.Duration("delay", delay),
		)
		return fmt.Errorf("failed to publish retry: %w", err)
	}

	c.logger.Debug("Job parked for retry",
		slog.Duration("delay", delay),
		slog.String("queue", c.config.RetryQueue()),
	)

	return nil
}

// PublishEvent publishes a status event to the fanout exchange. Events are
// transient broadcast payloads, so they are not marked persistent.
func (c *Client) PublishEvent(ctx context.Context, body []byte) error {
	if !c.isConnected {
		return fmt.Errorf("not connected to RabbitMQ")
	}

	err := c.channel.PublishWithContext(
		ctx,
		c.config.EventExchange,
		"", // fanout ignores the routing key
		false,
		false,
		amqp.Publishing{
			ContentType: "application/json",
			Body:        body,
			Timestamp:   time.Now(),
		},
	)
	if err != nil {
		c.logger.Error("Failed to publish event",
			slog.Any("error", err),
		)
		return fmt.Errorf("failed to publish event: %w", err)
	}

	return nil
}

// Consume starts consuming jobs from the work queue with manual acks.
func (c *Client) Consume(consumerTag string, prefetchCount int) (<-chan amqp.Delivery, error) {
	if !c.isConnected {
		return nil, fmt.Errorf("not connected to RabbitMQ")
	}

	if err := c.channel.Qos(prefetchCount, 0, false); err != nil {
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}

	messages, err := c.channel.Consume(
		c.config.JobQueue, // queue
		consumerTag,       // consumer tag
		false,             // auto-ack
		false,             // exclusive
		false,             // no-local
		false,             // no-wait
		nil,               // args
	)
	if err != nil {
		return nil, fmt.Errorf("failed to consume jobs: %w", err)
	}

	c.logger.Info("Started consuming jobs",
		slog.String("queue", c.config.JobQueue),
		slog.String("consumer_tag", consumerTag),
		slog.Int("prefetch_count", prefetchCount),
	)

	return messages, nil
}

// ConsumeEvents binds a fresh exclusive queue to the event fanout and
// starts consuming from it. The queue disappears with the connection, so
// a reconnecting consumer never replays missed events.
func (c *Client) ConsumeEvents(consumerTag string) (<-chan amqp.Delivery, error) {
	if !c.isConnected {
		return nil, fmt.Errorf("not connected to RabbitMQ")
	}

	q, err := c.channel.QueueDeclare(
		"",    // server-named
		false, // durable
		true,  // auto-delete
		true,  // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to declare event queue: %w", err)
	}

	if err := c.channel.QueueBind(q.Name, "", c.config.EventExchange, false, nil); err != nil {
		return nil, fmt.Errorf("failed to bind event queue: %w", err)
	}

	messages, err := c.channel.Consume(
		q.Name,
		consumerTag,
		true, // auto-ack: delivery is best-effort
		true, // exclusive
		false,
		false,
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to consume events: %w", err)
	}

	c.logger.Info("Started consuming events",
		slog.String("queue", q.Name),
		slog.String("exchange", c.config.EventExchange),
		slog.String("consumer_tag", consumerTag),
	)

	return messages, nil
}

// GetChannel returns the channel for ack/nack operations.
func (c *Client) GetChannel() *amqp.Channel {
	return c.channel
}

// IsConnected returns the connection status.
func (c *Client) IsConnected() bool {
	return c.isConnected && c.conn != nil && !c.conn.IsClosed()
}

// Close closes the RabbitMQ connection.
func (c *Client) Close() error {
	c.logger.Info("Closing RabbitMQ connection")

	c.isConnected = false

	if c.channel != nil {
		if err := c.channel.Close(); err != nil {
			c.logger.Error("Failed to close RabbitMQ channel",
				slog.Any("error", err),
			)
		}
	}

	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			c.logger.Error("Failed to close RabbitMQ connection",
				slog.Any("error", err),
			)
			return err
		}
	}

	c.logger.Info("RabbitMQ connection closed successfully")
	return nil
}
