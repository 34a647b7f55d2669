package swi

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/valkey-io/valkey-go"
	"go.uber.org/zap"
)

// DefaultStateChannel is the Valkey channel state changes are published on.
const DefaultStateChannel = "swi.state"

// StateMessage is the JSON payload published for every applied command.
type StateMessage struct {
	Running bool   `json:"running"`
	Value   uint8  `json:"value"`
	Command string `json:"command"`
	Raw     uint8  `json:"raw"`
	ConnID  string `json:"conn_id,omitempty"`
}

func (m StateMessage) Snapshot() Snapshot {
	return Snapshot{Running: m.Running, Value: m.Value}
}

func newStateMessage(ev Event) StateMessage {
	return StateMessage{
		Running: ev.After.Running,
		Value:   ev.After.Value,
		Command: ev.Command.String(),
		Raw:     ev.Raw,
		ConnID:  ev.ConnID,
	}
}

// ValkeyPublisher is a Sink that mirrors state changes to a Valkey pub/sub
// channel. Publishing happens on a background goroutine so a slow or
// unreachable broker never holds up command processing.
type ValkeyPublisher struct {
	client         valkey.Client
	channel        string
	ctx            context.Context
	cancel         context.CancelFunc
	mu             sync.RWMutex
	closed         bool
	queue          chan StateMessage
	closedChan     chan struct{}
	once           sync.Once
	wg             sync.WaitGroup
	log            *zap.SugaredLogger
	publishTimeout time.Duration
}

type PublisherOption func(p *ValkeyPublisher)

func WithPublishBufferSize(size int) PublisherOption {
	return func(p *ValkeyPublisher) {
		if size > 0 {
			p.queue = make(chan StateMessage, size)
		}
	}
}

func WithPublishTimeout(d time.Duration) PublisherOption {
	return func(p *ValkeyPublisher) {
		if d > 0 {
			p.publishTimeout = d
		}
	}
}

func WithPublisherLogger(l *zap.Logger) PublisherOption {
	return func(p *ValkeyPublisher) {
		p.log = l.Named("valkey_publisher").Sugar()
	}
}

// Apply queues ev for publishing. It never blocks; when the queue is full
// the event is dropped and ErrPublishQueueFull returned.
func (p *ValkeyPublisher) Apply(ctx context.Context, ev Event) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return fmt.Errorf("%w: publisher closed", ErrPublishFailed)
	}

	select {
	case p.queue <- newStateMessage(ev):
		return nil
	default:
		return ErrPublishQueueFull
	}
}

func (p *ValkeyPublisher) publishLoop() {
	defer p.wg.Done()

	for {
		select {
		case msg := <-p.queue:
			p.publish(msg)
		case <-p.closedChan:
			// flush whatever was queued before Close
			for {
				select {
				case msg := <-p.queue:
					p.publish(msg)
				default:
					return
				}
			}
		}
	}
}

func (p *ValkeyPublisher) publish(msg StateMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		p.log.Warnw("encoding state message", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(p.ctx, p.publishTimeout)
	defer cancel()

	cmd := p.client.B().Publish().Channel(p.channel).Message(string(data)).Build()
	if err := p.client.Do(ctx, cmd).Error(); err != nil {
		p.log.Warnw("publishing state", "channel", p.channel, "command", msg.Command, "error", err)
		return
	}
	p.log.Debugw("published state", "channel", p.channel, "command", msg.Command)
}

// Close flushes queued messages and closes the Valkey client.
func (p *ValkeyPublisher) Close() error {
	p.once.Do(func() {
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()

		close(p.closedChan)
		p.wg.Wait()

		p.cancel()
		p.client.Close()
	})
	return nil
}

// NewValkeyPublisher creates a publisher that owns client
func NewValkeyPublisher(client valkey.Client, channel string, opts ...PublisherOption) *ValkeyPublisher {
	ctx, cancel := context.WithCancel(context.Background())

	p := &ValkeyPublisher{
		client:         client,
		channel:        channel,
		ctx:            ctx,
		cancel:         cancel,
		queue:          make(chan StateMessage, 100),
		closedChan:     make(chan struct{}),
		log:            zap.NewNop().Sugar(),
		publishTimeout: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}

	p.wg.Add(1)
	go p.publishLoop()
	return p
}

// WatchValkeyState subscribes to channel and calls fn for every state
// message until ctx is done. Lost subscriptions are re-established with
// exponential backoff.
func WatchValkeyState(ctx context.Context, client valkey.Client, channel string, log *zap.Logger, fn func(StateMessage)) error {
	sugar := log.Named("valkey_watch").Sugar()

	retryDelay := 100 * time.Millisecond
	maxRetryDelay := 30 * time.Second
	subscriber := client.B().Subscribe().Channel(channel).Build()

	handle := func(msg valkey.PubSubMessage) {
		if msg.Channel != channel {
			return
		}
		var state StateMessage
		if err := json.Unmarshal([]byte(msg.Message), &state); err != nil {
			sugar.Debugw("ignoring malformed state message", "error", err)
			return
		}
		fn(state)
	}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		// Blocks until the subscription fails or ctx is cancelled
		err := client.Receive(ctx, subscriber, handle)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if err != nil {
			sugar.Debugw("subscription lost", "channel", channel, "error", err, "retry_in", retryDelay)
			select {
			case <-time.After(retryDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
			retryDelay *= 2
			if retryDelay > maxRetryDelay {
				retryDelay = maxRetryDelay
			}
			continue
		}

		retryDelay = 100 * time.Millisecond

		select {
		case <-time.After(100 * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// NewValkeyClient connects to the Valkey server at address. opts may adjust
// the client options before the client is built; they run after the address
// is set and may replace it.
func NewValkeyClient(address string, opts ...func(*valkey.ClientOption)) (valkey.Client, error) {
	client, err := valkey.NewClient(valkeyClientOption(address, opts...))
	if err != nil {
		return nil, fmt.Errorf("creating valkey client for %s: %w", address, err)
	}
	return client, nil
}

func valkeyClientOption(address string, opts ...func(*valkey.ClientOption)) valkey.ClientOption {
	option := valkey.ClientOption{InitAddress: []string{address}}
	for _, o := range opts {
		o(&option)
	}
	return option
}
