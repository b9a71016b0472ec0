package gateway

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/Djtony707/TITAN/internal/logging"
	"github.com/Djtony707/TITAN/internal/store"
	"github.com/Djtony707/TITAN/internal/titanerr"
)

// Channel delivers an outbound message to one transport. Chat transports
// register implementations; the terminal channel is built in.
type Channel interface {
	Name() string
	Send(ctx context.Context, target, message string) error
}

// Notifier fans terminal-state messages out to the originating channel and
// persists a delivery receipt per attempt, so the dashboard can show
// "notification failed" without re-deriving it from logs.
type Notifier struct {
	store *store.Store
	log   *logging.Logger

	mu       sync.RWMutex
	channels map[string]Channel
}

// NewNotifier builds a Notifier with the terminal channel pre-registered.
func NewNotifier(s *store.Store, log *logging.Logger) *Notifier {
	n := &Notifier{store: s, log: log, channels: make(map[string]Channel)}
	n.RegisterChannel(&terminalChannel{})
	return n
}

// RegisterChannel adds a transport. Registration happens at startup.
func (n *Notifier) RegisterChannel(c Channel) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.channels[c.Name()] = c
}

// Channels lists the registered transport names.
func (n *Notifier) Channels() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]string, 0, len(n.channels))
	for name := range n.channels {
		out = append(out, name)
	}
	return out
}

// Notify implements runexec.Notifier. The channel prefix of the goal's
// channel target ("cli:stdout", "scheduler:job") picks the transport.
func (n *Notifier) Notify(ctx context.Context, goal *store.Goal, message string) error {
	channelName, target := splitTarget(goal.Channel)
	err := n.Send(ctx, channelName, target, message)

	receipt := &store.DeliveryReceipt{
		Channel:   goal.Channel,
		GoalID:    goal.ID,
		Delivered: err == nil,
	}
	if err != nil {
		receipt.Error = err.Error()
	}
	if rerr := n.store.RecordDeliveryReceipt(ctx, receipt); rerr != nil {
		n.log.Warn("delivery receipt write failed", map[string]interface{}{"error": rerr.Error()})
	}
	return err
}

// Send delivers one message through a named channel.
func (n *Notifier) Send(ctx context.Context, channelName, target, message string) error {
	n.mu.RLock()
	ch, ok := n.channels[channelName]
	n.mu.RUnlock()
	if !ok {
		return titanerr.New(titanerr.KindValidation, "gateway.Send", "no channel "+channelName)
	}
	return ch.Send(ctx, target, message)
}

func splitTarget(channelTarget string) (channel, target string) {
	for i := 0; i < len(channelTarget); i++ {
		if channelTarget[i] == ':' {
			return channelTarget[:i], channelTarget[i+1:]
		}
	}
	if channelTarget == "" {
		return "terminal", ""
	}
	return channelTarget, ""
}

// terminalChannel writes to the local terminal; the fallback surface when
// no transport adapter claimed the goal.
type terminalChannel struct{}

func (t *terminalChannel) Name() string { return "terminal" }

func (t *terminalChannel) Send(ctx context.Context, target, message string) error {
	_, err := fmt.Fprintln(os.Stdout, message)
	return err
}

// cliChannel aliases terminal for goals submitted via `goal submit`.
type cliChannel struct{ terminalChannel }

func (c *cliChannel) Name() string { return "cli" }

// schedulerChannel drops messages into the log; scheduled goals have no
// interactive listener.
type schedulerChannel struct{ log *logging.Logger }

func (s *schedulerChannel) Name() string { return "scheduler" }

func (s *schedulerChannel) Send(ctx context.Context, target, message string) error {
	s.log.Info("scheduled goal finished", map[string]interface{}{"job": target, "summary": message})
	return nil
}

// RegisterDefaultChannels adds the cli and scheduler transports.
func (n *Notifier) RegisterDefaultChannels() {
	n.RegisterChannel(&cliChannel{})
	n.RegisterChannel(&schedulerChannel{log: n.log})
}
