package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Notification is a deposit lifecycle notification delivered to in-process
// subscribers. It is distinct from the per-deposit audit events kept in the
// deposit's event log.
type Notification struct {
	ID        string                 `json:"id"`
	Timestamp time.Time              `json:"timestamp"`
	Type      string                 `json:"type"`
	Source    string                 `json:"source"`
	DepositID string                 `json:"deposit_id,omitempty"`
	Phase     int                    `json:"phase,omitempty"`
	Message   string                 `json:"message"`
	Level     string                 `json:"level"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// Notification types.
const (
	NotificationDepositAccepted  = "deposit.accepted"
	NotificationPhaseCompleted   = "deposit.phase_completed"
	NotificationDepositPaused    = "deposit.paused"
	NotificationDepositCompleted = "deposit.completed"
	NotificationDepositFailed    = "deposit.failed"
	NotificationDepositCancelled = "deposit.cancelled"
	NotificationDepositEvicted   = "deposit.evicted"
	NotificationPolicyViolation  = "policy.violation"
)

// Notification levels.
const (
	LevelInfo    = "info"
	LevelWarning = "warning"
	LevelError   = "error"
)

// Subscriber handles notifications.
type Subscriber func(n Notification)

// NotificationFilter determines if a notification should be delivered.
type NotificationFilter func(n Notification) bool

// EventPublisher fans deposit lifecycle notifications out to subscribers.
// A nil or disabled publisher silently drops everything.
type EventPublisher struct {
	config      EventsConfig
	buffer      chan Notification
	subscribers []subscriberEntry
	filters     []NotificationFilter
	wg          sync.WaitGroup
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
}

type subscriberEntry struct {
	subscriber Subscriber
	filter     NotificationFilter
}

// NewEventPublisher creates a new publisher with the given configuration.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	if !cfg.Enabled {
		return &EventPublisher{config: cfg}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	ep := &EventPublisher{
		config: cfg,
		ctx:    ctx,
		cancel: cancel,
	}

	if cfg.EnableAsync {
		if cfg.MaxBatchSize <= 0 {
			ep.config.MaxBatchSize = 1
		}
		ep.buffer = make(chan Notification, cfg.BufferSize)
		ep.wg.Add(1)
		go ep.process()
	}

	return ep, nil
}

// Publish delivers n to all matching subscribers.
func (ep *EventPublisher) Publish(n Notification) error {
	if ep == nil || !ep.config.Enabled {
		return nil
	}

	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now()
	}
	if n.Level == "" {
		n.Level = LevelInfo
	}

	ep.mu.RLock()
	for _, filter := range ep.filters {
		if !filter(n) {
			ep.mu.RUnlock()
			return nil
		}
	}
	ep.mu.RUnlock()

	if ep.config.EnableAsync {
		select {
		case ep.buffer <- n:
			return nil
		case <-ep.ctx.Done():
			return fmt.Errorf("event publisher stopped")
		default:
			return fmt.Errorf("event buffer full, notification dropped")
		}
	}

	ep.deliver(n)
	return nil
}

// PublishDepositAccepted announces a newly accepted deposit.
func (ep *EventPublisher) PublishDepositAccepted(depositID, user string) error {
	return ep.Publish(Notification{
		Type:      NotificationDepositAccepted,
		Source:    "deposit",
		DepositID: depositID,
		Message:   fmt.Sprintf("Deposit %s accepted from %s", depositID, user),
		Data:      map[string]interface{}{"user": user},
	})
}

// PublishPhaseCompleted announces a completed ingest phase.
func (ep *EventPublisher) PublishPhaseCompleted(depositID string, phase int, duration time.Duration) error {
	return ep.Publish(Notification{
		Type:      NotificationPhaseCompleted,
		Source:    "sequencer",
		DepositID: depositID,
		Phase:     phase,
		Message:   fmt.Sprintf("Deposit %s completed phase %d", depositID, phase),
		Data:      map[string]interface{}{"duration": duration.Seconds()},
	})
}

// PublishDepositPaused announces a deposit waiting for confirmation after phase.
func (ep *EventPublisher) PublishDepositPaused(depositID string, phase int) error {
	return ep.Publish(Notification{
		Type:      NotificationDepositPaused,
		Source:    "sequencer",
		DepositID: depositID,
		Phase:     phase,
		Message:   fmt.Sprintf("Deposit %s paused after phase %d", depositID, phase),
	})
}

// PublishDepositCompleted announces a successful ingest.
func (ep *EventPublisher) PublishDepositCompleted(depositID string) error {
	return ep.Publish(Notification{
		Type:      NotificationDepositCompleted,
		Source:    "sequencer",
		DepositID: depositID,
		Message:   fmt.Sprintf("Deposit %s ingested", depositID),
	})
}

// PublishDepositFailed announces a failed ingest.
func (ep *EventPublisher) PublishDepositFailed(depositID string, phase int, reason string) error {
	return ep.Publish(Notification{
		Type:      NotificationDepositFailed,
		Source:    "sequencer",
		DepositID: depositID,
		Phase:     phase,
		Message:   fmt.Sprintf("Deposit %s failed in phase %d: %s", depositID, phase, reason),
		Level:     LevelError,
		Data:      map[string]interface{}{"reason": reason},
	})
}

// PublishDepositCancelled announces a cancelled deposit.
func (ep *EventPublisher) PublishDepositCancelled(depositID string) error {
	return ep.Publish(Notification{
		Type:      NotificationDepositCancelled,
		Source:    "deposit",
		DepositID: depositID,
		Message:   fmt.Sprintf("Deposit %s cancelled", depositID),
		Level:     LevelWarning,
	})
}

// PublishDepositEvicted announces a deposit dropped from the state cache.
func (ep *EventPublisher) PublishDepositEvicted(depositID string) error {
	return ep.Publish(Notification{
		Type:      NotificationDepositEvicted,
		Source:    "cache",
		DepositID: depositID,
		Message:   fmt.Sprintf("Deposit %s evicted from the state cache", depositID),
		Level:     LevelWarning,
	})
}

// PublishPolicyViolation announces a deposit rejected by policy.
func (ep *EventPublisher) PublishPolicyViolation(depositID, policyName, reason string) error {
	return ep.Publish(Notification{
		Type:      NotificationPolicyViolation,
		Source:    "policy",
		DepositID: depositID,
		Message:   fmt.Sprintf("Policy violation on deposit %s: %s - %s", depositID, policyName, reason),
		Level:     LevelError,
		Data: map[string]interface{}{
			"policy": policyName,
			"reason": reason,
		},
	})
}

// Subscribe registers a subscriber. filter may be nil.
func (ep *EventPublisher) Subscribe(subscriber Subscriber, filter NotificationFilter) {
	if ep == nil {
		return
	}
	ep.mu.Lock()
	defer ep.mu.Unlock()
	ep.subscribers = append(ep.subscribers, subscriberEntry{subscriber: subscriber, filter: filter})
}

// AddFilter adds a global filter applied before any subscriber.
func (ep *EventPublisher) AddFilter(filter NotificationFilter) {
	if ep == nil {
		return
	}
	ep.mu.Lock()
	defer ep.mu.Unlock()
	ep.filters = append(ep.filters, filter)
}

func (ep *EventPublisher) process() {
	defer ep.wg.Done()

	batch := make([]Notification, 0, ep.config.MaxBatchSize)
	flush := func() {
		for _, n := range batch {
			ep.deliver(n)
		}
		batch = batch[:0]
	}

	for {
		select {
		case n := <-ep.buffer:
			batch = append(batch, n)
			if len(batch) >= ep.config.MaxBatchSize || len(ep.buffer) == 0 {
				flush()
			}
		case <-ep.ctx.Done():
			for {
				select {
				case n := <-ep.buffer:
					batch = append(batch, n)
				default:
					flush()
					return
				}
			}
		}
	}
}

func (ep *EventPublisher) deliver(n Notification) {
	ep.mu.RLock()
	defer ep.mu.RUnlock()

	for _, entry := range ep.subscribers {
		if entry.filter != nil && !entry.filter(n) {
			continue
		}
		entry.subscriber(n)
	}
}

// Shutdown drains pending notifications and stops the publisher.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if ep == nil || !ep.config.Enabled {
		return nil
	}
	ep.cancel()

	done := make(chan struct{})
	go func() {
		ep.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown timeout")
	}
}

// FilterByLevel allows notifications at minLevel or above.
func FilterByLevel(minLevel string) NotificationFilter {
	levels := map[string]int{
		LevelInfo:    0,
		LevelWarning: 1,
		LevelError:   2,
	}
	min := levels[minLevel]
	return func(n Notification) bool {
		return levels[n.Level] >= min
	}
}

// FilterByType allows notifications of the given types.
func FilterByType(types ...string) NotificationFilter {
	set := make(map[string]bool, len(types))
	for _, t := range types {
		set[t] = true
	}
	return func(n Notification) bool {
		return set[n.Type]
	}
}

// FilterByDepositID allows notifications about one deposit.
func FilterByDepositID(depositID string) NotificationFilter {
	return func(n Notification) bool {
		return n.DepositID == depositID
	}
}
