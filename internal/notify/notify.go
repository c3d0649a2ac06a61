// Package notify implements the notification channel: an
// ordered, single-producer-per-item delivery path from pipeline stages to
// whatever is observing outcomes (logs, metrics, a calling CLI). Grounded
// on the factory-method/Status-Type pattern of the original
// ArchiveNotification type.
package notify

import (
	"sync"

	"github.com/sirupsen/logrus"

	"orc-import/internal/metrics"
	"orc-import/pkg/model"
)

// Sink receives notifications; a CLI front-end, the test harness, or a
// structured-log adapter all implement this.
type Sink func(*model.Notification)

// Channel delivers notifications in the order a single producer submits
// them, fanning them out to every registered Sink. It itself does not
// reorder or buffer beyond what the registered sinks require; producers
// calling Publish concurrently are individually ordered per-goroutine only
// by the caller's own discipline, matching the C++ original's per-producer
// ordering contract.
type Channel struct {
	mu     sync.Mutex
	sinks  []Sink
	logger *logrus.Logger
}

// NewChannel creates a Channel that logs every notification at the
// appropriate level in addition to whatever sinks are registered.
func NewChannel(logger *logrus.Logger) *Channel {
	return &Channel{logger: logger}
}

// Subscribe registers sink to receive every future Publish call.
func (c *Channel) Subscribe(sink Sink) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sinks = append(c.sinks, sink)
}

// Publish delivers n to every subscribed sink, in subscription order, and
// records it in metrics/logs.
func (c *Channel) Publish(n *model.Notification) {
	metrics.NotificationsTotal.WithLabelValues(string(n.Type), string(n.Status)).Inc()

	entry := c.logger.WithFields(logrus.Fields{
		"type":   n.Type,
		"status": n.Status,
		"name":   n.ItemName,
		"table":  n.Table,
	})
	if n.Status == model.NotificationFailure {
		entry.WithError(n.Err).Warn("pipeline notification")
	} else if c.logger.IsLevelEnabled(logrus.DebugLevel) {
		entry.Debug("pipeline notification")
	}

	c.mu.Lock()
	sinks := make([]Sink, len(c.sinks))
	copy(sinks, c.sinks)
	c.mu.Unlock()

	for _, sink := range sinks {
		sink(n)
	}
}
