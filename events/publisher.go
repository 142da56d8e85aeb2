// Package events fans committed ledger events out to in-process observers.
package events

import (
	"sync"

	"github.com/TEENet-io/watchwallet/ledger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	logger "github.com/sirupsen/logrus"
)

const DEFAULT_CHANNEL_BUFFER_SIZE = 64

// Publisher is a concurrent-safe service that notifies the channels of
// registered observers. It is installed as the ledger's Notifier.
//
// Notify never blocks the ledger: an observer whose channel is full misses the
// event and must catch up from the stored stream (Ledger.EventsAfter).
type Publisher struct {
	mu        sync.Mutex
	observers []chan ledger.Event

	published prometheus.Counter
	dropped   prometheus.Counter
}

// NewPublisher creates a publisher without observers. A nil registry gets a private one.
func NewPublisher(promRegistry prometheus.Registerer) *Publisher {
	if promRegistry == nil {
		promRegistry = prometheus.NewRegistry()
	}
	promautoFactory := promauto.With(promRegistry)
	return &Publisher{
		observers: make([]chan ledger.Event, 0),
		published: promautoFactory.NewCounter(prometheus.CounterOpts{
			Name: "watchwallet_events_published_total",
			Help: "ledger events handed to observers",
		}),
		dropped: promautoFactory.NewCounter(prometheus.CounterOpts{
			Name: "watchwallet_events_dropped_total",
			Help: "events not delivered because an observer channel was full",
		}),
	}
}

func (p *Publisher) Register(observer chan ledger.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.observers = append(p.observers, observer)
}

func (p *Publisher) Notify(ev ledger.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.published.Inc()
	for _, observer := range p.observers {
		select {
		case observer <- ev:
		default:
			p.dropped.Inc()
			logger.WithFields(logger.Fields{
				"event_id":   ev.ID,
				"account_id": ev.AccountID,
				"type":       ev.Type,
			}).Warn("observer channel full, event dropped")
		}
	}
}
