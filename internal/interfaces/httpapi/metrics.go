package httpapi

import (
	"sync"
	"time"

	"rampbridge/internal/domain"
)

// Metrics aggregates counters from the feed, the indexer and the payout
// orchestrator. It implements the application observer interfaces so each
// worker reports here without knowing about HTTP.
type Metrics struct {
	mu               sync.RWMutex
	startTime        time.Time
	latestBlock      uint64
	lastProcessed    uint64
	lastBatchFrom    uint64
	lastBatchTo      uint64
	lastBatchCount   int
	totalEvents      uint64
	eventsMatched    uint64
	eventsOrphaned   uint64
	orphanAlerts     uint64
	payoutsInitiated uint64
	payoutRetries    uint64
	payoutsCompleted uint64
	payoutsFailed    uint64
	webhooksAccepted uint64
	webhooksRejected uint64
	kafkaMessages    uint64
	kafkaDecodeErrs  uint64
	kafkaApplyErrs   uint64
	kafkaCommitErrs  uint64
	kafkaFetchErrs   uint64
	kafkaLastTopic   string
	kafkaLastOffset  int64
	kafkaLastLag     time.Duration
	kafkaMaxLag      time.Duration
}

func NewMetrics() *Metrics {
	return &Metrics{startTime: time.Now()}
}

func (m *Metrics) OnLatestBlock(block uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latestBlock = block
}

func (m *Metrics) OnBatchProcessed(fromBlock, toBlock uint64, eventCount int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastProcessed = toBlock
	m.lastBatchFrom = fromBlock
	m.lastBatchTo = toBlock
	m.lastBatchCount = eventCount
	m.totalEvents += uint64(eventCount)
}

func (m *Metrics) OnEventMatched(domain.EventKind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.eventsMatched++
}

func (m *Metrics) OnEventOrphaned(domain.EventKind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.eventsOrphaned++
}

func (m *Metrics) OnOrphanAlert(int64, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orphanAlerts++
}

func (m *Metrics) OnPayoutInitiated() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payoutsInitiated++
}

func (m *Metrics) OnPayoutRetry() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payoutRetries++
}

func (m *Metrics) OnPayoutCompleted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payoutsCompleted++
}

func (m *Metrics) OnPayoutFailed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payoutsFailed++
}

func (m *Metrics) IncWebhookAccepted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.webhooksAccepted++
}

func (m *Metrics) IncWebhookRejected() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.webhooksRejected++
}

func (m *Metrics) IncKafkaDecodeErr() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kafkaDecodeErrs++
}

func (m *Metrics) IncKafkaApplyErr() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kafkaApplyErrs++
}

func (m *Metrics) IncKafkaCommitErr() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kafkaCommitErrs++
}

func (m *Metrics) IncKafkaFetchErr() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kafkaFetchErrs++
}

func (m *Metrics) ObserveKafkaMessage(topic string, offset int64, ts time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kafkaMessages++
	m.kafkaLastTopic = topic
	m.kafkaLastOffset = offset
	if !ts.IsZero() {
		lag := time.Since(ts)
		m.kafkaLastLag = lag
		if lag > m.kafkaMaxLag {
			m.kafkaMaxLag = lag
		}
	}
}

type Snapshot struct {
	StartTime        time.Time
	LatestBlock      uint64
	LastProcessed    uint64
	LastBatchFrom    uint64
	LastBatchTo      uint64
	LastBatchCount   int
	TotalEvents      uint64
	EventsMatched    uint64
	EventsOrphaned   uint64
	OrphanAlerts     uint64
	PayoutsInitiated uint64
	PayoutRetries    uint64
	PayoutsCompleted uint64
	PayoutsFailed    uint64
	WebhooksAccepted uint64
	WebhooksRejected uint64
	KafkaMessages    uint64
	KafkaDecodeErrs  uint64
	KafkaApplyErrs   uint64
	KafkaCommitErrs  uint64
	KafkaFetchErrs   uint64
	KafkaLastTopic   string
	KafkaLastOffset  int64
	KafkaLastLag     time.Duration
	KafkaMaxLag      time.Duration
}

func (m *Metrics) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Snapshot{
		StartTime:        m.startTime,
		LatestBlock:      m.latestBlock,
		LastProcessed:    m.lastProcessed,
		LastBatchFrom:    m.lastBatchFrom,
		LastBatchTo:      m.lastBatchTo,
		LastBatchCount:   m.lastBatchCount,
		TotalEvents:      m.totalEvents,
		EventsMatched:    m.eventsMatched,
		EventsOrphaned:   m.eventsOrphaned,
		OrphanAlerts:     m.orphanAlerts,
		PayoutsInitiated: m.payoutsInitiated,
		PayoutRetries:    m.payoutRetries,
		PayoutsCompleted: m.payoutsCompleted,
		PayoutsFailed:    m.payoutsFailed,
		WebhooksAccepted: m.webhooksAccepted,
		WebhooksRejected: m.webhooksRejected,
		KafkaMessages:    m.kafkaMessages,
		KafkaDecodeErrs:  m.kafkaDecodeErrs,
		KafkaApplyErrs:   m.kafkaApplyErrs,
		KafkaCommitErrs:  m.kafkaCommitErrs,
		KafkaFetchErrs:   m.kafkaFetchErrs,
		KafkaLastTopic:   m.kafkaLastTopic,
		KafkaLastOffset:  m.kafkaLastOffset,
		KafkaLastLag:     m.kafkaLastLag,
		KafkaMaxLag:      m.kafkaMaxLag,
	}
}
