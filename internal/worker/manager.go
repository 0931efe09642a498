package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"deedstudio/internal/queue"
)

const (
	// DefaultWorkerCount is the default number of worker goroutines
	DefaultWorkerCount = 2

	// DefaultBatchSize is the number of messages to read per batch
	DefaultBatchSize = 10

	// DefaultBlockTimeout is how long to block waiting for new messages
	DefaultBlockTimeout = 5 * time.Second
)

// EventHandler processes one stream event.
type EventHandler interface {
	HandleEvent(ctx context.Context, event queue.DeedEvent) error
}

// Manager orchestrates worker goroutines that consume from a Redis stream.
type Manager struct {
	consumer       queue.Consumer
	handler        EventHandler
	stream         string
	group          string
	consumerPrefix string
	workerCount    int
	batchSize      int64
	blockTime      time.Duration
	log            *logrus.Entry

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// ManagerConfig holds configuration for the worker manager.
type ManagerConfig struct {
	Stream         string
	Group          string
	ConsumerPrefix string        // Consumer names are "<prefix>-<n>"
	WorkerCount    int           // Number of worker goroutines
	BatchSize      int64         // Messages per read
	BlockTimeout   time.Duration // Block time for XREADGROUP
}

// DefaultManagerConfig returns sensible defaults for the ingest stream.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		Stream:         queue.StreamIngest,
		Group:          queue.ConsumerGroupIngest,
		ConsumerPrefix: "worker",
		WorkerCount:    DefaultWorkerCount,
		BatchSize:      DefaultBatchSize,
		BlockTimeout:   DefaultBlockTimeout,
	}
}

// NewManager creates a new worker manager.
func NewManager(consumer queue.Consumer, handler EventHandler, cfg ManagerConfig, log *logrus.Entry) *Manager {
	def := DefaultManagerConfig()
	if cfg.Stream == "" {
		cfg.Stream = def.Stream
	}
	if cfg.Group == "" {
		cfg.Group = def.Group
	}
	if cfg.ConsumerPrefix == "" {
		cfg.ConsumerPrefix = def.ConsumerPrefix
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = DefaultWorkerCount
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.BlockTimeout <= 0 {
		cfg.BlockTimeout = DefaultBlockTimeout
	}

	return &Manager{
		consumer:       consumer,
		handler:        handler,
		stream:         cfg.Stream,
		group:          cfg.Group,
		consumerPrefix: cfg.ConsumerPrefix,
		workerCount:    cfg.WorkerCount,
		batchSize:      cfg.BatchSize,
		blockTime:      cfg.BlockTimeout,
		log:            log,
	}
}

// Start begins the worker goroutines.
// Call Stop() to gracefully shut down.
func (m *Manager) Start(ctx context.Context) error {
	m.ctx, m.cancel = context.WithCancel(ctx)

	if err := m.consumer.EnsureGroup(m.ctx, m.stream, m.group); err != nil {
		m.cancel()
		return err
	}

	m.log.Infof("Starting %d workers for stream=%s group=%s", m.workerCount, m.stream, m.group)
	for i := 0; i < m.workerCount; i++ {
		workerID := i + 1
		m.wg.Add(1)
		go m.runWorker(workerID, m.consumerName(workerID))
	}
	return nil
}

// Stop gracefully shuts down all workers.
// Blocks until all workers have finished.
func (m *Manager) Stop() {
	m.log.Info("Stopping workers...")
	m.cancel()
	m.wg.Wait()
	m.log.Info("All workers stopped")
}

// runWorker is the main loop for a single worker goroutine.
func (m *Manager) runWorker(workerID int, consumerName string) {
	defer m.wg.Done()
	log := m.log.WithField("worker", workerID)
	log.Infof("Started (consumer=%s)", consumerName)

	// Crash recovery: messages delivered to this consumer name but never acked.
	m.processPending(log, consumerName)

	for {
		select {
		case <-m.ctx.Done():
			log.Info("Shutting down")
			return
		default:
			m.processMessages(log, consumerName)
		}
	}
}

// processPending handles messages that were delivered but not acknowledged.
func (m *Manager) processPending(log *logrus.Entry, consumerName string) {
	for {
		messages, err := m.consumer.ReadPending(m.ctx, m.stream, m.group, consumerName, m.batchSize)
		if err != nil {
			log.Errorf("Error reading pending: %v", err)
			return
		}
		if len(messages) == 0 {
			return
		}

		log.Infof("Processing %d pending messages", len(messages))
		m.handleMessages(log, messages)
	}
}

// processMessages reads and handles a batch of messages.
func (m *Manager) processMessages(log *logrus.Entry, consumerName string) {
	messages, err := m.consumer.Read(m.ctx, m.stream, m.group, consumerName, m.batchSize, m.blockTime)
	if err != nil {
		if m.ctx.Err() != nil {
			return
		}
		log.Errorf("Error reading: %v", err)
		time.Sleep(time.Second) // Back off on error
		return
	}

	if len(messages) == 0 {
		return // Timeout, no messages
	}
	m.handleMessages(log, messages)
}

// handleMessages processes a batch of messages and acknowledges them.
func (m *Manager) handleMessages(log *logrus.Entry, messages []queue.Message) {
	for _, msg := range messages {
		if err := m.handler.HandleEvent(m.ctx, msg.Event); err != nil {
			// Still ACK to prevent infinite retry loops
			log.Errorf("Handler error msgID=%s: %v", msg.ID, err)
		}

		if err := m.consumer.Ack(m.ctx, m.stream, m.group, msg.ID); err != nil {
			log.Errorf("ACK error msgID=%s: %v", msg.ID, err)
		}
	}
}

func (m *Manager) consumerName(workerID int) string {
	return fmt.Sprintf("%s-%d", m.consumerPrefix, workerID)
}
