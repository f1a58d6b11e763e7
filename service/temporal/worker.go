package temporal

import (
	"fmt"
	"log/slog"

	"github.com/brojonat/lazorpass/service/metrics"
	natspkg "github.com/brojonat/lazorpass/service/nats"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
)

const defaultMaxConfirmations = 10

// WorkerConfig wires the confirmation worker.
type WorkerConfig struct {
	TemporalHost      string
	TemporalNamespace string
	TaskQueue         string

	// MaxConfirmations caps concurrent signature checks; zero means 10.
	MaxConfirmations int

	Chain     SignatureChecker
	Publisher natspkg.Publisher // nil drops status events
	Metrics   *metrics.Metrics  // nil disables metrics
	Logger    *slog.Logger
}

// Worker runs ConfirmTransferWorkflow and its activities.
type Worker struct {
	client client.Client
	worker worker.Worker
	logger *slog.Logger
}

// NewWorker dials Temporal and registers the confirmation workflow on the
// configured task queue.
func NewWorker(config WorkerConfig) (*Worker, error) {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Chain == nil {
		return nil, fmt.Errorf("worker requires a signature checker")
	}

	if config.MaxConfirmations <= 0 {
		config.MaxConfirmations = defaultMaxConfirmations
	}

	logger := config.Logger.With("component", "temporal_worker", "task_queue", config.TaskQueue)

	c, err := client.Dial(client.Options{
		HostPort:  config.TemporalHost,
		Namespace: config.TemporalNamespace,
		Logger:    newTemporalLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to temporal: %w", err)
	}

	w := worker.New(c, config.TaskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize:     config.MaxConfirmations,
		MaxConcurrentWorkflowTaskExecutionSize: config.MaxConfirmations,
	})
	w.RegisterWorkflow(ConfirmTransferWorkflow)
	activities := NewActivities(config.Chain, config.Publisher, config.Metrics, logger)
	w.RegisterActivity(activities.CheckSignature)
	w.RegisterActivity(activities.PublishStatus)

	logger.Info("confirmation worker ready",
		"namespace", config.TemporalNamespace,
		"max_confirmations", config.MaxConfirmations,
		"publish_events", config.Publisher != nil,
	)

	return &Worker{
		client: c,
		worker: w,
		logger: logger,
	}, nil
}

// Start blocks processing confirmations until Stop is called or the
// process is interrupted.
func (w *Worker) Start() error {
	if err := w.worker.Run(worker.InterruptCh()); err != nil {
		return fmt.Errorf("confirmation worker stopped: %w", err)
	}
	return nil
}

// Stop drains in-flight tasks and closes the Temporal connection.
func (w *Worker) Stop() {
	w.worker.Stop()
	w.client.Close()
	w.logger.Info("confirmation worker stopped")
}
