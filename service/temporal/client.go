package temporal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/lazorpass/service/transfer"
	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/client"
)

// workflowStarter is the slice of the Temporal SDK client used to start
// confirmation workflows.
type workflowStarter interface {
	ExecuteWorkflow(ctx context.Context, options client.StartWorkflowOptions, workflow interface{}, args ...interface{}) (client.WorkflowRun, error)
}

// Client starts confirmation workflows on Temporal. It implements
// transfer.Tracker.
type Client struct {
	client       workflowStarter
	closer       func()
	taskQueue    string
	timeout      time.Duration
	pollInterval time.Duration
	logger       *slog.Logger
}

// NewClient connects to Temporal. Each tracked record gets timeout to settle
// and is polled every pollInterval.
func NewClient(host, namespace, taskQueue string, timeout, pollInterval time.Duration, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("connecting to temporal",
		"host", host,
		"namespace", namespace,
		"task_queue", taskQueue,
	)

	c, err := client.Dial(client.Options{
		HostPort:  host,
		Namespace: namespace,
		Logger:    newTemporalLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Temporal: %w", err)
	}

	logger.Info("connected to temporal successfully")

	return &Client{
		client:       c,
		closer:       c.Close,
		taskQueue:    taskQueue,
		timeout:      timeout,
		pollInterval: pollInterval,
		logger:       logger,
	}, nil
}

// Track starts a ConfirmTransferWorkflow for rec. The workflow ID is derived
// from the signature, so tracking the same record twice reuses the running
// workflow.
func (c *Client) Track(ctx context.Context, rec *transfer.Record) error {
	id := workflowID(rec.Signature)
	input := ConfirmTransferInput{
		Signature:     rec.Signature,
		WalletAddress: rec.From,
		ToAddress:     rec.To,
		Kind:          string(rec.Kind),
		Amount:        rec.Amount,
		Token:         rec.Token,
		SubmittedAt:   rec.SubmittedAt,
		Timeout:       c.timeout,
		PollInterval:  c.pollInterval,
	}

	run, err := c.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:                       id,
		TaskQueue:                c.taskQueue,
		WorkflowExecutionTimeout: c.timeout + time.Minute,
		WorkflowIDConflictPolicy: enumspb.WORKFLOW_ID_CONFLICT_POLICY_USE_EXISTING,
	}, ConfirmTransferWorkflow, input)
	if err != nil {
		c.logger.ErrorContext(ctx, "failed to start confirmation workflow",
			"signature", rec.Signature,
			"workflow_id", id,
			"error", err,
		)
		return fmt.Errorf("failed to start confirmation workflow %q: %w", id, err)
	}

	c.logger.InfoContext(ctx, "confirmation workflow started",
		"signature", rec.Signature,
		"workflow_id", run.GetID(),
		"run_id", run.GetRunID(),
	)
	return nil
}

// TaskQueue returns the configured task queue for this client.
func (c *Client) TaskQueue() string {
	return c.taskQueue
}

// Close closes the Temporal client connection.
func (c *Client) Close() {
	c.logger.Info("closing temporal client")
	if c.closer != nil {
		c.closer()
	}
}

func workflowID(signature string) string {
	return "confirm-transfer-" + signature
}

// temporalLogger adapts slog.Logger to Temporal's logger interface.
type temporalLogger struct {
	logger *slog.Logger
}

func newTemporalLogger(logger *slog.Logger) *temporalLogger {
	return &temporalLogger{logger: logger}
}

func (l *temporalLogger) Debug(msg string, keyvals ...interface{}) {
	l.logger.Debug(msg, keyvals...)
}

func (l *temporalLogger) Info(msg string, keyvals ...interface{}) {
	l.logger.Info(msg, keyvals...)
}

func (l *temporalLogger) Warn(msg string, keyvals ...interface{}) {
	l.logger.Warn(msg, keyvals...)
}

func (l *temporalLogger) Error(msg string, keyvals ...interface{}) {
	l.logger.Error(msg, keyvals...)
}
