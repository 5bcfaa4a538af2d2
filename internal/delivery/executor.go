// Package delivery performs dispatcher instructions on the notification channel.
package delivery

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/noah-isme/course-proposals/internal/models"
	"github.com/noah-isme/course-proposals/pkg/config"
	"github.com/noah-isme/course-proposals/pkg/jobs"
)

const deliverJobType = "deliver"

// Channel is the notification transport instructions are carried out on.
type Channel interface {
	SendText(ctx context.Context, target, text string) error
	SendFile(ctx context.Context, target, filename string, data []byte, caption string) error
	Edit(ctx context.Context, ref models.DeliveryRef, text string, clearAffordances bool) error
}

type failureRecorder interface {
	RecordDeliveryFailure(kind models.InstructionKind)
}

// Executor performs instructions in order. A failed instruction is logged and
// skipped; nothing is retried.
type Executor struct {
	channel Channel
	metrics failureRecorder
	logger  *zap.Logger
}

// NewExecutor builds an executor. metrics may be nil.
func NewExecutor(channel Channel, metrics failureRecorder, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{channel: channel, metrics: metrics, logger: logger}
}

// Execute performs every instruction and returns how many failed.
func (e *Executor) Execute(ctx context.Context, instructions []models.Instruction) int {
	failures := 0
	for idx, instruction := range instructions {
		if err := e.perform(ctx, instruction); err != nil {
			failures++
			if e.metrics != nil {
				e.metrics.RecordDeliveryFailure(instruction.Kind())
			}
			e.logger.Warn("delivery instruction failed",
				zap.Int("index", idx),
				zap.String("kind", string(instruction.Kind())),
				zap.Error(err),
			)
		}
	}
	return failures
}

func (e *Executor) perform(ctx context.Context, instruction models.Instruction) error {
	switch in := instruction.(type) {
	case models.SendText:
		return e.channel.SendText(ctx, in.Target, in.Text)
	case models.SendFile:
		return e.channel.SendFile(ctx, in.Target, in.Filename, in.Bytes, in.Text)
	case models.EditMessage:
		return e.channel.Edit(ctx, in.MessageRef, in.NewText, in.ClearAffordances)
	default:
		return fmt.Errorf("unsupported instruction %T", instruction)
	}
}

// AsyncExecutor hands instruction batches to a worker pool so trigger
// handlers return immediately. Each batch runs in order on one worker.
type AsyncExecutor struct {
	executor *Executor
	queue    *jobs.Queue
}

// NewAsyncExecutor wraps executor with a queue sized by cfg.
func NewAsyncExecutor(executor *Executor, cfg config.DeliveryConfig, logger *zap.Logger) *AsyncExecutor {
	a := &AsyncExecutor{executor: executor}
	a.queue = jobs.NewQueue("delivery", a.handle, jobs.QueueConfig{
		Workers:    cfg.Workers,
		BufferSize: cfg.BufferSize,
		Logger:     logger,
	})
	return a
}

// Start launches the delivery workers.
func (a *AsyncExecutor) Start(ctx context.Context) {
	a.queue.Start(ctx)
}

// Stop waits for the workers to exit.
func (a *AsyncExecutor) Stop() {
	a.queue.Stop()
}

// Submit queues a batch for delivery.
func (a *AsyncExecutor) Submit(instructions []models.Instruction) error {
	if len(instructions) == 0 {
		return nil
	}
	return a.queue.Enqueue(jobs.Job{Type: deliverJobType, Payload: instructions})
}

func (a *AsyncExecutor) handle(ctx context.Context, job jobs.Job) error {
	instructions, ok := job.Payload.([]models.Instruction)
	if !ok {
		return fmt.Errorf("delivery job %s: unexpected payload %T", job.ID, job.Payload)
	}
	a.executor.Execute(ctx, instructions)
	return nil
}
