package gojob

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-dispatch/core"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
)

// JobIDDelivery identifies delivery executions handed to a go-job worker
// pool instead of the in-process lane workers.
const JobIDDelivery = "dispatch.delivery"

// NackPolicy bounds requeue behavior when a delivery execution fails on a
// go-job transport.
type NackPolicy struct {
	MaxAttempts     int
	MaxDelay        time.Duration
	DeadLetterOnMax bool
}

// Normalize enforces bounded retry behavior for a nack operation.
func (p NackPolicy) Normalize(opts queue.NackOptions, attempt int) queue.NackOptions {
	out := opts
	out.Reason = strings.TrimSpace(out.Reason)
	if out.Delay < 0 {
		out.Delay = 0
	}
	if p.MaxDelay > 0 && out.Delay > p.MaxDelay {
		out.Delay = p.MaxDelay
	}
	if out.DeadLetter {
		out.Requeue = false
	}
	if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
		out.Requeue = false
		if p.DeadLetterOnMax || out.DeadLetter {
			out.DeadLetter = true
		}
	}
	if !out.Requeue && !out.DeadLetter {
		out.Requeue = true
	}
	return out
}

// ToExecutionMessage maps a delivery job to the go-job wire contract. The
// job id doubles as the idempotency key so a shared broker can dedupe.
func ToExecutionMessage(j core.Job) *job.ExecutionMessage {
	return &job.ExecutionMessage{
		JobID: JobIDDelivery,
		Parameters: map[string]any{
			"id":           strings.TrimSpace(j.ID),
			"lane":         strings.TrimSpace(j.Lane),
			"payload":      string(j.Payload),
			"priority":     j.Priority,
			"attempts":     j.Attempts,
			"max_attempts": j.MaxAttempts,
		},
		IdempotencyKey: strings.TrimSpace(j.ID),
	}
}

// FromExecutionMessage rebuilds a delivery job from a go-job message.
func FromExecutionMessage(msg *job.ExecutionMessage) (core.Job, error) {
	if msg == nil {
		return core.Job{}, fmt.Errorf("gojob: execution message is required")
	}
	out := core.Job{
		ID:   stringParam(msg.Parameters, "id"),
		Lane: stringParam(msg.Parameters, "lane"),
	}
	if out.ID == "" {
		out.ID = strings.TrimSpace(msg.IdempotencyKey)
	}
	if out.Lane == "" {
		return core.Job{}, fmt.Errorf("%w: lane parameter is required", core.ErrLaneNotFound)
	}
	payload := stringParam(msg.Parameters, "payload")
	if payload == "" {
		return core.Job{}, fmt.Errorf("%w: payload parameter is required", core.ErrInvalidPayload)
	}
	out.Payload = []byte(payload)
	out.Priority = intParam(msg.Parameters, "priority")
	out.Attempts = intParam(msg.Parameters, "attempts")
	out.MaxAttempts = intParam(msg.Parameters, "max_attempts")
	return out, nil
}

// ForwarderAdapter pushes delivery jobs onto an external go-job enqueuer.
type ForwarderAdapter struct {
	enqueuer queue.Enqueuer
}

func NewForwarderAdapter(enqueuer queue.Enqueuer) *ForwarderAdapter {
	return &ForwarderAdapter{enqueuer: enqueuer}
}

func (a *ForwarderAdapter) Forward(ctx context.Context, j core.Job) error {
	if a == nil || a.enqueuer == nil {
		return fmt.Errorf("gojob: enqueuer is not configured")
	}
	if strings.TrimSpace(j.Lane) == "" {
		return fmt.Errorf("%w: lane is required", core.ErrLaneNotFound)
	}
	if len(j.Payload) == 0 {
		return fmt.Errorf("%w: payload is required", core.ErrInvalidPayload)
	}
	return a.enqueuer.Enqueue(ctx, ToExecutionMessage(j))
}

// WorkerAdapter drains delivery messages from a go-job dequeuer and runs
// them through a delivery handler, acking on success and nacking with the
// bounded policy on failure.
type WorkerAdapter struct {
	dequeuer queue.Dequeuer
	handler  func(ctx context.Context, j core.Job) error
	policy   NackPolicy
}

func NewWorkerAdapter(
	dequeuer queue.Dequeuer,
	handler func(ctx context.Context, j core.Job) error,
	policy NackPolicy,
) *WorkerAdapter {
	return &WorkerAdapter{dequeuer: dequeuer, handler: handler, policy: policy}
}

// ProcessOne handles a single delivery. Permanent failures dead-letter
// immediately instead of burning the remaining attempts.
func (a *WorkerAdapter) ProcessOne(ctx context.Context) error {
	if a == nil || a.dequeuer == nil || a.handler == nil {
		return fmt.Errorf("gojob: worker adapter is not configured")
	}
	delivery, err := a.dequeuer.Dequeue(ctx)
	if err != nil {
		return err
	}

	j, decodeErr := FromExecutionMessage(delivery.Message())
	if decodeErr != nil {
		return delivery.Nack(ctx, a.policy.Normalize(queue.NackOptions{
			DeadLetter: true,
			Reason:     decodeErr.Error(),
		}, 0))
	}

	if handleErr := a.handler(ctx, j); handleErr != nil {
		attempt := j.Attempts + 1
		opts := queue.NackOptions{
			Requeue: true,
			Reason:  handleErr.Error(),
		}
		if core.IsPermanent(handleErr) {
			opts.Requeue = false
			opts.DeadLetter = true
		}
		return delivery.Nack(ctx, a.policy.Normalize(opts, attempt))
	}
	return delivery.Ack(ctx)
}

func stringParam(params map[string]any, key string) string {
	value, ok := params[key]
	if !ok {
		return ""
	}
	text, ok := value.(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(text)
}

func intParam(params map[string]any, key string) int {
	switch typed := params[key].(type) {
	case int:
		return typed
	case int64:
		return int(typed)
	case float64:
		return int(typed)
	default:
		return 0
	}
}
