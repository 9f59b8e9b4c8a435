package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/beatmart/chatsync/internal/metrics"
	"github.com/beatmart/chatsync/internal/models"
)

// TaskTypeDispatch is the asynq task type for notification delivery.
const TaskTypeDispatch = "notification:dispatch"

const dispatchQueue = "notifications"

// Dispatcher hands notifications off for asynchronous delivery. With a
// Redis queue configured, tasks go through asynq with retries; without
// one, delivery happens on a background goroutine with no retry.
type Dispatcher struct {
	queue  *asynq.Client
	client *Client
	logger zerolog.Logger
}

// NewDispatcher creates a Dispatcher. redisURL may be empty.
func NewDispatcher(redisURL string, client *Client, logger zerolog.Logger) (*Dispatcher, error) {
	d := &Dispatcher{client: client, logger: logger}

	if redisURL != "" {
		opt, err := asynq.ParseRedisURI(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		d.queue = asynq.NewClient(opt)
	}

	return d, nil
}

// Dispatch queues one notification. Errors are logged and swallowed.
func (d *Dispatcher) Dispatch(n *models.Notification) {
	payload, err := json.Marshal(n)
	if err != nil {
		d.logger.Error().Err(err).Msg("marshal notification failed")
		return
	}

	if d.queue != nil {
		_, err := d.queue.Enqueue(
			asynq.NewTask(TaskTypeDispatch, payload),
			asynq.Queue(dispatchQueue),
			asynq.MaxRetry(3),
		)
		if err != nil {
			d.logger.Error().Err(err).Msg("enqueue notification failed")
		}
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := d.client.Post(ctx, n); err != nil {
			metrics.NotificationsDispatched.WithLabelValues("error").Inc()
			d.logger.Warn().Err(err).
				Str("user_id", n.UserID.String()).
				Msg("notification delivery failed")
			return
		}
		metrics.NotificationsDispatched.WithLabelValues("ok").Inc()
	}()
}

// Close releases the queue connection.
func (d *Dispatcher) Close() error {
	if d.queue != nil {
		return d.queue.Close()
	}
	return nil
}

// Worker consumes queued notification tasks and delivers them.
type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
}

// NewWorker creates an asynq worker bound to the notification queue.
func NewWorker(redisURL string, client *Client, logger zerolog.Logger) (*Worker, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: 5,
		Queues:      map[string]int{dispatchQueue: 1},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			logger.Warn().Err(err).Str("task", task.Type()).Msg("notification task failed")
		}),
	})

	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskTypeDispatch, func(ctx context.Context, task *asynq.Task) error {
		var n models.Notification
		if err := json.Unmarshal(task.Payload(), &n); err != nil {
			return fmt.Errorf("unmarshal notification: %w", err)
		}
		if err := client.Post(ctx, &n); err != nil {
			metrics.NotificationsDispatched.WithLabelValues("error").Inc()
			return err
		}
		metrics.NotificationsDispatched.WithLabelValues("ok").Inc()
		return nil
	})

	return &Worker{server: server, mux: mux}, nil
}

// Run starts the worker and blocks until the context is canceled.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.server.Start(w.mux); err != nil {
		return err
	}
	<-ctx.Done()
	w.server.Shutdown()
	return nil
}
