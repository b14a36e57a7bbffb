// Package tasks carries domain events into the notification core through
// Asynq: collaborators enqueue notification:emit tasks and the worker turns
// them into stored, pushed notifications. It also runs the retention sweep.
package tasks

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog/log"
)

// RedisOpt builds the Asynq connection options.
func RedisOpt(addr, password string, db int) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     addr,
		Password: password,
		DB:       db,
	}
}

// Client wraps an Asynq client for enqueuing tasks.
type Client struct {
	client *asynq.Client
}

// NewClient creates a new task client.
func NewClient(opt asynq.RedisClientOpt) *Client {
	return &Client{client: asynq.NewClient(opt)}
}

// Close closes the task client.
func (c *Client) Close() error {
	return c.client.Close()
}

// Enqueue enqueues a task with the given type and JSON payload.
func (c *Client) Enqueue(ctx context.Context, taskType string, payload interface{}, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	task, err := newTask(taskType, payload)
	if err != nil {
		return nil, err
	}

	info, err := c.client.EnqueueContext(ctx, task, opts...)
	if err != nil {
		return nil, fmt.Errorf("enqueuing task: %w", err)
	}

	log.Info().
		Str("task_type", taskType).
		Str("task_id", info.ID).
		Str("queue", info.Queue).
		Msg("Task enqueued")

	return info, nil
}

func newTask(taskType string, payload interface{}) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling task payload: %w", err)
	}
	return asynq.NewTask(taskType, data), nil
}

// Server wraps an Asynq server for processing tasks.
type Server struct {
	server *asynq.Server
	mux    *asynq.ServeMux
}

// ServerConfig holds configuration for the task server.
type ServerConfig struct {
	Redis       asynq.RedisClientOpt
	Concurrency int
	Queues      map[string]int // Queue name -> priority
}

// DefaultServerConfig returns a default server configuration.
func DefaultServerConfig(opt asynq.RedisClientOpt) *ServerConfig {
	return &ServerConfig{
		Redis:       opt,
		Concurrency: 10,
		Queues: map[string]int{
			QueueNotifications: 6,
			QueueMaintenance:   1,
		},
	}
}

// NewServer creates a new task server.
func NewServer(cfg *ServerConfig) *Server {
	server := asynq.NewServer(
		cfg.Redis,
		asynq.Config{
			Concurrency: cfg.Concurrency,
			Queues:      cfg.Queues,
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				log.Error().
					Err(err).
					Str("task_type", task.Type()).
					Bytes("payload", task.Payload()).
					Msg("Task failed")
			}),
		},
	)

	return &Server{
		server: server,
		mux:    asynq.NewServeMux(),
	}
}

// Handle registers a handler for the given task type.
func (s *Server) Handle(taskType string, handler asynq.Handler) {
	s.mux.Handle(taskType, handler)
	log.Debug().Str("task_type", taskType).Msg("Registered task handler")
}

// Start starts processing in the background. Call Shutdown to stop.
func (s *Server) Start() error {
	log.Info().Msg("Starting task server")
	return s.server.Start(s.mux)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown() {
	log.Info().Msg("Shutting down task server")
	s.server.Shutdown()
}

// TaskHandler is an asynq.Handler with automatic JSON unmarshaling.
type TaskHandler[T any] struct {
	handler func(context.Context, T) error
}

// NewTaskHandler creates a new typed task handler.
func NewTaskHandler[T any](handler func(context.Context, T) error) *TaskHandler[T] {
	return &TaskHandler[T]{handler: handler}
}

// ProcessTask implements asynq.Handler. Undecodable payloads are not
// retried.
func (h *TaskHandler[T]) ProcessTask(ctx context.Context, task *asynq.Task) error {
	var payload T
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshaling task payload: %v: %w", err, asynq.SkipRetry)
	}
	return h.handler(ctx, payload)
}
