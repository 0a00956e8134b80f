package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"

	"github.com/kirillkom/hybrid-retrieval/internal/core/domain"
	"github.com/kirillkom/hybrid-retrieval/internal/infrastructure/resilience"
)

const defaultQueueGroup = "diagnostics-workers"

type msgPublisher interface {
	PublishMsg(msg *nats.Msg) error
}

// Queue carries diagnostic events between the retrieval processes and
// the diagnostics worker.
type Queue struct {
	conn      *nats.Conn
	publisher msgPublisher
	subject   string
	group     string
	executor  *resilience.Executor
	logger    *slog.Logger
}

type Options struct {
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	QueueGroup           string
	ResilienceExecutor   *resilience.Executor
	Logger               *slog.Logger
}

func New(url, subject string) (*Queue, error) {
	return NewWithOptions(url, subject, Options{})
}

func NewWithOptions(url, subject string, options Options) (*Queue, error) {
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}
	retryOnFailedConnect := true
	if options.RetryOnFailedConnect != nil {
		retryOnFailedConnect = *options.RetryOnFailedConnect
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := nats.Connect(
		url,
		nats.Name("hybrid-retrieval"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	q := newQueue(conn, subject, options)
	q.conn = conn
	q.logger = logger
	return q, nil
}

func newQueue(publisher msgPublisher, subject string, options Options) *Queue {
	group := options.QueueGroup
	if group == "" {
		group = defaultQueueGroup
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		publisher: publisher,
		subject:   subject,
		group:     group,
		executor:  options.ResilienceExecutor,
		logger:    logger,
	}
}

func (q *Queue) Close() {
	if q.conn != nil {
		q.conn.Close()
	}
}

// Ping reports whether the connection is up.
func (q *Queue) Ping(context.Context) error {
	if q.conn == nil || !q.conn.IsConnected() {
		return domain.WrapError(domain.ErrBackendUnavailable, "nats ping", nats.ErrDisconnected)
	}
	return nil
}

// PublishDiagnostics sends one message per event. The trace context of
// ctx travels in the message headers.
func (q *Queue) PublishDiagnostics(ctx context.Context, events []domain.DiagnosticEvent) error {
	var errs []error
	for _, ev := range events {
		msg, err := q.encode(ctx, ev)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		call := func(_ context.Context) error {
			if err := q.publisher.PublishMsg(msg); err != nil {
				return fmt.Errorf("nats publish: %w", err)
			}
			return nil
		}
		if q.executor != nil {
			err = q.executor.Execute(ctx, "nats.publish", call, classifyNATSError)
		} else {
			err = call(ctx)
		}
		if err != nil {
			errs = append(errs, wrapTemporaryIfNeeded(err))
		}
	}
	return errors.Join(errs...)
}

func (q *Queue) encode(ctx context.Context, ev domain.DiagnosticEvent) (*nats.Msg, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshal diagnostic: %w", err)
	}
	msg := &nats.Msg{Subject: q.subject, Data: data}
	otel.GetTextMapPropagator().Inject(ctx, (*natsHeaderCarrier)(msg))
	return msg, nil
}

// SubscribeDiagnostics consumes events in the worker queue group until
// ctx is done, then drains the subscription. Messages delivered during the
// drain are still handled.
func (q *Queue) SubscribeDiagnostics(ctx context.Context, handler func(context.Context, domain.DiagnosticEvent) error) error {
	if q.conn == nil {
		return fmt.Errorf("nats subscribe: no connection")
	}
	sub, err := q.conn.QueueSubscribe(q.subject, q.group, func(msg *nats.Msg) {
		q.handle(ctx, msg, handler)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}

	if err := q.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	if err := q.conn.FlushTimeout(5 * time.Second); err != nil {
		return fmt.Errorf("nats flush after drain: %w", err)
	}
	return nil
}

// handle detaches from the subscription's cancellation so that events already
// pulled from the server are processed while the subscription drains.
func (q *Queue) handle(ctx context.Context, msg *nats.Msg, handler func(context.Context, domain.DiagnosticEvent) error) {
	ctx = context.WithoutCancel(ctx)
	var ev domain.DiagnosticEvent
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		q.logger.Warn("diagnostic_message_dropped", "subject", msg.Subject, "error", err)
		return
	}

	handlerCtx := otel.GetTextMapPropagator().Extract(ctx, (*natsHeaderCarrier)(msg))
	handlerCtx, cancel := context.WithCancel(handlerCtx)
	defer cancel()
	if err := handler(handlerCtx, ev); err != nil {
		q.logger.Error("diagnostic_handler_failed", "event_id", ev.ID, "kind", ev.Kind, "error", err)
	}
}
