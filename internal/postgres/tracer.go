package postgres

import (
	"context"
	"errors"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"strings"
	"time"
)

// QueryTracer flags slow statements on the active span and in the log.
type QueryTracer struct {
	Threshold time.Duration
	Log       *zap.Logger
	now       func() time.Time
}

func NewQueryTracer(threshold time.Duration, log *zap.Logger) *QueryTracer {
	if log == nil {
		log = zap.NewNop()
	}
	return &QueryTracer{Threshold: threshold, Log: log, now: time.Now}
}

var _ pgx.QueryTracer = (*QueryTracer)(nil)

type queryStartKey struct{}

type queryStart struct {
	at  time.Time
	sql string
}

func (t *QueryTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	return context.WithValue(ctx, queryStartKey{}, queryStart{at: t.now(), sql: data.SQL})
}

func (t *QueryTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	start, ok := ctx.Value(queryStartKey{}).(queryStart)
	if !ok {
		return
	}
	elapsed := t.now().Sub(start.at)
	span := trace.SpanFromContext(ctx)

	// no rows bukan error untuk lookup
	if data.Err != nil && !errors.Is(data.Err, pgx.ErrNoRows) && span.IsRecording() {
		span.RecordError(data.Err)
		span.SetStatus(codes.Error, data.Err.Error())
	}
	if elapsed <= t.Threshold {
		return
	}
	if span.IsRecording() {
		span.AddEvent("slow_query", trace.WithAttributes(
			attribute.Int64("duration_ms", elapsed.Milliseconds()),
			attribute.Int64("threshold_ms", t.Threshold.Milliseconds()),
		))
	}
	t.Log.Warn("slow query",
		zap.String("sql", compactSQL(start.sql)),
		zap.Duration("duration", elapsed),
		zap.String("command", data.CommandTag.String()),
		zap.Error(data.Err))
}

func compactSQL(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
