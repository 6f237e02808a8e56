package obs

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const maxStatementAttr = 300

// PGXTracer emits client spans for zone store queries and pool connects. It
// implements pgx.QueryTracer and pgx.ConnectTracer.
type PGXTracer struct{}

var (
	_ pgx.QueryTracer   = PGXTracer{}
	_ pgx.ConnectTracer = PGXTracer{}
)

func (PGXTracer) tracer() trace.Tracer { return otel.Tracer("toko-pricing/pgx") }

func (t PGXTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	op := sqlOperation(data.SQL)
	name := "pgx.query"
	if op != "" {
		name = "pgx." + strings.ToLower(op)
	}
	attrs := []attribute.KeyValue{
		attribute.String("db.system", "postgresql"),
		attribute.String("db.statement", truncateSQL(data.SQL)),
		attribute.Int("db.args", len(data.Args)),
	}
	if op != "" {
		attrs = append(attrs, attribute.String("db.operation", op))
	}
	ctx, _ = t.tracer().Start(ctx, name, trace.WithSpanKind(trace.SpanKindClient), trace.WithAttributes(attrs...))
	return ctx
}

func (PGXTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	span := trace.SpanFromContext(ctx)
	if data.Err == nil {
		span.SetAttributes(attribute.Int64("db.rows_affected", data.CommandTag.RowsAffected()))
	}
	endSpan(span, data.Err)
}

func (t PGXTracer) TraceConnectStart(ctx context.Context, data pgx.TraceConnectStartData) context.Context {
	attrs := []attribute.KeyValue{attribute.String("db.system", "postgresql")}
	if data.ConnConfig != nil {
		attrs = append(attrs,
			attribute.String("server.address", data.ConnConfig.Host),
			attribute.String("db.name", data.ConnConfig.Database),
		)
	}
	ctx, _ = t.tracer().Start(ctx, "pgx.connect", trace.WithSpanKind(trace.SpanKindClient), trace.WithAttributes(attrs...))
	return ctx
}

func (PGXTracer) TraceConnectEnd(ctx context.Context, data pgx.TraceConnectEndData) {
	endSpan(trace.SpanFromContext(ctx), data.Err)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func sqlOperation(sql string) string {
	fields := strings.Fields(sql)
	if len(fields) == 0 {
		return ""
	}
	return strings.ToUpper(fields[0])
}

func truncateSQL(sql string) string {
	trimmed := strings.TrimSpace(sql)
	if len(trimmed) > maxStatementAttr {
		return trimmed[:maxStatementAttr] + "..."
	}
	return trimmed
}
