package postgres

import (
	"context"
	"strings"
	"time"

	"github.com/LAAOUAFIFATIHA/taskstream/internal/adapter/metrics"
	"github.com/jackc/pgx/v5"
)

const backendName = "postgres"

// MetricsTracer implements pgx.QueryTracer to collect query metrics.
type MetricsTracer struct {
	metrics *metrics.StoreMetrics
}

var _ pgx.QueryTracer = (*MetricsTracer)(nil)

func NewMetricsTracer(m *metrics.StoreMetrics) *MetricsTracer {
	return &MetricsTracer{metrics: m}
}

type queryContextKey struct{}

type queryContext struct {
	startTime time.Time
	queryName string
}

func (t *MetricsTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	return context.WithValue(ctx, queryContextKey{}, queryContext{
		startTime: time.Now(),
		queryName: extractQueryName(data.SQL),
	})
}

func (t *MetricsTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	qctx, ok := ctx.Value(queryContextKey{}).(queryContext)
	if !ok {
		return
	}
	t.metrics.Observe(backendName, qctx.queryName, time.Since(qctx.startTime).Seconds(), data.Err)
}

// extractQueryName returns the "-- name: X" annotation of a query, falling
// back to its leading keyword to keep label cardinality low.
func extractQueryName(sql string) string {
	sql = strings.TrimSpace(sql)
	if sql == "" {
		return "unknown"
	}

	if rest, ok := strings.CutPrefix(sql, "-- name:"); ok {
		name, _, _ := strings.Cut(strings.TrimSpace(rest), "\n")
		if fields := strings.Fields(name); len(fields) > 0 {
			return fields[0]
		}
	}

	if fields := strings.Fields(sql); len(fields) > 0 {
		word := strings.ToUpper(fields[0])
		if len(word) > 20 {
			return word[:20]
		}
		return word
	}
	return "unknown"
}
