package telemetry

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

const meterName = "github.com/bobmcallan/llm-proxy"

// Metric names.
const (
	MetricRequests = "llmproxy.requests"
	MetricDuration = "llmproxy.request.duration"
	MetricTokens   = "llmproxy.tokens"
	MetricCost     = "llmproxy.cost"
)

// MetricsSink records events as OpenTelemetry instruments.
type MetricsSink struct {
	requests metric.Int64Counter
	duration metric.Float64Histogram
	tokens   metric.Int64Counter
	cost     metric.Float64Counter
}

// NewMetricsSink registers the proxy instruments on provider.
func NewMetricsSink(provider metric.MeterProvider) (*MetricsSink, error) {
	meter := provider.Meter(meterName)

	requests, err := meter.Int64Counter(MetricRequests,
		metric.WithDescription("Admission attempts by final state and status"))
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", MetricRequests, err)
	}
	duration, err := meter.Float64Histogram(MetricDuration,
		metric.WithDescription("Time from receipt to completion or rejection"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", MetricDuration, err)
	}
	tokens, err := meter.Int64Counter(MetricTokens,
		metric.WithDescription("Upstream tokens by type"))
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", MetricTokens, err)
	}
	cost, err := meter.Float64Counter(MetricCost,
		metric.WithDescription("Estimated upstream spend"),
		metric.WithUnit("USD"))
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", MetricCost, err)
	}

	return &MetricsSink{requests: requests, duration: duration, tokens: tokens, cost: cost}, nil
}

// Record implements Sink.
func (s *MetricsSink) Record(ctx context.Context, evt Event) {
	attrs := metric.WithAttributes(
		attribute.String("state", evt.State),
		attribute.String("status", strconv.Itoa(evt.Status)),
		attribute.String("kind", evt.ErrorKind),
		attribute.Bool("stream", evt.Streamed),
	)
	s.requests.Add(ctx, 1, attrs)
	s.duration.Record(ctx, evt.Duration.Seconds(), attrs)

	if evt.Failed() {
		return
	}

	uncached := evt.Usage.PromptTokens - evt.Usage.CachedTokens
	if uncached < 0 {
		uncached = 0
	}
	model := attribute.String("model", evt.Model)
	s.tokens.Add(ctx, int64(uncached),
		metric.WithAttributes(model, attribute.String("type", "prompt")))
	s.tokens.Add(ctx, int64(evt.Usage.CachedTokens),
		metric.WithAttributes(model, attribute.String("type", "cached")))
	s.tokens.Add(ctx, int64(evt.Usage.CompletionTokens),
		metric.WithAttributes(model, attribute.String("type", "completion")))
	if evt.CostUSD > 0 {
		s.cost.Add(ctx, evt.CostUSD, metric.WithAttributes(model))
	}
}

// Meter owns an in-process MeterProvider whose readings can be served
// without an external collector.
type Meter struct {
	Provider *sdkmetric.MeterProvider
	reader   *sdkmetric.ManualReader
}

// NewMeter creates a MeterProvider backed by a manual reader.
func NewMeter() *Meter {
	reader := sdkmetric.NewManualReader()
	return &Meter{
		Provider: sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)),
		reader:   reader,
	}
}

// Point is one aggregated series in a Snapshot.
type Point struct {
	Attributes map[string]string `json:"attributes"`
	Value      float64           `json:"value"`
	Count      uint64            `json:"count,omitempty"`
}

// Snapshot collects the current value of every instrument, keyed by
// metric name. Histograms report their sum and count.
func (m *Meter) Snapshot(ctx context.Context) (map[string][]Point, error) {
	var rm metricdata.ResourceMetrics
	if err := m.reader.Collect(ctx, &rm); err != nil {
		return nil, fmt.Errorf("collect metrics: %w", err)
	}
	return Points(rm), nil
}

// Points flattens collected metrics.
func Points(rm metricdata.ResourceMetrics) map[string][]Point {
	out := make(map[string][]Point)
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			switch data := md.Data.(type) {
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					out[md.Name] = append(out[md.Name], Point{Attributes: attrMap(dp.Attributes), Value: float64(dp.Value)})
				}
			case metricdata.Sum[float64]:
				for _, dp := range data.DataPoints {
					out[md.Name] = append(out[md.Name], Point{Attributes: attrMap(dp.Attributes), Value: dp.Value})
				}
			case metricdata.Histogram[float64]:
				for _, dp := range data.DataPoints {
					out[md.Name] = append(out[md.Name], Point{Attributes: attrMap(dp.Attributes), Value: dp.Sum, Count: dp.Count})
				}
			}
		}
	}
	for name := range out {
		points := out[name]
		sort.Slice(points, func(i, j int) bool {
			return fmt.Sprint(points[i].Attributes) < fmt.Sprint(points[j].Attributes)
		})
	}
	return out
}

// Shutdown flushes and stops the provider.
func (m *Meter) Shutdown(ctx context.Context) error {
	return m.Provider.Shutdown(ctx)
}

func attrMap(set attribute.Set) map[string]string {
	m := make(map[string]string, set.Len())
	iter := set.Iter()
	for iter.Next() {
		kv := iter.Attribute()
		m[string(kv.Key)] = kv.Value.Emit()
	}
	return m
}
