// Package observability provides metrics and tracing for the board client.
//
// # Metrics (metrics.go)
//
// Collector owns a private Prometheus registry. The poll loop reports poll
// results and per-record reconciliation outcomes, the element service reports
// mutations, the backend client reports requests, breaker transitions and
// token rotations, and the viewer router reports HTTP traffic. The registry
// is served on the viewer's /metrics route.
//
// A nil *Collector is valid and records nothing.
//
// # Tracing (tracing.go)
//
// InitTracing exports spans over OTLP/gRPC. Poll round trips and element
// mutations each get a span:
//
//	ctx, span := tracer.Start(ctx, "elements.Move",
//		trace.WithAttributes(observability.ElementAttributes(id, "")...))
//	defer func() { observability.EndSpan(span, err) }()
//
// Components take a trace.Tracer; Tracer() returns the global one, which is
// a no-op until InitTracing has run.
package observability
