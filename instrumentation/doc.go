// Package instrumentation wires OpenTelemetry metrics and traces for the
// gateway.
//
// When enabled, metrics are collected by an OpenTelemetry meter provider whose
// reader is a Prometheus exporter. MetricsHandler serves them for scraping:
//
//	inst, err := instrumentation.New(instrumentation.Config{
//		ServiceName:    "mcp-gateway",
//		ServiceVersion: version,
//		Enabled:        true,
//	})
//	if err != nil {
//		return err
//	}
//	defer inst.Shutdown(context.Background())
//
//	mux.Handle("/metrics", inst.MetricsHandler())
//
// When disabled, no-op providers are used and recording costs nothing.
//
// Never put credential values (codes, tokens, secrets) in span attributes or
// metric labels. Client ids and hashed user ids are fine.
package instrumentation
