// Package prometheus provides Prometheus collectors for enrollkit metrics.
//
// [NewPrometheusExporter] accepts an [enrollkit.Engine] and exposes an
// [http.Handler] that renders all enrollkit counters in Prometheus text
// exposition format. Counter names are prefixed enrollkit_*_total.
//
// # What this package must NOT do
//
//   - Register metrics in a global Prometheus registry — callers mount the Handler.
//   - Mutate engine state.
package prometheus
