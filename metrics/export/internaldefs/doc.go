// Package internaldefs holds the shared counter definitions consumed by the
// exporter packages. It exists so the OTel and Prometheus exporters render
// the same metric names without importing each other.
package internaldefs
