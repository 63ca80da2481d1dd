// Package internaldefs holds the metric names and bucket bounds shared by the
// goMFA exporters, so Prometheus and OTel expose identical names.
//
// # What this package must NOT do
//
//   - Import any exporter package.
//   - Perform I/O.
package internaldefs
