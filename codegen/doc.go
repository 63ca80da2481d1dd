// Package codegen produces random human-friendly codes and raw secret bytes.
//
// All randomness comes from crypto/rand. A failing random source is reported
// as an error and callers treat it as fatal for the current operation.
package codegen
