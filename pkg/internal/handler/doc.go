// Package handler provides internal reflection-based handler execution.
//
// This package is internal and should not be imported directly.
// It provides:
//   - Handler: signature checks for registered job handlers
//   - Payload decoding into the handler's argument type
//   - Panic recovery around the handler call
package handler
