// Package status provides cached job status lookups for pollers.
//
// Most users should import the root package github.com/jdziat/resilient-jobs
// instead of this package directly.
package status
