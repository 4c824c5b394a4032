// Package core provides the fundamental types and interfaces for the jobs package.
//
// This package contains:
//   - Job and Lock data models with GORM annotations
//   - Storage and LockStore interfaces defining the persistence contract
//   - Event types for queue monitoring
//   - The error taxonomy shared by every component
//   - The Notifier adapter
//
// Most users should import the root package github.com/jdziat/resilient-jobs
// instead of this package directly.
package core
