// Package storage provides the GORM implementation of job and lock persistence.
//
// GormStorage implements both core.Storage and core.LockStore over a single
// *gorm.DB, so the jobs table and the lock table always live in the same
// database. SQLite and PostgreSQL are supported; on PostgreSQL ClaimReady
// selects with FOR UPDATE SKIP LOCKED.
//
// Most users should import the root package github.com/jdziat/resilient-jobs
// which provides NewGormStorage() to create storage instances.
package storage
