// Package lock provides named, expiring mutual-exclusion locks shared by every
// node that points at the same store.
//
// StoreLock keeps locks in the jobs database: acquisition is an
// insert-if-absent, and an expired row is reclaimed with a compare-and-swap
// on the owner and version that were read. RedisLock offers the same
// contract on top of SET NX PX.
//
// Acquire retries briefly on contention and then reports false. Callers treat
// false as "someone else holds it, skip this cycle", not as an error.
package lock
