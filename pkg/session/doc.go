/*
Package session implements thread leasing and checkpoint orchestration.

A thread is owned by at most one turn at a time. The Manager grants a
non-blocking lease per thread ID, backed by a local set and, optionally, by a
distributed Leaser shared across replicas. A second request for a held thread
is rejected with domain.ErrBusy; there is no queueing.
*/
package session
