// Package kv defines the key-value capability the cache store is built on and
// ships three implementations: a shared Redis backend for multi-instance
// deployments, a LevelDB backend for single-node persistence (also usable
// fully in memory for tests and development), and a disabled backend that
// answers every read with "absent". The store never talks to a client
// library directly; it only depends on Backend, so backends can be swapped
// through configuration without touching cache semantics.
package kv
