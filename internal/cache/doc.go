// Package cache implements the entry store behind the HTTP cache: it derives
// storage keys from normalized request URIs and response bodies, persists the
// Vary-aware variant list for each URI as an opaque encoded record, expires
// fresh variants on invalidation, and coordinates concurrent revalidation via
// backend leases. Freshness policy is supplied by the caller through
// FreshnessPolicy; the store only records what it is given. All I/O goes
// through kv.Backend, so the package never depends on a concrete client.
package cache
