// Package server hosts the Fiber admin surface of httpstore and the bootstrap
// glue that turns the loaded configuration into a kv backend and a cache store.
// The app only carries cross-cutting middleware (panic recovery, request IDs)
// plus the health check; cache endpoints live in the routes subpackage so
// callers can mount them explicitly. Keep exports narrow and accept explicit
// dependencies.
package server
