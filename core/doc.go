// Package core holds the token broker domain: credential records, the
// authorization registry, the token exchange engine, the relay poller and the
// Broker facade. Storage, relay and provider adapters live in sibling packages
// and depend on core, never the other way around.
package core
