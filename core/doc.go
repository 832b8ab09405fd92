// Package core contains the delivery engine's canonical contracts, domain
// entities, and orchestration logic. Lower-level adapters (stores, transports,
// API surfaces) must depend on this package; core must not depend on
// channel-specific or transport-specific adapters.
package core
