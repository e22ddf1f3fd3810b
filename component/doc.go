// Package component resolves wire frames into renderable components through
// an ordered provider registry.
//
// Hosts register Providers to control how component type tags render;
// providers are consulted first-match-wins, with later registrations taking
// precedence over earlier ones and over the builtin defaults. Type tags no
// provider claims resolve to an opaque pass-through carrying the raw payload,
// so a newer service can introduce component types without breaking older
// SDK builds.
package component
