// Package umbra implements the lifecycle of request-scoped
// authenticators: creation, transport encoding, validity checking,
// idle-timeout touching, renewal, and discarding.
//
// Two authenticator flavors are provided. The cookie flavor carries a
// signed, base64-encoded JSON payload (or a bare ID when backed by a
// repository), while the JWT flavor produces a self-contained signed
// token with standard registered claims plus caller-supplied custom
// claims. Both expose the same service surface so callers can swap one
// for the other without touching call sites.
//
// The social subpackage builds on these primitives to drive OAuth2 and
// OAuth1 login handshakes, including the CSRF state cookie that binds
// a provider callback to the browser that initiated it.
package umbra
