// Package intercept hosts the request interceptor that sits between the
// devotional page and its origin. Every GET is resolved through one of two
// policies (network-first with cache fallback, or cache-first with optional
// background refresh); successful same-origin responses are mirrored into
// the current cache generation so the next offline session can boot without
// a network. The interceptor itself is a stateful object with an explicit
// lifecycle (Registering → Installing → WaitingToActivate → Active →
// Superseded); the embedding server is responsible for calling Install,
// Activate and Handle at the right moments, and exposes Activate as the
// claiming hook for already-open sessions.
package intercept
