// Package lavviebot is a thin JSON-over-HTTP client for the PurrSong
// (Lavviebot) cloud.
//
// A Client is one authenticated session: it logs in with an account's e-mail
// and password, caches the returned token, and fetches the full device list
// as a snapshot.Snapshot. Every failure is classified into one of four
// sentinel errors so callers can decide what it means:
//
//   - ErrAuth: credentials rejected (HTTP 401/403)
//   - ErrRateLimit: session throttled (HTTP 429)
//   - ErrTransport: network failure, timeout, other status, malformed body
//   - ErrNoDevices: login and fetch worked but the account has no devices
//
// Endpoints:
//
//	POST {base}/v1/auth/login   {"email": "...", "password": "..."}
//	GET  {base}/v1/devices      Authorization: Bearer <token>
//
// The client does not retry. Rate-limit recovery (drop the session, open a
// fresh one) belongs to the coordinator that owns the session.
package lavviebot
