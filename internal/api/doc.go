// Package api implements the HTTP REST API and WebSocket server for the
// PurrSong bridge.
//
// This package provides:
//   - Read endpoints for accounts, their current snapshots and entities
//   - Authenticated endpoints to add, re-authenticate, refresh and remove accounts
//   - A WebSocket hub streaming snapshot, failure and account state events
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//
// # Security
//
// Mutating routes require a bearer JWT signed with security.jwt.secret.
// Tokens are issued out of band with `purrsong token`. Read routes and the
// WebSocket stream carry no credentials and are open.
//
// # Events
//
// Clients subscribe to channels over the socket:
//
//	{"type":"subscribe","id":"1","payload":{"channels":["snapshot.accepted"]}}
//
// Channels: snapshot.accepted, account.failure, account.state.
package api
