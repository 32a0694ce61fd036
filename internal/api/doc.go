// Package api hosts the HTTP handlers that front the StreamHub REST API.
//
// Handler coordinates request validation, session awareness and response
// shaping while delegating persistence to a storage.Repository, uploads to an
// Ingester and realtime traffic to a chat.Hub, all injected by the caller.
// Routing, CORS, rate limiting and request logging live in internal/server;
// handlers that require a caller expect RequireAuth to have run first.
package api
