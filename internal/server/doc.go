// Package server hosts the StreamHub API from a single chi router.
//
// The router applies one middleware chain (request ids, request logging,
// metrics, panic recovery, security headers, CORS and rate limiting) so every
// handler shares the same protections and instrumentation. Locally stored
// media is served under /media/ when the local asset backend is in use.
package server
