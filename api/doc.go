// Package api defines the wire types of the mediaflow HTTP API.
//
// # API Overview
//
// mediaflow exposes a small RESTful surface:
//   - POST /api/v1/videos/generations submits a generation job
//   - GET /api/v1/videos/generations/{provider}/{taskId} polls it
//   - GET /api/v1/videos/providers lists enabled providers
//   - GET, HEAD /api/v1/assets/proxy?url=… or ?key=… streams an asset
//   - POST /api/v1/uploads/presign issues a direct upload URL
//   - /health, /healthz, /ready, /readyz and /version for health checks
//
// JSON endpoints share the envelope {success, data, error, timestamp,
// request_id}. The proxy endpoint returns the raw asset stream.
//
// # Authentication
//
// When API keys are configured, requests carry the X-API-Key header:
//
//	X-API-Key: your-api-key
//
// The proxy endpoint may also accept ?api_key= so that <video> elements
// can play assets directly.
package api
