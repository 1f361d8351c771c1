// Package api provides the read-only HTTP status server of the VRM bridge.
//
// Routes:
//
//	GET /healthz            200 when the broker is connected and the loop can run, else 503
//	GET /api/v1/status      poll state, last cycle, broker state
//	GET /api/v1/cycles      recent cycle journal (?limit=N)
//	GET /api/v1/metrics     runtime and database statistics
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api
