// Package fetchkit is a resilient HTTP request client layered over the
// standard net/http transport. It turns a single logical call into
// one-or-more physical attempts across three dimensions: retry with
// exponential backoff (or server-directed Retry-After delays),
// multi-endpoint balancing (sequential first-success or parallel
// collect-all), and fire-and-forget replication of a completed response
// to auxiliary endpoints.
//
// On top of the attempt pipeline it provides content-type-driven
// response decoding, lazy streaming iteration (NDJSON, text, and raw
// framing), progress-tracked and rate-limited body transfer, streaming
// downloads to disk, certificate pinning, and a client-owned cookie
// store.
//
// A Client is built once with functional options and is safe for
// concurrent use:
//
//	c, err := fetchkit.Build(
//		fetchkit.WithBaseURL("https://api.example.com"),
//		fetchkit.WithRetries(2),
//	)
//	if err != nil {
//		// handle
//	}
//	resp, err := c.Get(ctx, "/users/42")
package fetchkit
