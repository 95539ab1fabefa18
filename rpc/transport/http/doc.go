// Package http carries RPC requests as HTTP POST requests to /{shardId}. The body is
// the serialized request and the response body the serialized response.
//
// Key Components:
//
//   - httpClientTransport: Round robin over the configured endpoints. An endpoint
//     without scheme is treated as http. Failed requests are retried up to RetryCount
//     times.
//
//   - httpServerTransport: net/http server with a logging middleware at debug level.
//     When metrics are registered it also serves GET /metrics in the Prometheus text
//     format. Close shuts the server down gracefully.
//
// Thread Safety:
//
//	Both transports are safe for concurrent use once connected or listening.
package http
