// Package server exposes the HTTP surface: the WebSocket endpoint, the
// service-to-service ticket and progress APIs, and observability endpoints.
package server
