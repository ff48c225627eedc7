// Package server implements the HTTP control and monitoring API. It exposes
// broadcast lifecycle management under /api/v1/broadcasts together with
// health, statistics, configuration and Prometheus metrics endpoints.
package server
