// Package notify implements the webhook client for broadcast lifecycle
// events. Events are queued and posted as JSON from a worker goroutine with
// retry logic and exponential backoff, so producers never block; when the
// queue fills, the oldest event is dropped.
package notify
