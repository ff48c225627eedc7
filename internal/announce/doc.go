// Package announce models the Broadcast Audio, Basic Audio and Public
// Broadcast announcements and serializes them into advertising and periodic
// advertising payloads. All multi-octet fields are little-endian and the
// encoders are deterministic for identical inputs.
package announce
