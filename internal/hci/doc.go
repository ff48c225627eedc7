// Package hci defines the advertising and isochronous-channel contracts the
// broadcast session logic is written against, plus an in-memory virtual
// controller that completes every operation asynchronously the way a real
// controller would over the HCI transport.
package hci
