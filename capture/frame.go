// Package capture wraps frame acquisition (live interface or offline
// pcap file) and IPv4/TCP parsing, realising the external collaborators
// that spec.md §1 and §6 describe only by interface.
package capture

import "context"

// Frame is a single link-layer frame as delivered by the capture source,
// carrying its declared captured-length and wire-length (spec §6).
type Frame struct {
	CapturedLen uint32
	WireLen     uint32
	Data        []byte
}

// Source yields Frames until ctx is cancelled or the underlying capture
// ends, then closes the returned channel.
type Source interface {
	Frames(ctx context.Context) (<-chan Frame, error)
	Close() error
}
