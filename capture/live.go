//go:build linux || darwin

package capture

import (
	"context"

	"github.com/dreadl0ck/gopacket/pcap"
	"github.com/pkg/errors"
)

// LiveSource captures frames from a live network interface via libpcap.
type LiveSource struct {
	handle *pcap.Handle
}

// OpenLive opens iface for capture with the given snapshot length, BPF
// filter and promiscuous mode, mirroring the device-open step that
// original_source/src/main.rs performs via the pcap crate.
func OpenLive(iface string, snaplen int32, promisc bool, filter string) (*LiveSource, error) {
	handle, err := pcap.OpenLive(iface, snaplen, promisc, pcap.BlockForever)
	if err != nil {
		return nil, errors.Wrapf(err, "open live interface %q", iface)
	}

	if filter != "" {
		if err := handle.SetBPFFilter(filter); err != nil {
			handle.Close()
			return nil, errors.Wrapf(err, "apply BPF filter %q", filter)
		}
	}

	return &LiveSource{handle: handle}, nil
}

// Frames implements Source.
func (s *LiveSource) Frames(ctx context.Context) (<-chan Frame, error) {
	out := make(chan Frame, 1024)

	go func() {
		defer close(out)

		for {
			data, ci, err := s.handle.ZeroCopyReadPacketData()
			if err != nil {
				return
			}

			frame := Frame{
				CapturedLen: uint32(ci.CaptureLength),
				WireLen:     uint32(ci.Length),
				Data:        append([]byte(nil), data...),
			}

			select {
			case out <- frame:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

// Close releases the underlying pcap handle.
func (s *LiveSource) Close() error {
	s.handle.Close()
	return nil
}
