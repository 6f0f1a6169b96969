package capture

import (
	"context"
	"io"
	"os"

	"github.com/dreadl0ck/gopacket/pcapgo"
	"github.com/pkg/errors"
)

// OfflineSource replays frames from a pcap file on disk, using the pure
// Go pcapgo reader, which needs no cgo (unlike LiveSource, which needs
// cgo + libpcap and is compiled into this package on linux and darwin).
type OfflineSource struct {
	f      *os.File
	reader *pcapgo.Reader
}

// OpenOffline opens a classic pcap file for replay.
func OpenOffline(path string) (*OfflineSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open pcap file")
	}

	r, err := pcapgo.NewReader(f)
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, "read pcap header")
	}

	return &OfflineSource{f: f, reader: r}, nil
}

// Frames implements Source.
func (s *OfflineSource) Frames(ctx context.Context) (<-chan Frame, error) {
	out := make(chan Frame, 1024)

	go func() {
		defer close(out)

		for {
			data, ci, err := s.reader.ReadPacketData()
			if err == io.EOF {
				return
			}
			if err != nil {
				return
			}

			frame := Frame{
				CapturedLen: uint32(ci.CaptureLength),
				WireLen:     uint32(ci.Length),
				Data:        data,
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

// Close releases the underlying file handle.
func (s *OfflineSource) Close() error {
	return s.f.Close()
}
