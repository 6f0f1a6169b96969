package reassembly

import (
	"io"
)

// forwardJumpTolerance (J in the design notes) is the maximum distance, in
// bytes, that an observed last_seq may legally exceed max_seq before being
// treated as a suspicious jump rather than a wrap-around or retransmit.
const forwardJumpTolerance = 100_000

// wrapSpan (W) is the span of the 32-bit TCP sequence space.
const wrapSpan = 1 << 32

// DefaultMaxBufferSize bounds the grow-only reassembly buffer. Grounded in
// the original implementation's own hard ceiling on buffer growth; writes
// that would exceed it are rejected and counted rather than panicking the
// ingestion path.
const DefaultMaxBufferSize = 8 << 20 // 8 MiB per direction

// byteRange is a half-open interval [Start, End) of known bytes within a
// FlowBuff's data buffer.
type byteRange struct {
	Start, End int
}

func (r byteRange) len() int { return r.End - r.Start }

// FlowBuff is the per-direction reassembly buffer plus sequence and
// counter bookkeeping described in spec §4.2. It has no locks of its own;
// the Connections registry's mutex serializes access.
type FlowBuff struct {
	data          []byte
	filledRanges  []byteRange
	isn           uint32
	isnSet        bool
	maxSeq        uint64
	wrapAround    uint64
	ByteCount     uint64
	PacketCount   uint32
	WindowScale   uint32
	MaxBufferSize int
}

// NewFlowBuff returns a FlowBuff ready to receive bytes once its ISN is set.
func NewFlowBuff() *FlowBuff {
	return &FlowBuff{
		WindowScale:   1,
		MaxBufferSize: DefaultMaxBufferSize,
	}
}

// SetInitialSequenceNumber records the ISN and initialises max_seq, per
// spec §4.2. Called exactly once per direction, on observation of a SYN
// (or SYN/ACK) in that direction.
func (f *FlowBuff) SetInitialSequenceNumber(isn uint32) {
	f.isn = isn
	f.isnSet = true
	f.maxSeq = uint64(isn)
}

// ISNSet reports whether SetInitialSequenceNumber has been called.
func (f *FlowBuff) ISNSet() bool { return f.isnSet }

// RelativeSeq maps the 32-bit TCP sequence of a payload's first byte to a
// 0-based offset into Data. Undefined before the ISN is set.
func (f *FlowBuff) RelativeSeq(tcpSeq uint32) uint64 {
	return uint64(tcpSeq) + f.wrapAround*wrapSpan - uint64(f.isn) - 1
}

// ScaledWindow multiplies the published 16-bit window by the window-scale
// factor recorded from the SYN's TCP options.
func (f *FlowBuff) ScaledWindow(win16 uint16) uint32 {
	return uint32(win16) * f.WindowScale
}

// HasReadyBytes reports whether the first filled range has length >= min.
func (f *FlowBuff) HasReadyBytes(min int) bool {
	if len(f.filledRanges) == 0 {
		return false
	}
	return f.filledRanges[0].len() >= min
}

// HasReadyBuffer reports whether a first filled range exists and either
// the connection is closed or its length meets min.
func (f *FlowBuff) HasReadyBuffer(closed bool, min int) bool {
	if len(f.filledRanges) == 0 {
		return false
	}
	return closed || f.filledRanges[0].len() >= min
}

// Data returns the buffer's current contents. Callers must not retain or
// mutate the returned slice beyond the registry lock's scope.
func (f *FlowBuff) Data() []byte { return f.data }

// FilledRanges returns the current list of contiguous filled byte ranges,
// each as a [start, end) pair.
func (f *FlowBuff) FilledRanges() [][2]int {
	out := make([][2]int, len(f.filledRanges))
	for i, r := range f.filledRanges {
		out[i] = [2]int{r.Start, r.End}
	}
	return out
}

// ErrShortBuffer is returned by ReadBytes when fewer bytes are available
// than requested.
var ErrShortBuffer = io.ErrUnexpectedEOF

// ReadBytes returns size bytes starting at rpos, or ErrShortBuffer if the
// buffer does not hold that many bytes yet. Never mutates state.
func (f *FlowBuff) ReadBytes(rpos, size int) ([]byte, error) {
	if rpos+size > len(f.data) {
		return nil, ErrShortBuffer
	}
	out := make([]byte, size)
	copy(out, f.data[rpos:rpos+size])
	return out, nil
}

// AddBytes applies a single packet's payload to this direction per spec
// §4.2: bumps PacketCount unconditionally, applies the wrap/jump policy,
// and writes the payload into Data at its sequence-derived offset.
//
// onAnomaly, if non-nil, is invoked with a description when the
// forward-jump guard rejects the sequence delta (§4.4); onOversize, if
// non-nil, is invoked when a write would exceed MaxBufferSize.
func (f *FlowBuff) AddBytes(tcpSeq uint32, payload []byte, onAnomaly func(string), onOversize func(need int)) {
	f.PacketCount++

	payloadLen := len(payload)
	if payloadLen == 0 {
		return
	}

	f.ByteCount += uint64(payloadLen)

	lastSeq := uint64(tcpSeq) + uint64(payloadLen) + f.wrapAround*wrapSpan

	switch {
	case lastSeq < f.maxSeq && lastSeq+wrapSpan > f.maxSeq && lastSeq+wrapSpan-forwardJumpTolerance <= f.maxSeq:
		// Wrap-around case.
		f.wrapAround++
		f.maxSeq = lastSeq + wrapSpan
	case lastSeq < f.maxSeq+forwardJumpTolerance:
		// Normal/retransmit case: last_seq is not more than J beyond max_seq.
		// Written as last_seq < max_seq+J rather than last_seq-J < max_seq to
		// avoid unsigned underflow when last_seq < J.
		f.maxSeq = lastSeq
	default:
		// Suspicious jump: leave max_seq/wrap_around untouched.
		if onAnomaly != nil {
			onAnomaly("sequence jump outside forward-jump tolerance")
		}
	}

	if !f.isnSet || payloadLen == 0 {
		return
	}

	off := int(f.RelativeSeq(tcpSeq))
	if off < 0 {
		return
	}

	need := off + payloadLen
	if need > f.MaxBufferSize {
		if onOversize != nil {
			onOversize(need)
		}
		return
	}

	f.writeBytes(payload, off)
}

// writeBytes extends Data as needed and copies in payload at wpos, then
// folds the new range into filledRanges per the merge policy in spec §4.2.
func (f *FlowBuff) writeBytes(payload []byte, wpos int) {
	need := wpos + len(payload)
	if need > len(f.data) {
		grown := make([]byte, need)
		copy(grown, f.data)
		f.data = grown
	}

	copy(f.data[wpos:need], payload)

	f.addFilledRange(wpos, need)
}

// addFilledRange merges [start, end) into filledRanges using the
// exact-edge policy from spec §4.2: extend a range ending at start, or
// one starting at start (retransmit/overlap), or one starting at end
// (missing predecessor); otherwise append a new range.
func (f *FlowBuff) addFilledRange(start, end int) {
	for i := range f.filledRanges {
		r := &f.filledRanges[i]

		if r.End == start {
			r.End = end
			return
		}

		if r.Start == start {
			if end > r.End {
				r.End = end
			}
			return
		}

		if r.Start == end {
			r.Start = start
			return
		}
	}

	f.filledRanges = append(f.filledRanges, byteRange{Start: start, End: end})
}
