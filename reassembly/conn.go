package reassembly

import (
	"strconv"
	"time"
)

// LogLevel mirrors zapcore.Level's numbering (Debug = -1) so callers can
// hand it straight to a *zap.Logger via Check without this package
// importing zap. LevelTrace sits one notch below Debug, so a logger
// configured at Debug threshold naturally drops Trace-level lines.
type LogLevel int8

const (
	LevelTrace LogLevel = -2
	LevelDebug LogLevel = -1
)

// PacketInput is the per-packet data the state machine and FlowBuff need,
// already reduced from whatever the capture/parse collaborator produced.
type PacketInput struct {
	Dir     Direction
	Seq     uint32
	Ack     uint32
	Flags   TCPFlags
	Payload []byte
	Options []TCPOption
}

// Conn is one live bidirectional TCP connection: two FlowBuffs (one per
// Direction), the handshake/close state machine, and a process-monotonic
// serial. It holds no lock of its own — Connections guards all mutation.
type Conn struct {
	Sequence  uint64
	Sig       Signature
	State     State
	Low       FlowBuff
	High      FlowBuff
	startTime time.Time
}

// NewConn creates a Conn in the Created state with both FlowBuffs ready.
func NewConn(sequence uint64, sig Signature) *Conn {
	return &Conn{
		Sequence:  sequence,
		Sig:       sig,
		State:     State{Kind: StateCreated},
		Low:       *NewFlowBuff(),
		High:      *NewFlowBuff(),
		startTime: time.Now(),
	}
}

// Flow returns the FlowBuff receiving bytes sent in direction dir.
func (c *Conn) Flow(dir Direction) *FlowBuff {
	if dir == DirLowSrc {
		return &c.Low
	}
	return &c.High
}

// AnomalyFunc and OversizeFunc let Process report sequence anomalies and
// oversize-buffer rejections without depending on a logger or metrics
// package directly.
type AnomalyFunc func(dir Direction, msg string)
type OversizeFunc func(dir Direction, need int)

// Process applies the spec §4.3 state transitions for one packet (in the
// exact first-match order: RST/close-ack, then FIN, then SYN-progression)
// and then accounts the packet's bytes into the matching FlowBuff. It
// returns the log level implied by the resulting state.
func (c *Conn) Process(p PacketInput, onAnomaly AnomalyFunc, onOversize OversizeFunc) LogLevel {
	switch {
	case p.Flags.RST:
		c.State = State{Kind: StateClosed, Dir: p.Dir}

	case c.State.Kind == StateFinWait2 &&
		p.Dir != c.State.Dir &&
		p.Flags.ACK &&
		p.Ack == c.State.ExpectedAck:
		c.State = State{Kind: StateClosed, Dir: p.Dir}

	case p.Flags.FIN:
		switch {
		case c.State.Kind == StateEstablished:
			c.State = State{Kind: StateFinWait1, Dir: p.Dir, ExpectedAck: p.Seq + 1}
		case c.State.Kind == StateFinWait1 && p.Dir != c.State.Dir:
			c.State = State{Kind: StateFinWait2, Dir: p.Dir, ExpectedAck: p.Seq + 1}
		}
		// else: no state change.

	default:
		switch {
		case c.State.Kind == StateCreated && p.Flags.SYN && !p.Flags.ACK:
			c.State = State{Kind: StateSynSent, Dir: p.Dir, ExpectedAck: p.Seq + 1}
			c.Flow(p.Dir).SetInitialSequenceNumber(p.Seq)
			c.applyWindowScale(p.Dir, p.Options)

		case c.State.Kind == StateSynSent &&
			p.Flags.SYN && p.Flags.ACK &&
			p.Dir != c.State.Dir &&
			p.Ack == c.State.ExpectedAck:
			c.State = State{Kind: StateEstablished, Dir: c.State.Dir}
			c.Flow(p.Dir).SetInitialSequenceNumber(p.Seq)
			c.applyWindowScale(p.Dir, p.Options)
		}
		// else: no state change.
	}

	level := c.logLevel(p)

	flow := c.Flow(p.Dir)
	flow.AddBytes(p.Seq, p.Payload,
		func(msg string) {
			if onAnomaly != nil {
				onAnomaly(p.Dir, msg)
			}
		},
		func(need int) {
			if onOversize != nil {
				onOversize(p.Dir, need)
			}
		},
	)

	return level
}

func (c *Conn) applyWindowScale(dir Direction, opts []TCPOption) {
	if scale, ok := ScanWindowScale(opts); ok {
		c.Flow(dir).WindowScale = scale
	}
}

// logLevel implements spec §4.3's level choice: Established gets Debug on
// the completing SYN/ACK edge and Trace otherwise; Created is Trace
// (a mid-stream capture with no visible handshake); everything else is
// Debug.
func (c *Conn) logLevel(p PacketInput) LogLevel {
	switch c.State.Kind {
	case StateEstablished:
		if p.Flags.SYN {
			return LevelDebug
		}
		return LevelTrace
	case StateCreated:
		return LevelTrace
	default:
		return LevelDebug
	}
}

// Elapsed returns the time since the connection was first observed.
func (c *Conn) Elapsed() time.Duration { return time.Since(c.startTime) }

// String renders "state: {state}, packets: {p1}/{p2}, bytes: {b1}/{b2},
// time: {ms}ms" per spec §6's debug formatting contract.
func (c *Conn) String() string {
	u := strconv.FormatUint
	return "state: " + c.State.String() +
		", packets: " + u(uint64(c.Low.PacketCount), 10) + "/" + u(uint64(c.High.PacketCount), 10) +
		", bytes: " + u(c.Low.ByteCount, 10) + "/" + u(c.High.ByteCount, 10) +
		", time: " + u(uint64(c.Elapsed().Milliseconds()), 10) + "ms"
}

// Clone returns a deep copy of c, safe to read after the registry lock
// guarding the original has been released.
func (c *Conn) Clone() *Conn {
	clone := *c
	clone.Low = c.Low.clone()
	clone.High = c.High.clone()
	return &clone
}

func (f *FlowBuff) clone() FlowBuff {
	out := *f
	if f.data != nil {
		out.data = append([]byte(nil), f.data...)
	}
	if f.filledRanges != nil {
		out.filledRanges = append([]byteRange(nil), f.filledRanges...)
	}
	return out
}
