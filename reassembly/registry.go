package reassembly

import "sync"

// Counters aggregates the registry-wide packet accounting from spec §3
// and §4.5. All fields are monotonic non-decreasing for the lifetime of
// a Connections instance.
type Counters struct {
	PacketCount       uint64
	PacketLenError    uint64
	PacketParseError  uint64
	PacketNotTCP      uint64
	PacketsAccepted   uint64
	SequenceAnomalies uint64
	OversizeRejects   uint64
	LifetimeConns     uint64
}

// ParsedPacket is what a Parser produces from a raw frame's bytes: an
// IPv4/TCP header view plus payload, reduced to exactly the fields the
// reassembly engine needs (spec §6).
type ParsedPacket struct {
	SrcIP, DstIP     [4]byte
	SrcPort, DstPort uint16
	Seq, Ack         uint32
	Flags            TCPFlags
	Options          []TCPOption
	Payload          []byte
}

// ParseError distinguishes "failed to decode" from "decoded fine but
// isn't IPv4/TCP", since spec §4.5/§7 count those two cases separately.
type ParseError struct {
	NotTCP bool
	Err    error
}

func (e *ParseError) Error() string {
	if e.NotTCP {
		return "not an IPv4/TCP packet"
	}
	return e.Err.Error()
}

// Parser is the external frame-parsing collaborator: it turns raw
// captured bytes into a ParsedPacket, or a *ParseError. Implemented by
// the capture package using gopacket; this package never imports it.
type Parser interface {
	Parse(raw []byte) (ParsedPacket, error)
}

// Connections is the registry: a mapping from canonical Signature to
// *Conn, guarded by a single mutex shared between the ingestion path
// (ProcessPacket) and the consumer path (GetConnectionsByRules).
//
// Both paths need exclusive access since ProcessPacket mutates Conn
// state and GetConnectionsByRules walks the same map; a single
// sync.Mutex (not RWMutex) is used, matching spec §9's "intentionally
// coarse" guidance — see DESIGN.md's Open Question decision.
type Connections struct {
	mu       sync.Mutex
	items    map[Signature]*Conn
	counters Counters
	nextSeq  uint64
}

// NewConnections returns an empty registry.
func NewConnections() *Connections {
	return &Connections{
		items: make(map[Signature]*Conn),
	}
}

// Counters returns a snapshot of the aggregate counters.
func (r *Connections) Counters() Counters {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.counters
}

// Len returns the number of live connections.
func (r *Connections) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.items)
}

// ProcessResult reports what ProcessPacket did with a frame, for callers
// that want to log or export a metric per outcome. Dropped frames (len
// error, parse error, non-TCP) report Accepted == false.
type ProcessResult struct {
	Accepted        bool
	Created         bool
	Sig             Signature
	Dir             Direction
	Level           LogLevel
	Conn            *Conn
	PayloadLen      int
	SequenceAnomaly bool
	OversizeReject  bool
	AnomalyMsg      string
	OversizeNeed    int
	ParseErr        error
}

// ProcessPacket implements spec §4.5 end to end: the truncated-capture
// check, frame parsing via p, signature+direction derivation,
// lookup-or-create of the Conn, the §4.3 state transition and the
// FlowBuff byte accounting — all under a single critical section.
func (r *Connections) ProcessPacket(capturedLen, wireLen uint32, raw []byte, p Parser) ProcessResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.counters.PacketCount++

	if capturedLen < wireLen {
		r.counters.PacketLenError++
		return ProcessResult{}
	}

	pkt, err := p.Parse(raw)
	if err != nil {
		if pe, ok := err.(*ParseError); ok && pe.NotTCP {
			r.counters.PacketNotTCP++
			return ProcessResult{}
		}
		r.counters.PacketParseError++
		return ProcessResult{ParseErr: err}
	}

	sig, dir := Sign(netIP(pkt.SrcIP), pkt.SrcPort, netIP(pkt.DstIP), pkt.DstPort)

	conn, created := r.lookupOrCreate(sig)

	input := PacketInput{
		Dir:     dir,
		Seq:     pkt.Seq,
		Ack:     pkt.Ack,
		Flags:   pkt.Flags,
		Payload: pkt.Payload,
		Options: pkt.Options,
	}

	var anomaly, oversize bool
	var anomalyMsg string
	var oversizeNeed int
	level := conn.Process(input,
		func(_ Direction, msg string) { r.counters.SequenceAnomalies++; anomaly = true; anomalyMsg = msg },
		func(_ Direction, need int) { r.counters.OversizeRejects++; oversize = true; oversizeNeed = need },
	)

	r.counters.PacketsAccepted++

	return ProcessResult{
		Accepted:        true,
		Created:         created,
		Sig:             sig,
		Dir:             dir,
		Level:           level,
		Conn:            conn,
		PayloadLen:      len(pkt.Payload),
		SequenceAnomaly: anomaly,
		OversizeReject:  oversize,
		AnomalyMsg:      anomalyMsg,
		OversizeNeed:    oversizeNeed,
	}
}

func (r *Connections) lookupOrCreate(sig Signature) (*Conn, bool) {
	if conn, ok := r.items[sig]; ok {
		return conn, false
	}

	r.nextSeq++
	conn := NewConn(r.nextSeq, sig)
	r.items[sig] = conn
	r.counters.LifetimeConns++

	return conn, true
}

// GetConnectionsByRules implements spec §4.5: a Conn is included if
// either (closed is true and its state is Closed) or either direction
// has at least minReadyBytes ready. Returned Conns are deep clones, safe
// to read after the lock is released.
func (r *Connections) GetConnectionsByRules(closed bool, minReadyBytes int) []*Conn {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*Conn

	for _, conn := range r.items {
		isClosed := conn.State.Kind == StateClosed

		if closed && isClosed {
			out = append(out, conn.Clone())
			continue
		}

		if conn.Low.HasReadyBytes(minReadyBytes) || conn.High.HasReadyBytes(minReadyBytes) {
			out = append(out, conn.Clone())
		}
	}

	return out
}

func netIP(b [4]byte) []byte { return b[:] }
