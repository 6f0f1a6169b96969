package reassembly

import "testing"

// stubParser is a test double for Parser that returns a fixed packet or
// error regardless of the raw bytes handed to it.
type stubParser struct {
	pkt ParsedPacket
	err error
}

func (s stubParser) Parse(raw []byte) (ParsedPacket, error) { return s.pkt, s.err }

func synPacket(srcIP byte, srcPort uint16, dstIP byte, dstPort uint16, seq uint32) ParsedPacket {
	p := ParsedPacket{
		SrcPort: srcPort,
		DstPort: dstPort,
		Seq:     seq,
		Flags:   TCPFlags{SYN: true},
	}
	p.SrcIP = [4]byte{10, 0, 0, srcIP}
	p.DstIP = [4]byte{10, 0, 0, dstIP}
	return p
}

func TestProcessPacketCreatesAndReusesConnection(t *testing.T) {
	r := NewConnections()
	parser := stubParser{pkt: synPacket(1, 40000, 2, 80, 1000)}

	first := r.ProcessPacket(100, 100, nil, parser)
	if !first.Accepted || !first.Created {
		t.Fatalf("first packet: accepted=%v created=%v, want true/true", first.Accepted, first.Created)
	}

	parser.pkt = ParsedPacket{
		SrcIP: [4]byte{10, 0, 0, 2}, SrcPort: 80,
		DstIP: [4]byte{10, 0, 0, 1}, DstPort: 40000,
		Seq: 5000, Ack: 1001, Flags: TCPFlags{SYN: true, ACK: true},
	}
	second := r.ProcessPacket(100, 100, nil, parser)
	if !second.Accepted || second.Created {
		t.Fatalf("second packet: accepted=%v created=%v, want true/false (same connection)", second.Accepted, second.Created)
	}
	if second.Sig != first.Sig {
		t.Fatalf("signatures differ across directions of the same connection: %+v vs %+v", first.Sig, second.Sig)
	}

	if got := r.Len(); got != 1 {
		t.Fatalf("Len() = %d, want 1", got)
	}
	if got := r.Counters().LifetimeConns; got != 1 {
		t.Fatalf("LifetimeConns = %d, want 1", got)
	}
}

func TestProcessPacketRejectsTruncatedCapture(t *testing.T) {
	r := NewConnections()
	parser := stubParser{pkt: synPacket(1, 1, 2, 2, 0)}

	result := r.ProcessPacket(10, 100, nil, parser)
	if result.Accepted {
		t.Fatal("expected a truncated capture to be rejected")
	}
	if got := r.Counters().PacketLenError; got != 1 {
		t.Fatalf("PacketLenError = %d, want 1", got)
	}
	if got := r.Len(); got != 0 {
		t.Fatalf("Len() = %d, want 0 (no connection created for a dropped frame)", got)
	}
}

func TestProcessPacketCountsNotTCP(t *testing.T) {
	r := NewConnections()
	parser := stubParser{err: &ParseError{NotTCP: true}}

	result := r.ProcessPacket(100, 100, nil, parser)
	if result.Accepted {
		t.Fatal("expected a non-TCP frame to be rejected")
	}
	if got := r.Counters().PacketNotTCP; got != 1 {
		t.Fatalf("PacketNotTCP = %d, want 1", got)
	}
}

func TestProcessPacketCountsParseError(t *testing.T) {
	r := NewConnections()
	parser := stubParser{err: &ParseError{Err: errShort}}

	result := r.ProcessPacket(100, 100, nil, parser)
	if result.Accepted {
		t.Fatal("expected a malformed frame to be rejected")
	}
	if got := r.Counters().PacketParseError; got != 1 {
		t.Fatalf("PacketParseError = %d, want 1", got)
	}
	if result.ParseErr == nil {
		t.Fatal("expected ParseErr to be populated so the caller can warn with the underlying cause")
	}
}

func TestProcessPacketNotTCPDoesNotSetParseErr(t *testing.T) {
	r := NewConnections()
	parser := stubParser{err: &ParseError{NotTCP: true}}

	result := r.ProcessPacket(100, 100, nil, parser)
	if result.ParseErr != nil {
		t.Fatalf("ParseErr = %v, want nil (non-TCP frames are dropped silently, not warned about)", result.ParseErr)
	}
}

func TestGetConnectionsByRulesReadyByBytes(t *testing.T) {
	r := NewConnections()

	r.ProcessPacket(100, 100, nil, stubParser{pkt: synPacket(1, 1, 2, 2, 1000)})
	ready := r.GetConnectionsByRules(false, 1)
	if len(ready) != 0 {
		t.Fatalf("no bytes yet: got %d ready connections, want 0", len(ready))
	}

	dataPkt := synPacket(1, 1, 2, 2, 1001)
	dataPkt.Flags = TCPFlags{ACK: true}
	dataPkt.Payload = []byte("hello")
	r.ProcessPacket(100, 100, nil, stubParser{pkt: dataPkt})

	ready = r.GetConnectionsByRules(false, 5)
	if len(ready) != 1 {
		t.Fatalf("got %d ready connections, want 1", len(ready))
	}

	ready = r.GetConnectionsByRules(false, 6)
	if len(ready) != 0 {
		t.Fatalf("min-ready-bytes above what's buffered: got %d, want 0", len(ready))
	}
}

func TestGetConnectionsByRulesReadyWhenClosed(t *testing.T) {
	r := NewConnections()
	r.ProcessPacket(100, 100, nil, stubParser{pkt: synPacket(1, 1, 2, 2, 1000)})

	rstPkt := synPacket(1, 1, 2, 2, 1001)
	rstPkt.Flags = TCPFlags{RST: true}
	r.ProcessPacket(100, 100, nil, stubParser{pkt: rstPkt})

	if ready := r.GetConnectionsByRules(false, 1000); len(ready) != 0 {
		t.Fatalf("closed is false and no bytes buffered: got %d, want 0", len(ready))
	}
	if ready := r.GetConnectionsByRules(true, 1000); len(ready) != 1 {
		t.Fatalf("closed is true: got %d ready connections, want 1", len(ready))
	}
}

func TestGetConnectionsByRulesReturnsClonesNotLiveConns(t *testing.T) {
	r := NewConnections()
	r.ProcessPacket(100, 100, nil, stubParser{pkt: synPacket(1, 1, 2, 2, 1000)})

	rstPkt := synPacket(1, 1, 2, 2, 1001)
	rstPkt.Flags = TCPFlags{RST: true}
	r.ProcessPacket(100, 100, nil, stubParser{pkt: rstPkt})

	clones := r.GetConnectionsByRules(true, 0)
	if len(clones) != 1 {
		t.Fatalf("got %d connections, want 1", len(clones))
	}

	clones[0].Low.ByteCount = 12345

	live := r.GetConnectionsByRules(true, 0)
	if live[0].Low.ByteCount == 12345 {
		t.Fatal("mutating a returned clone affected the live registry state")
	}
}

var errShort = shortErr("truncated header")

type shortErr string

func (e shortErr) Error() string { return string(e) }
