package capture

import (
	"net"
	"testing"

	"github.com/dreadl0ck/gopacket"
	"github.com/dreadl0ck/gopacket/layers"

	"github.com/eyalzo/pcapflow/reassembly"
)

// buildFrame serialises an Ethernet/IPv4/TCP frame carrying payload, using
// the same SerializeLayers + SetNetworkLayerForChecksum sequence as the
// corpus's own packet-crafting code.
func buildFrame(t *testing.T, srcPort, dstPort uint16, seq, ack uint32, flags layers.TCP, payload []byte) []byte {
	t.Helper()

	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 1},
		DstMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 2},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip4 := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Protocol: layers.IPProtocolTCP,
		SrcIP:    net.IPv4(10, 0, 0, 1),
		DstIP:    net.IPv4(10, 0, 0, 2),
	}
	tcp := flags
	tcp.SrcPort = layers.TCPPort(srcPort)
	tcp.DstPort = layers.TCPPort(dstPort)
	tcp.Seq = seq
	tcp.Ack = ack
	tcp.Window = 65535
	tcp.SetNetworkLayerForChecksum(ip4)

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip4, &tcp, gopacket.Payload(payload)); err != nil {
		t.Fatalf("SerializeLayers: %v", err)
	}

	return buf.Bytes()
}

func TestGopacketParserDecodesSynWithPayload(t *testing.T) {
	raw := buildFrame(t, 1234, 80, 1000, 0, layers.TCP{SYN: true}, []byte("hello"))

	pkt, err := (GopacketParser{}).Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if pkt.SrcPort != 1234 || pkt.DstPort != 80 {
		t.Fatalf("ports = %d/%d, want 1234/80", pkt.SrcPort, pkt.DstPort)
	}
	if pkt.Seq != 1000 {
		t.Fatalf("seq = %d, want 1000", pkt.Seq)
	}
	if !pkt.Flags.SYN || pkt.Flags.ACK || pkt.Flags.FIN || pkt.Flags.RST {
		t.Fatalf("flags = %+v, want only SYN", pkt.Flags)
	}
	if string(pkt.Payload) != "hello" {
		t.Fatalf("payload = %q, want %q", pkt.Payload, "hello")
	}
	if net.IP(pkt.SrcIP[:]).String() != "10.0.0.1" {
		t.Fatalf("src ip = %v, want 10.0.0.1", net.IP(pkt.SrcIP[:]))
	}
}

func TestGopacketParserReturnsNotTCPForUDP(t *testing.T) {
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 1},
		DstMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 2},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip4 := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    net.IPv4(10, 0, 0, 1),
		DstIP:    net.IPv4(10, 0, 0, 2),
	}
	udp := &layers.UDP{SrcPort: 53, DstPort: 53}
	udp.SetNetworkLayerForChecksum(ip4)

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip4, udp, gopacket.Payload("x")); err != nil {
		t.Fatalf("SerializeLayers: %v", err)
	}

	_, err := (GopacketParser{}).Parse(buf.Bytes())
	pe, ok := err.(*reassembly.ParseError)
	if !ok || !pe.NotTCP {
		t.Fatalf("err = %v, want *ParseError{NotTCP: true}", err)
	}
}

func TestGopacketParserScansWindowScaleOption(t *testing.T) {
	raw := buildFrame(t, 1234, 80, 1000, 0, layers.TCP{
		SYN: true,
		Options: []layers.TCPOption{
			{OptionType: layers.TCPOptionKindWindowScale, OptionLength: 3, OptionData: []byte{7}},
		},
	}, []byte{})

	pkt, err := (GopacketParser{}).Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	scale, ok := reassembly.ScanWindowScale(pkt.Options)
	if !ok || scale != 1<<7 {
		t.Fatalf("ScanWindowScale = %d, %v, want %d, true", scale, ok, 1<<7)
	}
}

func TestTCPPayloadLen(t *testing.T) {
	tests := []struct {
		ipPayloadLen int
		dataOffset   uint8
		want         int
	}{
		{40, 5, 20},
		{20, 5, 0},
		{10, 5, 0}, // malformed: offset exceeds payload, clamp to zero
	}

	for _, tt := range tests {
		if got := TCPPayloadLen(tt.ipPayloadLen, tt.dataOffset); got != tt.want {
			t.Errorf("TCPPayloadLen(%d, %d) = %d, want %d", tt.ipPayloadLen, tt.dataOffset, got, tt.want)
		}
	}
}
