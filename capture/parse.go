package capture

import (
	"github.com/dreadl0ck/gopacket"
	"github.com/dreadl0ck/gopacket/layers"

	"github.com/eyalzo/pcapflow/reassembly"
)

// GopacketParser implements reassembly.Parser using gopacket/layers,
// matching the decode style of decoder/gopacketDecoder.go: lazy,
// no-copy decoding down to the layers this package actually needs.
type GopacketParser struct{}

// Parse decodes raw as Ethernet/IPv4/TCP and reduces it to a
// reassembly.ParsedPacket. Anything that isn't IPv4-over-TCP is reported
// via a *reassembly.ParseError with NotTCP set, per spec §4.5 step 2/3.
func (GopacketParser) Parse(raw []byte) (reassembly.ParsedPacket, error) {
	packet := gopacket.NewPacket(raw, layers.LayerTypeEthernet, gopacket.DecodeOptions{
		Lazy:   true,
		NoCopy: true,
	})

	if errLayer := packet.ErrorLayer(); errLayer != nil {
		return reassembly.ParsedPacket{}, &reassembly.ParseError{Err: errLayer.Error()}
	}

	ipLayer := packet.Layer(layers.LayerTypeIPv4)
	if ipLayer == nil {
		return reassembly.ParsedPacket{}, &reassembly.ParseError{NotTCP: true}
	}

	tcpLayer := packet.Layer(layers.LayerTypeTCP)
	if tcpLayer == nil {
		return reassembly.ParsedPacket{}, &reassembly.ParseError{NotTCP: true}
	}

	ip4, ok := ipLayer.(*layers.IPv4)
	if !ok {
		return reassembly.ParsedPacket{}, &reassembly.ParseError{NotTCP: true}
	}

	tcp, ok := tcpLayer.(*layers.TCP)
	if !ok {
		return reassembly.ParsedPacket{}, &reassembly.ParseError{NotTCP: true}
	}

	pkt := reassembly.ParsedPacket{
		SrcPort: uint16(tcp.SrcPort),
		DstPort: uint16(tcp.DstPort),
		Seq:     tcp.Seq,
		Ack:     tcp.Ack,
		Flags: reassembly.TCPFlags{
			SYN: tcp.SYN,
			ACK: tcp.ACK,
			FIN: tcp.FIN,
			RST: tcp.RST,
		},
		Payload: tcp.Payload,
	}

	copy(pkt.SrcIP[:], ip4.SrcIP.To4())
	copy(pkt.DstIP[:], ip4.DstIP.To4())

	// gopacket's tcp.Payload can include Ethernet trailer padding on
	// short frames; trim to the length spec §4.5 step 3 derives from the
	// IP/TCP headers themselves so padding never reaches the FlowBuff.
	ipPayloadLen := int(ip4.Length) - int(ip4.IHL)*4
	if want := TCPPayloadLen(ipPayloadLen, tcp.DataOffset); want < len(pkt.Payload) {
		pkt.Payload = pkt.Payload[:want]
	}

	for _, o := range tcp.Options {
		pkt.Options = append(pkt.Options, reassembly.TCPOption{
			Kind: uint8(o.OptionType),
			Data: o.OptionData,
		})
	}

	return pkt, nil
}

// TCPPayloadLen computes the TCP payload length as ip_payload_len -
// 4*tcp_data_offset, per spec §4.5 step 3. Exposed for callers that only
// have access to the raw header lengths (e.g. truncated-capture checks
// performed before a full Parse).
func TCPPayloadLen(ipPayloadLen int, tcpDataOffsetWords uint8) int {
	n := ipPayloadLen - 4*int(tcpDataOffsetWords)
	if n < 0 {
		return 0
	}
	return n
}
