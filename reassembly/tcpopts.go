package reassembly

import "strings"

// TCPFlags mirrors the control-bit subset spec §6 requires from the
// parser collaborator. Kept as a plain struct of bools (matching the
// shape callers receive from gopacket's layers.TCP) rather than a
// bitmask, since the caller already decoded discrete fields.
type TCPFlags struct {
	SYN, ACK, FIN, RST bool
}

// Label reduces the flag set to a short, fixed-order label such as
// "SYN,ACK" for log lines, grounded in the original implementation's
// tcp_flags_to_string helper.
func (f TCPFlags) Label() string {
	var parts []string
	if f.SYN {
		parts = append(parts, "SYN")
	}
	if f.ACK {
		parts = append(parts, "ACK")
	}
	if f.FIN {
		parts = append(parts, "FIN")
	}
	if f.RST {
		parts = append(parts, "RST")
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, ",")
}

// TCPOption is the minimal option shape the options scan needs: a kind
// byte (matching gopacket/layers.TCPOptionKind's underlying type) and
// its raw option data, excluding the kind/length bytes.
type TCPOption struct {
	Kind uint8
	Data []byte
}

// Well-known TCP option kinds used by the window-scale scan. Values match
// gopacket/layers.TCPOptionKindWindowScale and friends.
const (
	tcpOptionKindWindowScale uint8 = 3
)

// ScanWindowScale iterates TCP options looking for a Window-Scale option
// with a shift in [1, 14], per spec §4.3, and returns the resulting
// window_scale multiplier (2^shift) and whether one was found.
func ScanWindowScale(opts []TCPOption) (scale uint32, ok bool) {
	for _, o := range opts {
		if o.Kind != tcpOptionKindWindowScale || len(o.Data) < 1 {
			continue
		}

		shift := o.Data[0]
		if shift < 1 || shift > 14 {
			continue
		}

		return 1 << shift, true
	}

	return 0, false
}
