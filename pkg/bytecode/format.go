package bytecode

// Magic identifies a compiled element-physics module. 0x02030741 plus a
// two-byte major/minor pair, matching the on-disk layout every compiled
// module carries ahead of its metadata and code.
var Magic = [4]byte{0x02, 0x03, 0x07, 0x41}

const (
	FormatMajor uint8 = 0
	FormatMinor uint8 = 1
)

// Metadata key bytes for the string metadata table.
const (
	MetaName    uint8 = 0
	MetaSymbol  uint8 = 1
	MetaDesc    uint8 = 2
	MetaAuthor  uint8 = 3
	MetaLicense uint8 = 4
	MetaBgColor uint8 = 5
	MetaFgColor uint8 = 6
)

// Type-byte sentinels for one packed argument slot in the code index.
// Widths 1..96 occupy 0..95 in the low 7 bits (stored as width-1); the sign
// flag is the top bit and is meaningless for the two sentinels below.
const (
	typeByteSkip    uint8 = 126 // operand is popped from the stack, 0 bytes in the code section
	typeBytePoolRef uint8 = 127 // operand is a 2-byte big-endian index into the constant pool
)

func encodeTypeByte(widthBits int, signed bool) uint8 {
	b := uint8(widthBits - 1)
	if signed {
		b |= 0x80
	}
	return b
}

func decodeTypeByte(b uint8) (widthBits int, signed bool, skip, poolRef bool) {
	raw := b &^ 0x80
	switch raw {
	case typeByteSkip:
		return 0, false, true, false
	case typeBytePoolRef:
		return 0, false, false, true
	default:
		return int(raw) + 1, b&0x80 != 0, false, false
	}
}
