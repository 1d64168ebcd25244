package escpos

// QR writes a QR code using the GS ( k model-2 command block: select
// model, set module size, set error correction, store the symbol
// data, then print it. size is in dots-per-module, 1..16.
func (b *Builder) QR(data string, size int, ecc ECCLevel) *Builder {
	if size < 1 {
		size = 1
	}
	if size > 16 {
		size = 16
	}

	b.gsK(49, 65, 0x32, 0x00) // select model 2
	b.gsK(49, 67, byte(size))
	b.gsK(49, 69, eccCode(ecc))

	store := make([]byte, 0, len(data)+3)
	store = append(store, 0x31, 0x50, 0x30)
	store = append(store, []byte(data)...)
	pL, pH := lenBytes(len(store))
	b.buf.Write([]byte{gs, '(', 'k', pL, pH})
	b.buf.Write(store)

	b.gsK(49, 81, 0x30) // print the stored symbol
	return b
}

// gsK emits a GS ( k block with a fixed 2-byte payload shape (cn fn
// and up to two parameter bytes), the shape used by every QR
// sub-command except data storage.
func (b *Builder) gsK(cn byte, fn byte, params ...byte) {
	body := append([]byte{cn, fn}, params...)
	pL, pH := lenBytes(len(body))
	b.buf.Write([]byte{gs, '(', 'k', pL, pH})
	b.buf.Write(body)
}

func lenBytes(n int) (lo, hi byte) {
	return byte(n & 0xff), byte((n >> 8) & 0xff)
}

func eccCode(e ECCLevel) byte {
	switch e {
	case ECCMedium:
		return 0x31
	case ECCQuality:
		return 0x32
	case ECCHigh:
		return 0x33
	default:
		return 0x30 // L
	}
}

// Barcode writes a 1D barcode using GS k. symbology selects the
// encoding (Code39 or Code128 cover the kitchen-receipt use case:
// order numbers and short ids).
type Symbology byte

const (
	SymbologyCode39  Symbology = 4
	SymbologyCode128 Symbology = 73
)

func (b *Builder) Barcode(sym Symbology, data string) *Builder {
	if sym == SymbologyCode128 {
		// Code128 requires a {A/B/C subset prefix; default to subset B
		// (printable ASCII), which covers alphanumeric order numbers.
		data = "{B" + data
	}
	b.buf.Write([]byte{gs, 'k', byte(sym), byte(len(data))})
	b.buf.WriteString(data)
	b.buf.WriteByte(0)
	return b
}
