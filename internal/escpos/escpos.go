// Package escpos builds ESC/POS byte streams for thermal kitchen
// printers. Builder is a pure value: the same sequence of calls always
// produces the same bytes, which is what lets the dispatcher cache a
// render and what makes the renderer trivially unit-testable.
package escpos

import (
	"bytes"
	"strings"

	"github.com/mitchellh/go-wordwrap"
	"golang.org/x/text/encoding/charmap"
)

const (
	esc = 0x1b
	gs  = 0x1d
)

// Justify selects horizontal alignment for subsequent text.
type Justify byte

const (
	JustifyLeft Justify = iota
	JustifyCenter
	JustifyRight
)

// Size selects the character magnification applied to subsequent text.
type Size byte

const (
	Size1x1 Size = iota
	Size2x1
	Size1x2
	Size2x2
)

// ECCLevel is the QR code error-correction level.
type ECCLevel byte

const (
	ECCLow     ECCLevel = 'L'
	ECCMedium  ECCLevel = 'M'
	ECCQuality ECCLevel = 'Q'
	ECCHigh    ECCLevel = 'H'
)

// Codepage selects how Text encodes characters outside 7-bit ASCII.
type Codepage int

const (
	// CodepageUTF8 leaves bytes as UTF-8; used by printers advertising
	// UTF-8 support directly.
	CodepageUTF8 Codepage = iota
	// CodepageCP437 is the default ESC/POS codepage (IBM PC, USA).
	CodepageCP437
	// CodepageCP858 is the CP437 fallback used when a printer's
	// declared codepage can't represent a character CP437 also lacks
	// (adds the euro sign and a few accented characters).
	CodepageCP858
)

// Builder accumulates ESC/POS commands into a byte buffer. Zero value
// is not usable; construct with New.
type Builder struct {
	buf      bytes.Buffer
	codepage Codepage
	cols     int
}

// New returns a Builder that encodes text using codepage and wraps
// tabular content to maxColumns (spec default cap: 80).
func New(codepage Codepage, maxColumns int) *Builder {
	return &Builder{codepage: codepage, cols: maxColumns}
}

// Bytes returns the accumulated command stream.
func (b *Builder) Bytes() []byte { return b.buf.Bytes() }

// Init emits the printer reset sequence (ESC @). Every receipt starts
// with this per spec's S1 scenario.
func (b *Builder) Init() *Builder {
	b.buf.Write([]byte{esc, '@'})
	return b
}

// SetCodepage switches the encoding used by subsequent Text calls
// without re-emitting the printer's own codepage-select command; that
// command is a capability of real hardware this builder doesn't model
// directly since only CP437/CP858/UTF-8 text encoding is supported,
// not device-side table switches.
func (b *Builder) SetCodepage(cp Codepage) *Builder {
	b.codepage = cp
	return b
}

func (b *Builder) Bold(on bool) *Builder {
	b.buf.Write([]byte{esc, 'E', boolByte(on)})
	return b
}

func (b *Builder) Underline(on bool) *Builder {
	b.buf.Write([]byte{esc, '-', boolByte(on)})
	return b
}

func (b *Builder) Inverse(on bool) *Builder {
	b.buf.Write([]byte{gs, 'B', boolByte(on)})
	return b
}

func (b *Builder) Justify(j Justify) *Builder {
	b.buf.Write([]byte{esc, 'a', byte(j)})
	return b
}

func (b *Builder) Size(s Size) *Builder {
	var n byte
	switch s {
	case Size2x1:
		n = 0x10
	case Size1x2:
		n = 0x01
	case Size2x2:
		n = 0x11
	default:
		n = 0x00
	}
	b.buf.Write([]byte{gs, '!', n})
	return b
}

// Feed advances the paper n lines.
func (b *Builder) Feed(n int) *Builder {
	if n <= 0 {
		return b
	}
	for n > 255 {
		b.buf.Write([]byte{esc, 'd', 255})
		n -= 255
	}
	b.buf.Write([]byte{esc, 'd', byte(n)})
	return b
}

// Text encodes s in the builder's current codepage and writes it
// verbatim (no trailing newline). Characters unrepresentable in the
// target codepage are replaced with '?'.
func (b *Builder) Text(s string) *Builder {
	b.buf.Write(b.encode(s))
	return b
}

// Line is Text followed by a line feed.
func (b *Builder) Line(s string) *Builder {
	b.Text(s)
	b.buf.WriteByte('\n')
	return b
}

// WrappedLine word-wraps s to the builder's column width before writing
// it, one Line per wrapped row. Item names, modifiers, and kitchen
// notes come from free-form POS input and routinely exceed the paper
// width; wrapping on word boundaries here avoids the mid-word breaks
// most printer firmware falls back to.
func (b *Builder) WrappedLine(s string) *Builder {
	for _, line := range strings.Split(wordwrap.WrapString(s, uint(b.cols)), "\n") {
		b.Line(line)
	}
	return b
}

func (b *Builder) encode(s string) []byte {
	if b.codepage == CodepageUTF8 {
		return []byte(s)
	}
	cm := charmap.CodePage437
	if b.codepage == CodepageCP858 {
		cm = charmap.CodePage858
	}
	out := make([]byte, 0, len(s))
	for _, r := range s {
		if r < 0x80 {
			out = append(out, byte(r))
			continue
		}
		enc, ok := cm.EncodeRune(r)
		if !ok {
			out = append(out, '?')
			continue
		}
		out = append(out, enc)
	}
	return out
}

// Rule writes a full-width dashed divider sized to the builder's
// configured column count.
func (b *Builder) Rule() *Builder {
	return b.Line(strings.Repeat("-", b.cols))
}

// FullCut emits GS V 0, a full paper cut.
func (b *Builder) FullCut() *Builder {
	b.buf.Write([]byte{gs, 'V', 0})
	return b
}

// PartialCut emits GS V 1, a partial (tab) cut.
func (b *Builder) PartialCut() *Builder {
	b.buf.Write([]byte{gs, 'V', 1})
	return b
}

// DrawerKick pulses the cash-drawer kick-out connector. pin must be 2
// or 5; onMS/offMS are clamped to the ESC/POS byte range (2ms units,
// max 510ms) same as real firmware.
func (b *Builder) DrawerKick(pin int, onMS, offMS int) *Builder {
	m := byte(0)
	if pin == 5 {
		m = 1
	}
	b.buf.Write([]byte{esc, 'p', m, clampPulse(onMS), clampPulse(offMS)})
	return b
}

func clampPulse(ms int) byte {
	units := ms / 2
	if units < 1 {
		units = 1
	}
	if units > 255 {
		units = 255
	}
	return byte(units)
}

func boolByte(on bool) byte {
	if on {
		return 1
	}
	return 0
}
