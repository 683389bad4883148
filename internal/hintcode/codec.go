// Package hintcode implements the wire codec for the precompile hint stream:
// a packed u64 header (code<<32 | length) followed by length u64 payload
// words, discriminating control codes from data hint types.
package hintcode

import "fmt"

// Control codes. These carry no payload; Length must be zero on the wire.
const (
	CtrlStart  uint32 = 0x00
	CtrlEnd    uint32 = 0x01
	CtrlCancel uint32 = 0x02
	CtrlError  uint32 = 0x03
)

// Built-in data hint types.
const (
	Noop      uint32 = 0x04
	EcRecover uint32 = 0x05
	RedMod256 uint32 = 0x06
	AddMod256 uint32 = 0x07
	MulMod256 uint32 = 0x08
	DivRem256 uint32 = 0x09
	WPow256   uint32 = 0x0A
	OMul256   uint32 = 0x0B
	WMul256   uint32 = 0x0C
)

// Kind discriminates whether a Code names a control code, a built-in hint
// type, or a custom (caller-defined) code.
type Kind int

const (
	KindCtrl Kind = iota
	KindBuiltIn
	KindCustom
)

// Code is a parsed hint code: either a control code, a built-in hint type,
// or (when parsing allows it) a custom code carried through verbatim.
type Code struct {
	Kind  Kind
	Value uint32
}

func (c Code) String() string {
	switch c.Kind {
	case KindCtrl:
		switch c.Value {
		case CtrlStart:
			return fmt.Sprintf("CTRL_START (%#x)", c.Value)
		case CtrlEnd:
			return fmt.Sprintf("CTRL_END (%#x)", c.Value)
		case CtrlCancel:
			return fmt.Sprintf("CTRL_CANCEL (%#x)", c.Value)
		case CtrlError:
			return fmt.Sprintf("CTRL_ERROR (%#x)", c.Value)
		}
	case KindBuiltIn:
		if name, ok := builtInNames[c.Value]; ok {
			return fmt.Sprintf("%s (%#x)", name, c.Value)
		}
	}
	return fmt.Sprintf("CUSTOM_HINT_%#x", c.Value)
}

// IsControl reports whether c is one of the four control codes.
func (c Code) IsControl() bool { return c.Kind == KindCtrl }

var builtInNames = map[uint32]string{
	Noop:      "NOOP",
	EcRecover: "ECRECOVER",
	RedMod256: "REDMOD256",
	AddMod256: "ADDMOD256",
	MulMod256: "MULMOD256",
	DivRem256: "DIVREM256",
	WPow256:   "WPOW256",
	OMul256:   "OMUL256",
	WMul256:   "WMUL256",
}

func classify(value uint32) (Code, bool) {
	switch value {
	case CtrlStart, CtrlEnd, CtrlCancel, CtrlError:
		return Code{Kind: KindCtrl, Value: value}, true
	}
	if _, ok := builtInNames[value]; ok {
		return Code{Kind: KindBuiltIn, Value: value}, true
	}
	return Code{}, false
}

// Hint is a single parsed precompile hint: a code plus its payload words.
type Hint struct {
	Code Code
	Data []uint64
}

// Parse reads a hint header and payload starting at idx within slice.
//
// On success it returns the parsed Hint and the index of the next header.
// When allowCustom is false, an unrecognized code is rejected; when true,
// it is returned as a KindCustom code with Data carried through verbatim.
func Parse(slice []uint64, idx uint32, allowCustom bool) (Hint, uint32, error) {
	if len(slice) == 0 || int(idx) >= len(slice) {
		return Hint{}, 0, fmt.Errorf("hintcode: index %d out of bounds (len %d)", idx, len(slice))
	}

	header := slice[idx]
	length := uint32(header & 0xFFFFFFFF)
	codeValue := uint32(header >> 32)

	end := uint64(idx) + uint64(length) + 1
	if end > uint64(len(slice)) {
		return Hint{}, 0, fmt.Errorf("hintcode: payload out of bounds: need %d words from index %d, have %d",
			length, idx+1, len(slice)-int(idx)-1)
	}

	code, known := classify(codeValue)
	if !known {
		if !allowCustom {
			return Hint{}, 0, fmt.Errorf("hintcode: unknown hint code %#x", codeValue)
		}
		code = Code{Kind: KindCustom, Value: codeValue}
	}

	data := make([]uint64, length)
	copy(data, slice[idx+1:uint32(end)])

	return Hint{Code: code, Data: data}, uint32(end), nil
}

// Header packs a code and payload length into the wire header word.
func Header(code uint32, length uint32) uint64 {
	return uint64(code)<<32 | uint64(length)
}

// Encode appends the wire representation of (code, payload) to dst.
func Encode(dst []uint64, code uint32, payload []uint64) []uint64 {
	dst = append(dst, Header(code, uint32(len(payload))))
	return append(dst, payload...)
}
