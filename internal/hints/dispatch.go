package hints

import (
	"fmt"

	"github.com/rubo/ziskgo/internal/device"
	"github.com/rubo/ziskgo/internal/hintcode"
)

// BuiltinDispatch is the pure (code, payload) -> result mapping for the
// built-in hint types named in the wire format. Adding a new hint type
// extends this switch.
func BuiltinDispatch(code hintcode.Code, data []uint64) ([]uint64, error) {
	switch code.Value {
	case hintcode.Noop:
		out := make([]uint64, len(data))
		copy(out, data)
		return out, nil

	case hintcode.EcRecover:
		return dispatchEcRecover(data)

	case hintcode.RedMod256:
		if len(data) != 8 {
			return nil, fmt.Errorf("hints: RedMod256 expects 8 words, got %d", len(data))
		}
		return device.RedMod256(data[0:4], data[4:8]), nil

	case hintcode.AddMod256:
		if len(data) != 12 {
			return nil, fmt.Errorf("hints: AddMod256 expects 12 words, got %d", len(data))
		}
		return device.AddMod256(data[0:4], data[4:8], data[8:12]), nil

	case hintcode.MulMod256:
		if len(data) != 12 {
			return nil, fmt.Errorf("hints: MulMod256 expects 12 words, got %d", len(data))
		}
		return device.MulMod256(data[0:4], data[4:8], data[8:12]), nil

	case hintcode.DivRem256:
		if len(data) != 8 {
			return nil, fmt.Errorf("hints: DivRem256 expects 8 words, got %d", len(data))
		}
		q, r := device.DivRem256(data[0:4], data[4:8])
		return append(q, r...), nil

	case hintcode.WPow256:
		if len(data) != 8 {
			return nil, fmt.Errorf("hints: WPow256 expects 8 words, got %d", len(data))
		}
		return device.WPow256(data[0:4], data[4:8]), nil

	case hintcode.OMul256:
		if len(data) != 8 {
			return nil, fmt.Errorf("hints: OMul256 expects 8 words, got %d", len(data))
		}
		return device.OMul256(data[0:4], data[4:8]), nil

	case hintcode.WMul256:
		if len(data) != 8 {
			return nil, fmt.Errorf("hints: WMul256 expects 8 words, got %d", len(data))
		}
		return device.WMul256(data[0:4], data[4:8]), nil

	default:
		if code.Kind == hintcode.KindCustom {
			out := make([]uint64, len(data))
			copy(out, data)
			return out, nil
		}
		return nil, fmt.Errorf("hints: no dispatch handler for %s", code)
	}
}

// ecRecoverPayloadWords is the fixed payload length for an EcRecover hint:
// hash (4) + r (4) + s (4) + recovery id (1), padded to match the wire
// format's declared 20-word length for this hint type.
const ecRecoverPayloadWords = 20

func dispatchEcRecover(data []uint64) ([]uint64, error) {
	if len(data) != ecRecoverPayloadWords {
		return nil, fmt.Errorf("hints: EcRecover expects %d words, got %d", ecRecoverPayloadWords, len(data))
	}

	var in device.EcRecoverInputs
	wordsToBytes32(data[0:4], &in.Hash)
	wordsToBytes32(data[4:8], &in.R)
	wordsToBytes32(data[8:12], &in.S)
	in.RecoveryID = uint8(data[12])

	x, y, status, err := device.EcRecover(in)
	if err != nil {
		return nil, err
	}

	out := make([]uint64, 0, 9)
	out = append(out, bytes32ToWords(x)...)
	out = append(out, bytes32ToWords(y)...)
	out = append(out, uint64(status))
	return out, nil
}

func wordsToBytes32(words []uint64, out *[32]byte) {
	for i, w := range words {
		for j := 0; j < 8; j++ {
			out[8*i+j] = byte(w >> (56 - 8*j))
		}
	}
}

func bytes32ToWords(b [32]byte) []uint64 {
	words := make([]uint64, 4)
	for i := 0; i < 4; i++ {
		var w uint64
		for j := 0; j < 8; j++ {
			w = w<<8 | uint64(b[8*i+j])
		}
		words[i] = w
	}
	return words
}
