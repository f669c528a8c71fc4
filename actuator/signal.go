package actuator

import (
	"encoding/binary"
	"math"
)

// canSignal describes one little-endian value packed into a CAN payload:
// physical = raw*scalar + offset.
type canSignal struct {
	scalar float64
	offset float64
	start  uint8 // start bit
	length uint8 // length in bits
	signed bool
}

func (s canSignal) mask() uint64 {
	if s.length >= 64 {
		return math.MaxUint64
	}
	return (uint64(1) << s.length) - 1
}

// extract reads the signal from data. Missing bytes read as zero.
func (s canSignal) extract(data []byte) float64 {
	var buf [8]byte
	copy(buf[:], data)
	raw := (binary.LittleEndian.Uint64(buf[:]) >> s.start) & s.mask()

	if s.signed && s.length < 64 && raw&(uint64(1)<<(s.length-1)) != 0 {
		// extend the sign bit
		raw |= ^s.mask()
	}
	var v float64
	if s.signed {
		v = float64(int64(raw))
	} else {
		v = float64(raw)
	}
	return v*s.scalar + s.offset
}

// insert writes value into data, which must be 8 bytes long. Values outside
// the signal's range saturate.
func (s canSignal) insert(data []byte, value float64) {
	raw := math.Round((value - s.offset) / s.scalar)
	var bits uint64
	if s.signed {
		limit := math.Ldexp(1, int(s.length)-1)
		raw = math.Max(-limit, math.Min(raw, limit-1))
		bits = uint64(int64(raw))
	} else {
		raw = math.Max(0, math.Min(raw, math.Ldexp(1, int(s.length))-1))
		bits = uint64(raw)
	}
	word := binary.LittleEndian.Uint64(data)
	word &^= s.mask() << s.start
	word |= (bits & s.mask()) << s.start
	binary.LittleEndian.PutUint64(data, word)
}
