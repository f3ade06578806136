package operator

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrInvalidPrefix = errors.New("operator: invalid prefix")
	ErrInvalidRule   = errors.New("operator: invalid rule")
)

const maxHexDigits = 16

// Prefix is a bit prefix over the DevAddr or EUI space, left aligned in a
// 64-bit word.
type Prefix struct {
	Value uint64
	Bits  uint8
}

// ParsePrefix accepts either hex digits ("26", "26011") where every digit
// is four bits, or a value and bit length ("26000000/7").
func ParsePrefix(s string) (Prefix, error) {
	raw := strings.TrimSpace(s)
	raw = strings.TrimPrefix(strings.TrimPrefix(raw, "0x"), "0X")

	hexPart, bitsPart, hasBits := strings.Cut(raw, "/")
	value, digits, err := parseHex(hexPart)
	if err != nil {
		return Prefix{}, fmt.Errorf("%w %q: %v", ErrInvalidPrefix, s, err)
	}

	bits := digits * 4
	if hasBits {
		n, err := strconv.Atoi(strings.TrimSpace(bitsPart))
		if err != nil {
			return Prefix{}, fmt.Errorf("%w %q: bit length: %v", ErrInvalidPrefix, s, err)
		}
		if n < 1 || n > bits {
			return Prefix{}, fmt.Errorf("%w %q: bit length %d out of range 1..%d", ErrInvalidPrefix, s, n, bits)
		}
		bits = n
	}

	return Prefix{Value: value & mask(uint8(bits)), Bits: uint8(bits)}, nil
}

// parseHex left aligns 1..16 hex digits.
func parseHex(s string) (uint64, int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, 0, errors.New("empty")
	}
	if len(s) > maxHexDigits {
		return 0, 0, fmt.Errorf("%d hex digits, at most %d", len(s), maxHexDigits)
	}
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("not hex")
	}
	return v << (64 - 4*uint(len(s))), len(s), nil
}

func mask(bits uint8) uint64 {
	if bits == 0 {
		return 0
	}
	return ^uint64(0) << (64 - uint(bits))
}

// Matches reports whether id (left aligned, idBits long) starts with p.
func (p Prefix) Matches(id uint64, idBits uint8) bool {
	if idBits < p.Bits {
		return false
	}
	return (id^p.Value)&mask(p.Bits) == 0
}

// String renders the canonical value/bits form.
func (p Prefix) String() string {
	digits := (int(p.Bits) + 3) / 4
	if digits == 0 {
		digits = 1
	}
	return fmt.Sprintf("%0*x/%d", digits, p.Value>>(64-4*uint(digits)), p.Bits)
}

// ParseID converts a hex DevAddr or EUI into the aligned form Matches takes.
func ParseID(hexID string) (uint64, uint8, error) {
	v, digits, err := parseHex(strings.TrimPrefix(strings.TrimSpace(hexID), "0x"))
	if err != nil {
		return 0, 0, fmt.Errorf("parse id %q: %w", hexID, err)
	}
	return v, uint8(digits * 4), nil
}
