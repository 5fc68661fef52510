package checksums

import (
	"fmt"
	"strings"
)

const (
	AlgorithmCRC16CCITT    = "crc16-ccitt"
	AlgorithmXOR           = "xor"
	AlgorithmFletcher16    = "fletcher-16"
	AlgorithmFletcher16256 = "fletcher-16-256"
	AlgorithmNone          = "none"
)

var Algorithms = []string{
	AlgorithmCRC16CCITT,
	AlgorithmXOR,
	AlgorithmFletcher16,
	AlgorithmFletcher16256,
	AlgorithmNone,
}

// CRC16CCITT is CRC-16/CCITT-FALSE: poly 0x1021, init 0xFFFF, no reflection, no final xor.
func CRC16CCITT(data []byte) string {
	crc := uint16(0xFFFF)
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return fmt.Sprintf("%04X", crc)
}

func XOR(data []byte) string {
	var sum byte
	for _, b := range data {
		sum ^= b
	}
	return fmt.Sprintf("%02X", sum)
}

// Fletcher16 reduces both sums only once at the end, so modulus 256 keeps the
// legacy behaviour some deployed payloads still emit.
func Fletcher16(data []byte, modulus int) string {
	if modulus <= 0 {
		modulus = 255
	}
	a, b := 0, 0
	for _, v := range data {
		a += int(v)
		b += a
	}
	a %= modulus
	b %= modulus
	return fmt.Sprintf("%04X", a<<8|b)
}

// Length returns the number of hex digits the algorithm produces, 0 for "none".
func Length(algorithm string) int {
	switch algorithm {
	case AlgorithmXOR:
		return 2
	case AlgorithmCRC16CCITT, AlgorithmFletcher16, AlgorithmFletcher16256:
		return 4
	default:
		return 0
	}
}

func IsSupported(algorithm string) bool {
	for _, a := range Algorithms {
		if a == algorithm {
			return true
		}
	}
	return false
}

func Compute(algorithm string, data []byte) (string, error) {
	switch algorithm {
	case AlgorithmCRC16CCITT:
		return CRC16CCITT(data), nil
	case AlgorithmXOR:
		return XOR(data), nil
	case AlgorithmFletcher16:
		return Fletcher16(data, 255), nil
	case AlgorithmFletcher16256:
		return Fletcher16(data, 256), nil
	case AlgorithmNone:
		return "", nil
	default:
		return "", fmt.Errorf("unknown checksum algorithm: %s", algorithm)
	}
}

// Verify compares case-insensitively against the computed upper-case digest.
func Verify(algorithm string, data []byte, checksum string) error {
	expected, err := Compute(algorithm, data)
	if err != nil {
		return err
	}
	if expected != strings.ToUpper(checksum) {
		return fmt.Errorf("invalid %s checksum: got %s, want %s", algorithm, strings.ToUpper(checksum), expected)
	}
	return nil
}
