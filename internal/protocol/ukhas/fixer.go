package ukhas

import (
	"strings"

	"habitat/pkg/checksums"
)

// FixChecksum recomputes the checksum of a sentence that a filter rewrote.
// If the original sentence's checksum was valid the modified sentence gets a
// fresh checksum; if it was not, the original is returned so a filter cannot
// turn corrupt telemetry into valid-looking telemetry.
func FixChecksum(algorithm, original, modified string) string {
	if algorithm == checksums.AlgorithmNone {
		return modified
	}

	size := checksums.Length(algorithm)
	if size == 0 {
		return original
	}

	body, sum, ok := splitFramed(original, size)
	if !ok || checksums.Verify(algorithm, []byte(body), sum) != nil {
		return original
	}

	newBody, _, ok := splitFramed(modified, size)
	if !ok {
		return original
	}

	newSum, err := checksums.Compute(algorithm, []byte(newBody))
	if err != nil {
		return original
	}

	out := "$$" + newBody + "*" + newSum
	if strings.HasSuffix(modified, "\n") {
		out += "\n"
	}
	return out
}

func splitFramed(s string, size int) (string, string, bool) {
	s = strings.TrimSuffix(s, "\n")
	if !strings.HasPrefix(s, "$$") || len(s) < 2+size+1 {
		return "", "", false
	}

	n := len(s)
	if s[n-size-1] != '*' {
		return "", "", false
	}
	return s[2 : n-size-1], s[n-size:], true
}
