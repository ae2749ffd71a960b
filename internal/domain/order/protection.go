package order

import (
	"crypto/rand"
	"crypto/subtle"
	"io"
	"strings"
	"time"

	"github.com/go-faster/errors"
)

const (
	codePrefix = "PP-"
	codeLength = 6
	// codeAlphabet omits 0, O, 1, I and L.
	codeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"
	// Random bytes at or above codeSampleLimit are discarded so that the
	// modulo below stays unbiased.
	codeSampleLimit = 256 - 256%len(codeAlphabet)
)

// CodeGenerator issues protection codes from a random source.
type CodeGenerator struct {
	rand io.Reader
}

// NewCodeGenerator returns a CodeGenerator reading from r. A nil r selects
// crypto/rand.
func NewCodeGenerator(r io.Reader) *CodeGenerator {
	if r == nil {
		r = rand.Reader
	}
	return &CodeGenerator{rand: r}
}

// Generate returns a fresh code formatted as PP-XXXXXX.
func (g *CodeGenerator) Generate() (string, error) {
	var b strings.Builder
	b.Grow(len(codePrefix) + codeLength)
	b.WriteString(codePrefix)

	buf := make([]byte, codeLength)
	for n := 0; n < codeLength; {
		chunk := buf[:codeLength-n]
		if _, err := io.ReadFull(g.rand, chunk); err != nil {
			return "", errors.Wrap(err, "read random")
		}
		for _, c := range chunk {
			if int(c) >= codeSampleLimit {
				continue
			}
			b.WriteByte(codeAlphabet[int(c)%len(codeAlphabet)])
			n++
		}
	}
	return b.String(), nil
}

// NormalizeCode trims surrounding whitespace and upper-cases code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Matches compares stored and input after normalizing both. The comparison
// runs in constant time for equal-length inputs.
func Matches(stored, input string) bool {
	a, b := NormalizeCode(stored), NormalizeCode(input)
	if a == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Verify checks input against pc. On a first match it returns the consumed
// code. A repeated submission of the same code after use returns pc
// unchanged with applied=false. A different code after use is an invalid
// transition; a mismatch before use is ErrCodeMismatch and leaves pc as is.
func Verify(pc ProtectionCode, input string, now time.Time) (next ProtectionCode, applied bool, err error) {
	match := Matches(pc.Code, input)
	if pc.Used {
		if match {
			return pc, false, nil
		}
		return pc, false, &InvalidTransitionError{
			Transition: TransitionVerifyCode,
			Current:    StatusDelivered,
			Allowed:    Sources(TransitionVerifyCode),
			Reason:     "protection code already used",
		}
	}
	if !match {
		return pc, false, ErrCodeMismatch
	}
	pc.Used = true
	pc.VerifiedAt = &now
	return pc, true, nil
}
