package domain

import (
	"crypto/rand"
	"regexp"
	"strings"
)

// Room codes are human-shareable: three letters, three digits, three letters,
// e.g. "KQT-304-XHN". Comparison is case-insensitive; ambiguous characters
// are excluded from generation but accepted on input.
const (
	roomCodeLetters = "ABCDEFGHJKMNPQRSTUVWXYZ"
	roomCodeDigits  = "0123456789"
)

var roomCodePattern = regexp.MustCompile(`^[A-Z]{3}-[0-9]{3}-[A-Z]{3}$`)

// NewRoomCode generates a collision-resistant room code. Uniqueness against
// the store is the caller's concern.
func NewRoomCode() string {
	var b strings.Builder
	b.Grow(11)
	writeRandom(&b, roomCodeLetters, 3)
	b.WriteByte('-')
	writeRandom(&b, roomCodeDigits, 3)
	b.WriteByte('-')
	writeRandom(&b, roomCodeLetters, 3)
	return b.String()
}

func writeRandom(b *strings.Builder, alphabet string, n int) {
	buf := make([]byte, n)
	_, _ = rand.Read(buf)
	for _, c := range buf {
		b.WriteByte(alphabet[int(c)%len(alphabet)])
	}
}

// NormalizeRoomCode canonicalizes a user-supplied room code for lookup.
func NormalizeRoomCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ValidRoomCode reports whether a normalized code has the expected shape.
func ValidRoomCode(code string) bool {
	return roomCodePattern.MatchString(code)
}
