package zrtp

import (
	"encoding/base32"
	"fmt"
	"strings"
)

// sasAlphabet drops visually-confusable characters (0/O, 1/I), leaving
// exactly the 32 symbols encoding/base32 requires.
const sasAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

var sasEncoding = base32.NewEncoding(sasAlphabet).WithPadding(base32.NoPadding)

// pgpWordListEven holds a 16-word subset of the PGP word list for the B256
// scheme (spec.md §4.5 "SAS rendering"); B32 is this implementation's
// default/mandatory rendering. B256 picks each word by its byte value
// modulo the subset's length, so different bytes can render the same word.
var pgpWordListEven = []string{
	"aardvark", "absurd", "accrue", "acme", "adrift", "adult", "afflict", "ahead",
	"aimless", "Algol", "allow", "alone", "ammo", "ancient", "apple", "artist",
}

// RenderSAS renders a 32-bit SAS value as a short authentication string
// under the negotiated SAS scheme (spec.md §4.5): B32 renders 4 base-32
// characters; B256 renders two PGP-word-list-style words.
func RenderSAS(scheme SASAlgo, value uint32) (string, error) {
	var b [4]byte
	b[0] = byte(value >> 24)
	b[1] = byte(value >> 16)
	b[2] = byte(value >> 8)
	b[3] = byte(value)

	switch scheme {
	case SASBase256:
		w1 := pgpWordListEven[int(b[0])%len(pgpWordListEven)]
		w2 := pgpWordListEven[int(b[1])%len(pgpWordListEven)]
		return fmt.Sprintf("%s-%s", w1, w2), nil
	default:
		encoded := sasEncoding.EncodeToString(b[:3])
		return strings.ToUpper(encoded)[:4], nil
	}
}
