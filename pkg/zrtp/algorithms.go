package zrtp

// Algorithm tokens are the 4-ASCII-character identifiers carried on the
// wire in Hello/Commit algorithm lists (spec.md §4.1.1). Each category has
// its own type so negotiation can't mix them up by accident.

type HashAlgo string
type CipherAlgo string
type AuthTagAlgo string
type KeyAgreementAlgo string
type SASAlgo string

const (
	HashSHA256 HashAlgo = "S256"
	HashSHA384 HashAlgo = "S384"
)

const (
	CipherAES1CFB CipherAlgo = "AES1" // AES-128-CFB, mandatory baseline
	CipherAES3CFB CipherAlgo = "AES3" // AES-256-CFB
)

const (
	AuthTagHS32 AuthTagAlgo = "HS32" // HMAC-SHA256 truncated to 32 bits, mandatory baseline
	AuthTagHS80 AuthTagAlgo = "HS80" // HMAC-SHA256 truncated to 80 bits
)

const (
	KeyAgreementDH3k      KeyAgreementAlgo = "DH3k" // finite-field DH, mandatory baseline
	KeyAgreementDH4k      KeyAgreementAlgo = "DH4k"
	KeyAgreementEC25      KeyAgreementAlgo = "EC25" // ECDH25519
	KeyAgreementEC38      KeyAgreementAlgo = "EC38" // ECDH448 (modeled, uses X25519 internally, see keyagreement.go)
	KeyAgreementSNTRUP    KeyAgreementAlgo = "KEM1" // sntrup4591761 KEM
	KeyAgreementMultistream KeyAgreementAlgo = "Mult"
	KeyAgreementPreshared KeyAgreementAlgo = "Prsh"
)

const (
	SASBase32 SASAlgo = "B32 " // mandatory baseline
	SASBase256 SASAlgo = "B256"
)

// Mandatory baseline per spec.md §4.3 / §4.1.3.
const (
	mandatoryHash         = HashSHA256
	mandatoryCipher       = CipherAES1CFB
	mandatoryAuthTag      = AuthTagHS32
	mandatoryKeyAgreement = KeyAgreementDH3k
	mandatorySAS          = SASBase32
)

// IsDH reports whether the algorithm performs a DHPart1/DHPart2 exchange
// carrying public Diffie-Hellman-style values (finite-field, EC, or KEM —
// anything that isn't multistream or preshared). Used by the commit
// contention tie-break (spec.md §4.7) and by the Open Question #2
// resolution in SPEC_FULL.md §5.
func (a KeyAgreementAlgo) IsDH() bool {
	switch a {
	case KeyAgreementMultistream, KeyAgreementPreshared:
		return false
	default:
		return true
	}
}

// IsKEM reports whether the algorithm is a key-encapsulation mechanism,
// which changes which party generates the keypair and which carries the
// encapsulation (spec.md §4.4).
func (a KeyAgreementAlgo) IsKEM() bool {
	return a == KeyAgreementSNTRUP
}

// Length returns the output length in bytes of a negotiated hash
// algorithm. All MAC/hash lengths in a session equal this value (spec.md §3
// invariants).
func (h HashAlgo) Length() int {
	switch h {
	case HashSHA384:
		return 48
	default:
		return 32
	}
}

// KeyLength returns the symmetric key length in bytes for a
// negotiated cipher.
func (c CipherAlgo) KeyLength() int {
	switch c {
	case CipherAES3CFB:
		return 32
	default:
		return 16
	}
}

// SupportedAlgorithms is the set of algorithm lists a session or a peer
// Hello advertises, ≤7 entries per category (spec.md §3).
type SupportedAlgorithms struct {
	Hash          []HashAlgo
	Cipher        []CipherAlgo
	AuthTag       []AuthTagAlgo
	KeyAgreement  []KeyAgreementAlgo
	SAS           []SASAlgo
}

const maxAlgosPerCategory = 7

// DefaultSupportedAlgorithms returns the algorithm lists this
// implementation offers out of the box: the mandatory baseline plus the
// stronger options the domain stack can actually exercise
// (curve25519, sntrup4591761, AES-256-CFB, SHA-384, HS80, B256).
func DefaultSupportedAlgorithms() SupportedAlgorithms {
	return SupportedAlgorithms{
		Hash:         []HashAlgo{HashSHA256, HashSHA384},
		Cipher:       []CipherAlgo{CipherAES1CFB, CipherAES3CFB},
		AuthTag:      []AuthTagAlgo{AuthTagHS32, AuthTagHS80},
		KeyAgreement: []KeyAgreementAlgo{KeyAgreementEC25, KeyAgreementDH3k, KeyAgreementSNTRUP, KeyAgreementDH4k},
		SAS:          []SASAlgo{SASBase32, SASBase256},
	}
}

// NegotiatedAlgorithms is the single agreed-upon tuple produced by
// intersecting two Hello lists (spec.md §4.3).
type NegotiatedAlgorithms struct {
	Hash         HashAlgo
	Cipher       CipherAlgo
	AuthTag      AuthTagAlgo
	KeyAgreement KeyAgreementAlgo
	SAS          SASAlgo
}

// withMandatory returns list with the mandatory value appended if it was
// not already present, truncated to maxAlgosPerCategory. This is the
// "mandatory-algorithm reinjection" of spec.md §4.1.3 / §4.3, applied
// identically on egress (building our own Hello) and ingress (treating a
// peer's omission as implicit support) — see SPEC_FULL.md §4. Idempotent:
// applying it twice yields the same list (testable property 8).
func withMandatory[T comparable](list []T, mandatory T) []T {
	for _, v := range list {
		if v == mandatory {
			return list
		}
	}
	trimmed := list
	if len(trimmed) >= maxAlgosPerCategory {
		trimmed = trimmed[:maxAlgosPerCategory-1]
	}
	return append(append([]T{}, trimmed...), mandatory)
}

// NormalizeSupported reinjects the mandatory baseline into every category
// that omits it.
func NormalizeSupported(s SupportedAlgorithms) SupportedAlgorithms {
	return SupportedAlgorithms{
		Hash:         withMandatory(s.Hash, mandatoryHash),
		Cipher:       withMandatory(s.Cipher, mandatoryCipher),
		AuthTag:      withMandatory(s.AuthTag, mandatoryAuthTag),
		KeyAgreement: withMandatory(s.KeyAgreement, mandatoryKeyAgreement),
		SAS:          withMandatory(s.SAS, mandatorySAS),
	}
}

// firstMatch returns the first element of local that also appears in peer,
// preferring local's order (spec.md §4.3: "preferring the local order").
func firstMatch[T comparable](local, peer []T) (T, bool) {
	peerSet := make(map[T]struct{}, len(peer))
	for _, v := range peer {
		peerSet[v] = struct{}{}
	}
	for _, v := range local {
		if _, ok := peerSet[v]; ok {
			return v, true
		}
	}
	var zero T
	return zero, false
}

// Negotiate intersects the peer's advertised Hello lists with ours,
// reinjecting the mandatory baseline into both sides first so that a peer
// that never even sent the baseline token still agrees on it (spec.md
// §4.3). Returns ErrNoCommonAlgorithm if any single category fails to
// agree.
func Negotiate(local, peer SupportedAlgorithms) (NegotiatedAlgorithms, error) {
	local = NormalizeSupported(local)
	peer = NormalizeSupported(peer)

	var out NegotiatedAlgorithms
	var ok bool

	if out.Hash, ok = firstMatch(local.Hash, peer.Hash); !ok {
		return out, ErrNoCommonAlgorithm
	}
	if out.Cipher, ok = firstMatch(local.Cipher, peer.Cipher); !ok {
		return out, ErrNoCommonAlgorithm
	}
	if out.AuthTag, ok = firstMatch(local.AuthTag, peer.AuthTag); !ok {
		return out, ErrNoCommonAlgorithm
	}
	if out.KeyAgreement, ok = firstMatch(local.KeyAgreement, peer.KeyAgreement); !ok {
		return out, ErrNoCommonAlgorithm
	}
	if out.SAS, ok = firstMatch(local.SAS, peer.SAS); !ok {
		return out, ErrNoCommonAlgorithm
	}
	return out, nil
}

func tokensToHash(tokens []string) []HashAlgo {
	out := make([]HashAlgo, len(tokens))
	for i, t := range tokens {
		out[i] = HashAlgo(t)
	}
	return out
}

func tokensToCipher(tokens []string) []CipherAlgo {
	out := make([]CipherAlgo, len(tokens))
	for i, t := range tokens {
		out[i] = CipherAlgo(t)
	}
	return out
}

func tokensToAuthTag(tokens []string) []AuthTagAlgo {
	out := make([]AuthTagAlgo, len(tokens))
	for i, t := range tokens {
		out[i] = AuthTagAlgo(t)
	}
	return out
}

func tokensToKeyAgreement(tokens []string) []KeyAgreementAlgo {
	out := make([]KeyAgreementAlgo, len(tokens))
	for i, t := range tokens {
		out[i] = KeyAgreementAlgo(t)
	}
	return out
}

func tokensToSAS(tokens []string) []SASAlgo {
	out := make([]SASAlgo, len(tokens))
	for i, t := range tokens {
		out[i] = SASAlgo(t)
	}
	return out
}
