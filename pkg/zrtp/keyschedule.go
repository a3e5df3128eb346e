package zrtp

import "encoding/binary"

// SRTPKeyMaterial is the pair of secrets a media layer needs per direction
// (spec.md §4.5 "SRTP master keys/salts"). pkg/sip/srtp.go builds its
// pion/srtp/v2 context from this.
type SRTPKeyMaterial struct {
	InitiatorKey  []byte
	InitiatorSalt []byte
	ResponderKey  []byte
	ResponderSalt []byte
}

// KeySchedule holds everything derived once s0 is available (spec.md §4.5):
// the session key, per-direction MAC/cipher keys, SRTP secrets, the SAS
// value, and the new rs1 this handshake earns.
type KeySchedule struct {
	S0         []byte
	ZRTPSess   []byte
	MacKeyI    []byte
	MacKeyR    []byte
	ZRTPKeyI   []byte
	ZRTPKeyR   []byte
	SRTP       SRTPKeyMaterial
	SASValue   uint32
	NewRS1     []byte
}

// kdfContext builds KDFContext = ZIDi || ZIDr || total_hash (spec.md §4.5).
func kdfContext(zidInitiator, zidResponder ZID, totalHash []byte) []byte {
	ctx := make([]byte, 0, 2*ZIDLength+len(totalHash))
	ctx = append(ctx, zidInitiator[:]...)
	ctx = append(ctx, zidResponder[:]...)
	ctx = append(ctx, totalHash...)
	return ctx
}

// totalHash hashes the handshake transcript messages in wire order (Hello,
// Commit, DHPart1, DHPart2 for a DH exchange), binding s0 to everything
// exchanged so far (spec.md §4.5, §7 MitM-detection property).
func totalHash(h HashAlgo, messages ...[]byte) []byte {
	return digest(h, messages...)
}

// deriveS0DH implements the DH-mode s0 construction (spec.md §4.5):
//
//	s0 = hash(counter=1 || DHResult || "ZRTP-HMAC-KDF" || ZIDi || ZIDr ||
//	          total_hash || len(rs1)||rs1 || len(rs2)||rs2 ||
//	          len(aux)||aux || len(pbx)||pbx)
//
// Any of rs1/rs2/aux/pbx may be nil (absent secret), contributing a
// zero-length field — this is what lets a first-ever handshake and a
// cache-mismatched handshake both still produce a valid (merely unverified)
// s0 rather than failing outright.
func deriveS0DH(h HashAlgo, dhResult []byte, zidI, zidR ZID, totalHash []byte, rs1, rs2, aux, pbx []byte) []byte {
	var counter [4]byte
	binary.BigEndian.PutUint32(counter[:], 1)

	data := counter[:]
	data = append(data, dhResult...)
	data = append(data, []byte("ZRTP-HMAC-KDF")...)
	data = append(data, zidI[:]...)
	data = append(data, zidR[:]...)
	data = append(data, totalHash...)
	data = appendLenPrefixed(data, rs1)
	data = appendLenPrefixed(data, rs2)
	data = appendLenPrefixed(data, aux)
	data = appendLenPrefixed(data, pbx)

	return digest(h, data)
}

func appendLenPrefixed(dst, field []byte) []byte {
	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(len(field)))
	dst = append(dst, length[:]...)
	dst = append(dst, field...)
	return dst
}

// deriveS0Multistream implements the multistream-mode s0 (spec.md §4.5,
// §4.4 "Multistream"): no DH exchange, s0 is derived straight from the
// existing ZRTPSess of the first channel's completed handshake.
func deriveS0Multistream(h HashAlgo, zrtpSess []byte, ctx []byte) []byte {
	return kdf(h, zrtpSess, "ZRTP MSK", ctx, h.Length())
}

// DeriveKeySchedule runs the full key schedule (spec.md §4.5) once s0 is
// known, producing ZRTPSess, both directions' MAC/cipher/SRTP keys, the SAS
// value, and the next rs1 to persist.
func DeriveKeySchedule(h HashAlgo, cipher CipherAlgo, s0 []byte, ctx []byte) *KeySchedule {
	hl := h.Length()
	cl := cipher.KeyLength()

	ks := &KeySchedule{S0: s0}
	ks.ZRTPSess = kdf(h, s0, "ZRTP Session Key", ctx, hl)
	ks.MacKeyI = kdf(h, s0, "Initiator HMAC key", ctx, hl)
	ks.MacKeyR = kdf(h, s0, "Responder HMAC key", ctx, hl)
	ks.ZRTPKeyI = kdf(h, s0, "Initiator ZRTP key", ctx, cl)
	ks.ZRTPKeyR = kdf(h, s0, "Responder ZRTP key", ctx, cl)

	ks.SRTP.InitiatorKey = kdf(h, s0, "Initiator SRTP master key", ctx, cl)
	ks.SRTP.InitiatorSalt = kdf(h, s0, "Initiator SRTP master salt", ctx, 14)
	ks.SRTP.ResponderKey = kdf(h, s0, "Responder SRTP master key", ctx, cl)
	ks.SRTP.ResponderSalt = kdf(h, s0, "Responder SRTP master salt", ctx, 14)

	sasHash := kdf(h, s0, "SAS", ctx, 4)
	ks.SASValue = binary.BigEndian.Uint32(sasHash)

	ks.NewRS1 = kdf(h, s0, "retained secret", ctx, 32)
	return ks
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// zeroMediaKeys wipes every derived secret except ZRTPSess on GoClear
// (spec.md §3 Lifecycle): the media/MAC/cipher keys no longer protect
// anything once the channel leaves secure, but ZRTPSess must survive so a
// later BackToSecure can multistream off it instead of re-running DH.
func (ks *KeySchedule) zeroMediaKeys() {
	if ks == nil {
		return
	}
	zeroBytes(ks.S0)
	zeroBytes(ks.MacKeyI)
	zeroBytes(ks.MacKeyR)
	zeroBytes(ks.ZRTPKeyI)
	zeroBytes(ks.ZRTPKeyR)
	zeroBytes(ks.SRTP.InitiatorKey)
	zeroBytes(ks.SRTP.InitiatorSalt)
	zeroBytes(ks.SRTP.ResponderKey)
	zeroBytes(ks.SRTP.ResponderSalt)
	zeroBytes(ks.NewRS1)
}

// zero wipes every derived secret including ZRTPSess, for a channel that is
// being torn down for good rather than merely cycling through GoClear
// (spec.md §3 Lifecycle).
func (ks *KeySchedule) zero() {
	if ks == nil {
		return
	}
	ks.zeroMediaKeys()
	zeroBytes(ks.ZRTPSess)
}

// PersistSecrets rolls the retained secret (old rs1 becomes rs2 on the
// host's side of the Cache facade, spec.md §4.5) and clears the
// verified-SAS bit whenever this handshake detected a cache mismatch
// (SPEC_FULL.md §4 "cache-mismatch clears the verified-SAS bit").
func PersistSecrets(cache Cache, peerURI string, peerZID ZID, ks *KeySchedule, cacheMismatch bool, previouslyVerifiedSAS bool) error {
	verified := previouslyVerifiedSAS && !cacheMismatch
	return cache.UpdatePeerSecrets(peerURI, peerZID, ks.NewRS1, verified)
}

// secretHashID is the 8-byte identifier a DHPart message carries for each of
// rs1/rs2/aux/pbx (spec.md §4.1.1): a truncated hash of the secret if
// present, or a random "doesn't match anything" filler if absent, so that an
// eavesdropper can't distinguish "no secret" from "secret present but we
// won't reveal which".
func secretHashID(h HashAlgo, secret []byte) ([8]byte, error) {
	var id [8]byte
	if len(secret) == 0 {
		filler, err := randomBytes(8)
		if err != nil {
			return id, err
		}
		copy(id[:], filler)
		return id, nil
	}
	copy(id[:], digest(h, secret)[:8])
	return id, nil
}
