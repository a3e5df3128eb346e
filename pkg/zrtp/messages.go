package zrtp

import (
	"encoding/binary"
	"fmt"
)

// writeMessageHeader writes the 12-byte message header at the start of buf:
// preamble (2), length-in-32-bit-words (2, including this header and any
// trailing MAC), 8-char message type (spec.md §4.1 "Message header").
func writeMessageHeader(buf []byte, msgType MessageType, totalLen int) {
	binary.BigEndian.PutUint16(buf[0:2], messagePreamble)
	binary.BigEndian.PutUint16(buf[2:4], uint16(totalLen/4))
	copy(buf[4:12], []byte(msgType))
}

func readMessageHeader(buf []byte) (msgType MessageType, lengthBytes int, err error) {
	if len(buf) < messageHeaderLen {
		return "", 0, fmt.Errorf("%w: message header too short", ErrInvalidMessage)
	}
	if binary.BigEndian.Uint16(buf[0:2]) != messagePreamble {
		return "", 0, fmt.Errorf("%w: bad message preamble", ErrInvalidMessage)
	}
	words := binary.BigEndian.Uint16(buf[2:4])
	return MessageType(buf[4:12]), int(words) * 4, nil
}

// appendAlgoTokens writes each algorithm's 4-char token in order.
func appendAlgoTokensHash(dst []byte, list []HashAlgo) []byte {
	for _, a := range list {
		dst = append(dst, padToken(string(a))...)
	}
	return dst
}
func appendAlgoTokensCipher(dst []byte, list []CipherAlgo) []byte {
	for _, a := range list {
		dst = append(dst, padToken(string(a))...)
	}
	return dst
}
func appendAlgoTokensAuthTag(dst []byte, list []AuthTagAlgo) []byte {
	for _, a := range list {
		dst = append(dst, padToken(string(a))...)
	}
	return dst
}
func appendAlgoTokensKeyAgreement(dst []byte, list []KeyAgreementAlgo) []byte {
	for _, a := range list {
		dst = append(dst, padToken(string(a))...)
	}
	return dst
}
func appendAlgoTokensSAS(dst []byte, list []SASAlgo) []byte {
	for _, a := range list {
		dst = append(dst, padToken(string(a))...)
	}
	return dst
}

func padToken(s string) []byte {
	b := []byte(s)
	for len(b) < 4 {
		b = append(b, ' ')
	}
	return b[:4]
}

func readTokens(buf []byte, n int) []string {
	out := make([]string, n)
	for i := 0; i < n; i++ {
		out[i] = string(buf[i*4 : i*4+4])
	}
	return out
}

// --- Hello ---

// HelloMessage is spec.md §4.1.1's Hello: version, client id, H3, ZID,
// {S,M,P} flags, category counts, algorithm lists, trailing MAC.
type HelloMessage struct {
	Version      [4]byte
	ClientID     [16]byte
	H3           [32]byte
	ZID          ZID
	SupportsMultichannel bool // S
	MitMBit              bool // M, PBX/MitM flag
	PassiveBit            bool // P
	Algorithms   SupportedAlgorithms
	MAC          [8]byte // keyed by sender's H2, filled in by the caller once H2 is known/revealed
}

const helloFixedBeforeList = messageHeaderLen + 4 + 16 + 32 + ZIDLength + 4 // = 80

func buildHello(h *HelloMessage) []byte {
	algos := NormalizeSupported(h.Algorithms)
	listLen := 4 * (len(algos.Hash) + len(algos.Cipher) + len(algos.AuthTag) + len(algos.KeyAgreement) + len(algos.SAS))
	total := helloFixedBeforeList + listLen + 8 // + MAC

	buf := make([]byte, total)
	writeMessageHeader(buf, MsgHello, total)

	off := messageHeaderLen
	copy(buf[off:off+4], h.Version[:])
	off += 4
	copy(buf[off:off+16], h.ClientID[:])
	off += 16
	copy(buf[off:off+32], h.H3[:])
	off += 32
	copy(buf[off:off+ZIDLength], h.ZID[:])
	off += ZIDLength

	var flags byte
	if h.SupportsMultichannel {
		flags |= 0x01
	}
	if h.MitMBit {
		flags |= 0x02
	}
	if h.PassiveBit {
		flags |= 0x04
	}
	buf[off] = flags
	buf[off+1] = byte(len(algos.Hash))<<4 | byte(len(algos.Cipher))
	buf[off+2] = byte(len(algos.AuthTag))<<4 | byte(len(algos.KeyAgreement))
	buf[off+3] = byte(len(algos.SAS))
	off += 4

	var list []byte
	list = appendAlgoTokensHash(list, algos.Hash)
	list = appendAlgoTokensCipher(list, algos.Cipher)
	list = appendAlgoTokensAuthTag(list, algos.AuthTag)
	list = appendAlgoTokensKeyAgreement(list, algos.KeyAgreement)
	list = appendAlgoTokensSAS(list, algos.SAS)
	copy(buf[off:], list)
	off += len(list)

	copy(buf[off:off+8], h.MAC[:])
	return buf
}

func parseHello(msg []byte) (*HelloMessage, error) {
	if len(msg) < helloFixedBeforeList+8 {
		return nil, fmt.Errorf("%w: hello too short", ErrInvalidMessage)
	}
	h := &HelloMessage{}
	off := messageHeaderLen
	copy(h.Version[:], msg[off:off+4])
	off += 4
	copy(h.ClientID[:], msg[off:off+16])
	off += 16
	copy(h.H3[:], msg[off:off+32])
	off += 32
	copy(h.ZID[:], msg[off:off+ZIDLength])
	off += ZIDLength

	flags := msg[off]
	h.SupportsMultichannel = flags&0x01 != 0
	h.MitMBit = flags&0x02 != 0
	h.PassiveBit = flags&0x04 != 0
	hc := int(msg[off+1] >> 4)
	cc := int(msg[off+1] & 0x0f)
	ac := int(msg[off+2] >> 4)
	kc := int(msg[off+2] & 0x0f)
	sc := int(msg[off+3])
	off += 4

	needed := off + 4*(hc+cc+ac+kc+sc) + 8
	if len(msg) != needed {
		return nil, fmt.Errorf("%w: hello length does not match category counts", ErrInvalidMessage)
	}

	h.Algorithms.Hash = tokensToHash(readTokens(msg[off:], hc))
	off += 4 * hc
	h.Algorithms.Cipher = tokensToCipher(readTokens(msg[off:], cc))
	off += 4 * cc
	h.Algorithms.AuthTag = tokensToAuthTag(readTokens(msg[off:], ac))
	off += 4 * ac
	h.Algorithms.KeyAgreement = tokensToKeyAgreement(readTokens(msg[off:], kc))
	off += 4 * kc
	h.Algorithms.SAS = tokensToSAS(readTokens(msg[off:], sc))
	off += 4 * sc

	copy(h.MAC[:], msg[off:off+8])
	return h, nil
}

// --- HelloACK ---

func buildHelloACK() []byte {
	buf := make([]byte, messageHeaderLen)
	writeMessageHeader(buf, MsgHelloACK, messageHeaderLen)
	return buf
}

// --- Commit ---

// CommitMessage carries H2, ZID, negotiated algorithm choices, and one of:
// hvi (DH/ECDH), an encapsulated KEM public value, or a nonce+keyID
// (multistream/preshared) — spec.md §4.1.1.
type CommitMessage struct {
	H2           [32]byte
	ZID          ZID
	Hash         HashAlgo
	Cipher       CipherAlgo
	AuthTag      AuthTagAlgo
	KeyAgreement KeyAgreementAlgo
	SAS          SASAlgo

	Hvi          [32]byte // DH/ECDH mode
	KEMPublicKey []byte   // KEM mode: initiator's public key
	Nonce        [16]byte // multistream/preshared mode
	KeyID        []byte   // preshared mode, optional 8 bytes

	MAC [8]byte // keyed by sender's H1
}

const commitFixedLen = messageHeaderLen + 32 + ZIDLength + 4*5 + 8 // 84

func buildCommit(c *CommitMessage) []byte {
	var variable []byte
	switch {
	case c.KeyAgreement.IsKEM():
		variable = c.KEMPublicKey
	case c.KeyAgreement.IsDH():
		variable = c.Hvi[:]
	default:
		variable = append(append([]byte{}, c.Nonce[:]...), c.KeyID...)
	}

	total := commitFixedLen + len(variable)
	buf := make([]byte, total)
	writeMessageHeader(buf, MsgCommit, total)

	off := messageHeaderLen
	copy(buf[off:off+32], c.H2[:])
	off += 32
	copy(buf[off:off+ZIDLength], c.ZID[:])
	off += ZIDLength
	copy(buf[off:off+4], padToken(string(c.Hash)))
	off += 4
	copy(buf[off:off+4], padToken(string(c.Cipher)))
	off += 4
	copy(buf[off:off+4], padToken(string(c.AuthTag)))
	off += 4
	copy(buf[off:off+4], padToken(string(c.KeyAgreement)))
	off += 4
	copy(buf[off:off+4], padToken(string(c.SAS)))
	off += 4

	copy(buf[off:off+len(variable)], variable)
	off += len(variable)

	copy(buf[off:off+8], c.MAC[:])
	return buf
}

func parseCommit(msg []byte) (*CommitMessage, error) {
	if len(msg) < commitFixedLen {
		return nil, fmt.Errorf("%w: commit too short", ErrInvalidMessage)
	}
	c := &CommitMessage{}
	off := messageHeaderLen
	copy(c.H2[:], msg[off:off+32])
	off += 32
	copy(c.ZID[:], msg[off:off+ZIDLength])
	off += ZIDLength
	c.Hash = HashAlgo(msg[off : off+4])
	off += 4
	c.Cipher = CipherAlgo(msg[off : off+4])
	off += 4
	c.AuthTag = AuthTagAlgo(msg[off : off+4])
	off += 4
	c.KeyAgreement = KeyAgreementAlgo(msg[off : off+4])
	off += 4
	c.SAS = SASAlgo(msg[off : off+4])
	off += 4

	variableLen := len(msg) - off - 8
	if variableLen < 0 {
		return nil, fmt.Errorf("%w: commit length inconsistent", ErrInvalidMessage)
	}
	switch {
	case c.KeyAgreement.IsKEM():
		c.KEMPublicKey = append([]byte{}, msg[off:off+variableLen]...)
	case c.KeyAgreement.IsDH():
		if variableLen != 32 {
			return nil, fmt.Errorf("%w: bad hvi length", ErrInvalidMessage)
		}
		copy(c.Hvi[:], msg[off:off+32])
	default:
		if variableLen < 16 {
			return nil, fmt.Errorf("%w: bad commit nonce", ErrInvalidMessage)
		}
		copy(c.Nonce[:], msg[off:off+16])
		if variableLen > 16 {
			c.KeyID = append([]byte{}, msg[off+16:off+variableLen]...)
		}
	}
	off += variableLen
	copy(c.MAC[:], msg[off:off+8])
	return c, nil
}

// --- DHPart1 / DHPart2 ---

// DHPartMessage is spec.md §4.1.1's DHPart1/DHPart2: H1, four cached-secret
// hash ids, a variable public value (pv) whose meaning depends on the
// negotiated key-agreement algorithm, and a trailing MAC keyed by H0.
type DHPartMessage struct {
	H1     [32]byte
	RS1ID  [8]byte
	RS2ID  [8]byte
	AuxID  [8]byte
	PBXID  [8]byte
	PV     []byte
	MAC    [8]byte
}

const dhPartFixedLen = messageHeaderLen + 32 + 8*4 + 8 // 84

func buildDHPart(msgType MessageType, d *DHPartMessage) []byte {
	total := dhPartFixedLen + len(d.PV)
	buf := make([]byte, total)
	writeMessageHeader(buf, msgType, total)

	off := messageHeaderLen
	copy(buf[off:off+32], d.H1[:])
	off += 32
	copy(buf[off:off+8], d.RS1ID[:])
	off += 8
	copy(buf[off:off+8], d.RS2ID[:])
	off += 8
	copy(buf[off:off+8], d.AuxID[:])
	off += 8
	copy(buf[off:off+8], d.PBXID[:])
	off += 8

	copy(buf[off:off+len(d.PV)], d.PV)
	off += len(d.PV)

	copy(buf[off:off+8], d.MAC[:])
	return buf
}

func parseDHPart(msg []byte) (*DHPartMessage, error) {
	if len(msg) < dhPartFixedLen {
		return nil, fmt.Errorf("%w: dhpart too short", ErrInvalidMessage)
	}
	d := &DHPartMessage{}
	off := messageHeaderLen
	copy(d.H1[:], msg[off:off+32])
	off += 32
	copy(d.RS1ID[:], msg[off:off+8])
	off += 8
	copy(d.RS2ID[:], msg[off:off+8])
	off += 8
	copy(d.AuxID[:], msg[off:off+8])
	off += 8
	copy(d.PBXID[:], msg[off:off+8])
	off += 8

	pvLen := len(msg) - off - 8
	if pvLen < 0 {
		return nil, fmt.Errorf("%w: dhpart length inconsistent", ErrInvalidMessage)
	}
	d.PV = append([]byte{}, msg[off:off+pvLen]...)
	off += pvLen
	copy(d.MAC[:], msg[off:off+8])
	return d, nil
}

// --- Confirm1 / Confirm2 ---

// ConfirmMessage is spec.md §4.1.1/§4.6: a plaintext confirm_mac and CFB IV
// followed by an encrypted block carrying H0, pad/sig lengths, {E,V,A,D}
// flags, cache expiration, and an optional signature.
type ConfirmMessage struct {
	ConfirmMAC     [8]byte
	IV             [16]byte
	H0             [32]byte
	PadLen         uint8
	SigLen         uint8
	CacheExpirationSeconds uint32
	E, V, A, D     bool
	Signature      []byte
}

const confirmEncryptedLen = 32 + 1 + 1 + 1 + 1 + 4 // H0, padLen, sigLen, flags, reserved, cacheExpiration = 40
const confirmFixedLen = messageHeaderLen + 8 + 16 + confirmEncryptedLen // 76

// buildConfirm encrypts the confirm body under cipherKey/iv and computes
// confirm_mac over the ciphertext under macKey, using the negotiated hash
// (spec.md §4.6).
func buildConfirm(msgType MessageType, c *ConfirmMessage, h HashAlgo, cipherKey, macKey []byte) ([]byte, error) {
	plain := make([]byte, confirmEncryptedLen+len(c.Signature))
	copy(plain[0:32], c.H0[:])
	plain[32] = c.PadLen
	plain[33] = c.SigLen
	var flags byte
	if c.E {
		flags |= 0x01
	}
	if c.V {
		flags |= 0x02
	}
	if c.A {
		flags |= 0x04
	}
	if c.D {
		flags |= 0x08
	}
	plain[34] = flags
	// plain[35] reserved
	binary.BigEndian.PutUint32(plain[36:40], c.CacheExpirationSeconds)
	copy(plain[40:], c.Signature)

	cipherText, err := cfbEncrypt(cipherKey, c.IV[:], plain)
	if err != nil {
		return nil, err
	}

	total := confirmFixedLen + len(c.Signature)
	buf := make([]byte, total)
	writeMessageHeader(buf, msgType, total)

	off := messageHeaderLen
	// confirm_mac covers the ciphertext only — the IV is transport framing,
	// not authenticated payload, even though it sits between confirm_mac and
	// the ciphertext on the wire.
	mac := hmacSum(h, macKey, 8, cipherText)
	copy(buf[off:off+8], mac)
	off += 8
	copy(buf[off:off+16], c.IV[:])
	off += 16
	copy(buf[off:], cipherText)

	copy(c.ConfirmMAC[:], mac)
	return buf, nil
}

// parseConfirm validates confirm_mac then decrypts the body. macKey/cipherKey
// belong to the sender's role; h is the session's negotiated hash.
func parseConfirm(msg []byte, h HashAlgo, cipherKey, macKey []byte) (*ConfirmMessage, error) {
	if len(msg) < confirmFixedLen {
		return nil, fmt.Errorf("%w: confirm too short", ErrInvalidMessage)
	}
	off := messageHeaderLen
	var gotMAC [8]byte
	copy(gotMAC[:], msg[off:off+8])
	off += 8
	var iv [16]byte
	copy(iv[:], msg[off:off+16])
	off += 16
	cipherText := msg[off:]

	wantMAC := hmacSum(h, macKey, 8, cipherText)
	if !constantTimeEqual(gotMAC[:], wantMAC) {
		return nil, ErrUnmatchingConfirmMAC
	}

	plain, err := cfbDecrypt(cipherKey, iv[:], cipherText)
	if err != nil {
		return nil, err
	}
	if len(plain) < confirmEncryptedLen {
		return nil, fmt.Errorf("%w: confirm body too short", ErrInvalidMessage)
	}

	c := &ConfirmMessage{ConfirmMAC: gotMAC, IV: iv}
	copy(c.H0[:], plain[0:32])
	c.PadLen = plain[32]
	c.SigLen = plain[33]
	flags := plain[34]
	c.E = flags&0x01 != 0
	c.V = flags&0x02 != 0
	c.A = flags&0x04 != 0
	c.D = flags&0x08 != 0
	c.CacheExpirationSeconds = binary.BigEndian.Uint32(plain[36:40])
	if len(plain) > 40 {
		c.Signature = append([]byte{}, plain[40:]...)
	}
	return c, nil
}

// --- Conf2ACK / GoClear / ClearACK ---

func buildConf2ACK() []byte {
	buf := make([]byte, messageHeaderLen)
	writeMessageHeader(buf, MsgConf2ACK, messageHeaderLen)
	return buf
}

func buildGoClear(h HashAlgo, macKey []byte) []byte {
	const total = messageHeaderLen + 8
	buf := make([]byte, total)
	writeMessageHeader(buf, MsgGoClear, total)
	mac := hmacSum(h, macKey, 8, buf[:messageHeaderLen])
	copy(buf[messageHeaderLen:], mac)
	return buf
}

func parseGoClear(msg []byte, h HashAlgo, macKey []byte) error {
	if len(msg) != messageHeaderLen+8 {
		return fmt.Errorf("%w: goclear bad length", ErrInvalidMessage)
	}
	mac := hmacSum(h, macKey, 8, msg[:messageHeaderLen])
	if !constantTimeEqual(mac, msg[messageHeaderLen:]) {
		return ErrUnmatchingMAC
	}
	return nil
}

func buildClearACK() []byte {
	buf := make([]byte, messageHeaderLen)
	writeMessageHeader(buf, MsgClearACK, messageHeaderLen)
	return buf
}

// --- Ping / PingACK ---

type PingMessage struct {
	Version      [4]byte
	EndpointHash [8]byte
}

func buildPing(p *PingMessage) []byte {
	const total = messageHeaderLen + 4 + 8
	buf := make([]byte, total)
	writeMessageHeader(buf, MsgPing, total)
	off := messageHeaderLen
	copy(buf[off:off+4], p.Version[:])
	copy(buf[off+4:off+12], p.EndpointHash[:])
	return buf
}

func parsePing(msg []byte) (*PingMessage, error) {
	const total = messageHeaderLen + 4 + 8
	if len(msg) != total {
		return nil, fmt.Errorf("%w: ping bad length", ErrInvalidMessage)
	}
	p := &PingMessage{}
	off := messageHeaderLen
	copy(p.Version[:], msg[off:off+4])
	copy(p.EndpointHash[:], msg[off+4:off+12])
	return p, nil
}

func buildPingACK(selfHash, peerHash [8]byte, ssrc uint32, version [4]byte) []byte {
	const total = messageHeaderLen + 4 + 8 + 8 + 4
	buf := make([]byte, total)
	writeMessageHeader(buf, MsgPingACK, total)
	off := messageHeaderLen
	copy(buf[off:off+4], version[:])
	copy(buf[off+4:off+12], selfHash[:])
	copy(buf[off+12:off+20], peerHash[:])
	binary.BigEndian.PutUint32(buf[off+20:off+24], ssrc)
	return buf
}

// constantTimeEqual compares two byte slices without early-exit timing
// leaks; used for every MAC comparison in this package.
func constantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	var diff byte
	for i := range a {
		diff |= a[i] ^ b[i]
	}
	return diff == 0
}
