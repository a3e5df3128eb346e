package zrtp

import "fmt"

// hashChain is one endpoint's H0..H3 ladder (spec.md §3/§4.1.2): H0 is
// random, each Hn = SHA-256(Hn-1). Messages reveal H3 (Hello), H2 (Commit),
// H1 (DHPart), H0 (Confirm), each reveal both re-verifying the chain and
// authenticating the previous stored message.
type hashChain struct {
	H0, H1, H2, H3 [32]byte
}

// newHashChain generates a fresh random H0 and derives H1..H3.
func newHashChain() (*hashChain, error) {
	h0, err := randomBytes(32)
	if err != nil {
		return nil, err
	}
	hc := &hashChain{}
	copy(hc.H0[:], h0)
	copy(hc.H1[:], sha256Sum(hc.H0[:]))
	copy(hc.H2[:], sha256Sum(hc.H1[:]))
	copy(hc.H3[:], sha256Sum(hc.H2[:]))
	return hc, nil
}

// verifyReveal checks that preimage hashes forward to image — i.e. that a
// newly revealed hash-chain value is the correct predecessor of the
// previously stored one (spec.md §4.1.2 "reveal verification").
func verifyReveal(preimage, image [32]byte) bool {
	got := sha256Sum(preimage[:])
	return constantTimeEqual(got, image[:])
}

// verifyMessageMAC is the single entrypoint every message type's MAC check
// goes through (SPEC_FULL.md §4 "unified MAC verification"): mac is the
// trailing bytes carried on the wire, macKey is the just-revealed hash-chain
// preimage, and body is the message bytes the MAC was computed over
// (message header through the last byte before the MAC field).
func verifyMessageMAC(h HashAlgo, macKey []byte, body []byte, mac []byte) error {
	want := hmacSum(h, macKey, len(mac), body)
	if !constantTimeEqual(want, mac) {
		return ErrUnmatchingMAC
	}
	return nil
}

// computeMessageMAC produces the MAC this implementation attaches to an
// outgoing message: HMAC under the hash-chain value one step ahead of the
// one just revealed (spec.md §4.1.2 — e.g. Commit's MAC is keyed by H1,
// which is revealed in the following DHPart).
func computeMessageMAC(h HashAlgo, macKey []byte, macLen int, body []byte) []byte {
	return hmacSum(h, macKey, macLen, body)
}

// computeHvi is the Diffie-Hellman "hash value initiator" used for commit
// contention tie-breaking under DH-family key agreement (spec.md §4.1.2,
// §4.7): hash of the initiator's DHPart2 message concatenated with the
// responder's Hello, so that either party's Hello being substituted by a
// MitM changes hvi and is caught on verification (spec.md §4.3).
func computeHvi(h HashAlgo, dhPart2Message, helloMessage []byte) [32]byte {
	var out [32]byte
	copy(out[:], digest(h, dhPart2Message, helloMessage))
	return out
}

// verifyHelloHash checks that the SHA-256 of a received Hello message equals
// a previously pinned Hello hash, when the host supplied one via
// signed-SDP/out-of-band hello-hash binding (spec.md §4.1.2 edge case).
func verifyHelloHash(pinned [32]byte, helloMessage []byte) error {
	got := sha256Sum(helloMessage)
	var gotArr [32]byte
	copy(gotArr[:], got)
	if !constantTimeEqual(gotArr[:], pinned[:]) {
		return ErrHelloHashMismatch
	}
	return nil
}

// messageBodyForMAC slices out the portion of a built message covered by its
// trailing MAC: everything except the last macLen bytes.
func messageBodyForMAC(msg []byte, macLen int) ([]byte, error) {
	if len(msg) <= macLen {
		return nil, fmt.Errorf("%w: message shorter than its own MAC", ErrInvalidMessage)
	}
	return msg[:len(msg)-macLen], nil
}
