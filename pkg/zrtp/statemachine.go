package zrtp

import (
	"bytes"
	"fmt"
)

// stateFunc is one state's message handler (spec.md §4.7). It receives the
// already envelope-stripped, reassembled message and decides how to react;
// transitions are made by calling ch.transition.
type stateFunc func(ch *Channel, mt MessageType, msg []byte) error

// dispatch is the single entrypoint every received message goes through.
// Ping/PingACK are handled ahead of the current state function (SPEC_FULL.md
// §4 "PingACK synthesis"): the channel keeps a transient ping slot so a Ping
// never disturbs whatever handshake state it's currently in.
func (c *Channel) dispatch(msg []byte) error {
	mt, _, err := readMessageHeader(msg)
	if err != nil {
		return err
	}

	switch mt {
	case MsgPing:
		p, err := parsePing(msg)
		if err != nil {
			return err
		}
		c.pendingPing = p
		selfHash := sha256Sum(c.session.selfZID[:])
		var selfHash8, peerHash8 [8]byte
		copy(selfHash8[:], selfHash[:8])
		copy(peerHash8[:], p.EndpointHash[:])
		ack := buildPingACK(selfHash8, peerHash8, c.ssrc, p.Version)
		return c.send(ack, retransmitClass(-1))
	case MsgPingACK:
		return nil
	}

	return c.state(c, mt, msg)
}

// finalizeMAC patches a just-built message's trailing 8-byte MAC field in
// place, keyed by the hash-chain value that authenticates it (spec.md
// §4.1.2: Commit's MAC is keyed by H1, DHPart's by H0 — each revealed one
// message later).
func finalizeMAC(buf []byte, h HashAlgo, key []byte) {
	body := buf[:len(buf)-8]
	mac := computeMessageMAC(h, key, 8, body)
	copy(buf[len(buf)-8:], mac)
}

// verifyStoredMAC checks a previously stored message's trailing MAC now
// that the key which authenticates it has been revealed.
func verifyStoredMAC(stored storedMessage, h HashAlgo, key []byte) error {
	if !stored.present {
		return nil
	}
	body, err := messageBodyForMAC(stored.bytes, 8)
	if err != nil {
		return err
	}
	return verifyMessageMAC(h, key, body, stored.bytes[len(stored.bytes)-8:])
}

// send wraps message in an envelope (fragmenting if it exceeds the
// session's configured MTU), assigns the next sequence number, hands it to
// the host's Callbacks.SendPacket, and arms a retransmission timer unless
// class is negative (fire-and-forget, e.g. PingACK or Conf2ACK).
func (c *Channel) send(message []byte, class retransmitClass) error {
	budget := c.session.mtu - packetHeaderLen - crcLen
	var pkts [][]byte
	if len(message)+packetHeaderLen+crcLen <= c.session.mtu {
		pkts = [][]byte{buildEnvelope(c.ssrc, message)}
	} else {
		pkts = fragmentPayloadWithSize(c.ssrc, message, budget-fragmentedExtraLen)
	}

	for _, pkt := range pkts {
		c.sendSeq++
		setSequenceNumber(pkt, c.sendSeq)
		if err := c.session.callbacks.SendPacket(c.index, pkt); err != nil {
			return fmt.Errorf("send zrtp packet: %w", err)
		}
	}

	if class >= 0 {
		c.timer.arm(c.session.currentTick(), class, func() {
			for _, pkt := range pkts {
				_ = c.session.callbacks.SendPacket(c.index, pkt)
			}
		})
	}
	return nil
}

// --- discovery ---

// sendHello builds and transmits this channel's Hello, entering
// discovery_waitingForHello. Called once by Session.StartChannel.
func (c *Channel) sendHello() error {
	h := &HelloMessage{
		ClientID:             c.session.clientID,
		H3:                   c.hashChain.H3,
		ZID:                  c.session.selfZID,
		SupportsMultichannel: true,
		Algorithms:           c.session.supported,
	}
	msg := buildHello(h)
	finalizeMAC(msg, HashSHA256, c.hashChain.H2[:])
	c.self.hello = storedMessage{present: true, bytes: msg}
	c.transition("discovery_waitingForHello", stateDiscoveryWaitingForHello)
	return c.send(msg, retransmitHello)
}

func stateDiscoveryInit(c *Channel, mt MessageType, msg []byte) error {
	return fmt.Errorf("%w: channel not started", ErrUnexpectedMessage)
}

func stateDiscoveryWaitingForHello(c *Channel, mt MessageType, msg []byte) error {
	switch mt {
	case MsgHello:
		peer, err := parseHello(msg)
		if err != nil {
			return err
		}
		if c.session.peerHelloHash != nil {
			if err := verifyHelloHash(*c.session.peerHelloHash, msg); err != nil {
				return err
			}
		}
		c.peer.hello = storedMessage{present: true, bytes: msg}
		c.peerH3 = peer.H3
		c.peerHashKnown[3] = true
		c.session.mu.Lock()
		c.session.peerZID = peer.ZID
		c.session.mu.Unlock()
		c.flags.peerSupportsMulti = peer.SupportsMultichannel

		negotiated, err := Negotiate(c.session.supported, peer.Algorithms)
		if err != nil {
			return err
		}
		c.negotiated = negotiated

		// A channel beyond the session's first keys off the already-
		// completed first channel's ZRTPSess instead of running its own DH
		// exchange, as long as the peer also advertised multichannel
		// support (spec.md §4.4 "Multistream"): this overrides whatever
		// plain algorithm negotiation picked, mirroring
		// bzrtp_responseToHelloMessage's override in the reference
		// implementation rather than leaving Mult selectable only by
		// coincidence of list order.
		if c.index != 0 && peer.SupportsMultichannel && c.session.firstChannelKeySchedule() != nil {
			c.negotiated.KeyAgreement = KeyAgreementMultistream
		}

		ack := buildHelloACK()
		if err := c.send(ack, -1); err != nil {
			return err
		}
		c.transition("discovery_waitingForHelloAck", stateDiscoveryWaitingForHelloAck)
		return nil
	case MsgHelloACK:
		// peer acked our Hello before we saw theirs; nothing to do yet.
		return nil
	default:
		return fmt.Errorf("%w: got %q in discovery_waitingForHello", ErrUnexpectedMessage, mt)
	}
}

func stateDiscoveryWaitingForHelloAck(c *Channel, mt MessageType, msg []byte) error {
	switch mt {
	case MsgHelloACK:
		c.timer.disarm()
		return c.beginKeyAgreement()
	case MsgHello:
		// peer retransmitted Hello (our HelloACK may have been lost); ack again.
		return c.send(buildHelloACK(), -1)
	case MsgCommit:
		// peer is already ahead of us; accept and let beginKeyAgreement's
		// contention-free path fold this in as the responder.
		if err := c.beginKeyAgreement(); err != nil {
			return err
		}
		return c.state(c, mt, msg)
	default:
		return fmt.Errorf("%w: got %q in discovery_waitingForHelloAck", ErrUnexpectedMessage, mt)
	}
}

// beginKeyAgreement decides this channel's tentative role (deterministic on
// ZID ordering, spec.md §4.7: avoids a guaranteed race on every handshake)
// and, if initiator, sends Commit.
func (c *Channel) beginKeyAgreement() error {
	c.session.mu.RLock()
	selfZID := c.session.selfZID
	peerZID := c.session.peerZID
	c.session.mu.RUnlock()

	if bytes.Compare(selfZID[:], peerZID[:]) > 0 {
		c.role = RoleInitiator
		c.transition("keyAgreement_sendingCommit", stateKeyAgreementSendingCommit)
		return c.sendCommit()
	}
	c.role = RoleResponder
	c.transition("keyAgreement_sendingCommit", stateKeyAgreementSendingCommit)
	return nil
}

// sendCommit builds and sends Commit for the negotiated key-agreement
// algorithm, generating this channel's key-agreement context (spec.md
// §4.4).
func (c *Channel) sendCommit() error {
	commit := &CommitMessage{
		H2:           c.hashChain.H2,
		ZID:          c.session.selfZID,
		Hash:         c.negotiated.Hash,
		Cipher:       c.negotiated.Cipher,
		AuthTag:      c.negotiated.AuthTag,
		KeyAgreement: c.negotiated.KeyAgreement,
		SAS:          c.negotiated.SAS,
	}

	switch {
	case c.negotiated.KeyAgreement == KeyAgreementMultistream:
		nonce, err := randomBytes(16)
		if err != nil {
			return err
		}
		copy(commit.Nonce[:], nonce)
		c.keyAgreement = &keyAgreementContext{algo: KeyAgreementMultistream}
		msg := buildCommit(commit)
		finalizeMAC(msg, c.negotiated.Hash, c.hashChain.H1[:])
		c.self.commit = storedMessage{present: true, bytes: msg}
		if err := c.deriveMultistreamKeySchedule(); err != nil {
			return err
		}
		c.transition("keyAgreement_sendingCommit", stateMultistreamWaitingForConfirm1)
		return c.send(msg, retransmitNonHello)
	case c.negotiated.KeyAgreement == KeyAgreementPreshared:
		return ErrUnsupportedMode
	case c.negotiated.KeyAgreement.IsKEM():
		kc, err := newKEMSelfContext(c.session.rng)
		if err != nil {
			return err
		}
		c.keyAgreement = &keyAgreementContext{algo: c.negotiated.KeyAgreement, kemSelf: kc}
		commit.KEMPublicKey = kc.public[:]
	default:
		// DH3k/DH4k/EC25/EC38: initiator commits to hvi computed over a
		// DHPart2 it builds now but does not send until contention resolves
		// in its favor (spec.md §4.1.2 hvi).
		ctx, err := c.newDHOrECDHContext()
		if err != nil {
			return err
		}
		c.keyAgreement = ctx
		dhPart2 := c.buildDHPart(MsgDHPart2)
		hvi := computeHvi(c.negotiated.Hash, dhPart2, c.peer.hello.bytes)
		commit.Hvi = hvi
	}

	msg := buildCommit(commit)
	finalizeMAC(msg, c.negotiated.Hash, c.hashChain.H1[:])
	c.self.commit = storedMessage{present: true, bytes: msg}
	return c.send(msg, retransmitNonHello)
}

func (c *Channel) newDHOrECDHContext() (*keyAgreementContext, error) {
	if c.negotiated.KeyAgreement == KeyAgreementEC25 || c.negotiated.KeyAgreement == KeyAgreementEC38 {
		ec, err := newECDHContext()
		if err != nil {
			return nil, err
		}
		return &keyAgreementContext{algo: c.negotiated.KeyAgreement, ecdh: ec}, nil
	}
	dh, err := newDHContext(c.negotiated.KeyAgreement)
	if err != nil {
		return nil, err
	}
	return &keyAgreementContext{algo: c.negotiated.KeyAgreement, dh: dh}, nil
}

// buildDHPart assembles a DHPart1/DHPart2 with this channel's public value
// and cached-secret hash IDs, MAC left zeroed (filled in by the caller once
// it knows which hash-chain value keys it).
func (c *Channel) buildDHPart(msgType MessageType) []byte {
	secrets, _ := c.session.cache.GetPeerSecrets(c.session.peerURI, c.session.peerZID)

	rs1ID, _ := secretHashID(c.negotiated.Hash, secrets.RS1)
	rs2ID, _ := secretHashID(c.negotiated.Hash, secrets.RS2)
	auxID, _ := secretHashID(c.negotiated.Hash, c.session.transientAuxSecret)
	pbxID, _ := secretHashID(c.negotiated.Hash, secrets.PBX)

	d := &DHPartMessage{H1: c.hashChain.H1, RS1ID: rs1ID, RS2ID: rs2ID, AuxID: auxID, PBXID: pbxID}
	d.PV = c.publicValue()
	msg := buildDHPart(msgType, d)
	finalizeMAC(msg, c.negotiated.Hash, c.hashChain.H0[:])
	return msg
}

func (c *Channel) publicValue() []byte {
	switch {
	case c.keyAgreement.dh != nil:
		return c.keyAgreement.dh.publicValue()
	case c.keyAgreement.ecdh != nil:
		return c.keyAgreement.ecdh.publicValue()
	default:
		return nil
	}
}

// --- keyAgreement_sendingCommit (both roles' Commit/DHPart1 exchange) ---

func stateKeyAgreementSendingCommit(c *Channel, mt MessageType, msg []byte) error {
	switch mt {
	case MsgCommit:
		return c.handleCommitOrContention(msg)
	case MsgDHPart1:
		if c.role != RoleInitiator {
			return fmt.Errorf("%w: DHPart1 received by non-initiator", ErrUnexpectedMessage)
		}
		return c.handleDHPart1(msg)
	default:
		return fmt.Errorf("%w: got %q in keyAgreement_sendingCommit", ErrUnexpectedMessage, mt)
	}
}

// handleCommitOrContention processes a received Commit. If we never sent
// our own Commit (we're the responder), this is the normal path. If we did
// (both sides raced into initiator), it's contention and is resolved per
// spec.md §4.7 by comparing hvi (DH family) or nonce (multistream/KEM):
// Open Question #2 resolution treats the comparison as "is this a DH mode",
// not the stale tautology the original left in place.
func (c *Channel) handleCommitOrContention(msg []byte) error {
	peerCommit, err := parseCommit(msg)
	if err != nil {
		return err
	}

	if c.self.commit.present {
		// contention: both sides sent Commit. Higher hvi/nonce keeps the
		// initiator role and proceeds to send DHPart2; the loser discards
		// its own Commit and becomes responder.
		mine, _ := parseCommit(c.self.commit.bytes)
		weWin := compareCommitPrecedence(mine, peerCommit) > 0
		if weWin {
			return nil // stay initiator, wait for the peer's DHPart1
		}
		c.role = RoleResponder
	}

	c.peer.commit = storedMessage{present: true, bytes: msg}
	c.peerH2 = peerCommit.H2
	c.peerHashKnown[2] = true

	if !verifyReveal(peerCommit.H2, c.peerH3) {
		return ErrUnmatchingHashChain
	}

	switch {
	case peerCommit.KeyAgreement == KeyAgreementMultistream:
		c.keyAgreement = &keyAgreementContext{algo: KeyAgreementMultistream}
		c.negotiated.KeyAgreement = KeyAgreementMultistream
		if err := c.deriveMultistreamKeySchedule(); err != nil {
			return err
		}
		return c.sendMultistreamConfirm1()
	case peerCommit.KeyAgreement.IsKEM():
		kp, ciphertext, err := newKEMPeerContext(c.session.rng, peerCommit.KEMPublicKey)
		if err != nil {
			return err
		}
		c.keyAgreement = &keyAgreementContext{algo: peerCommit.KeyAgreement, kemPeer: kp}
		return c.sendDHPart1WithPV(ciphertext)
	default:
		ctx, err := c.newDHOrECDHContext()
		if err != nil {
			return err
		}
		c.keyAgreement = ctx
	}

	return c.sendDHPart1WithPV(c.publicValue())
}

// compareCommitPrecedence returns >0 if a wins the contention tie-break
// over b (spec.md §4.7).
func compareCommitPrecedence(a, b *CommitMessage) int {
	if a.KeyAgreement.IsKEM() || a.KeyAgreement.IsDH() {
		return bytes.Compare(a.Hvi[:], b.Hvi[:])
	}
	return bytes.Compare(a.Nonce[:], b.Nonce[:])
}

func (c *Channel) sendDHPart1WithPV(pv []byte) error {
	secrets, _ := c.session.cache.GetPeerSecrets(c.session.peerURI, c.session.peerZID)
	rs1ID, _ := secretHashID(c.negotiated.Hash, secrets.RS1)
	rs2ID, _ := secretHashID(c.negotiated.Hash, secrets.RS2)
	auxID, _ := secretHashID(c.negotiated.Hash, c.session.transientAuxSecret)
	pbxID, _ := secretHashID(c.negotiated.Hash, secrets.PBX)

	d := &DHPartMessage{H1: c.hashChain.H1, RS1ID: rs1ID, RS2ID: rs2ID, AuxID: auxID, PBXID: pbxID, PV: pv}
	msg := buildDHPart(MsgDHPart1, d)
	finalizeMAC(msg, c.negotiated.Hash, c.hashChain.H0[:])
	c.self.dhpart = storedMessage{present: true, bytes: msg}
	c.transition("keyAgreement_responderSendingDHPart1", stateConfirmationWaitingForConfirm2Precursor)
	return c.send(msg, retransmitNonHello)
}

// handleDHPart1 is the initiator's reaction to the responder's DHPart1: it
// completes the key agreement, derives s0/the key schedule, and replies
// with its own DHPart2.
func (c *Channel) handleDHPart1(msg []byte) error {
	peerDH, err := parseDHPart(msg)
	if err != nil {
		return err
	}
	if !verifyReveal(peerDH.H1, c.peerH2) {
		return ErrUnmatchingHashChain
	}
	c.peer.dhpart = storedMessage{present: true, bytes: msg}
	c.peerH1 = peerDH.H1
	c.peerHashKnown[1] = true
	if err := verifyStoredMAC(c.peer.commit, c.negotiated.Hash, peerDH.H1[:]); err != nil {
		return err
	}

	dhResult, err := c.computeDHResult(peerDH.PV)
	if err != nil {
		return err
	}

	dhPart2 := c.buildDHPart(MsgDHPart2)
	c.self.dhpart = storedMessage{present: true, bytes: dhPart2}

	if err := c.completeKeySchedule(dhResult, peerDH); err != nil {
		return err
	}

	c.transition("keyAgreement_initiatorSendingDHPart2", stateConfirmationWaitingForConfirm1)
	return c.send(dhPart2, retransmitNonHello)
}

func (c *Channel) computeDHResult(peerPV []byte) ([]byte, error) {
	switch {
	case c.keyAgreement.dh != nil:
		return c.keyAgreement.dh.sharedSecret(peerPV), nil
	case c.keyAgreement.ecdh != nil:
		return c.keyAgreement.ecdh.sharedSecret(peerPV)
	case c.keyAgreement.kemSelf != nil:
		if err := c.keyAgreement.kemSelf.decapsulate(peerPV); err != nil {
			return nil, err
		}
		return c.keyAgreement.kemSelf.shared, nil
	case c.keyAgreement.kemPeer != nil:
		return c.keyAgreement.kemPeer.shared, nil
	default:
		return nil, nil // multistream: no DH result
	}
}

// completeKeySchedule derives s0 and the full key schedule once both
// DHPart messages are known, per spec.md §4.5: total_hash = H(HelloResp ||
// Commit || DHPart1 || DHPart2) — exactly one Hello, the responder's. It
// reads the transcript directly from the channel's stored message slots
// rather than taking them as parameters, so the canonical wire order is
// assembled the same way regardless of which side (initiator or responder)
// is computing it.
func (c *Channel) completeKeySchedule(dhResult []byte, peerDH *DHPartMessage) error {
	secrets, err := c.session.cache.GetPeerSecrets(c.session.peerURI, c.session.peerZID)
	if err != nil {
		return err
	}

	cacheMismatch := false
	if len(secrets.RS1) > 0 {
		id, _ := secretHashID(c.negotiated.Hash, secrets.RS1)
		if id != peerDH.RS1ID {
			cacheMismatch = true
		}
	}
	c.flags.cacheMismatch = cacheMismatch

	var zidI, zidR ZID
	var transcript [][]byte
	if c.role == RoleInitiator {
		zidI, zidR = c.session.selfZID, c.session.peerZID
		transcript = [][]byte{c.peer.hello.bytes, c.self.commit.bytes, c.peer.dhpart.bytes, c.self.dhpart.bytes}
	} else {
		zidI, zidR = c.session.peerZID, c.session.selfZID
		transcript = [][]byte{c.self.hello.bytes, c.peer.commit.bytes, c.self.dhpart.bytes, c.peer.dhpart.bytes}
	}
	th := totalHash(c.negotiated.Hash, transcript...)
	ctx := kdfContext(zidI, zidR, th)

	var rs1, rs2, aux, pbx []byte
	if !cacheMismatch {
		rs1, rs2 = secrets.RS1, secrets.RS2
	}
	aux = c.session.transientAuxSecret
	pbx = secrets.PBX

	s0 := deriveS0DH(c.negotiated.Hash, dhResult, zidI, zidR, th, rs1, rs2, aux, pbx)
	c.ks = DeriveKeySchedule(c.negotiated.Hash, c.negotiated.Cipher, s0, ctx)
	return nil
}

// priorZRTPSess locates the session key a multistream channel keys off:
// its own previous key schedule if this channel has handshaked before
// (Open Question #3's BackToSecure case), otherwise the session's first
// channel (spec.md §4.4 "Multistream").
func (c *Channel) priorZRTPSess() ([]byte, error) {
	if c.ks != nil {
		return c.ks.ZRTPSess, nil
	}
	if first := c.session.firstChannelKeySchedule(); first != nil {
		return first.ZRTPSess, nil
	}
	return nil, fmt.Errorf("%w: no prior session key available for multistream", ErrInvalidContext)
}

// deriveMultistreamKeySchedule derives s0/the key schedule for multistream
// key agreement, whose KDFContext only ever covers Hello+Commit (no DHPart
// exists in this mode, spec.md §4.4).
func (c *Channel) deriveMultistreamKeySchedule() error {
	zrtpSess, err := c.priorZRTPSess()
	if err != nil {
		return err
	}

	var zidI, zidR ZID
	var transcript [][]byte
	if c.role == RoleInitiator {
		zidI, zidR = c.session.selfZID, c.session.peerZID
		transcript = [][]byte{c.peer.hello.bytes, c.self.commit.bytes}
	} else {
		zidI, zidR = c.session.peerZID, c.session.selfZID
		transcript = [][]byte{c.self.hello.bytes, c.peer.commit.bytes}
	}
	th := totalHash(c.negotiated.Hash, transcript...)
	ctx := kdfContext(zidI, zidR, th)

	s0 := deriveS0Multistream(c.negotiated.Hash, zrtpSess, ctx)
	c.ks = DeriveKeySchedule(c.negotiated.Hash, c.negotiated.Cipher, s0, ctx)
	return nil
}

// verifyRevealTwoHop checks sha256(sha256(preimage)) == image: multistream
// mode never transmits a DHPart, so Confirm's H0 must chain forward two
// hops straight to the H2 revealed in Commit instead of the usual one hop
// to an H1 revealed in a DHPart (spec.md §4.4/§4.1.2).
func verifyRevealTwoHop(preimage, image [32]byte) bool {
	var mid [32]byte
	copy(mid[:], sha256Sum(preimage[:]))
	return verifyReveal(mid, image)
}

func (c *Channel) sendMultistreamConfirm1() error {
	iv, err := randomBytes(16)
	if err != nil {
		return err
	}
	out := &ConfirmMessage{H0: c.hashChain.H0, E: true, V: c.priorSASVerified()}
	copy(out.IV[:], iv)
	built, err := buildConfirm(MsgConfirm1, out, c.negotiated.Hash, c.ks.ZRTPKeyR, c.ks.MacKeyR)
	if err != nil {
		return err
	}
	c.self.confirm = storedMessage{present: true, bytes: built}
	c.transition("confirmation_responderSendingConfirm1", stateMultistreamWaitingForConfirm2)
	return c.send(built, retransmitNonHello)
}

func stateMultistreamWaitingForConfirm1(c *Channel, mt MessageType, msg []byte) error {
	if mt != MsgConfirm1 {
		return fmt.Errorf("%w: got %q waiting for multistream Confirm1", ErrUnexpectedMessage, mt)
	}
	confirm, err := parseConfirm(msg, c.negotiated.Hash, c.ks.ZRTPKeyR, c.ks.MacKeyR)
	if err != nil {
		return err
	}
	if !verifyRevealTwoHop(confirm.H0, c.peerH2) {
		return ErrUnmatchingHashChain
	}
	c.peerH0 = confirm.H0
	c.flags.peerPVS = confirm.V

	iv, err := randomBytes(16)
	if err != nil {
		return err
	}
	out := &ConfirmMessage{H0: c.hashChain.H0, E: true, V: c.priorSASVerified()}
	copy(out.IV[:], iv)
	built, err := buildConfirm(MsgConfirm2, out, c.negotiated.Hash, c.ks.ZRTPKeyI, c.ks.MacKeyI)
	if err != nil {
		return err
	}
	c.self.confirm = storedMessage{present: true, bytes: built}
	if err := c.send(built, retransmitNonHello); err != nil {
		return err
	}
	return c.finishHandshake()
}

func stateMultistreamWaitingForConfirm2(c *Channel, mt MessageType, msg []byte) error {
	if mt != MsgConfirm2 {
		return fmt.Errorf("%w: got %q waiting for multistream Confirm2", ErrUnexpectedMessage, mt)
	}
	confirm, err := parseConfirm(msg, c.negotiated.Hash, c.ks.ZRTPKeyI, c.ks.MacKeyI)
	if err != nil {
		return err
	}
	if !verifyRevealTwoHop(confirm.H0, c.peerH2) {
		return ErrUnmatchingHashChain
	}
	c.peerH0 = confirm.H0
	c.flags.peerPVS = confirm.V

	if err := c.send(buildConf2ACK(), -1); err != nil {
		return err
	}
	return c.finishHandshake()
}

// --- confirmation ---

// identicalRetransmission reports whether msg is a byte-for-byte repeat of
// the message already stored in slot — the "(identical)" self-loop
// spec.md §4.7's state table allows for a retransmitted Commit/DHPart/
// Confirm that arrives after the state it was meant for has already moved
// on, rather than erroring as unexpected.
func identicalRetransmission(slot storedMessage, msg []byte) bool {
	return slot.present && bytes.Equal(slot.bytes, msg)
}

func stateConfirmationWaitingForConfirm1(c *Channel, mt MessageType, msg []byte) error {
	if mt == MsgDHPart1 {
		// our DHPart2 (sent on entry to this state) may have been lost, in
		// which case the responder retransmits the DHPart1 that preceded
		// it; resend our DHPart2 rather than treating this as unexpected.
		if identicalRetransmission(c.peer.dhpart, msg) {
			return c.send(c.self.dhpart.bytes, retransmitNonHello)
		}
		return fmt.Errorf("%w: retransmitted DHPart1 differs from the stored copy", ErrUnmatchingPacketRepetition)
	}
	if mt != MsgConfirm1 {
		return fmt.Errorf("%w: got %q waiting for Confirm1", ErrUnexpectedMessage, mt)
	}
	macKey := c.ks.MacKeyR
	cipherKey := c.ks.ZRTPKeyR
	confirm, err := parseConfirm(msg, c.negotiated.Hash, cipherKey, macKey)
	if err != nil {
		return err
	}
	if !verifyReveal(confirm.H0, c.peerH1) {
		return ErrUnmatchingHashChain
	}
	c.peer.confirm = storedMessage{present: true, bytes: msg}
	c.peerH0 = confirm.H0
	c.peerHashKnown[0] = true
	c.flags.peerPVS = confirm.V
	if err := verifyStoredMAC(c.peer.dhpart, c.negotiated.Hash, confirm.H0[:]); err != nil {
		return err
	}

	iv, err := randomBytes(16)
	if err != nil {
		return err
	}
	out := &ConfirmMessage{H0: c.hashChain.H0, E: true, V: c.priorSASVerified()}
	copy(out.IV[:], iv)
	myMacKey := c.ks.MacKeyI
	myCipherKey := c.ks.ZRTPKeyI
	built, err := buildConfirm(MsgConfirm2, out, c.negotiated.Hash, myCipherKey, myMacKey)
	if err != nil {
		return err
	}
	c.self.confirm = storedMessage{present: true, bytes: built}

	if err := c.send(built, retransmitNonHello); err != nil {
		return err
	}
	return c.finishHandshake()
}

func stateConfirmationWaitingForConfirm2Precursor(c *Channel, mt MessageType, msg []byte) error {
	// Responder has sent DHPart1 and is waiting for the initiator's
	// DHPart2 before it can derive keys and expect Confirm2.
	if mt == MsgCommit {
		// the initiator's original Commit may have been retransmitted
		// because our DHPart1 never arrived; resend it.
		if identicalRetransmission(c.peer.commit, msg) {
			return c.send(c.self.dhpart.bytes, retransmitNonHello)
		}
		return fmt.Errorf("%w: retransmitted Commit differs from the stored copy", ErrUnmatchingPacketRepetition)
	}
	if mt != MsgDHPart2 {
		return fmt.Errorf("%w: got %q waiting for DHPart2", ErrUnexpectedMessage, mt)
	}
	peerDH, err := parseDHPart(msg)
	if err != nil {
		return err
	}
	if !verifyReveal(peerDH.H1, c.peerH2) {
		return ErrUnmatchingHashChain
	}

	// hvi binds this DHPart2 to the Commit we already stored from the
	// initiator (spec.md §4.3): recomputing and comparing it here is the
	// downgrade/MitM defense that detects either party's Hello or DHPart2
	// being substituted in transit. KEM commits never carry an hvi (the
	// tie-break material there is the encapsulation itself), so the check
	// only applies to the DH/EC family.
	peerCommit, err := parseCommit(c.peer.commit.bytes)
	if err != nil {
		return err
	}
	if peerCommit.KeyAgreement.IsDH() && !peerCommit.KeyAgreement.IsKEM() {
		wantHvi := computeHvi(c.negotiated.Hash, msg, c.self.hello.bytes)
		if wantHvi != peerCommit.Hvi {
			return ErrUnmatchingHvi
		}
	}

	c.peer.dhpart = storedMessage{present: true, bytes: msg}
	c.peerH1 = peerDH.H1
	c.peerHashKnown[1] = true
	if err := verifyStoredMAC(c.peer.commit, c.negotiated.Hash, peerDH.H1[:]); err != nil {
		return err
	}

	dhResult, err := c.computeDHResult(peerDH.PV)
	if err != nil {
		return err
	}
	if err := c.completeKeySchedule(dhResult, peerDH); err != nil {
		return err
	}

	c.transition("confirmation_responderSendingConfirm1", stateConfirmationWaitingForConfirm2)
	iv, err := randomBytes(16)
	if err != nil {
		return err
	}
	out := &ConfirmMessage{H0: c.hashChain.H0, E: true, V: c.priorSASVerified()}
	copy(out.IV[:], iv)
	built, err := buildConfirm(MsgConfirm1, out, c.negotiated.Hash, c.ks.ZRTPKeyR, c.ks.MacKeyR)
	if err != nil {
		return err
	}
	c.self.confirm = storedMessage{present: true, bytes: built}
	return c.send(built, retransmitNonHello)
}

func stateConfirmationWaitingForConfirm2(c *Channel, mt MessageType, msg []byte) error {
	if mt == MsgDHPart2 {
		// the initiator's DHPart2 may have been retransmitted because our
		// Confirm1 never arrived; resend it.
		if identicalRetransmission(c.peer.dhpart, msg) {
			return c.send(c.self.confirm.bytes, retransmitNonHello)
		}
		return fmt.Errorf("%w: retransmitted DHPart2 differs from the stored copy", ErrUnmatchingPacketRepetition)
	}
	if mt != MsgConfirm2 {
		return fmt.Errorf("%w: got %q waiting for Confirm2", ErrUnexpectedMessage, mt)
	}
	confirm, err := parseConfirm(msg, c.negotiated.Hash, c.ks.ZRTPKeyI, c.ks.MacKeyI)
	if err != nil {
		return err
	}
	if !verifyReveal(confirm.H0, c.peerH1) {
		return ErrUnmatchingHashChain
	}
	c.peer.confirm = storedMessage{present: true, bytes: msg}
	c.peerH0 = confirm.H0
	c.peerHashKnown[0] = true
	c.flags.peerPVS = confirm.V
	if err := verifyStoredMAC(c.peer.dhpart, c.negotiated.Hash, confirm.H0[:]); err != nil {
		return err
	}

	ack := buildConf2ACK()
	if err := c.send(ack, -1); err != nil {
		return err
	}
	return c.finishHandshake()
}

// priorSASVerified reports whether the cache previously recorded this
// peer's SAS as human-verified — carried into our own Confirm's V bit.
func (c *Channel) priorSASVerified() bool {
	secrets, _ := c.session.cache.GetPeerSecrets(c.session.peerURI, c.session.peerZID)
	return secrets.PreviouslyVerifiedSAS && !c.flags.cacheMismatch
}

func (c *Channel) finishHandshake() error {
	c.done = true
	c.timer.disarm()
	if err := PersistSecrets(c.session.cache, c.session.peerURI, c.session.peerZID, c.ks, c.flags.cacheMismatch, c.priorSASVerified()); err != nil {
		c.log().Warn("persist zrtp secrets failed", "error", err)
	}
	if c.flags.cacheMismatch && c.session.callbacks.OnCacheMismatch != nil {
		c.session.callbacks.OnCacheMismatch(c.index)
	}
	c.transition("secure", stateSecure)
	if c.session.callbacks.OnSecure != nil {
		sas, _ := RenderSAS(c.negotiated.SAS, c.ks.SASValue)
		c.session.callbacks.OnSecure(c.index, sas, c.flags.peerPVS)
	}
	return nil
}

// --- secure / GoClear / clear ---

func stateSecure(c *Channel, mt MessageType, msg []byte) error {
	switch mt {
	case MsgConf2ACK:
		// the responder's Conf2ACK for the Confirm2 we already sent; we
		// reached secure without waiting for it (spec.md §4.7's ten-state
		// table has the initiator transition to secure on receipt, but
		// nothing further depends on it once here).
		return nil
	case MsgConfirm2:
		// our own Conf2ACK may have been lost, so the initiator
		// retransmitted Confirm2; re-acknowledge rather than rejecting it
		// as unexpected now that we've already moved on to secure.
		if identicalRetransmission(c.peer.confirm, msg) {
			return c.send(buildConf2ACK(), -1)
		}
		return fmt.Errorf("%w: retransmitted Confirm2 differs from the stored copy", ErrUnmatchingPacketRepetition)
	case MsgGoClear:
		macKey := c.ks.MacKeyR
		if c.role == RoleInitiator {
			macKey = c.ks.MacKeyI
		}
		if err := parseGoClear(msg, c.negotiated.Hash, macKey); err != nil {
			return err
		}
		accept := true
		if c.session.callbacks.OnGoClear != nil {
			accept = c.session.callbacks.OnGoClear(c.index)
		}
		if !accept {
			return nil
		}
		if err := c.send(buildClearACK(), -1); err != nil {
			return err
		}
		c.done = false
		c.ks.zeroMediaKeys()
		c.transition("clear", stateClear)
		return nil
	default:
		return fmt.Errorf("%w: got %q while secure", ErrUnexpectedMessage, mt)
	}
}

// startGoClear sends a GoClear and locally moves to sending_GoClear,
// awaiting the peer's ClearACK (spec.md §4.7).
func (c *Channel) startGoClear() error {
	macKey := c.ks.MacKeyI
	if c.role == RoleResponder {
		macKey = c.ks.MacKeyR
	}
	msg := buildGoClear(c.negotiated.Hash, macKey)
	c.self.goClear = storedMessage{present: true, bytes: msg}
	c.transition("sending_GoClear", stateSendingGoClear)
	return c.send(msg, retransmitClearACK)
}

func stateSendingGoClear(c *Channel, mt MessageType, msg []byte) error {
	if mt != MsgClearACK {
		return fmt.Errorf("%w: got %q in sending_GoClear", ErrUnexpectedMessage, mt)
	}
	c.timer.disarm()
	c.done = false
	c.ks.zeroMediaKeys()
	c.transition("clear", stateClear)
	return nil
}

// stateClear implements the `clear` state body the header documents without
// a C function body (SPEC_FULL.md §5, Open Question #4): it accepts a
// further Commit (peer restarting key agreement) or a local BackToSecure
// call.
func stateClear(c *Channel, mt MessageType, msg []byte) error {
	if mt != MsgCommit {
		return fmt.Errorf("%w: got %q in clear", ErrUnexpectedMessage, mt)
	}
	c.role = RoleResponder
	// a fresh key-agreement run starts with no stale Commit/DHPart of our
	// own, so handleCommitOrContention's contention check doesn't compare
	// against a previous run's Commit.
	c.self.commit = storedMessage{}
	c.self.dhpart = storedMessage{}
	c.peer.dhpart = storedMessage{}
	c.transition("keyAgreement_sendingCommit", stateKeyAgreementSendingCommit)
	return c.handleCommitOrContention(msg)
}

// backToSecure re-enters key agreement after `clear` (Open Question #3) by
// multistreaming off this channel's existing ZRTPSess, which GoClear leaves
// in place. A channel that has no key schedule gets ErrInvalidContext; no
// fresh DH exchange is started here.
func (c *Channel) backToSecure() error {
	if c.ks == nil {
		return fmt.Errorf("%w: no prior key schedule to multistream from", ErrInvalidContext)
	}
	c.role = RoleInitiator
	c.negotiated.KeyAgreement = KeyAgreementMultistream

	// Reuse the channel's original hash chain rather than minting a new
	// one: it was only ever revealed down to H3 (Hello) and H2 (the first
	// Commit), and the peer's peerH3 still anchors to it since no new
	// Hello is exchanged on this path (Open Question #3).
	nonce, err := randomBytes(16)
	if err != nil {
		return err
	}
	commit := &CommitMessage{
		H2:           c.hashChain.H2,
		ZID:          c.session.selfZID,
		Hash:         c.negotiated.Hash,
		Cipher:       c.negotiated.Cipher,
		AuthTag:      c.negotiated.AuthTag,
		KeyAgreement: KeyAgreementMultistream,
		SAS:          c.negotiated.SAS,
	}
	copy(commit.Nonce[:], nonce)
	c.keyAgreement = &keyAgreementContext{algo: KeyAgreementMultistream}
	msg := buildCommit(commit)
	finalizeMAC(msg, c.negotiated.Hash, c.hashChain.H1[:])
	c.self.commit = storedMessage{present: true, bytes: msg}

	if err := c.deriveMultistreamKeySchedule(); err != nil {
		return err
	}
	c.transition("keyAgreement_sendingCommit", stateMultistreamWaitingForConfirm1)
	return c.send(msg, retransmitNonHello)
}
