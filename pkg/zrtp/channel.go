package zrtp

import (
	"context"
	"log/slog"
	"time"
)

// Role is which side of the handshake a channel is playing. Commit
// contention (spec.md §4.7) can flip this after the channel has already
// started as initiator.
type Role int

const (
	RoleUnknown Role = iota
	RoleInitiator
	RoleResponder
)

func (r Role) String() string {
	switch r {
	case RoleInitiator:
		return "initiator"
	case RoleResponder:
		return "responder"
	default:
		return "unknown"
	}
}

// storedMessage is one slot of the five messages a channel must keep a
// verbatim copy of in case of retransmission or later MAC verification
// (spec.md §3: "packet slots ×5 (Hello/Commit/DHPart/Confirm/GoClear) for
// self and peer").
type storedMessage struct {
	present bool
	bytes   []byte
}

// Channel is one ZRTP media-stream handshake within a Session (spec.md §3).
// The first channel on a session performs a full DH exchange; subsequent
// channels use multistream key agreement off the first channel's ZRTPSess.
type Channel struct {
	session *Session
	index   int

	state      stateFunc
	role       Role
	ssrc       uint32
	sendSeq    uint16

	hashChain     *hashChain
	peerH3, peerH2, peerH1, peerH0 [32]byte
	peerHashKnown [4]bool // which of peerH3..peerH0 have been received

	negotiated NegotiatedAlgorithms

	self storedSlots
	peer storedSlots

	pendingPing *PingMessage

	reassembly fragmentReassembly

	keyAgreement *keyAgreementContext
	ks           *KeySchedule

	timer retransmitTimer

	flags channelFlags

	done bool // true once the handshake reached `secure`
}

// storedSlots groups the five retained-message slots spec.md §3 requires
// per direction.
type storedSlots struct {
	hello   storedMessage
	commit  storedMessage
	dhpart  storedMessage
	confirm storedMessage
	goClear storedMessage
}

type channelFlags struct {
	cacheMismatch      bool
	peerSupportsMulti  bool
	peerPVS            bool // peer's previously-verified-SAS bit, from its Confirm
}

func newChannel(s *Session, index int, ssrc uint32) (*Channel, error) {
	hc, err := newHashChain()
	if err != nil {
		return nil, err
	}
	c := &Channel{
		session: s,
		index:   index,
		ssrc:    ssrc,
		hashChain: hc,
	}
	c.state = stateDiscoveryInit
	return c, nil
}

func (c *Channel) log() *slog.Logger {
	if c.session.logger == nil {
		return slog.New(discardHandler{})
	}
	return c.session.logger.With("channel", c.index, "ssrc", c.ssrc)
}

// transition moves to a new state function, logging at Debug the way
// pkg/sip/session.go logs call-state transitions.
func (c *Channel) transition(name string, next stateFunc) {
	c.log().Debug("zrtp state transition", "to", name)
	c.state = next
}

// discardHandler is a slog.Handler that drops everything; used when no
// logger was supplied so Channel.log() never needs a nil check at call
// sites.
type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool        { return false }
func (discardHandler) Handle(context.Context, slog.Record) error       { return nil }
func (discardHandler) WithAttrs(attrs []slog.Attr) slog.Handler        { return discardHandler{} }
func (discardHandler) WithGroup(name string) slog.Handler              { return discardHandler{} }

// SRTPKeys returns the derived SRTP master key/salt pair for this channel,
// or ErrInvalidContext if the handshake has not reached `secure` yet.
func (c *Channel) SRTPKeys() (*SRTPKeyMaterial, error) {
	if c.ks == nil {
		return nil, ErrInvalidContext
	}
	return &c.ks.SRTP, nil
}

// SASValue returns the raw 32-bit SAS value once available.
func (c *Channel) SASValue() (uint32, error) {
	if c.ks == nil {
		return 0, ErrInvalidContext
	}
	return c.ks.SASValue, nil
}

// IsSecure reports whether the channel has completed its handshake.
func (c *Channel) IsSecure() bool {
	return c.done
}

// Role reports which side of the exchange this channel ended up playing.
func (c *Channel) Role() Role { return c.role }

// SASScheme reports the negotiated SAS rendering scheme, for RenderSAS.
func (c *Channel) SASScheme() SASAlgo { return c.negotiated.SAS }

// destroy wipes this channel's derived key material for good (spec.md §3
// Lifecycle "channel destruction"), once the host is done with it and no
// BackToSecure will ever be issued against it again.
func (c *Channel) destroy() {
	c.ks.zero()
	c.done = false
}

func durationFromTick(tick uint64) time.Duration {
	return time.Duration(tick) * time.Millisecond
}
