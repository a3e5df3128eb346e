package zrtp

import "errors"

// Packet-envelope errors (spec.md §7 "Packet-envelope").
var (
	ErrInvalidPacket = errors.New("zrtp: invalid packet envelope")
	ErrInvalidCRC    = errors.New("zrtp: crc-32 mismatch")
	ErrOutOfOrder    = errors.New("zrtp: sequence number out of order")
)

// ErrFragmentHeld is informational: the packet was a fragment and the
// message is not yet fully reassembled. Callers should not treat it as a
// failure.
var ErrFragmentHeld = errors.New("zrtp: fragment held, message incomplete")

// Message-structure errors.
var (
	ErrInvalidMessage     = errors.New("zrtp: malformed message body")
	ErrUnexpectedMessage  = errors.New("zrtp: message not valid for current state")
	ErrInvalidMessageType = errors.New("zrtp: unknown message type")
)

// Cryptographic integrity errors.
var (
	ErrUnmatchingHashChain   = errors.New("zrtp: revealed hash chain value does not match stored image")
	ErrUnmatchingMAC         = errors.New("zrtp: message authentication code mismatch")
	ErrUnmatchingHvi         = errors.New("zrtp: hvi mismatch, possible downgrade attack")
	ErrUnmatchingConfirmMAC  = errors.New("zrtp: confirm_mac mismatch")
	ErrHelloHashMismatch     = errors.New("zrtp: hello hash does not match signalling-provided value")
)

// Negotiation errors.
var (
	ErrUnsupportedZRTPVersion = errors.New("zrtp: unsupported protocol version")
	ErrNoCommonAlgorithm      = errors.New("zrtp: no common algorithm in category")
)

// ErrCacheMismatch is non-fatal: the handshake completes but the
// previously-verified-SAS flag is cleared for the next persisted entry.
var ErrCacheMismatch = errors.New("zrtp: cached secret id does not match")

// ErrInvalidContext is returned when a step requires key material that has
// not yet been derived.
var ErrInvalidContext = errors.New("zrtp: required context not available")

// ErrUnmatchingPacketRepetition is returned when a retransmitted message
// differs byte-for-byte from the previously stored copy.
var ErrUnmatchingPacketRepetition = errors.New("zrtp: retransmitted packet differs from stored copy")

// ErrUnsupportedMode is returned for key-agreement modes that are not fully
// specified (see SPEC_FULL.md §5, Preshared mode).
var ErrUnsupportedMode = errors.New("zrtp: key agreement mode not supported")

// ErrChannelTableFull is returned by StartChannel once MaxChannels channels
// are active on a session.
var ErrChannelTableFull = errors.New("zrtp: channel table full")

// ErrChannelNotFound is returned when an operation references a channel
// index that was never started.
var ErrChannelNotFound = errors.New("zrtp: channel not found")
