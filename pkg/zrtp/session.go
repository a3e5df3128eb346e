package zrtp

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// MaxChannels bounds the channel table (spec.md §3: "channel table, cap
// 64").
const MaxChannels = 64

// Callbacks lets the host react to protocol events without the core taking
// on any transport or UI dependency (spec.md §6). SendPacket is the only
// mandatory field; the rest are optional observability hooks mirroring
// pkg/sip/session.go's callback block.
type Callbacks struct {
	// SendPacket is invoked with a complete, ready-to-transmit packet
	// envelope. The host owns the actual network I/O (spec.md §1 non-goal).
	SendPacket func(channelIndex int, pkt []byte) error

	// OnSecure fires once a channel reaches the `secure` state.
	OnSecure func(channelIndex int, sas string, sasVerified bool)

	// OnCacheMismatch fires when a peer's DHPart reveals that our stored
	// rs1/rs2 doesn't match theirs — non-fatal, but worth surfacing.
	OnCacheMismatch func(channelIndex int)

	// OnGoClear fires when the peer requests falling back to cleartext.
	OnGoClear func(channelIndex int) (accept bool)
}

// Config configures a Session the way pkg/sip/zrtp.go's old ZRTPConfig did:
// a plain struct with compiled-in defaults, no config file (spec.md §3/§6,
// SPEC_FULL.md §2 "Configuration").
type Config struct {
	MTU int // spec.md §4.2 fragmentation threshold; default 1452 if zero

	SupportedAlgorithms SupportedAlgorithms

	// ClientID identifies this implementation in Hello (16 bytes, spec-
	// truncated/padded).
	ClientID string

	Logger *slog.Logger
}

const defaultMTU = 1452

// Session is one ZRTP endpoint-to-endpoint relationship: one self ZID, one
// set of supported algorithms, and up to MaxChannels concurrently
// negotiated channels (spec.md §3/§6).
type Session struct {
	mu sync.RWMutex

	selfZID ZID
	peerZID ZID
	peerURI string

	supported SupportedAlgorithms
	clientID  [16]byte
	mtu       int

	cache    Cache
	callbacks Callbacks
	logger   *slog.Logger

	rng randReader

	peerHelloHash     *[32]byte // pinned out-of-band, if the host set one
	transientAuxSecret []byte
	peerPVS           bool

	tick time.Duration

	channels [MaxChannels]*Channel
}

// NewSession constructs a Session for one peer relationship. selfZID should
// be loaded (or generated once and persisted) by the host via the Cache
// facade — the core never invents one on its own beyond what GenerateZID
// offers as a helper (spec.md §6).
func NewSession(selfZID ZID, peerURI string, cfg Config, cache Cache, callbacks Callbacks) (*Session, error) {
	if callbacks.SendPacket == nil {
		return nil, fmt.Errorf("%w: Callbacks.SendPacket is required", ErrInvalidContext)
	}
	mtu := cfg.MTU
	if mtu <= 0 {
		mtu = defaultMTU
	}
	supported := cfg.SupportedAlgorithms
	if len(supported.Hash) == 0 && len(supported.Cipher) == 0 && len(supported.AuthTag) == 0 &&
		len(supported.KeyAgreement) == 0 && len(supported.SAS) == 0 {
		supported = DefaultSupportedAlgorithms()
	}
	var clientID [16]byte
	copy(clientID[:], cfg.ClientID)

	if cache == nil {
		cache = NoopCache{}
	}

	return &Session{
		selfZID:   selfZID,
		peerURI:   peerURI,
		supported: NormalizeSupported(supported),
		clientID:  clientID,
		mtu:       mtu,
		cache:     cache,
		callbacks: callbacks,
		logger:    cfg.Logger,
		rng:       cryptoRandReader{},
	}, nil
}

// SetPeerHelloHash pins a Hello hash received out-of-band (e.g. via signed
// SDP), enabling man-in-the-middle detection before any ZRTP packet is
// exchanged (spec.md §4.1.2 edge case).
func (s *Session) SetPeerHelloHash(hash [32]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := hash
	s.peerHelloHash = &h
}

// SetTransientAuxSecret supplies an out-of-band auxiliary secret (e.g. from
// a prior signalling channel) to fold into s0 alongside rs1/rs2 (spec.md
// §4.5 "aux secret").
func (s *Session) SetTransientAuxSecret(secret []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transientAuxSecret = append([]byte{}, secret...)
}

// StartChannel allocates and starts a new channel at the given SSRC,
// returning its index. The first channel on a session performs a full DH
// exchange; later channels multistream off it (spec.md §4.4).
func (s *Session) StartChannel(ssrc uint32) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := -1
	for i, c := range s.channels {
		if c == nil {
			idx = i
			break
		}
	}
	if idx == -1 {
		return 0, ErrChannelTableFull
	}

	ch, err := newChannel(s, idx, ssrc)
	if err != nil {
		return 0, err
	}
	s.channels[idx] = ch

	if err := ch.sendHello(); err != nil {
		s.channels[idx] = nil
		return 0, err
	}
	return idx, nil
}

// channelAt fetches a channel under the read lock; callers that mutate it
// further lock explicitly where needed (state-function execution is
// single-threaded per channel, spec.md §5).
func (s *Session) channelAt(index int) (*Channel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if index < 0 || index >= MaxChannels || s.channels[index] == nil {
		return nil, ErrChannelNotFound
	}
	return s.channels[index], nil
}

// firstChannelKeySchedule returns channel 0's key schedule, for multistream
// channels to key off of; nil if channel 0 does not exist or has not yet
// completed a key exchange.
func (s *Session) firstChannelKeySchedule() *KeySchedule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.channels[0] == nil {
		return nil
	}
	return s.channels[0].ks
}

// ProcessMessage feeds one received packet envelope into the named
// channel's state machine (spec.md §6). It handles envelope validation,
// fragment reassembly, and state dispatch; ErrFragmentHeld is not an error
// the caller needs to react to beyond waiting for more fragments.
func (s *Session) ProcessMessage(channelIndex int, pkt []byte) error {
	ch, err := s.channelAt(channelIndex)
	if err != nil {
		return err
	}

	if err := checkEnvelope(pkt); err != nil {
		return err
	}

	message := pkt
	if isFragmented(pkt) {
		reassembled, err := ch.reassembly.acceptFragment(pkt)
		if err != nil {
			return err
		}
		message = reassembled
	} else {
		message = pkt[packetHeaderLen : len(pkt)-crcLen]
		message = prependSyntheticHeader(message)
	}

	return ch.dispatch(message)
}

// prependSyntheticHeader is a no-op placeholder kept explicit for clarity:
// a non-fragmented packet's body already *is* the message (header+payload),
// so there's nothing to prepend. Named to make envelope.go's stripping
// logic self-documenting at the call site.
func prependSyntheticHeader(body []byte) []byte { return body }

// currentTick returns the most recent tick value handed to Tick, for a
// channel to anchor a freshly armed retransmission timer against.
func (s *Session) currentTick() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tick
}

// Tick advances every channel's retransmission timer by the host-supplied
// monotonic time (spec.md §4.2, §5: "no timekeeping inside the core").
func (s *Session) Tick(now uint64) {
	d := durationFromTick(now)

	s.mu.Lock()
	s.tick = d
	channels := s.channels
	s.mu.Unlock()

	for _, ch := range channels {
		if ch == nil || ch.done {
			continue
		}
		if fired, exhausted := ch.timer.tick(d); fired && exhausted {
			ch.log().Warn("zrtp retransmission exhausted")
		}
	}
}

// GoClear requests falling back to cleartext on a secure channel (spec.md
// §4.7 `sending_GoClear`).
func (s *Session) GoClear(channelIndex int) error {
	ch, err := s.channelAt(channelIndex)
	if err != nil {
		return err
	}
	return ch.startGoClear()
}

// EndChannel tears a channel down for good: its key material is wiped
// (spec.md §3 Lifecycle) and its slot in the channel table is freed so a
// later StartChannel can reuse the index.
func (s *Session) EndChannel(channelIndex int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if channelIndex < 0 || channelIndex >= MaxChannels || s.channels[channelIndex] == nil {
		return ErrChannelNotFound
	}
	s.channels[channelIndex].destroy()
	s.channels[channelIndex] = nil
	return nil
}

// BackToSecure re-enters key agreement from the `clear` state using the
// multistream KDF off the channel's retained ZRTPSess, for the first channel
// and later ones alike (SPEC_FULL.md §5, Open Question #3). No fresh DH
// exchange is run; a channel without a key schedule gets ErrInvalidContext.
func (s *Session) BackToSecure(channelIndex int) error {
	ch, err := s.channelAt(channelIndex)
	if err != nil {
		return err
	}
	return ch.backToSecure()
}

type cryptoRandReader struct{}

func (cryptoRandReader) Read(p []byte) (int, error) {
	b, err := randomBytes(len(p))
	if err != nil {
		return 0, err
	}
	copy(p, b)
	return len(p), nil
}
