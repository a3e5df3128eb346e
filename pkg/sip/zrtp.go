// Package sip provides SIP server functionality using sipgo
package sip

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/btafoya/zrtpcore/pkg/zrtp"
)

// ZRTPMode defines the ZRTP operation mode
type ZRTPMode string

const (
	// ZRTPModeDisabled means ZRTP is not used
	ZRTPModeDisabled ZRTPMode = "disabled"
	// ZRTPModeOptional means ZRTP is offered but not required
	ZRTPModeOptional ZRTPMode = "optional"
	// ZRTPModeRequired means ZRTP is mandatory for calls
	ZRTPModeRequired ZRTPMode = "required"
)

// ZRTPConfig holds ZRTP-specific configuration
type ZRTPConfig struct {
	// Enabled enables ZRTP support
	Enabled bool
	// Mode defines whether ZRTP is optional or required
	Mode ZRTPMode
	// CacheExpiryDays is how long cached keys are valid
	CacheExpiryDays int
	// ZID is this endpoint's ZRTP identifier (96 bits)
	ZID []byte
}

// ZRTPState represents the state of a ZRTP session
type ZRTPState string

const (
	ZRTPStateIdle        ZRTPState = "idle"
	ZRTPStateDiscovery   ZRTPState = "discovery"
	ZRTPStateKeyExchange ZRTPState = "key_exchange"
	ZRTPStateSecured     ZRTPState = "secured"
	ZRTPStateFailed      ZRTPState = "failed"
)

// ZRTPSession represents a ZRTP session for a call. It is a thin veneer over
// a pkg/zrtp.Session driving a single media channel (index 0); the fields
// below mirror what the rest of pkg/sip expects, backed by the engine's real
// hash-chain/DH/key-schedule machinery instead of ad hoc hashing.
type ZRTPSession struct {
	CallID    string
	State     ZRTPState
	LocalZID  []byte
	RemoteZID []byte

	// Key material
	S0        []byte // Shared secret fed into CompleteKeyExchange
	SRTPKeys  *SRTPKeyMaterial
	SRTPCKeyi []byte // SRTP keys initiator
	SRTPCKeyr []byte // SRTP keys responder
	SRTPSalti []byte // SRTP salt initiator
	SRTPSaltr []byte // SRTP salt responder

	// SAS (Short Authentication String)
	SAS     string // The 4-character SAS for voice verification
	SASType string // "B32" or "B256"

	// Cache data for rs1/rs2
	RS1      []byte // Retained secret 1
	RS2      []byte // Retained secret 2
	IsCached bool   // Whether we have cached keys for this peer

	// Timing
	StartedAt  time.Time
	SecuredAt  time.Time
	ExpiresAt  time.Time
	LastUpdate time.Time

	engine      *zrtp.Session
	isInitiator bool
	keySchedule *zrtp.KeySchedule

	mu sync.RWMutex
}

// SASVerificationCallback is called when SAS needs to be verified
// Returns true if user confirmed SAS matches, false otherwise
type SASVerificationCallback func(callID, sas string) bool

// ZRTPEventCallback is called for ZRTP state changes
type ZRTPEventCallback func(session *ZRTPSession, event string)

// PacketTransport hands a ready-to-send ZRTP packet envelope to the host's
// RTP layer. pkg/zrtp never touches the network itself (spec.md §1
// non-goal); a ZRTPManager with no transport set just logs and drops what
// it would have sent, which is enough to exercise negotiation/cache/SAS
// logic without a live peer.
type PacketTransport func(callID string, channelIndex int, pkt []byte) error

// ZRTPManager manages ZRTP sessions
type ZRTPManager struct {
	config        *ZRTPConfig
	sessions      map[string]*ZRTPSession
	cache         *ZRTPCache
	externalCache zrtp.Cache
	selfZID       zrtp.ZID
	transport     PacketTransport
	sasVerify     SASVerificationCallback
	onEvent       ZRTPEventCallback
	mu            sync.RWMutex
	logger        *slog.Logger
}

// ZRTPCache stores persistent ZRTP data and implements zrtp.Cache. It is the
// in-process default; internal/db/zrtp_cache.go provides a sqlite-backed
// implementation of the same interface for production use.
type ZRTPCache struct {
	entries    map[string]*ZRTPCacheEntry
	expiryDays int
	mu         sync.RWMutex
}

// ZRTPCacheEntry is a cached ZRTP peer
type ZRTPCacheEntry struct {
	PeerZID   []byte
	RS1       []byte
	RS2       []byte
	Verified  bool
	CreatedAt time.Time
	ExpiresAt time.Time
}

func cacheKey(peerURI string, peerZID zrtp.ZID) string {
	return peerURI + "|" + peerZID.String()
}

// GetPeerSecrets implements zrtp.Cache.
func (c *ZRTPCache) GetPeerSecrets(peerURI string, peerZID zrtp.ZID) (zrtp.PeerSecrets, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[cacheKey(peerURI, peerZID)]
	if !ok || time.Now().After(entry.ExpiresAt) {
		return zrtp.PeerSecrets{}, nil
	}
	return zrtp.PeerSecrets{RS1: entry.RS1, RS2: entry.RS2, PreviouslyVerifiedSAS: entry.Verified}, nil
}

// UpdatePeerSecrets implements zrtp.Cache: the old rs1 rolls down to rs2
// (spec.md §4.5), mirroring the teacher's previous cacheSession behavior.
func (c *ZRTPCache) UpdatePeerSecrets(peerURI string, peerZID zrtp.ZID, newRS1 []byte, verified bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := cacheKey(peerURI, peerZID)
	var rs2 []byte
	if prev, ok := c.entries[key]; ok {
		rs2 = prev.RS1
	}

	expiryDays := c.expiryDays
	if expiryDays <= 0 {
		expiryDays = 90
	}

	c.entries[key] = &ZRTPCacheEntry{
		PeerZID:   append([]byte{}, peerZID[:]...),
		RS1:       newRS1,
		RS2:       rs2,
		Verified:  verified,
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(time.Duration(expiryDays) * 24 * time.Hour),
	}
	return nil
}

// Len reports how many peers are cached, for ZRTPManager.GetStats.
func (c *ZRTPCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// NewZRTPManager creates a new ZRTP manager
func NewZRTPManager(cfg *ZRTPConfig, logger *slog.Logger) (*ZRTPManager, error) {
	if cfg == nil {
		return nil, fmt.Errorf("ZRTP config required")
	}

	if logger == nil {
		logger = slog.Default()
	}

	zid, err := loadOrGenerateZID(cfg.ZID)
	if err != nil {
		return nil, err
	}
	cfg.ZID = zid[:]

	mgr := &ZRTPManager{
		config:  cfg,
		selfZID: zid,
		cache: &ZRTPCache{
			entries:    make(map[string]*ZRTPCacheEntry),
			expiryDays: cfg.CacheExpiryDays,
		},
		sessions: make(map[string]*ZRTPSession),
		logger:   logger,
	}

	logger.Info("ZRTP manager initialized",
		"zid", hex.EncodeToString(zid[:]),
		"mode", cfg.Mode,
	)

	return mgr, nil
}

// NewZRTPManagerWithCache is like NewZRTPManager but persists peer secrets
// through a caller-supplied zrtp.Cache (e.g. internal/db's sqlite-backed
// implementation) instead of the in-process default.
func NewZRTPManagerWithCache(cfg *ZRTPConfig, cache zrtp.Cache, logger *slog.Logger) (*ZRTPManager, error) {
	mgr, err := NewZRTPManager(cfg, logger)
	if err != nil {
		return nil, err
	}
	if cache != nil {
		mgr.externalCache = cache
	}
	return mgr, nil
}

func loadOrGenerateZID(configured []byte) (zrtp.ZID, error) {
	var zid zrtp.ZID
	if len(configured) == zrtp.ZIDLength {
		copy(zid[:], configured)
		return zid, nil
	}
	if _, err := rand.Read(zid[:]); err != nil {
		return zid, fmt.Errorf("generate ZID: %w", err)
	}
	return zid, nil
}

// SetSASVerificationCallback sets the callback for SAS verification
func (m *ZRTPManager) SetSASVerificationCallback(cb SASVerificationCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sasVerify = cb
}

// SetEventCallback sets the callback for ZRTP events
func (m *ZRTPManager) SetEventCallback(cb ZRTPEventCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onEvent = cb
}

// SetPacketTransport wires the function used to hand outbound ZRTP packets
// to the host's RTP layer. Until this is set, packets are logged and
// dropped (spec.md §1: transport is a host concern, not this core's).
func (m *ZRTPManager) SetPacketTransport(t PacketTransport) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transport = t
}

func (m *ZRTPManager) peerCache() zrtp.Cache {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.externalCache != nil {
		return m.externalCache
	}
	return m.cache
}

// StartSession initiates a ZRTP session for a call
func (m *ZRTPManager) StartSession(callID string) (*ZRTPSession, error) {
	m.mu.Lock()
	if _, exists := m.sessions[callID]; exists {
		m.mu.Unlock()
		return nil, fmt.Errorf("ZRTP session already exists for call %s", callID)
	}
	m.mu.Unlock()

	session := &ZRTPSession{
		CallID:      callID,
		State:       ZRTPStateDiscovery,
		LocalZID:    append([]byte{}, m.config.ZID...),
		SASType:     "B32",
		StartedAt:   time.Now(),
		LastUpdate:  time.Now(),
		isInitiator: true,
	}

	engine, err := zrtp.NewSession(m.selfZID, callID, zrtp.Config{Logger: m.logger, ClientID: "zrtpcore"}, m.peerCache(), zrtp.Callbacks{
		SendPacket: func(channelIndex int, pkt []byte) error {
			m.mu.RLock()
			transport := m.transport
			m.mu.RUnlock()
			if transport == nil {
				m.logger.Debug("zrtp packet transport not wired, dropping", "call_id", callID, "channel", channelIndex, "bytes", len(pkt))
				return nil
			}
			return transport(callID, channelIndex, pkt)
		},
		OnSecure: func(channelIndex int, sas string, sasVerified bool) {
			m.onChannelSecure(callID, sas, sasVerified)
		},
		OnCacheMismatch: func(channelIndex int) {
			m.logger.Warn("zrtp cache mismatch with peer", "call_id", callID, "channel", channelIndex)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("start zrtp engine: %w", err)
	}
	session.engine = engine

	if _, err := engine.StartChannel(0); err != nil {
		return nil, fmt.Errorf("start zrtp channel: %w", err)
	}

	m.mu.Lock()
	m.sessions[callID] = session
	m.mu.Unlock()

	m.logger.Info("ZRTP session started",
		"call_id", callID,
		"local_zid", hex.EncodeToString(m.config.ZID),
	)

	m.emitEvent(session, "started")
	return session, nil
}

func (m *ZRTPManager) onChannelSecure(callID string, sas string, sasVerified bool) {
	session, ok := m.GetSession(callID)
	if !ok {
		return
	}
	session.mu.Lock()
	session.State = ZRTPStateSecured
	session.SAS = sas
	session.SecuredAt = time.Now()
	session.LastUpdate = time.Now()
	session.mu.Unlock()

	m.logger.Info("ZRTP channel secured", "call_id", callID, "sas", sas, "sas_previously_verified", sasVerified)
	m.emitEvent(session, "secured")
}

// GetSession retrieves a ZRTP session
func (m *ZRTPManager) GetSession(callID string) (*ZRTPSession, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, ok := m.sessions[callID]
	return session, ok
}

// EndSession terminates a ZRTP session
func (m *ZRTPManager) EndSession(callID string) error {
	m.mu.Lock()
	session, ok := m.sessions[callID]
	if !ok {
		m.mu.Unlock()
		return nil // Session doesn't exist, nothing to do
	}
	delete(m.sessions, callID)
	m.mu.Unlock()

	m.logger.Info("ZRTP session ended",
		"call_id", callID,
		"was_secured", session.State == ZRTPStateSecured,
	)

	m.emitEvent(session, "ended")
	return nil
}

// ProcessMessage feeds a received ZRTP wire packet into the session's
// channel 0 state machine.
func (m *ZRTPManager) ProcessMessage(callID string, pkt []byte) error {
	session, ok := m.GetSession(callID)
	if !ok {
		return fmt.Errorf("no ZRTP session for call %s", callID)
	}
	if err := session.engine.ProcessMessage(0, pkt); err != nil {
		if errors.Is(err, zrtp.ErrFragmentHeld) {
			return nil
		}
		return err
	}
	session.mu.Lock()
	session.LastUpdate = time.Now()
	session.mu.Unlock()
	return nil
}

// ProcessHello records a peer ZID observed out of band (e.g. from signed
// SDP) and surfaces whether retained secrets are cached for them. The real
// Hello exchange itself runs inside the engine once wire packets start
// flowing through ProcessMessage.
func (m *ZRTPManager) ProcessHello(callID string, remoteZID []byte) error {
	session, ok := m.GetSession(callID)
	if !ok {
		return fmt.Errorf("no ZRTP session for call %s", callID)
	}

	session.mu.Lock()
	session.RemoteZID = remoteZID
	session.LastUpdate = time.Now()
	session.mu.Unlock()

	var zid zrtp.ZID
	copy(zid[:], remoteZID)
	secrets, err := m.peerCache().GetPeerSecrets(callID, zid)
	if err != nil {
		return fmt.Errorf("get peer secrets: %w", err)
	}
	if secrets.RS1 != nil {
		session.mu.Lock()
		session.RS1 = secrets.RS1
		session.RS2 = secrets.RS2
		session.IsCached = true
		session.mu.Unlock()
		m.logger.Info("Using cached ZRTP keys for peer",
			"call_id", callID,
			"peer_zid", hex.EncodeToString(remoteZID),
		)
	}

	m.emitEvent(session, "hello_received")
	return nil
}

// CompleteKeyExchange derives the key schedule and SAS from a shared secret
// using the real engine KDF (spec.md §4.5) instead of an ad hoc hash.
func (m *ZRTPManager) CompleteKeyExchange(callID string, s0 []byte) error {
	session, ok := m.GetSession(callID)
	if !ok {
		return fmt.Errorf("no ZRTP session for call %s", callID)
	}

	session.mu.Lock()
	defer session.mu.Unlock()

	session.S0 = s0
	session.State = ZRTPStateKeyExchange
	session.LastUpdate = time.Now()

	var localZID, remoteZID zrtp.ZID
	copy(localZID[:], session.LocalZID)
	copy(remoteZID[:], session.RemoteZID)
	kdfCtx := append(append([]byte{}, localZID[:]...), remoteZID[:]...)

	ks := zrtp.DeriveKeySchedule(zrtp.HashSHA256, zrtp.CipherAES1CFB, s0, kdfCtx)
	session.keySchedule = ks

	sas, err := zrtp.RenderSAS(zrtp.SASBase32, ks.SASValue)
	if err != nil {
		return fmt.Errorf("render sas: %w", err)
	}
	session.SAS = sas

	m.logger.Info("ZRTP key exchange complete",
		"call_id", callID,
		"sas", session.SAS,
	)

	m.emitEvent(session, "key_exchange_complete")
	return nil
}

// VerifySAS attempts to verify the SAS with the user
func (m *ZRTPManager) VerifySAS(callID string) (bool, error) {
	session, ok := m.GetSession(callID)
	if !ok {
		return false, fmt.Errorf("no ZRTP session for call %s", callID)
	}

	session.mu.RLock()
	sas := session.SAS
	session.mu.RUnlock()

	if sas == "" {
		return false, fmt.Errorf("SAS not yet generated for call %s", callID)
	}

	m.mu.RLock()
	cb := m.sasVerify
	m.mu.RUnlock()

	if cb == nil {
		// No callback set, assume verified (for testing)
		m.logger.Warn("No SAS verification callback set, assuming verified",
			"call_id", callID,
			"sas", sas,
		)
		cb = func(string, string) bool { return true }
	}

	verified := cb(callID, sas)

	session.mu.Lock()
	if verified {
		session.State = ZRTPStateSecured
		session.SecuredAt = time.Now()
	}
	session.LastUpdate = time.Now()
	ks := session.keySchedule
	var remoteZID zrtp.ZID
	copy(remoteZID[:], session.RemoteZID)
	session.mu.Unlock()

	if verified {
		if ks != nil {
			if err := m.peerCache().UpdatePeerSecrets(callID, remoteZID, ks.NewRS1, true); err != nil {
				m.logger.Warn("failed to persist verified zrtp secrets", "call_id", callID, "error", err)
			}
		}
		m.logger.Info("ZRTP SAS verified - call is secured",
			"call_id", callID,
			"sas", sas,
		)
		m.emitEvent(session, "secured")
	} else {
		m.logger.Warn("ZRTP SAS verification failed",
			"call_id", callID,
			"sas", sas,
		)
		m.emitEvent(session, "sas_mismatch")
	}

	return verified, nil
}

// GetSAS returns the SAS for a call
func (m *ZRTPManager) GetSAS(callID string) (string, error) {
	session, ok := m.GetSession(callID)
	if !ok {
		return "", fmt.Errorf("no ZRTP session for call %s", callID)
	}

	session.mu.RLock()
	defer session.mu.RUnlock()

	if session.SAS == "" {
		return "", fmt.Errorf("SAS not yet generated")
	}

	return session.SAS, nil
}

// IsSecured returns whether a call has completed ZRTP verification
func (m *ZRTPManager) IsSecured(callID string) bool {
	session, ok := m.GetSession(callID)
	if !ok {
		return false
	}

	session.mu.RLock()
	defer session.mu.RUnlock()

	return session.State == ZRTPStateSecured
}

// DeriveKeys derives SRTP keys from the ZRTP shared secret
func (m *ZRTPManager) DeriveKeys(callID string) (*SRTPKeyMaterial, error) {
	session, ok := m.GetSession(callID)
	if !ok {
		return nil, fmt.Errorf("no ZRTP session for call %s", callID)
	}

	session.mu.Lock()
	defer session.mu.Unlock()

	if session.keySchedule == nil {
		return nil, fmt.Errorf("no shared secret available")
	}

	key, salt := session.keySchedule.SRTP.InitiatorKey, session.keySchedule.SRTP.InitiatorSalt
	if !session.isInitiator {
		key, salt = session.keySchedule.SRTP.ResponderKey, session.keySchedule.SRTP.ResponderSalt
	}

	session.SRTPKeys = &SRTPKeyMaterial{
		MasterKey:  key,
		MasterSalt: salt,
		Profile:    SRTPProfileAES128CMHMACSHA180,
	}
	session.SRTPCKeyi = session.keySchedule.SRTP.InitiatorKey
	session.SRTPCKeyr = session.keySchedule.SRTP.ResponderKey
	session.SRTPSalti = session.keySchedule.SRTP.InitiatorSalt
	session.SRTPSaltr = session.keySchedule.SRTP.ResponderSalt

	m.logger.Debug("ZRTP keys derived for call",
		"call_id", callID,
	)

	return session.SRTPKeys, nil
}

// emitEvent sends an event to the callback if set
func (m *ZRTPManager) emitEvent(session *ZRTPSession, event string) {
	m.mu.RLock()
	cb := m.onEvent
	m.mu.RUnlock()

	if cb != nil {
		cb(session, event)
	}
}

// Close cleans up the ZRTP manager
func (m *ZRTPManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for callID := range m.sessions {
		delete(m.sessions, callID)
	}

	m.logger.Info("ZRTP manager closed")
	return nil
}

// GetStats returns ZRTP statistics
func (m *ZRTPManager) GetStats() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return map[string]interface{}{
		"active_sessions": len(m.sessions),
		"cached_peers":    m.cache.Len(),
		"mode":            m.config.Mode,
		"enabled":         m.config.Enabled,
	}
}
