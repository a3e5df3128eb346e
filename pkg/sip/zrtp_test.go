package sip

import (
	"log/slog"
	"testing"
)

func testZRTPManager(t *testing.T) *ZRTPManager {
	t.Helper()
	mgr, err := NewZRTPManager(&ZRTPConfig{Enabled: true, Mode: ZRTPModeOptional, CacheExpiryDays: 30}, slog.Default())
	if err != nil {
		t.Fatalf("NewZRTPManager: %v", err)
	}
	return mgr
}

func TestNewZRTPManagerGeneratesZID(t *testing.T) {
	mgr := testZRTPManager(t)
	if len(mgr.config.ZID) != 12 {
		t.Fatalf("ZID length = %d, want 12", len(mgr.config.ZID))
	}
}

func TestStartSessionRejectsDuplicateCallID(t *testing.T) {
	mgr := testZRTPManager(t)
	if _, err := mgr.StartSession("call-1"); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if _, err := mgr.StartSession("call-1"); err == nil {
		t.Fatal("expected error starting a second session for the same call id")
	}
}

func TestGetSessionAndEndSession(t *testing.T) {
	mgr := testZRTPManager(t)
	if _, err := mgr.StartSession("call-2"); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if _, ok := mgr.GetSession("call-2"); !ok {
		t.Fatal("expected session to be found")
	}
	if err := mgr.EndSession("call-2"); err != nil {
		t.Fatalf("EndSession: %v", err)
	}
	if _, ok := mgr.GetSession("call-2"); ok {
		t.Fatal("expected session to be gone after EndSession")
	}
	// ending an unknown call id must not error
	if err := mgr.EndSession("never-existed"); err != nil {
		t.Fatalf("EndSession on unknown call: %v", err)
	}
}

func TestProcessHelloMarksCachedWhenSecretsKnown(t *testing.T) {
	mgr := testZRTPManager(t)
	if _, err := mgr.StartSession("call-3"); err != nil {
		t.Fatalf("StartSession: %v", err)
	}

	remoteZID := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}
	if err := mgr.ProcessHello("call-3", remoteZID); err != nil {
		t.Fatalf("ProcessHello: %v", err)
	}
	session, _ := mgr.GetSession("call-3")
	if session.IsCached {
		t.Error("a never-before-seen peer must not be reported as cached")
	}

	var zid [12]byte
	copy(zid[:], remoteZID)
	if err := mgr.cache.UpdatePeerSecrets("call-3", zid, []byte("rs1-material"), false); err != nil {
		t.Fatalf("UpdatePeerSecrets: %v", err)
	}
	if err := mgr.ProcessHello("call-3", remoteZID); err != nil {
		t.Fatalf("ProcessHello (second): %v", err)
	}
	session, _ = mgr.GetSession("call-3")
	if !session.IsCached {
		t.Error("expected IsCached once the peer's secrets were persisted")
	}
}

func TestCompleteKeyExchangeDerivesSASAndKeys(t *testing.T) {
	mgr := testZRTPManager(t)
	if _, err := mgr.StartSession("call-4"); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if err := mgr.ProcessHello("call-4", make([]byte, 12)); err != nil {
		t.Fatalf("ProcessHello: %v", err)
	}

	s0 := make([]byte, 32)
	for i := range s0 {
		s0[i] = byte(i)
	}
	if err := mgr.CompleteKeyExchange("call-4", s0); err != nil {
		t.Fatalf("CompleteKeyExchange: %v", err)
	}

	sas, err := mgr.GetSAS("call-4")
	if err != nil {
		t.Fatalf("GetSAS: %v", err)
	}
	if len(sas) != 4 {
		t.Errorf("SAS length = %d, want 4", len(sas))
	}

	keys, err := mgr.DeriveKeys("call-4")
	if err != nil {
		t.Fatalf("DeriveKeys: %v", err)
	}
	if len(keys.MasterKey) == 0 || len(keys.MasterSalt) == 0 {
		t.Error("expected non-empty SRTP master key/salt")
	}
}

func TestVerifySASWithoutCallbackAssumesVerified(t *testing.T) {
	mgr := testZRTPManager(t)
	if _, err := mgr.StartSession("call-5"); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if err := mgr.ProcessHello("call-5", make([]byte, 12)); err != nil {
		t.Fatalf("ProcessHello: %v", err)
	}
	if err := mgr.CompleteKeyExchange("call-5", []byte("thirty-two-byte-shared-secret!!")); err != nil {
		t.Fatalf("CompleteKeyExchange: %v", err)
	}

	verified, err := mgr.VerifySAS("call-5")
	if err != nil {
		t.Fatalf("VerifySAS: %v", err)
	}
	if !verified {
		t.Error("expected VerifySAS to assume verified when no callback is set")
	}
	if !mgr.IsSecured("call-5") {
		t.Error("expected session to be secured after SAS verification")
	}
}

func TestVerifySASRejection(t *testing.T) {
	mgr := testZRTPManager(t)
	mgr.SetSASVerificationCallback(func(callID, sas string) bool { return false })

	if _, err := mgr.StartSession("call-6"); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if err := mgr.ProcessHello("call-6", make([]byte, 12)); err != nil {
		t.Fatalf("ProcessHello: %v", err)
	}
	if err := mgr.CompleteKeyExchange("call-6", []byte("thirty-two-byte-shared-secret!!")); err != nil {
		t.Fatalf("CompleteKeyExchange: %v", err)
	}

	verified, err := mgr.VerifySAS("call-6")
	if err != nil {
		t.Fatalf("VerifySAS: %v", err)
	}
	if verified {
		t.Fatal("expected VerifySAS to report false when the callback rejects")
	}
	if mgr.IsSecured("call-6") {
		t.Error("a rejected SAS must not mark the call secured")
	}
}

func TestEventCallbackFiresOnLifecycle(t *testing.T) {
	mgr := testZRTPManager(t)
	var events []string
	mgr.SetEventCallback(func(session *ZRTPSession, event string) {
		events = append(events, event)
	})

	if _, err := mgr.StartSession("call-7"); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if err := mgr.EndSession("call-7"); err != nil {
		t.Fatalf("EndSession: %v", err)
	}

	if len(events) < 2 || events[0] != "started" || events[len(events)-1] != "ended" {
		t.Errorf("events = %v, want to start with 'started' and end with 'ended'", events)
	}
}

func TestGetStatsReportsActiveSessionsAndMode(t *testing.T) {
	mgr := testZRTPManager(t)
	if _, err := mgr.StartSession("call-8"); err != nil {
		t.Fatalf("StartSession: %v", err)
	}

	stats := mgr.GetStats()
	if stats["active_sessions"] != 1 {
		t.Errorf("active_sessions = %v, want 1", stats["active_sessions"])
	}
	if stats["mode"] != ZRTPModeOptional {
		t.Errorf("mode = %v, want %v", stats["mode"], ZRTPModeOptional)
	}
}

func TestDeriveKeysWithoutKeyExchangeFails(t *testing.T) {
	mgr := testZRTPManager(t)
	if _, err := mgr.StartSession("call-9"); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if _, err := mgr.DeriveKeys("call-9"); err == nil {
		t.Fatal("expected an error deriving keys before CompleteKeyExchange")
	}
}
