package ice

import "testing"

func TestGortcCodecEncodeParseRoundTrip(t *testing.T) {
	codec := GortcCodec{}
	var txn TransactionID
	copy(txn[:], []byte("abcdefghijkl"))

	m := &StunMessage{
		Class:           ClassRequest,
		TransactionID:   txn,
		Username:        "remote:local",
		HasPriority:     true,
		Priority:        12345,
		HasControlling:  true,
		ControllingTieBreaker: 0xdeadbeefcafebabe,
		IntegrityKey:    "password1234",
	}

	raw, err := codec.Encode(m)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	parsed, err := codec.Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if parsed.Class != ClassRequest {
		t.Errorf("Class = %v, want ClassRequest", parsed.Class)
	}
	if parsed.TransactionID != txn {
		t.Errorf("TransactionID = %x, want %x", parsed.TransactionID, txn)
	}
	if parsed.Username != m.Username {
		t.Errorf("Username = %q, want %q", parsed.Username, m.Username)
	}
	if !parsed.HasPriority || parsed.Priority != m.Priority {
		t.Errorf("Priority = %v/%d, want true/%d", parsed.HasPriority, parsed.Priority, m.Priority)
	}
	if !parsed.HasControlling || parsed.ControllingTieBreaker != m.ControllingTieBreaker {
		t.Errorf("ControllingTieBreaker = %v/%d, want true/%d", parsed.HasControlling, parsed.ControllingTieBreaker, m.ControllingTieBreaker)
	}
	if !parsed.HasMessageIntegrity {
		t.Errorf("expected MESSAGE-INTEGRITY to be present")
	}
	if !parsed.HasFingerprint {
		t.Errorf("expected FINGERPRINT to be present")
	}
}

func TestGortcCodecShortTermHMACMatchesReceivedIntegrity(t *testing.T) {
	codec := GortcCodec{}
	var txn TransactionID
	copy(txn[:], []byte("012345678901"))

	m := &StunMessage{
		Class:         ClassRequest,
		TransactionID: txn,
		Username:      "r:l",
		HasPriority:   true,
		Priority:      1,
		IntegrityKey:  "secret",
	}
	raw, err := codec.Encode(m)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	parsed, err := codec.Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	expected := codec.ShortTermHMAC("secret", parsed)
	if len(expected) == 0 {
		t.Fatalf("ShortTermHMAC returned empty value")
	}
	if len(parsed.ReceivedIntegrity) != len(expected) {
		t.Fatalf("ReceivedIntegrity length = %d, want %d", len(parsed.ReceivedIntegrity), len(expected))
	}
	if string(parsed.ReceivedIntegrity) != string(expected) {
		t.Fatalf("ReceivedIntegrity = %x, want %x", parsed.ReceivedIntegrity, expected)
	}
}

func TestGortcCodecParseRejectsCorruptedFingerprint(t *testing.T) {
	codec := GortcCodec{}
	var txn TransactionID
	copy(txn[:], []byte("mnopqrstuvwx"))
	m := &StunMessage{
		Class:         ClassRequest,
		TransactionID: txn,
		Username:      "r:l",
	}
	raw, err := codec.Encode(m)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	// Invert the first transaction-ID byte, which FINGERPRINT's CRC covers,
	// without touching the attribute itself.
	raw[8] ^= 0xff

	if _, err := codec.Parse(raw); err == nil {
		t.Fatalf("expected Parse to reject a message with a mismatched FINGERPRINT")
	}
}

func TestGortcCodecUseCandidateAndErrorCode(t *testing.T) {
	codec := GortcCodec{}
	var txn TransactionID
	m := &StunMessage{
		Class:         ClassErrorResponse,
		TransactionID: txn,
		HasErrorCode:  true,
		ErrorCode:     ErrorRoleConflict,
		UseCandidate:  true,
	}
	raw, err := codec.Encode(m)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	parsed, err := codec.Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !parsed.HasErrorCode {
		t.Fatalf("expected ERROR-CODE to round-trip")
	}
	if parsed.ErrorCode.Class != 4 || parsed.ErrorCode.Number != 87 {
		t.Errorf("ErrorCode = %+v, want class 4 number 87", parsed.ErrorCode)
	}
	if !parsed.UseCandidate {
		t.Errorf("expected USE-CANDIDATE to round-trip")
	}
}
