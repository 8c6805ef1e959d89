package ice

import (
	"encoding/binary"
	"hash/crc32"
	"net"

	"github.com/pkg/errors"

	"github.com/gortc/stun"
)

// fingerprintXOR is the constant STUN XORs into the FINGERPRINT CRC-32,
// RFC 5389 §15.5.
const fingerprintXOR = 0x5354554e

// fingerprintAttrSize is FINGERPRINT's 4-byte attribute header plus its
// 4-byte CRC-32 value.
const fingerprintAttrSize = 8

func netIPFromLiteral(ip string) net.IP { return net.ParseIP(ip) }

// GortcCodec is the production StunCodec, backed by github.com/gortc/stun,
// the same STUN implementation gortcd's own handlers and internal/auth use.
// It reproduces the Setter/Getter attribute idiom of the vendored
// icecontrol.go/priority.go (tieBreaker-keyed ICE-CONTROLLING/ICE-CONTROLLED,
// PRIORITY as a raw uint32 attribute) against our own StunMessage model
// instead of gortc/ice's Pair/Candidate types.
type GortcCodec struct{}

const tieBreakerSize = 8

// iceTieBreaker adapts a uint64 tie-breaker to the stun.Setter/Getter
// interfaces for either ICE-CONTROLLING or ICE-CONTROLLED, mirroring the
// vendored ice package's tieBreaker helper type.
type iceTieBreaker struct {
	attr  stun.AttrType
	value uint64
}

func (t iceTieBreaker) AddTo(m *stun.Message) error {
	v := make([]byte, tieBreakerSize)
	binary.BigEndian.PutUint64(v, t.value)
	m.Add(t.attr, v)
	return nil
}

func getTieBreaker(m *stun.Message, attr stun.AttrType) (uint64, bool, error) {
	v, err := m.Get(attr)
	if err == stun.ErrAttributeNotFound {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	if len(v) != tieBreakerSize {
		return 0, false, errors.Errorf("ice: bad %s length %d", attr, len(v))
	}
	return binary.BigEndian.Uint64(v), true, nil
}

// icePriority adapts a uint32 to stun's generic attribute Add, mirroring
// the vendored priority.go's Priority Setter.
type icePriority uint32

func (p icePriority) AddTo(m *stun.Message) error {
	v := make([]byte, 4)
	binary.BigEndian.PutUint32(v, uint32(p))
	m.Add(stun.AttrPriority, v)
	return nil
}

func getPriority(m *stun.Message) (uint32, bool, error) {
	v, err := m.Get(stun.AttrPriority)
	if err == stun.ErrAttributeNotFound {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	if len(v) != 4 {
		return 0, false, errors.Errorf("ice: bad PRIORITY length %d", len(v))
	}
	return binary.BigEndian.Uint32(v), true, nil
}

// attrUseCandidate is a zero-length flag attribute; its mere presence is
// the signal (RFC 5245 §7.1.2.1).
type attrUseCandidate struct{}

func (attrUseCandidate) AddTo(m *stun.Message) error {
	m.Add(stun.AttrUseCandidate, nil)
	return nil
}

func hasUseCandidate(m *stun.Message) bool {
	_, err := m.Get(stun.AttrUseCandidate)
	return err == nil
}

func stunClass(c MessageClass) stun.MessageClass {
	switch c {
	case ClassRequest:
		return stun.ClassRequest
	case ClassIndication:
		return stun.ClassIndication
	case ClassSuccessResponse:
		return stun.ClassSuccessResponse
	default:
		return stun.ClassErrorResponse
	}
}

func fromStunClass(c stun.MessageClass) MessageClass {
	switch c {
	case stun.ClassRequest:
		return ClassRequest
	case stun.ClassIndication:
		return ClassIndication
	case stun.ClassSuccessResponse:
		return ClassSuccessResponse
	default:
		return ClassErrorResponse
	}
}

// buildAttrs constructs the header and every ICE attribute of m, stopping
// short of MESSAGE-INTEGRITY and FINGERPRINT so callers can add either, both,
// or neither on top (a message with FINGERPRINT already attached would hash
// differently under MESSAGE-INTEGRITY than the wire encoding Encode
// produces, since FINGERPRINT must always come last).
func buildAttrs(m *StunMessage) (*stun.Message, error) {
	raw := new(stun.Message)
	copy(raw.TransactionID[:], m.TransactionID[:])
	raw.Type = stun.MessageType{Method: stun.MethodBinding, Class: stunClass(m.Class)}
	raw.WriteHeader()

	var setters []stun.Setter
	if m.Username != "" {
		setters = append(setters, stun.Username(m.Username))
	}
	if m.HasPriority {
		setters = append(setters, icePriority(m.Priority))
	}
	if m.HasControlling {
		setters = append(setters, iceTieBreaker{attr: stun.AttrICEControlling, value: m.ControllingTieBreaker})
	}
	if m.HasControlled {
		setters = append(setters, iceTieBreaker{attr: stun.AttrICEControlled, value: m.ControlledTieBreaker})
	}
	if m.UseCandidate {
		setters = append(setters, attrUseCandidate{})
	}
	if m.HasXORMappedAddress {
		xma := stun.XORMappedAddress{
			IP:   netIPFromLiteral(m.XORMappedAddress.IP),
			Port: m.XORMappedAddress.Port,
		}
		setters = append(setters, &xma)
	}
	if m.HasErrorCode {
		setters = append(setters, &stun.ErrorCodeAttribute{
			Code:   stun.ErrorCode(int(m.ErrorCode.Class)*100 + int(m.ErrorCode.Number)),
			Reason: []byte(m.ErrorCode.Reason),
		})
	}
	for _, s := range setters {
		if err := s.AddTo(raw); err != nil {
			return nil, errors.Wrap(err, "ice: failed to add attribute")
		}
	}
	return raw, nil
}

// Encode builds the wire bytes for m. Attribute order follows
// internal/server/context.go's build: header fields, then ICE attributes,
// then MESSAGE-INTEGRITY (if m.IntegrityKey is set), then FINGERPRINT last.
func (GortcCodec) Encode(m *StunMessage) ([]byte, error) {
	raw, err := buildAttrs(m)
	if err != nil {
		return nil, err
	}
	if m.IntegrityKey != "" {
		integrity := stun.NewShortTermIntegrity(m.IntegrityKey)
		if err := integrity.AddTo(raw); err != nil {
			return nil, errors.Wrap(err, "ice: failed to add MESSAGE-INTEGRITY")
		}
	}
	if err := stun.Fingerprint.AddTo(raw); err != nil {
		return nil, errors.Wrap(err, "ice: failed to add FINGERPRINT")
	}
	return raw.Raw, nil
}

// Parse decodes b into our StunMessage view, carrying forward every ICE
// attribute the engine cares about. It does not reject a message for
// missing ICE attributes; that judgment belongs to the adapter (spec
// §4.4 step 1).
func (GortcCodec) Parse(b []byte) (*StunMessage, error) {
	raw := new(stun.Message)
	raw.Raw = append([]byte(nil), b...)
	if err := raw.Decode(); err != nil {
		return nil, errors.Wrap(err, "ice: malformed STUN message")
	}

	out := &StunMessage{Class: fromStunClass(raw.Type.Class)}
	copy(out.TransactionID[:], raw.TransactionID[:])

	var username stun.Username
	if err := username.GetFrom(raw); err == nil {
		out.Username = string(username)
	} else if err != stun.ErrAttributeNotFound {
		return nil, errors.Wrap(err, "ice: bad USERNAME")
	}

	if p, ok, err := getPriority(raw); err != nil {
		return nil, errors.Wrap(err, "ice: bad PRIORITY")
	} else if ok {
		out.HasPriority, out.Priority = true, p
	}

	if v, ok, err := getTieBreaker(raw, stun.AttrICEControlling); err != nil {
		return nil, errors.Wrap(err, "ice: bad ICE-CONTROLLING")
	} else if ok {
		out.HasControlling, out.ControllingTieBreaker = true, v
	}
	if v, ok, err := getTieBreaker(raw, stun.AttrICEControlled); err != nil {
		return nil, errors.Wrap(err, "ice: bad ICE-CONTROLLED")
	} else if ok {
		out.HasControlled, out.ControlledTieBreaker = true, v
	}

	out.UseCandidate = hasUseCandidate(raw)

	var xma stun.XORMappedAddress
	if err := xma.GetFrom(raw); err == nil {
		out.HasXORMappedAddress = true
		out.XORMappedAddress = TransportAddress{IP: xma.IP.String(), Port: xma.Port}
	} else if err != stun.ErrAttributeNotFound {
		return nil, errors.Wrap(err, "ice: bad XOR-MAPPED-ADDRESS")
	}

	var ec stun.ErrorCodeAttribute
	if err := ec.GetFrom(raw); err == nil {
		out.HasErrorCode = true
		out.ErrorCode = ErrorCode{
			Class:  byte(int(ec.Code) / 100),
			Number: byte(int(ec.Code) % 100),
			Reason: string(ec.Reason),
		}
	} else if err != stun.ErrAttributeNotFound {
		return nil, errors.Wrap(err, "ice: bad ERROR-CODE")
	}

	if v, err := raw.Get(stun.AttrMessageIntegrity); err == nil {
		out.HasMessageIntegrity = true
		out.ReceivedIntegrity = append([]byte(nil), v...)
	} else if err != stun.ErrAttributeNotFound {
		return nil, errors.Wrap(err, "ice: bad MESSAGE-INTEGRITY")
	}

	if _, err := raw.Get(stun.AttrFingerprint); err == nil {
		out.HasFingerprint = true
		// FINGERPRINT is always the last attribute (RFC 5389 §15.5); its
		// CRC covers every byte that precedes it, header length field
		// included, since that field already reflects the final message
		// length by the time FINGERPRINT is appended.
		if len(raw.Raw) < fingerprintAttrSize {
			return nil, errors.New("ice: FINGERPRINT attribute truncated")
		}
		prefix := raw.Raw[:len(raw.Raw)-fingerprintAttrSize]
		got := binary.BigEndian.Uint32(raw.Raw[len(raw.Raw)-4:])
		if want := (GortcCodec{}).Fingerprint(prefix); got != want {
			return nil, errors.New("ice: FINGERPRINT checksum mismatch")
		}
	} else if err != stun.ErrAttributeNotFound {
		return nil, errors.Wrap(err, "ice: bad FINGERPRINT")
	}

	return out, nil
}

// ShortTermHMAC computes the MESSAGE-INTEGRITY value m would carry if
// signed with key: the same attribute set Encode would write, with
// MESSAGE-INTEGRITY added and FINGERPRINT withheld, matching the byte range
// the real encoding signs.
func (c GortcCodec) ShortTermHMAC(key string, m *StunMessage) []byte {
	raw, err := buildAttrs(m)
	if err != nil {
		return nil
	}
	integrity := stun.NewShortTermIntegrity(key)
	if err := integrity.AddTo(raw); err != nil {
		return nil
	}
	v, err := raw.Get(stun.AttrMessageIntegrity)
	if err != nil {
		return nil
	}
	return v
}

// Fingerprint computes the CRC-32 FINGERPRINT value for b per RFC 5389
// §15.5: CRC-32 of b XORed with the constant 0x5354554e. Parse calls this
// to verify an incoming message's FINGERPRINT; Encode adds the attribute
// itself via the vendored stun.Fingerprint Setter rather than through this
// method, since AddTo also handles growing the message's length field.
func (GortcCodec) Fingerprint(b []byte) uint32 {
	return crc32.ChecksumIEEE(b) ^ fingerprintXOR
}
