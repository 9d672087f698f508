// Copyright 2025 Certen Protocol
//
// Record - the atomic, immutable element of a chain log
//
// A record binds a tagged payload to its position (prev-id), its creator
// and its creation tick. The id is the hex SHA-256 of the canonical byte
// form and is final at construction; the signature is a detached ECDSA
// signature over the raw id bytes. Once signed, nothing may change.

package record

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/saintthor/chainsim/pkg/keys"
)

// SystemCreator is the reserved creator identity for system-minted
// records. Only well-formed root payloads may carry it.
const SystemCreator = "system"

// SystemSignature is the well-known sentinel signature carried by
// system-minted root records. It participates in serialization verbatim;
// signature verification accepts it only for well-formed roots.
var SystemSignature = []byte("chainsim:system-root:v1")

// Record is an immutable signed log element.
type Record struct {
	id        string
	payload   Payload
	prevID    string
	creator   string
	tick      uint64
	signature []byte
}

// New constructs an unsigned record and computes its content-addressed
// id. prevID is empty only for the root.
func New(payload Payload, prevID, creator string, tick uint64) (*Record, error) {
	if payload == nil {
		return nil, ErrNilPayload
	}
	if creator == "" {
		return nil, ErrCreatorMissing
	}
	digest := keys.SHA256(canonicalBytes(payload, prevID, creator, tick))
	return &Record{
		id:      hex.EncodeToString(digest[:]),
		payload: payload,
		prevID:  prevID,
		creator: creator,
		tick:    tick,
	}, nil
}

// NewSystemRoot mints a root record with the reserved system creator and
// the well-known system signature.
func NewSystemRoot(definitionHash string, serial, tick uint64) (*Record, error) {
	rec, err := New(&RootPayload{DefinitionHash: definitionHash, Serial: serial}, "", SystemCreator, tick)
	if err != nil {
		return nil, err
	}
	rec.signature = append([]byte(nil), SystemSignature...)
	return rec, nil
}

// ID returns the hex record id.
func (r *Record) ID() string { return r.id }

// IDBytes returns the raw 32-byte digest behind the id. Signatures are
// computed over these bytes.
func (r *Record) IDBytes() ([]byte, error) {
	raw, err := hex.DecodeString(r.id)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIDMissing, err)
	}
	return raw, nil
}

// Payload returns the tagged payload.
func (r *Record) Payload() Payload { return r.payload }

// Kind returns the payload variant tag.
func (r *Record) Kind() Kind { return r.payload.Kind() }

// PrevID returns the previous-record id, empty for the root.
func (r *Record) PrevID() string { return r.prevID }

// Creator returns the creator identity: a hex public key or "system".
func (r *Record) Creator() string { return r.creator }

// Tick returns the creation tick.
func (r *Record) Tick() uint64 { return r.tick }

// Signature returns a copy of the detached signature, nil if unsigned.
func (r *Record) Signature() []byte {
	if r.signature == nil {
		return nil
	}
	return append([]byte(nil), r.signature...)
}

// Signed reports whether the record carries a signature.
func (r *Record) Signed() bool { return len(r.signature) > 0 }

// Sign fills the detached signature with an ECDSA signature over the raw
// id bytes. Signing an already-signed record is an error: records are
// immutable once signed.
func (r *Record) Sign(privateKey []byte) error {
	if r.Signed() {
		return ErrAlreadySigned
	}
	idBytes, err := r.IDBytes()
	if err != nil {
		return err
	}
	sig, err := keys.Sign(privateKey, idBytes)
	if err != nil {
		return fmt.Errorf("sign record %s: %w", r.id, err)
	}
	r.signature = sig
	return nil
}

// SignWith signs using an in-memory key pair.
func (r *Record) SignWith(kp *keys.KeyPair) error {
	if r.Signed() {
		return ErrAlreadySigned
	}
	idBytes, err := r.IDBytes()
	if err != nil {
		return err
	}
	sig, err := kp.Sign(idBytes)
	if err != nil {
		return fmt.Errorf("sign record %s: %w", r.id, err)
	}
	r.signature = sig
	return nil
}

// VerifyBasic checks that the id matches a recomputation over the
// canonical form and that a signature is present. It does not verify the
// signature against any key.
func (r *Record) VerifyBasic() error {
	digest := keys.SHA256(canonicalBytes(r.payload, r.prevID, r.creator, r.tick))
	if hex.EncodeToString(digest[:]) != r.id {
		return ErrIDMismatch
	}
	if !r.Signed() {
		return ErrSignatureMissing
	}
	return nil
}

// IsSystemRoot reports whether the record is a system-minted root with
// the sentinel signature and a well-formed root payload.
func (r *Record) IsSystemRoot() bool {
	if r.creator != SystemCreator || r.Kind() != KindRoot {
		return false
	}
	root, ok := r.payload.(*RootPayload)
	if !ok || !root.WellFormed() {
		return false
	}
	return bytes.Equal(r.signature, SystemSignature)
}

// recordJSON is the serialized form. Field order matches the canonical
// form so persisted trees stay diffable against the wire contract.
type recordJSON struct {
	ID        string          `json:"id"`
	Payload   json.RawMessage `json:"payload"`
	PrevID    string          `json:"prev_id,omitempty"`
	Creator   string          `json:"creator"`
	Tick      uint64          `json:"tick"`
	Signature string          `json:"signature"` // hex
}

// MarshalJSON implements json.Marshaler.
func (r *Record) MarshalJSON() ([]byte, error) {
	payload, err := marshalPayload(r.payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(recordJSON{
		ID:        r.id,
		Payload:   payload,
		PrevID:    r.prevID,
		Creator:   r.creator,
		Tick:      r.tick,
		Signature: hex.EncodeToString(r.signature),
	})
}

// UnmarshalJSON implements json.Unmarshaler. The restored record is
// revalidated: its id must match a recomputation over the canonical form
// and its signature bytes are preserved verbatim.
func (r *Record) UnmarshalJSON(data []byte) error {
	var raw recordJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode record: %w", err)
	}
	payload, err := unmarshalPayload(raw.Payload)
	if err != nil {
		return err
	}
	sig, err := hex.DecodeString(raw.Signature)
	if err != nil {
		return fmt.Errorf("decode record signature: %w", err)
	}
	restored := Record{
		id:        raw.ID,
		payload:   payload,
		prevID:    raw.PrevID,
		creator:   raw.Creator,
		tick:      raw.Tick,
		signature: sig,
	}
	digest := keys.SHA256(canonicalBytes(payload, raw.PrevID, raw.Creator, raw.Tick))
	if hex.EncodeToString(digest[:]) != raw.ID {
		return ErrIDMismatch
	}
	*r = restored
	return nil
}
