// Copyright 2025 Certen Protocol
//
// Record Payloads - tagged variants carried by signed records
//
// A payload is one of {Root, Ownership, Transfer, Rejection}. Every
// variant knows its tag byte and how to append itself to the canonical
// byte form used for hashing and signing. Consumers dispatch on the tag;
// there is no dynamic payload shape anywhere in the log.

package record

import (
	"encoding/json"
	"fmt"
)

// Kind tags a payload variant. The byte value is part of the canonical
// wire form and must never change.
type Kind byte

const (
	KindRoot      Kind = 0x01
	KindOwnership Kind = 0x02
	KindTransfer  Kind = 0x03
	KindRejection Kind = 0x04
)

// String returns the payload kind name.
func (k Kind) String() string {
	switch k {
	case KindRoot:
		return "root"
	case KindOwnership:
		return "ownership"
	case KindTransfer:
		return "transfer"
	case KindRejection:
		return "rejection"
	default:
		return fmt.Sprintf("kind(0x%02x)", byte(k))
	}
}

// Payload is the tagged variant carried by a record.
type Payload interface {
	Kind() Kind

	// appendCanonical appends the payload fields, in fixed order, to the
	// canonical byte form.
	appendCanonical(buf []byte) []byte
}

// RootPayload seeds a chain: the hash of the chain definition it was
// minted from and the serial number it represents.
type RootPayload struct {
	DefinitionHash string `json:"definition_hash"`
	Serial         uint64 `json:"serial"`
}

// Kind implements Payload.
func (p *RootPayload) Kind() Kind { return KindRoot }

func (p *RootPayload) appendCanonical(buf []byte) []byte {
	buf = appendString(buf, p.DefinitionHash)
	buf = appendUint64(buf, p.Serial)
	return buf
}

// WellFormed reports whether the root carries both required fields.
func (p *RootPayload) WellFormed() bool {
	return p != nil && p.DefinitionHash != ""
}

// OwnershipPayload assigns the initial owner of a chain.
type OwnershipPayload struct {
	Owner string `json:"owner"` // hex-encoded compressed public key
}

// Kind implements Payload.
func (p *OwnershipPayload) Kind() Kind { return KindOwnership }

func (p *OwnershipPayload) appendCanonical(buf []byte) []byte {
	return appendString(buf, p.Owner)
}

// TransferPayload moves a chain to a designated next owner.
type TransferPayload struct {
	ChainID   string `json:"chain_id"`
	NextOwner string `json:"next_owner"` // hex-encoded compressed public key
	PrevID    string `json:"prev_id"`    // id of the record being extended
}

// Kind implements Payload.
func (p *TransferPayload) Kind() Kind { return KindTransfer }

func (p *TransferPayload) appendCanonical(buf []byte) []byte {
	buf = appendString(buf, p.ChainID)
	buf = appendString(buf, p.NextOwner)
	buf = appendString(buf, p.PrevID)
	return buf
}

// RejectionPayload documents a rejected record. Rejections never enter a
// chain log; they ride on security messages only.
type RejectionPayload struct {
	RejectedID string `json:"rejected_id"`
	Reason     string `json:"reason"`
	Rejector   string `json:"rejector"`
	Tick       uint64 `json:"tick"`
}

// Kind implements Payload.
func (p *RejectionPayload) Kind() Kind { return KindRejection }

func (p *RejectionPayload) appendCanonical(buf []byte) []byte {
	buf = appendString(buf, p.RejectedID)
	buf = appendString(buf, p.Reason)
	buf = appendString(buf, p.Rejector)
	buf = appendUint64(buf, p.Tick)
	return buf
}

// payloadEnvelope is the JSON form of a tagged payload.
type payloadEnvelope struct {
	Kind string          `json:"kind"`
	Body json.RawMessage `json:"body"`
}

func marshalPayload(p Payload) (json.RawMessage, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", p.Kind(), err)
	}
	env := payloadEnvelope{Kind: p.Kind().String(), Body: body}
	return json.Marshal(env)
}

func unmarshalPayload(data json.RawMessage) (Payload, error) {
	var env payloadEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode payload envelope: %w", err)
	}
	var p Payload
	switch env.Kind {
	case "root":
		p = &RootPayload{}
	case "ownership":
		p = &OwnershipPayload{}
	case "transfer":
		p = &TransferPayload{}
	case "rejection":
		p = &RejectionPayload{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownPayloadKind, env.Kind)
	}
	if err := json.Unmarshal(env.Body, p); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", env.Kind, err)
	}
	return p, nil
}
