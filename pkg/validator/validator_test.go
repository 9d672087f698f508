// Copyright 2025 Certen Protocol
//
// Unit tests for the validator: signatures, integrity, legality,
// double-spend detection and the timing checks

package validator

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/saintthor/chainsim/pkg/chain"
	"github.com/saintthor/chainsim/pkg/keys"
	"github.com/saintthor/chainsim/pkg/record"
	"github.com/saintthor/chainsim/pkg/security"
)

func newValidator(t *testing.T) *Validator {
	t.Helper()
	v := New(nil)
	t.Cleanup(v.Close)
	return v
}

func ownedChain(t *testing.T) (*chain.Chain, *keys.KeyPair) {
	t.Helper()
	c, err := chain.NewFromRoot("defhash", 1, 100, 0)
	require.NoError(t, err)
	owner, err := keys.Generate()
	require.NoError(t, err)
	_, err = c.CreateOwnership(owner, 1)
	require.NoError(t, err)
	return c, owner
}

func signedTransfer(t *testing.T, c *chain.Chain, from *keys.KeyPair, toPub, prevID string, tick uint64) *record.Record {
	t.Helper()
	rec, err := record.New(&record.TransferPayload{
		ChainID:   c.ID(),
		NextOwner: toPub,
		PrevID:    prevID,
	}, prevID, from.PublicHex(), tick)
	require.NoError(t, err)
	require.NoError(t, rec.SignWith(from))
	return rec
}

// ============================================================================
// Signature Verification Tests
// ============================================================================

func TestVerifySignature(t *testing.T) {
	v := newValidator(t)
	c, owner := ownedChain(t)

	res := v.VerifySignature(c.Ownership())
	require.True(t, res.Valid, "signed ownership record should verify: %s", res.Message)

	// System root verifies without a key.
	res = v.VerifySignature(c.Root())
	require.True(t, res.Valid, "system root should be signature-valid: %s", res.Message)

	// A non-root system record is rejected.
	fake, err := record.New(&record.TransferPayload{ChainID: c.ID(), NextOwner: "x", PrevID: "p"}, "p", record.SystemCreator, 2)
	require.NoError(t, err)
	res = v.VerifySignature(fake)
	require.Equal(t, CodeInvalidSystemBlock, res.Code)

	// An unsigned user record is rejected.
	unsigned, err := record.New(&record.OwnershipPayload{Owner: owner.PublicHex()}, c.ID(), owner.PublicHex(), 2)
	require.NoError(t, err)
	res = v.VerifySignature(unsigned)
	require.Equal(t, CodeSignatureMissing, res.Code)

	res = v.VerifySignature(nil)
	require.Equal(t, CodeBlockNull, res.Code)
}

func TestVerifySignatureWrongKey(t *testing.T) {
	v := newValidator(t)
	c, _ := ownedChain(t)

	imposter, _ := keys.Generate()
	target, _ := keys.Generate()
	// Creator claims to be the imposter but the record is signed by a
	// third key.
	other, _ := keys.Generate()
	rec, err := record.New(&record.TransferPayload{
		ChainID:   c.ID(),
		NextOwner: target.PublicHex(),
		PrevID:    c.Latest().ID(),
	}, c.Latest().ID(), imposter.PublicHex(), 2)
	require.NoError(t, err)
	require.NoError(t, rec.SignWith(other))

	res := v.VerifySignature(rec)
	require.Equal(t, CodeSignatureInvalid, res.Code)
}

// ============================================================================
// Chain Integrity Tests
// ============================================================================

func TestVerifyChainIntegrityValidPath(t *testing.T) {
	v := newValidator(t)
	c, owner := ownedChain(t)
	next, _ := keys.Generate()
	rec := signedTransfer(t, c, owner, next.PublicHex(), c.Latest().ID(), 2)
	require.NoError(t, c.Append(rec))

	res := v.VerifyChainIntegrity(c, nil)
	require.True(t, res.Valid, "integrity walk: %s", res.Message)
	require.Len(t, c.WalkToRoot(), 3, "path root -> ownership -> transfer")
}

func TestVerifyChainIntegrityNilChain(t *testing.T) {
	v := newValidator(t)
	res := v.VerifyChainIntegrity(nil, nil)
	require.Equal(t, CodeChainNull, res.Code)
}

// ============================================================================
// Legality Tests
// ============================================================================

func TestValidateLegality(t *testing.T) {
	v := newValidator(t)
	ledger := security.NewLedger(nil)
	c, owner := ownedChain(t)
	next, _ := keys.Generate()

	rec := signedTransfer(t, c, owner, next.PublicHex(), c.Latest().ID(), 2)
	res := v.ValidateLegality(rec, c, ledger)
	require.True(t, res.Valid, "legal transfer: %s", res.Message)

	// Blacklisted creator.
	ledger.AddToBlacklist(owner.PublicHex(), security.ReasonManual, 2)
	rec2 := signedTransfer(t, c, owner, next.PublicHex(), c.Latest().ID(), 3)
	res = v.ValidateLegality(rec2, c, ledger)
	require.Equal(t, CodeCreatorBlacklisted, res.Code)
	ledger.RemoveFromBlacklist(owner.PublicHex(), 3)

	// Transfer by a stranger.
	stranger, _ := keys.Generate()
	res = v.ValidateLegality(signedTransfer(t, c, stranger, next.PublicHex(), c.Latest().ID(), 4), c, ledger)
	require.Equal(t, CodeOwnershipViolation, res.Code)

	// Record already present. Ownership is checked before position, so the
	// present record must be one its creator still owns after it: a
	// self-transfer by the current owner.
	require.NoError(t, c.Append(rec))
	self := signedTransfer(t, c, next, next.PublicHex(), c.Latest().ID(), 5)
	require.NoError(t, c.Append(self))
	res = v.ValidateLegality(self, c, ledger)
	require.Equal(t, CodePositionConflict, res.Code)

	// Unresolvable predecessor.
	ghost := signedTransfer(t, c, next, owner.PublicHex(), "ffffffffffffffff", 5)
	res = v.ValidateLegality(ghost, c, ledger)
	require.Equal(t, CodePreviousBlockNotFound, res.Code)
}

func TestValidateLegalityApprovedFork(t *testing.T) {
	v := newValidator(t)
	ledger := security.NewLedger(nil)
	c, owner := ownedChain(t)
	ownershipID := c.Latest().ID()

	a, _ := keys.Generate()
	b, _ := keys.Generate()
	first := signedTransfer(t, c, owner, a.PublicHex(), ownershipID, 2)
	require.NoError(t, c.Append(first))

	// The new owner extends the ownership record instead of the tail: a
	// position conflict by the rightful owner. Rejected as an
	// unapproved fork, accepted once the pair is approved.
	candidate := signedTransfer(t, c, a, b.PublicHex(), ownershipID, 3)
	res := v.ValidateLegality(candidate, c, ledger)
	require.Equal(t, CodeUnapprovedFork, res.Code)

	ledger.ApproveFork(ownershipID, candidate.ID(), 4)
	v.ClearCache()
	res = v.ValidateLegality(candidate, c, ledger)
	require.True(t, res.Valid, "approved fork should pass legality: %s", res.Message)
}

// ============================================================================
// Double Spend Tests
// ============================================================================

func TestDetectDoubleSpend(t *testing.T) {
	v := newValidator(t)
	c, owner := ownedChain(t)
	ownershipID := c.Latest().ID()

	a, _ := keys.Generate()
	b, _ := keys.Generate()
	tv := signedTransfer(t, c, owner, a.PublicHex(), ownershipID, 2)
	require.NoError(t, c.Append(tv))

	tw := signedTransfer(t, c, owner, b.PublicHex(), ownershipID, 3)
	report := v.DetectDoubleSpend(tw, c)
	require.True(t, report.IsDoubleSpend)
	require.Equal(t, owner.PublicHex(), report.Attacker)
	require.Equal(t, AttackDoubleSpend, report.AttackType)
	require.Contains(t, report.ConflictingRecords, tv.ID())
	require.Equal(t, "high", report.Severity)
}

func TestDetectDuplicateTransfer(t *testing.T) {
	v := newValidator(t)
	c, owner := ownedChain(t)
	ownershipID := c.Latest().ID()

	a, _ := keys.Generate()
	tv := signedTransfer(t, c, owner, a.PublicHex(), ownershipID, 2)
	require.NoError(t, c.Append(tv))

	// Same creator, same next owner, distinct record.
	dup := signedTransfer(t, c, owner, a.PublicHex(), ownershipID, 3)
	report := v.DetectDoubleSpend(dup, c)
	require.True(t, report.IsDoubleSpend)
	require.Equal(t, AttackDuplicateTransfer, report.AttackType)
}

func TestValidateSecurityBlacklistsDoubleSpender(t *testing.T) {
	v := newValidator(t)
	ledger := security.NewLedger(nil)
	c, owner := ownedChain(t)
	ownershipID := c.Latest().ID()

	a, _ := keys.Generate()
	b, _ := keys.Generate()
	tv := signedTransfer(t, c, owner, a.PublicHex(), ownershipID, 2)
	require.NoError(t, c.Append(tv))
	tw := signedTransfer(t, c, owner, b.PublicHex(), ownershipID, 3)

	res := v.ValidateSecurity(tw, c, ledger, 3)
	require.Equal(t, CodeDoubleSpendDetected, res.Code)
	require.True(t, ledger.IsBlacklisted(owner.PublicHex()),
		"double spender must be blacklisted")

	events := ledger.Events()
	require.NotEmpty(t, events)
	var blacklisted bool
	for _, ev := range events {
		if ev.Type == security.EventBlacklisted && ev.Reason == string(security.ReasonDoubleSpendAttack) {
			blacklisted = true
		}
	}
	require.True(t, blacklisted, "ledger must carry a DoubleSpendAttack event")
}

func TestValidateSecurityAcceptsHonestTransfer(t *testing.T) {
	v := newValidator(t)
	ledger := security.NewLedger(nil)
	c, owner := ownedChain(t)
	next, _ := keys.Generate()
	rec := signedTransfer(t, c, owner, next.PublicHex(), c.Latest().ID(), 2)

	res := v.ValidateSecurity(rec, c, ledger, 2)
	require.True(t, res.Valid, "honest transfer: %s", res.Message)
	require.Zero(t, ledger.BlacklistSize())
}

// ============================================================================
// Timing Tests
// ============================================================================

func TestBroadcastTime(t *testing.T) {
	cases := []struct {
		name   string
		params NetworkParams
		want   uint64
	}{
		{"eight nodes two connections", NetworkParams{NodeCount: 8, AvgConnections: 2, MaxDelay: 9}, 27},
		{"missing node count", NetworkParams{AvgConnections: 2, MaxDelay: 7}, 7},
		{"missing everything", NetworkParams{}, DefaultBroadcastDelay},
		{"single hop", NetworkParams{NodeCount: 2, AvgConnections: 4, MaxDelay: 5}, 5},
		{"degree below two clamps", NetworkParams{NodeCount: 4, AvgConnections: 1, MaxDelay: 3}, 6},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, BroadcastTime(tc.params))
		})
	}
}

func TestValidateReceptionTime(t *testing.T) {
	v := newValidator(t)
	c, owner := ownedChain(t)
	next, _ := keys.Generate()
	params := NetworkParams{NodeCount: 8, AvgConnections: 2, MaxDelay: 9} // broadcast time 27

	rec, err := record.New(&record.TransferPayload{
		ChainID: c.ID(), NextOwner: next.PublicHex(), PrevID: c.Latest().ID(),
	}, c.Latest().ID(), owner.PublicHex(), 100)
	require.NoError(t, err)
	require.NoError(t, rec.SignWith(owner))

	// 54 ticks is exactly the limit.
	res := v.ValidateReceptionTime(rec, 154, params)
	require.True(t, res.Valid)

	// 55 ticks is one over.
	res = v.ValidateReceptionTime(rec, 155, params)
	require.Equal(t, CodeTimeValidationFailed, res.Code)
	require.True(t, res.ShouldReject)
}

func TestValidateReceptionConfirmation(t *testing.T) {
	v := newValidator(t)
	c, owner := ownedChain(t)
	next, _ := keys.Generate()
	params := NetworkParams{NodeCount: 8, AvgConnections: 2, MaxDelay: 9} // wait 108, end 208

	rec := signedTransfer(t, c, owner, next.PublicHex(), c.Latest().ID(), 100)

	res := v.ValidateReceptionConfirmation(rec, 100, 207, params, nil, nil)
	require.Equal(t, CodeConfirmationPending, res.Code)
	require.EqualValues(t, 1, res.RemainingTicks)
	require.True(t, res.Pending())

	res = v.ValidateReceptionConfirmation(rec, 100, 208, params, nil, nil)
	require.True(t, res.Valid)
	require.Equal(t, CodeConfirmed, res.Code)

	// A conflicting record inside the window invalidates.
	conflict := signedTransfer(t, c, owner, owner.PublicHex(), c.Latest().ID(), 150)
	res = v.ValidateReceptionConfirmation(rec, 100, 208, params, []*record.Record{conflict}, nil)
	require.Equal(t, CodeConflictDetected, res.Code)

	// A conflict outside the window does not.
	late := signedTransfer(t, c, owner, owner.PublicHex(), c.Latest().ID(), 300)
	res = v.ValidateReceptionConfirmation(rec, 100, 400, params, []*record.Record{late}, nil)
	require.True(t, res.Valid)

	// A warning referencing the record inside the window invalidates.
	res = v.ValidateReceptionConfirmation(rec, 100, 208, params, nil, []Warning{{Tick: 150, RecordID: rec.ID()}})
	require.Equal(t, CodeWarningDetected, res.Code)

	// A warning referencing the chain also invalidates.
	res = v.ValidateReceptionConfirmation(rec, 100, 208, params, nil, []Warning{{Tick: 150, ChainID: c.ID()}})
	require.Equal(t, CodeWarningDetected, res.Code)

	// An unrelated warning does not.
	res = v.ValidateReceptionConfirmation(rec, 100, 208, params, nil, []Warning{{Tick: 150, RecordID: "other", ChainID: "other"}})
	require.True(t, res.Valid)
}
