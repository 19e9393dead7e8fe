package grants

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/ctc-stipend/stipend/internal/status"
)

func TestCheckAwardInvariant(t *testing.T) {
	amount := decimal.RequireFromString("10000")
	for _, st := range status.All() {
		withAward := Student{ID: 1, Status: st, AwardAmount: &amount}
		without := Student{ID: 1, Status: st}
		if status.HasAward(st) {
			require.NoError(t, withAward.CheckAwardInvariant(), st)
			require.ErrorIs(t, without.CheckAwardInvariant(), ErrAwardInvariant, st)
		} else {
			require.ErrorIs(t, withAward.CheckAwardInvariant(), ErrAwardInvariant, st)
			require.NoError(t, without.CheckAwardInvariant(), st)
		}
	}
}

func TestAwardSignatures(t *testing.T) {
	at := time.Date(2025, 9, 1, 12, 0, 0, 0, time.UTC)
	amount := decimal.RequireFromString("7500")
	award := NewAwardShell(Student{ID: 4, CycleID: 2, AwardAmount: &amount}, DefaultSigners(), at)

	require.True(t, award.Amount.Equal(amount))
	require.False(t, award.FullySigned())
	require.ElementsMatch(t, DefaultSigners(), award.Unsigned())

	award.MarkSent("env-1", at)
	require.Equal(t, "env-1", award.EnvelopeID)
	sig, ok := award.SignatureOf(PartyLEA)
	require.True(t, ok)
	require.Equal(t, SignatureSent, sig.State)

	require.NoError(t, award.MarkSigned(PartyLEA, at))
	require.NoError(t, award.MarkSigned(PartyGrantsManager, at))
	require.Equal(t, []SignerParty{PartyFiscalOfficer}, award.Unsigned())

	require.NoError(t, award.MarkDeclined(PartyFiscalOfficer, "wrong amount"))
	require.ErrorIs(t, award.MarkSigned(SignerParty("AUDITOR"), at), ErrValidation)

	award.ResetSignatures()
	require.Empty(t, award.EnvelopeID)
	for _, sig := range award.Signatures {
		require.Equal(t, SignatureNotSent, sig.State)
		require.Nil(t, sig.SignedAt)
	}
	sig, _ = award.SignatureOf(PartyFiscalOfficer)
	require.Equal(t, "wrong amount", sig.DeclineReason)

	award.MarkSent("env-2", at)
	for _, p := range DefaultSigners() {
		require.NoError(t, award.MarkSigned(p, at))
	}
	require.True(t, award.FullySigned())
	sig, _ = award.SignatureOf(PartyFiscalOfficer)
	require.Empty(t, sig.DeclineReason)
}

func TestAwardCloneIsolatesSignatures(t *testing.T) {
	award := NewAwardShell(Student{ID: 1}, DefaultSigners(), time.Time{})
	clone := award.Clone()
	clone.Signatures[0].State = SignatureSigned
	require.Equal(t, SignatureNotSent, award.Signatures[0].State)
}
