package credit_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/veridian/credit-engine/credit"
	"github.com/veridian/credit-engine/ledger"
)

var allStatuses = []credit.Status{
	credit.StatusPending,
	credit.StatusUnderReview,
	credit.StatusApproved,
	credit.StatusRejected,
	credit.StatusIssued,
	credit.StatusTransferred,
	credit.StatusRetired,
}

// allowed mirrors the lifecycle table. Everything outside it must be
// rejected; the grids below check every pair both ways.
var allowed = map[credit.Status][]credit.Status{
	credit.StatusPending:     {credit.StatusUnderReview, credit.StatusRejected},
	credit.StatusUnderReview: {credit.StatusApproved, credit.StatusRejected, credit.StatusPending},
	credit.StatusApproved:    {credit.StatusIssued, credit.StatusRejected},
	credit.StatusIssued:      {credit.StatusTransferred, credit.StatusRetired},
	credit.StatusTransferred: {credit.StatusRetired},
	credit.StatusRejected:    {credit.StatusPending},
	credit.StatusRetired:     {},
}

func isAllowed(from, to credit.Status) bool {
	for _, s := range allowed[from] {
		if s == to {
			return true
		}
	}
	return false
}

func TestTransition_FullGrid(t *testing.T) {
	// GIVEN: Every (from, to) status pair
	// WHEN: Transition is requested
	// THEN: Exactly the pairs in the lifecycle table succeed; every
	//       other pair fails with InvalidTransitionError and leaves the
	//       current status unchanged

	for _, from := range allStatuses {
		for _, to := range allStatuses {
			got, err := credit.Transition(from, to)

			if isAllowed(from, to) {
				assert.NoError(t, err, "%s -> %s should be allowed", from, to)
				assert.Equal(t, to, got)
			} else {
				assert.Error(t, err, "%s -> %s should be rejected", from, to)
				assert.ErrorIs(t, err, ledger.ErrInvalidTransition)
				assert.Equal(t, from, got, "rejected transition must not move")

				var invalid *credit.InvalidTransitionError
				assert.ErrorAs(t, err, &invalid)
				assert.Equal(t, from, invalid.From)
				assert.Equal(t, to, invalid.To)
			}
		}
	}
}

func TestTransition_SelfLoopsRejected(t *testing.T) {
	// No status may transition to itself.
	for _, s := range allStatuses {
		_, err := credit.Transition(s, s)
		assert.Error(t, err, "%s -> %s self-loop should be rejected", s, s)
	}
}

func TestTransition_RetiredIsTerminal(t *testing.T) {
	// GIVEN: A retired account
	// WHEN: Any transition is requested
	// THEN: All are rejected

	for _, to := range allStatuses {
		_, err := credit.Transition(credit.StatusRetired, to)
		assert.Error(t, err, "retired -> %s should be rejected", to)
	}
}

func TestTransition_RejectedRetryPath(t *testing.T) {
	// rejected -> pending is the one deliberate loop in the lifecycle.
	got, err := credit.Transition(credit.StatusRejected, credit.StatusPending)
	assert.NoError(t, err)
	assert.Equal(t, credit.StatusPending, got)
}

func TestTransferable(t *testing.T) {
	transferable := map[credit.Status]bool{
		credit.StatusIssued:      true,
		credit.StatusTransferred: true,
	}
	for _, s := range allStatuses {
		assert.Equal(t, transferable[s], s.Transferable(), "status %s", s)
	}
}

func TestTxStatus_Progression(t *testing.T) {
	// GIVEN: The transaction record progression pending -> processing ->
	//        completed | failed
	// THEN: Only forward moves are allowed, terminal states stay put

	assert.True(t, credit.TxPending.CanProgress(credit.TxProcessing))
	assert.True(t, credit.TxPending.CanProgress(credit.TxFailed))
	assert.True(t, credit.TxProcessing.CanProgress(credit.TxCompleted))
	assert.True(t, credit.TxProcessing.CanProgress(credit.TxFailed))

	assert.False(t, credit.TxPending.CanProgress(credit.TxCompleted), "no skipping processing")
	assert.False(t, credit.TxCompleted.CanProgress(credit.TxProcessing))
	assert.False(t, credit.TxCompleted.CanProgress(credit.TxFailed))
	assert.False(t, credit.TxFailed.CanProgress(credit.TxCompleted))
	assert.False(t, credit.TxProcessing.CanProgress(credit.TxPending))
}
