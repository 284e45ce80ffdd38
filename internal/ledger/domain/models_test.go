package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCanonicalLeafFieldOrder(t *testing.T) {
	work := "work-1"
	contributor := "A"
	entry := JournalEntry{
		ID:            42,
		EntryID:       "evt-1:s1",
		EventID:       "evt-1",
		WorkID:        &work,
		ContributorID: &contributor,
		Amount:        "59.994",
		Currency:      "USD",
		Direction:     DirectionCredit,
		Description:   "",
		CreatedAt:     time.Date(2026, 3, 1, 12, 30, 45, 123000000, time.UTC),
	}

	want := `{"id":"42","eventId":"evt-1","workId":"work-1","contributorId":"A",` +
		`"amount":"59.994","currency":"USD","direction":"credit","description":"",` +
		`"createdAt":"2026-03-01T12:30:45.123Z"}`
	assert.Equal(t, want, string(CanonicalLeaf(entry)))
}

func TestCanonicalLeafNullsAndDefaults(t *testing.T) {
	entry := JournalEntry{
		ID:        7,
		EntryID:   "evt-2:debit",
		EventID:   "evt-2",
		Currency:  "USD",
		Direction: DirectionDebit,
		CreatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	want := `{"id":"7","eventId":"evt-2","workId":null,"contributorId":null,` +
		`"amount":"0","currency":"USD","direction":"debit","description":"",` +
		`"createdAt":"2026-01-01T00:00:00.000Z"}`
	assert.Equal(t, want, string(CanonicalLeaf(entry)))
}
