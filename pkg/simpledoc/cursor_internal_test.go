package simpledoc

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursorRoundTrip(t *testing.T) {
	fp := queryFingerprint(Principal{ID: "alice"}, SearchQuery{Text: "x"})
	key := cursorKey{Fingerprint: fp, Score: 3, At: 42, ID: uuid.New()}

	got, err := decodeCursor(encodeCursor(key), fp)
	require.NoError(t, err)
	assert.Equal(t, key, *got)

	_, err = decodeCursor(encodeCursor(key), "other")
	assert.ErrorIs(t, err, ErrStaleCursor)
	_, err = decodeCursor("bm90IGpzb24", fp)
	assert.ErrorIs(t, err, ErrStaleCursor)
}

func TestQueryFingerprint(t *testing.T) {
	p := Principal{ID: "alice"}
	base := queryFingerprint(p, SearchQuery{Text: "x", Tags: []string{"A", "b"}})

	assert.Equal(t, base, queryFingerprint(p, SearchQuery{Text: "x", Tags: []string{"b", "a"}, Limit: 5, Cursor: "c"}))
	assert.NotEqual(t, base, queryFingerprint(p, SearchQuery{Text: "y", Tags: []string{"a", "b"}}))
	assert.NotEqual(t, base, queryFingerprint(Principal{ID: "bob"}, SearchQuery{Text: "x", Tags: []string{"a", "b"}}))
}

func TestRankLess(t *testing.T) {
	low, high := uuid.MustParse("00000000-0000-0000-0000-000000000001"), uuid.MustParse("00000000-0000-0000-0000-000000000002")

	assert.True(t, rankLess(cursorKey{Score: 3, At: 1}, cursorKey{Score: 2, At: 9}))
	assert.True(t, rankLess(cursorKey{Score: 2, At: 9}, cursorKey{Score: 2, At: 1}))
	assert.True(t, rankLess(cursorKey{Score: 2, At: 1, ID: low}, cursorKey{Score: 2, At: 1, ID: high}))
	assert.False(t, rankLess(cursorKey{Score: 2, At: 1, ID: low}, cursorKey{Score: 2, At: 1, ID: low}))
}

func TestMetricsRecording(t *testing.T) {
	m := NewMetrics()
	m.decision(CapabilityRead, true)
	m.decision(CapabilityRead, false)
	m.decision(CapabilityRead, false)
	m.versionCreated(ActionRevert)
	m.versionConflict()
	m.auditFailure()
	m.searched(time.Now(), 4)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.decisions.WithLabelValues("read", "allowed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.decisions.WithLabelValues("read", "denied")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.versionsCreated.WithLabelValues("revert")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.versionConflicts))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.auditFailures))

	// a nil *Metrics is a no-op
	var none *Metrics
	none.decision(CapabilityRead, true)
	none.versionConflict()
	none.searched(time.Now(), 1)
}
