package domain

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func buildLedger(n int) LedgerState {
	ledger := NewLedger(LedgerState{}, NewCalendar(nil))
	all := AllCategories(DefaultCatalog)
	for i := 0; i < n; i++ {
		ts := day1.Add(time.Duration(i*5) * time.Hour)
		ledger.Append(CompletionRecord{
			ActivityID:      fmt.Sprintf("activity-%03d", i),
			Category:        all[i%len(all)],
			Timestamp:       ts,
			DurationSeconds: float64(30 + i),
		}, ts)
	}
	return ledger.State()
}

func TestLedgerCodecRoundTrip(t *testing.T) {
	for _, n := range []int{0, 1, 100} {
		t.Run(fmt.Sprintf("%d records", n), func(t *testing.T) {
			state := buildLedger(n)

			data, err := EncodeLedger(state)
			require.NoError(t, err)

			decoded, err := DecodeLedger(data)
			require.NoError(t, err)
			require.Equal(t, state, decoded)
		})
	}
}

func TestLedgerCodecFormat(t *testing.T) {
	state := buildLedger(1)
	data, err := EncodeLedger(state)
	require.NoError(t, err)

	require.JSONEq(t, `{
		"history": [{
			"activity_id": "activity-000",
			"category": "wrists",
			"timestamp": "2024-03-04T09:00:00Z",
			"duration_seconds": 30
		}],
		"last_activity_day": "2024-03-04",
		"current_streak": 1,
		"total_completions": 1
	}`, string(data))
}

func TestDecodeLedgerRejectsCorruptBlobs(t *testing.T) {
	cases := map[string]string{
		"garbage":          `not json`,
		"unknown category": `{"history":[{"activity_id":"a","category":"elbows","timestamp":"2024-03-04T09:00:00Z"}],"last_activity_day":"2024-03-04","current_streak":1,"total_completions":1}`,
		"bad day":          `{"history":[],"last_activity_day":"03/04/2024","current_streak":1,"total_completions":0}`,
		"broken invariant": `{"history":[],"last_activity_day":null,"current_streak":3,"total_completions":0}`,
	}
	for name, blob := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeLedger([]byte(blob))
			require.Error(t, err)
		})
	}
}

func TestWellnessCodecRoundTrip(t *testing.T) {
	progress := WellnessProgress{WellnessMeditation: 1, WellnessBreathing: 0.4}

	data, err := EncodeWellness(progress)
	require.NoError(t, err)
	require.JSONEq(t, `{"meditation":1,"breathing":0.4}`, string(data))

	decoded, err := DecodeWellness(data)
	require.NoError(t, err)
	require.Equal(t, progress, decoded)
}

func TestDecodeWellnessRejectsInvalidEntries(t *testing.T) {
	for _, blob := range []string{`{"neck":0.2}`, `{"meditation":1.4}`, `{"sleep":0.2}`, `[]`} {
		_, err := DecodeWellness([]byte(blob))
		require.Error(t, err, blob)
	}
}
