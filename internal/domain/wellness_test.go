package domain

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWellnessAccumulateSaturates(t *testing.T) {
	progress := WellnessProgress{}

	var got float64
	for i := 0; i < 6; i++ {
		got = progress.Accumulate(WellnessMeditation, DefaultWellnessStep)
	}

	require.Equal(t, 1.0, got)
	require.Equal(t, 1.0, progress.Get(WellnessMeditation))
	require.Zero(t, progress.Get(WellnessBreathing))
}

func TestWellnessCloneIsIndependent(t *testing.T) {
	progress := WellnessProgress{WellnessBreathing: 0.4}
	clone := progress.Clone()
	clone.Accumulate(WellnessBreathing, 0.2)

	require.InDelta(t, 0.4, progress.Get(WellnessBreathing), 1e-9)
	require.InDelta(t, 0.6, clone.Get(WellnessBreathing), 1e-9)
}
