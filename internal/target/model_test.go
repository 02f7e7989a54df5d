package target

import (
	"testing"

	"spotalert_backend/internal/geo"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestNormalize(t *testing.T) {
	t.Run("cleans ids names and categories", func(t *testing.T) {
		out, err := Normalize([]Target{
			{ID: " pike ", Name: " Pike Place Market ", Coordinate: geo.Coordinate{Lat: 47.6097, Lon: -122.3422}, Category: strPtr("Food & Drink")},
			{ID: "needle", Name: "Space Needle", Coordinate: geo.Coordinate{Lat: 47.6205, Lon: -122.3493}, Category: strPtr("   ")},
		})
		require.NoError(t, err)
		require.Len(t, out, 2)
		assert.Equal(t, "pike", out[0].ID)
		assert.Equal(t, "Pike Place Market", out[0].Name)
		assert.Equal(t, "food-and-drink", out[0].CategoryOrEmpty())
		assert.Nil(t, out[1].Category)
	})

	tests := []struct {
		name    string
		targets []Target
	}{
		{name: "empty id", targets: []Target{{ID: " ", Name: "x", Coordinate: geo.Coordinate{Lat: 1, Lon: 1}}}},
		{name: "empty name", targets: []Target{{ID: "a", Name: "", Coordinate: geo.Coordinate{Lat: 1, Lon: 1}}}},
		{name: "latitude out of range", targets: []Target{{ID: "a", Name: "x", Coordinate: geo.Coordinate{Lat: 91, Lon: 1}}}},
		{name: "duplicate id", targets: []Target{
			{ID: "a", Name: "x", Coordinate: geo.Coordinate{Lat: 1, Lon: 1}},
			{ID: "a", Name: "y", Coordinate: geo.Coordinate{Lat: 2, Lon: 2}},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := Normalize(tt.targets)
			assert.ErrorIs(t, err, ErrInvalidTargets)
			assert.Nil(t, out)
		})
	}
}

func TestSnapshot_TargetsIsACopy(t *testing.T) {
	snap := newSnapshot([]Target{{ID: "a", Name: "A"}}, 1, fixedNow)
	got := snap.Targets()
	got[0].Name = "mutated"

	again, ok := snap.Get("a")
	require.True(t, ok)
	assert.Equal(t, "A", again.Name)
	assert.Equal(t, "A", snap.Targets()[0].Name)
}
