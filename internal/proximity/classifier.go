package proximity

import (
	"math"
	"sort"

	"spotalert_backend/internal/geo"
	"spotalert_backend/internal/target"
)

// Nearest returns the target closest to loc and its distance in meters.
// Ties keep the earlier target in list order.
func Nearest(loc geo.Coordinate, targets []target.Target) (target.Target, float64, bool) {
	best := -1
	bestDist := math.Inf(1)
	for i, t := range targets {
		d := geo.Distance(loc, t.Coordinate)
		if d < bestDist {
			best, bestDist = i, d
		}
	}
	if best < 0 {
		return target.Target{}, 0, false
	}
	return targets[best], bestDist, true
}

// EffectiveThreshold widens a fixed radius for a poor fix:
// max(fixed, accuracy*factor). A non-positive factor or accuracy disables scaling.
func EffectiveThreshold(fixed, accuracy, factor float64) float64 {
	if factor <= 0 || accuracy <= 0 || math.IsNaN(accuracy) {
		return fixed
	}
	return math.Max(fixed, accuracy*factor)
}

// Classify maps the current position and the previous state to the new state.
//
// From Outside the nearest target is entered once it is within entry meters.
// While Inside(T) the state holds until T is more than exit meters away,
// unless another target becomes nearest, in which case the state switches to
// it if it is within entry meters and drops to Outside otherwise. Entry is
// widened by EffectiveThreshold for the sample's accuracy; exit is widened as
// well but always stays the configured band width above the widened entry.
func Classify(loc geo.Coordinate, accuracy float64, targets []target.Target, prev State, entry, exit, accuracyFactor float64) State {
	nearest, dist, ok := Nearest(loc, targets)
	if !ok {
		return Outside()
	}
	band := exit - entry
	entry = EffectiveThreshold(entry, accuracy, accuracyFactor)
	exit = math.Max(EffectiveThreshold(exit, accuracy, accuracyFactor), entry+band)

	current, inside := prev.Target()
	if !inside {
		if dist <= entry {
			return Inside(nearest)
		}
		return Outside()
	}

	if nearest.ID == current.ID {
		if dist <= exit {
			return Inside(nearest)
		}
		return Outside()
	}
	if dist <= entry {
		return Inside(nearest)
	}
	return Outside()
}

// Match is a target that passed a distance check.
type Match struct {
	Target   target.Target
	Distance float64
}

// WithinThreshold returns every target within the accuracy-scaled threshold,
// nearest first.
func WithinThreshold(loc geo.Coordinate, accuracy float64, targets []target.Target, threshold, accuracyFactor float64) []Match {
	limit := EffectiveThreshold(threshold, accuracy, accuracyFactor)
	var matches []Match
	for _, t := range targets {
		if d := geo.Distance(loc, t.Coordinate); d <= limit {
			matches = append(matches, Match{Target: t, Distance: d})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Distance < matches[j].Distance })
	return matches
}
