package planner

import (
	"math/rand"
	"sort"
	"testing"

	"tableside/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tables(seats ...int) []models.TableCandidate {
	out := make([]models.TableCandidate, len(seats))
	for i, s := range seats {
		out[i] = models.TableCandidate{ID: int64(i + 1), Seats: s}
	}
	return out
}

func seatsFor(ts []models.TableCandidate, ids []int64) int {
	byID := make(map[int64]int, len(ts))
	for _, t := range ts {
		byID[t.ID] = t.Seats
	}
	n := 0
	for _, id := range ids {
		n += byID[id]
	}
	return n
}

func TestPack(t *testing.T) {
	tests := []struct {
		name      string
		tables    []models.TableCandidate
		party     int
		wantSeats int
		wantCount int
		wantErr   error
	}{
		{"exact single table", tables(2, 4, 6), 4, 4, 1, nil},
		{"smallest single that fits", tables(8, 2, 6), 5, 6, 1, nil},
		{"two fours when no single fits", tables(4, 4, 5), 6, 8, 2, nil},
		{"exact combination beats bigger pair", tables(2, 4, 4), 6, 6, 2, nil},
		{"seven on two fours", tables(2, 4, 4), 7, 8, 2, nil},
		{"combination with less waste than single", tables(2, 3, 10), 5, 5, 2, nil},
		{"single wins equal waste", tables(3, 3, 6), 6, 6, 1, nil},
		{"whole inventory", tables(2, 2, 2), 6, 6, 3, nil},
		{"not enough seats", tables(2, 2), 5, 0, 0, ErrInfeasible},
		{"empty inventory", nil, 2, 0, 0, ErrInfeasible},
		{"zero party", tables(4), 0, 0, 0, ErrInvalidParty},
		{"negative party", tables(4), -3, 0, 0, ErrInvalidParty},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ids, err := Pack(tt.tables, tt.party)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, ids)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantSeats, seatsFor(tt.tables, ids))
			assert.Len(t, ids, tt.wantCount)
		})
	}
}

func TestPack_TwoFoursForSeven(t *testing.T) {
	ts := tables(2, 4, 4)
	ids, err := Pack(ts, 7)
	require.NoError(t, err)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	assert.Equal(t, []int64{2, 3}, ids)
}

func TestPack_NoDuplicateTables(t *testing.T) {
	ids, err := Pack(tables(1, 1, 1, 1, 1), 4)
	require.NoError(t, err)
	seen := map[int64]bool{}
	for _, id := range ids {
		assert.False(t, seen[id], "table %d chosen twice", id)
		seen[id] = true
	}
	assert.Len(t, ids, 4)
}

// bruteForce returns the best (waste, count) over all subsets, or ok=false.
func bruteForce(ts []models.TableCandidate, party int) (sum, count int, ok bool) {
	n := len(ts)
	bestSum, bestCount := 0, 0
	for mask := 1; mask < 1<<n; mask++ {
		s, c := 0, 0
		for i := 0; i < n; i++ {
			if mask&(1<<i) != 0 {
				s += ts[i].Seats
				c++
			}
		}
		if s < party {
			continue
		}
		if !ok || s < bestSum || (s == bestSum && c < bestCount) {
			bestSum, bestCount, ok = s, c, true
		}
	}
	return bestSum, bestCount, ok
}

func TestPack_MatchesBruteForce(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for round := 0; round < 300; round++ {
		n := rng.Intn(9)
		seats := make([]int, n)
		for i := range seats {
			seats[i] = 1 + rng.Intn(8)
		}
		ts := tables(seats...)
		party := 1 + rng.Intn(20)

		wantSum, wantCount, ok := bruteForce(ts, party)
		ids, err := Pack(ts, party)

		if !ok {
			assert.ErrorIs(t, err, ErrInfeasible, "seats=%v party=%d", seats, party)
			continue
		}
		require.NoError(t, err, "seats=%v party=%d", seats, party)
		assert.Equal(t, wantSum, seatsFor(ts, ids), "waste differs: seats=%v party=%d", seats, party)
		assert.Equal(t, wantCount, len(ids), "count differs: seats=%v party=%d", seats, party)
	}
}

func TestFeasible(t *testing.T) {
	inventory := tables(2, 2, 4, 4, 6)

	t.Run("empty evening", func(t *testing.T) {
		assert.True(t, Feasible(inventory, nil, 6))
	})

	t.Run("fits around committed parties", func(t *testing.T) {
		assert.True(t, Feasible(inventory, []int{6, 4}, 4))
	})

	t.Run("committed parties leave no room", func(t *testing.T) {
		assert.False(t, Feasible(inventory, []int{6, 4, 4}, 5))
	})

	t.Run("total seats exceeded", func(t *testing.T) {
		assert.False(t, Feasible(inventory, []int{10}, 9))
	})

	t.Run("tables are not shared between parties", func(t *testing.T) {
		// 3+3 would fit in 6 seats, but never on one table
		assert.False(t, Feasible(tables(6), []int{3}, 3))
	})

	t.Run("invalid candidate", func(t *testing.T) {
		assert.False(t, Feasible(inventory, nil, 0))
	})

	t.Run("does not mutate the inventory", func(t *testing.T) {
		inv := tables(2, 4)
		Feasible(inv, []int{2}, 4)
		assert.Equal(t, tables(2, 4), inv)
	})
}

func TestTotalSeats(t *testing.T) {
	assert.Equal(t, 0, TotalSeats(nil))
	assert.Equal(t, 10, TotalSeats(tables(2, 4, 4)))
}
