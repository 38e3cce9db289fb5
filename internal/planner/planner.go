// Package planner decides which tables can seat a party. It has no side effects.
package planner

import (
	"errors"
	"sort"

	"tableside/internal/models"
)

var (
	ErrInfeasible   = errors.New("no combination of tables can seat the party")
	ErrInvalidParty = errors.New("party size must be positive")
)

// Pack chooses tables for a party of partySize from free.
//
// The result has the smallest total seat count that is at least partySize, and
// among those the fewest tables. A single table wins ties against combinations.
func Pack(free []models.TableCandidate, partySize int) ([]int64, error) {
	if partySize <= 0 {
		return nil, ErrInvalidParty
	}

	tables := sortedCandidates(free)
	if len(tables) == 0 {
		return nil, ErrInfeasible
	}

	single := bestSingle(tables, partySize)
	if single >= 0 && tables[single].Seats == partySize {
		return []int64{tables[single].ID}, nil
	}

	total, maxSeats := 0, 0
	for _, t := range tables {
		total += t.Seats
		if t.Seats > maxSeats {
			maxSeats = t.Seats
		}
	}
	if total < partySize {
		return nil, ErrInfeasible
	}

	// Any subset summing to partySize+maxSeats or more can drop a table and still fit.
	bound := partySize + maxSeats - 1
	if bound > total {
		bound = total
	}

	chosen := subsetSum(tables, partySize, bound)
	if chosen == nil {
		if single >= 0 {
			return []int64{tables[single].ID}, nil
		}
		return nil, ErrInfeasible
	}

	if single >= 0 && tables[single].Seats <= seatsOf(tables, chosen) {
		return []int64{tables[single].ID}, nil
	}

	ids := make([]int64, 0, len(chosen))
	for _, i := range chosen {
		ids = append(ids, tables[i].ID)
	}
	return ids, nil
}

// Feasible reports whether the committed parties plus candidate can all be
// seated at once, each on its own tables, out of the whole inventory.
// Parties are packed greedily from largest to smallest.
func Feasible(all []models.TableCandidate, committed []int, candidate int) bool {
	if candidate <= 0 {
		return false
	}

	parties := make([]int, 0, len(committed)+1)
	parties = append(parties, committed...)
	parties = append(parties, candidate)
	sort.Sort(sort.Reverse(sort.IntSlice(parties)))

	remaining := append([]models.TableCandidate(nil), all...)
	for _, p := range parties {
		if p <= 0 {
			continue
		}
		ids, err := Pack(remaining, p)
		if err != nil {
			return false
		}
		remaining = without(remaining, ids)
	}
	return true
}

// TotalSeats sums the seats of tables.
func TotalSeats(tables []models.TableCandidate) int {
	n := 0
	for _, t := range tables {
		n += t.Seats
	}
	return n
}

func sortedCandidates(free []models.TableCandidate) []models.TableCandidate {
	out := make([]models.TableCandidate, 0, len(free))
	for _, t := range free {
		if t.Seats > 0 {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Seats != out[j].Seats {
			return out[i].Seats < out[j].Seats
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// bestSingle returns the index of the smallest table that seats the party, or -1.
// tables must be sorted by seats.
func bestSingle(tables []models.TableCandidate, partySize int) int {
	i := sort.Search(len(tables), func(i int) bool { return tables[i].Seats >= partySize })
	if i == len(tables) {
		return -1
	}
	return i
}

// subsetSum finds the subset with the smallest sum in [partySize, bound], then
// the fewest tables, and returns its indexes. It returns nil if there is none.
func subsetSum(tables []models.TableCandidate, partySize, bound int) []int {
	const unreachable = int(^uint(0) >> 1)

	count := make([]int, bound+1)
	for s := 1; s <= bound; s++ {
		count[s] = unreachable
	}

	// take[i][s] is set when table i improved the count for sum s at layer i.
	take := make([][]bool, len(tables))
	for i, t := range tables {
		take[i] = make([]bool, bound+1)
		for s := bound; s >= t.Seats; s-- {
			prev := count[s-t.Seats]
			if prev == unreachable {
				continue
			}
			if prev+1 < count[s] {
				count[s] = prev + 1
				take[i][s] = true
			}
		}
	}

	best := -1
	for s := partySize; s <= bound; s++ {
		if count[s] != unreachable {
			best = s
			break
		}
	}
	if best < 0 {
		return nil
	}

	chosen := make([]int, 0, count[best])
	s := best
	for i := len(tables) - 1; i >= 0 && s > 0; i-- {
		if take[i][s] {
			chosen = append(chosen, i)
			s -= tables[i].Seats
		}
	}
	return chosen
}

func seatsOf(tables []models.TableCandidate, idx []int) int {
	n := 0
	for _, i := range idx {
		n += tables[i].Seats
	}
	return n
}

func without(tables []models.TableCandidate, ids []int64) []models.TableCandidate {
	drop := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	out := tables[:0:0]
	for _, t := range tables {
		if _, ok := drop[t.ID]; !ok {
			out = append(out, t)
		}
	}
	return out
}
