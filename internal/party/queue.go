package party

import (
	"fmt"
	"slices"
	"sort"
	"strings"
)

// Direction is the sign of a vote.
type Direction string

const (
	Up   Direction = "up"
	Down Direction = "down"
)

// ParseDirection validates a wire value.
func ParseDirection(s string) (Direction, error) {
	switch Direction(strings.ToLower(strings.TrimSpace(s))) {
	case Up:
		return Up, nil
	case Down:
		return Down, nil
	}
	return "", fmt.Errorf("%w: direction must be 'up' or 'down'", ErrInvalidVote)
}

// VotePolicy selects how a repeated vote from the same voter is counted.
type VotePolicy int

const (
	// PolicyCompat reproduces the legacy toggle: a returning voter's earlier vote
	// is assumed to have been the opposite of the one now being cast.
	// Two identical votes in a row therefore count three times.
	PolicyCompat VotePolicy = iota
	// PolicyTracked stores each voter's last direction and recounts the total.
	PolicyTracked
)

// ParseVotePolicy maps a config value to a policy. Empty means compat.
func ParseVotePolicy(s string) (VotePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "compat":
		return PolicyCompat, nil
	case "tracked":
		return PolicyTracked, nil
	}
	return PolicyCompat, fmt.Errorf("unknown vote policy %q", s)
}

func (p VotePolicy) String() string {
	if p == PolicyTracked {
		return "tracked"
	}
	return "compat"
}

// SortQueue orders entries by votes, highest first. Equal votes keep their
// current relative order.
func SortQueue(queue []QueueEntry) {
	sort.SliceStable(queue, func(i, j int) bool {
		return queue[i].Votes > queue[j].Votes
	})
}

// Enqueue returns a new sorted queue with e appended.
func Enqueue(queue []QueueEntry, e QueueEntry) []QueueEntry {
	out := append(cloneQueue(queue), e.Clone())
	SortQueue(out)
	return out
}

// ApplyVote casts voter's vote on the entry at index and returns the re-sorted
// queue. The input queue is never modified, including on error.
func ApplyVote(queue []QueueEntry, index int, voter string, dir Direction, policy VotePolicy) ([]QueueEntry, error) {
	if index < 0 || index >= len(queue) {
		return nil, fmt.Errorf("%w: index %d, queue length %d", ErrIndexOutOfRange, index, len(queue))
	}
	voter = strings.TrimSpace(voter)
	if voter == "" {
		return nil, fmt.Errorf("%w: voter is required", ErrInvalidVote)
	}
	if dir != Up && dir != Down {
		return nil, fmt.Errorf("%w: direction %q", ErrInvalidVote, dir)
	}

	out := cloneQueue(queue)
	entry := &out[index]
	switch policy {
	case PolicyTracked:
		voteTracked(entry, voter, dir)
	default:
		voteCompat(entry, voter, dir)
	}
	SortQueue(out)
	return out, nil
}

func voteCompat(e *QueueEntry, voter string, dir Direction) {
	if i := slices.Index(e.Voters, voter); i >= 0 {
		e.Voters = slices.Delete(e.Voters, i, i+1)
		if dir == Down {
			e.Votes--
		} else {
			e.Votes++
		}
	}
	if dir == Up {
		e.Votes++
	} else {
		e.Votes--
	}
	e.Voters = append(e.Voters, voter)
}

func voteTracked(e *QueueEntry, voter string, dir Direction) {
	if e.Ballots == nil {
		e.Ballots = make(map[string]Direction)
	}
	e.Ballots[voter] = dir
	if !slices.Contains(e.Voters, voter) {
		e.Voters = append(e.Voters, voter)
	}

	total := 0
	for _, d := range e.Ballots {
		if d == Up {
			total++
		} else {
			total--
		}
	}
	e.Votes = total
}
