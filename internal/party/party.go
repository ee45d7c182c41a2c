// Package party holds the shared state of a listening party: its members,
// the vote-ordered song queue and the track currently playing.
//
// All mutation goes through Store, which serializes writers per party code.
// The queue ordering and vote rules live in queue.go as pure functions.
package party

import (
	"errors"
	"time"
)

var (
	// ErrPartyNotFound is returned for codes that do not name a live party.
	ErrPartyNotFound = errors.New("party not found")
	// ErrIndexOutOfRange is returned when a vote targets a queue position that does not exist.
	ErrIndexOutOfRange = errors.New("queue entry not found")
	// ErrInvalidVote is returned for a blank voter or an unknown vote direction.
	ErrInvalidVote = errors.New("invalid vote")
	// ErrCodeTaken is returned by a Backend when inserting a code that is already live.
	ErrCodeTaken = errors.New("party code already in use")
	// ErrCodeSpaceExhausted means no free code was found within the retry budget.
	ErrCodeSpaceExhausted = errors.New("no free party code available")
)

// AnonymousName is used when a host or submitter does not give a name.
const AnonymousName = "Anonymous"

// Event names published to a party's room.
const (
	EventPartyUpdated    = "partyUpdated"
	EventQueueUpdated    = "queueUpdated"
	EventPlaybackUpdated = "playbackUpdated"
	EventPartyClosed     = "partyClosed"
)

// Track is a catalog item copied in from the music service.
type Track struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Artist     string `json:"artist"`
	Album      string `json:"album"`
	DurationMS int64  `json:"durationMs"`
	URI        string `json:"uri"`
	ImageURL   string `json:"imageUrl,omitempty"`
}

// Member is a guest who joined the party. Names are not unique.
type Member struct {
	Name     string    `json:"name"`
	JoinedAt time.Time `json:"joinedAt"`
}

// QueueEntry is a queued track plus its voting state.
type QueueEntry struct {
	Track
	AddedBy string    `json:"addedBy"`
	AddedAt time.Time `json:"addedAt"`
	Votes   int       `json:"votes"`
	Voters  []string  `json:"voters"`

	// Ballots records each voter's last direction. Only PolicyTracked fills it.
	Ballots map[string]Direction `json:"ballots,omitempty"`
}

// Party is the aggregate root, keyed by Code.
type Party struct {
	Code        string       `json:"code"`
	Host        string       `json:"host"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`
	JoinURL     string       `json:"joinUrl"`
	Members     []Member     `json:"members"`
	Queue       []QueueEntry `json:"queue"`
	CurrentSong *Track       `json:"currentSong"`
	QRPayload   []byte       `json:"qrPayload"`
}

// ClosedNotice is the payload of EventPartyClosed.
type ClosedNotice struct {
	Code   string `json:"code"`
	Reason string `json:"reason"`
}

// Clone returns a deep copy that shares no memory with p.
func (p *Party) Clone() *Party {
	if p == nil {
		return nil
	}
	c := *p
	c.Members = append([]Member{}, p.Members...)
	c.Queue = cloneQueue(p.Queue)
	if p.CurrentSong != nil {
		song := *p.CurrentSong
		c.CurrentSong = &song
	}
	c.QRPayload = append([]byte(nil), p.QRPayload...)
	return &c
}

// Clone returns a deep copy of the entry.
func (e QueueEntry) Clone() QueueEntry {
	e.Voters = append([]string{}, e.Voters...)
	if e.Ballots != nil {
		ballots := make(map[string]Direction, len(e.Ballots))
		for voter, dir := range e.Ballots {
			ballots[voter] = dir
		}
		e.Ballots = ballots
	}
	return e
}

func cloneQueue(queue []QueueEntry) []QueueEntry {
	out := make([]QueueEntry, len(queue))
	for i, e := range queue {
		out[i] = e.Clone()
	}
	return out
}
