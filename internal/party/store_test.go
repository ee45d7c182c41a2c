package party

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

type published struct {
	room    string
	event   string
	payload any
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []published
}

func (r *recordingPublisher) Publish(room, event string, payload any) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, published{room, event, payload})
	return 1
}

func (r *recordingPublisher) all() []published {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]published(nil), r.events...)
}

type stubRenderer struct{}

func (stubRenderer) Render(content string) ([]byte, error) {
	return []byte("png:" + content), nil
}

func newTestStore(t *testing.T, opts Options) (*Store, *recordingPublisher) {
	t.Helper()
	pub := &recordingPublisher{}
	if opts.Publisher == nil {
		opts.Publisher = pub
	}
	if opts.Renderer == nil {
		opts.Renderer = stubRenderer{}
	}
	if opts.FrontendURL == "" {
		opts.FrontendURL = "http://localhost:3000/"
	}
	return NewStore(opts), pub
}

func track(id string) Track {
	return Track{ID: id, Name: "Song " + id, Artist: "Artist", Album: "Album", DurationMS: 180000, URI: "spotify:track:" + id}
}

func TestCreate(t *testing.T) {
	store, pub := newTestStore(t, Options{})

	p, err := store.Create(context.Background(), "  DJ Kim ")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if len(p.Code) != 8 {
		t.Errorf("Code = %q, want 8 characters", p.Code)
	}
	if p.Code != NormalizeCode(p.Code) {
		t.Errorf("Code = %q is not upper case", p.Code)
	}
	if p.Host != "DJ Kim" {
		t.Errorf("Host = %q, want %q", p.Host, "DJ Kim")
	}
	wantURL := "http://localhost:3000/join/" + p.Code
	if p.JoinURL != wantURL {
		t.Errorf("JoinURL = %q, want %q", p.JoinURL, wantURL)
	}
	if string(p.QRPayload) != "png:"+wantURL {
		t.Errorf("QRPayload = %q", p.QRPayload)
	}
	if len(p.Members) != 0 || len(p.Queue) != 0 || p.CurrentSong != nil {
		t.Errorf("new party should be empty: %+v", p)
	}
	if len(pub.all()) != 0 {
		t.Error("Create should not publish")
	}
}

func TestCreateDefaultsHostName(t *testing.T) {
	store, _ := newTestStore(t, Options{})
	p, err := store.Create(context.Background(), "")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if p.Host != AnonymousName {
		t.Errorf("Host = %q, want %q", p.Host, AnonymousName)
	}
}

func TestCreateRetriesOnCollision(t *testing.T) {
	codes := []string{"AAAA0000", "AAAA0000", "aaaa0000", "BBBB1111"}
	var i int
	store, _ := newTestStore(t, Options{NewCode: func() (string, error) {
		c := codes[i]
		i++
		return c, nil
	}})

	first, err := store.Create(context.Background(), "one")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	second, err := store.Create(context.Background(), "two")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if first.Code != "AAAA0000" || second.Code != "BBBB1111" {
		t.Errorf("codes = %s, %s; want AAAA0000, BBBB1111", first.Code, second.Code)
	}
	if i != 4 {
		t.Errorf("generator called %d times, want 4", i)
	}
}

func TestCreateExhaustsCodeSpace(t *testing.T) {
	store, _ := newTestStore(t, Options{NewCode: func() (string, error) { return "SAMECODE", nil }})
	if _, err := store.Create(context.Background(), "one"); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	_, err := store.Create(context.Background(), "two")
	if !errors.Is(err, ErrCodeSpaceExhausted) {
		t.Fatalf("error = %v, want ErrCodeSpaceExhausted", err)
	}
}

func TestGetUnknownParty(t *testing.T) {
	backend := NewMemoryBackend()
	store, pub := newTestStore(t, Options{Backend: backend})

	_, err := store.Get(context.Background(), "NOPE0000")
	if !errors.Is(err, ErrPartyNotFound) {
		t.Fatalf("error = %v, want ErrPartyNotFound", err)
	}
	if backend.Len() != 0 || len(pub.all()) != 0 {
		t.Error("Get on unknown party had side effects")
	}
}

func TestGetNormalizesCode(t *testing.T) {
	store, _ := newTestStore(t, Options{})
	p, _ := store.Create(context.Background(), "host")

	got, err := store.Get(context.Background(), " "+strings.ToLower(p.Code)+" ")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Code != p.Code {
		t.Errorf("Code = %q, want %q", got.Code, p.Code)
	}
}

func TestJoinAllowsDuplicateNames(t *testing.T) {
	store, pub := newTestStore(t, Options{})
	ctx := context.Background()
	p, _ := store.Create(ctx, "host")

	for i := 1; i <= 3; i++ {
		got, err := store.Join(ctx, p.Code, "Alice")
		if err != nil {
			t.Fatalf("Join() error = %v", err)
		}
		if len(got.Members) != i {
			t.Fatalf("Members = %d, want %d", len(got.Members), i)
		}
	}

	events := pub.all()
	if len(events) != 3 {
		t.Fatalf("published %d events, want 3", len(events))
	}
	for _, e := range events {
		if e.room != p.Code || e.event != EventPartyUpdated {
			t.Errorf("unexpected event %+v", e)
		}
	}
}

func TestMutationsOnUnknownPartyDoNotPublish(t *testing.T) {
	store, pub := newTestStore(t, Options{})
	ctx := context.Background()

	if _, err := store.Join(ctx, "MISSING1", "Alice"); !errors.Is(err, ErrPartyNotFound) {
		t.Errorf("Join error = %v", err)
	}
	if _, err := store.AddToQueue(ctx, "MISSING1", track("t1"), "Alice"); !errors.Is(err, ErrPartyNotFound) {
		t.Errorf("AddToQueue error = %v", err)
	}
	if _, err := store.Vote(ctx, "MISSING1", 0, "Alice", Up); !errors.Is(err, ErrPartyNotFound) {
		t.Errorf("Vote error = %v", err)
	}
	if _, err := store.UpdatePlayback(ctx, "MISSING1", nil); !errors.Is(err, ErrPartyNotFound) {
		t.Errorf("UpdatePlayback error = %v", err)
	}
	if err := store.Close(ctx, "MISSING1"); !errors.Is(err, ErrPartyNotFound) {
		t.Errorf("Close error = %v", err)
	}
	if len(pub.all()) != 0 {
		t.Errorf("failed mutations published %d events", len(pub.all()))
	}
}

func TestVoteOutOfRangeDoesNotMutate(t *testing.T) {
	store, pub := newTestStore(t, Options{})
	ctx := context.Background()
	p, _ := store.Create(ctx, "host")
	if _, err := store.AddToQueue(ctx, p.Code, track("t1"), "Alice"); err != nil {
		t.Fatalf("AddToQueue() error = %v", err)
	}
	before, _ := store.Get(ctx, p.Code)
	eventsBefore := len(pub.all())

	for _, idx := range []int{1, 5, -1} {
		_, err := store.Vote(ctx, p.Code, idx, "Bob", Up)
		if !errors.Is(err, ErrIndexOutOfRange) {
			t.Fatalf("Vote(%d) error = %v, want ErrIndexOutOfRange", idx, err)
		}
	}

	after, _ := store.Get(ctx, p.Code)
	if after.Queue[0].Votes != 0 || len(after.Queue[0].Voters) != 0 {
		t.Errorf("queue mutated: %+v", after.Queue[0])
	}
	if !after.UpdatedAt.Equal(before.UpdatedAt) {
		t.Error("failed vote touched UpdatedAt")
	}
	if len(pub.all()) != eventsBefore {
		t.Error("failed vote published an event")
	}
}

func TestEndToEndVoteReordersQueue(t *testing.T) {
	store, pub := newTestStore(t, Options{})
	ctx := context.Background()

	p, err := store.Create(ctx, "Host")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := store.Join(ctx, p.Code, "Alice"); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Join(ctx, p.Code, "Bob"); err != nil {
		t.Fatal(err)
	}
	if _, err := store.AddToQueue(ctx, p.Code, track("T1"), "Alice"); err != nil {
		t.Fatal(err)
	}
	queue, err := store.AddToQueue(ctx, p.Code, track("T2"), "Bob")
	if err != nil {
		t.Fatal(err)
	}
	equalIDs(t, queue, "T1", "T2")

	queue, err = store.Vote(ctx, p.Code, 1, "Bob", Up)
	if err != nil {
		t.Fatalf("Vote() error = %v", err)
	}
	equalIDs(t, queue, "T2", "T1")
	if queue[0].Votes != 1 || queue[1].Votes != 0 {
		t.Errorf("votes = %d, %d; want 1, 0", queue[0].Votes, queue[1].Votes)
	}
	if queue[0].AddedBy != "Bob" || queue[1].AddedBy != "Alice" {
		t.Errorf("addedBy = %s, %s", queue[0].AddedBy, queue[1].AddedBy)
	}

	events := pub.all()
	last := events[len(events)-1]
	if last.event != EventQueueUpdated {
		t.Fatalf("last event = %s, want %s", last.event, EventQueueUpdated)
	}
	broadcast := last.payload.([]QueueEntry)
	equalIDs(t, broadcast, "T2", "T1")
}

func TestEndToEndToggleUnderCompatPolicy(t *testing.T) {
	store, _ := newTestStore(t, Options{Policy: PolicyCompat})
	ctx := context.Background()
	p, _ := store.Create(ctx, "Host")
	store.AddToQueue(ctx, p.Code, track("T1"), "Alice")

	if _, err := store.Vote(ctx, p.Code, 0, "Alice", Up); err != nil {
		t.Fatal(err)
	}
	queue, err := store.Vote(ctx, p.Code, 0, "Alice", Down)
	if err != nil {
		t.Fatal(err)
	}
	// Retracting the assumed upvote takes 1, the downvote takes another.
	if queue[0].Votes != -1 {
		t.Errorf("Votes = %d, want -1", queue[0].Votes)
	}
	if len(queue[0].Voters) != 1 {
		t.Errorf("Voters = %v, want one entry", queue[0].Voters)
	}
}

func TestVotePolicyFromOptions(t *testing.T) {
	store, _ := newTestStore(t, Options{Policy: PolicyTracked})
	ctx := context.Background()
	p, _ := store.Create(ctx, "Host")
	store.AddToQueue(ctx, p.Code, track("T1"), "Alice")

	store.Vote(ctx, p.Code, 0, "Alice", Up)
	queue, _ := store.Vote(ctx, p.Code, 0, "Alice", Up)
	if queue[0].Votes != 1 {
		t.Errorf("Votes = %d, want 1", queue[0].Votes)
	}
	if store.VotePolicy() != PolicyTracked {
		t.Errorf("VotePolicy() = %v", store.VotePolicy())
	}
}

func TestAddToQueueDefaultsSubmitter(t *testing.T) {
	store, _ := newTestStore(t, Options{})
	ctx := context.Background()
	p, _ := store.Create(ctx, "Host")

	queue, err := store.AddToQueue(ctx, p.Code, track("T1"), "")
	if err != nil {
		t.Fatal(err)
	}
	if queue[0].AddedBy != AnonymousName {
		t.Errorf("AddedBy = %q", queue[0].AddedBy)
	}
	if queue[0].Voters == nil {
		t.Error("Voters should be an empty set, not nil")
	}
}

func TestConcurrentAddsAreSerialized(t *testing.T) {
	store, pub := newTestStore(t, Options{})
	ctx := context.Background()
	p, _ := store.Create(ctx, "Host")
	other, _ := store.Create(ctx, "Other")

	const n = 64
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if _, err := store.AddToQueue(ctx, p.Code, track(fmt.Sprintf("t%d", i)), "guest"); err != nil {
				t.Errorf("AddToQueue() error = %v", err)
			}
		}()
		go func() {
			defer wg.Done()
			if _, err := store.Join(ctx, other.Code, "guest"); err != nil {
				t.Errorf("Join() error = %v", err)
			}
		}()
	}
	wg.Wait()

	got, _ := store.Get(ctx, p.Code)
	if len(got.Queue) != n {
		t.Errorf("queue length = %d, want %d", len(got.Queue), n)
	}
	seen := make(map[string]bool)
	for _, e := range got.Queue {
		seen[e.ID] = true
	}
	if len(seen) != n {
		t.Errorf("distinct entries = %d, want %d", len(seen), n)
	}
	gotOther, _ := store.Get(ctx, other.Code)
	if len(gotOther.Members) != n {
		t.Errorf("members = %d, want %d", len(gotOther.Members), n)
	}
	if len(pub.all()) != 2*n {
		t.Errorf("published %d events, want %d", len(pub.all()), 2*n)
	}

	store.mu.Lock()
	leaked := len(store.locks)
	store.mu.Unlock()
	if leaked != 0 {
		t.Errorf("lock map holds %d entries after all operations finished", leaked)
	}
}

func TestConcurrentVotesAreSerialized(t *testing.T) {
	store, _ := newTestStore(t, Options{Policy: PolicyTracked})
	ctx := context.Background()
	p, _ := store.Create(ctx, "Host")
	store.AddToQueue(ctx, p.Code, track("T1"), "Host")

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			store.Vote(ctx, p.Code, 0, fmt.Sprintf("voter-%d", i), Up)
		}()
	}
	wg.Wait()

	got, _ := store.Get(ctx, p.Code)
	if got.Queue[0].Votes != n || len(got.Queue[0].Voters) != n {
		t.Errorf("votes = %d voters = %d, want %d", got.Queue[0].Votes, len(got.Queue[0].Voters), n)
	}
}

func TestSnapshotsAreIsolated(t *testing.T) {
	store, pub := newTestStore(t, Options{})
	ctx := context.Background()
	p, _ := store.Create(ctx, "Host")

	queue, _ := store.AddToQueue(ctx, p.Code, track("T1"), "Alice")
	queue[0].Votes = 99
	queue[0].Voters = append(queue[0].Voters, "mallory")

	joined, _ := store.Join(ctx, p.Code, "Alice")
	joined.Members[0].Name = "Mallory"
	joined.QRPayload[0] = 'X'

	got, _ := store.Get(ctx, p.Code)
	if got.Queue[0].Votes != 0 || len(got.Queue[0].Voters) != 0 {
		t.Errorf("stored queue changed through returned snapshot: %+v", got.Queue[0])
	}
	if got.Members[0].Name != "Alice" {
		t.Errorf("stored member changed through returned snapshot")
	}
	if got.QRPayload[0] == 'X' {
		t.Errorf("stored QR payload changed through returned snapshot")
	}

	// The queue event carries the same committed snapshot the caller got.
	events := pub.all()
	if events[0].payload.([]QueueEntry)[0].ID != "T1" {
		t.Errorf("unexpected queue payload %+v", events[0].payload)
	}
}

func TestUpdatePlayback(t *testing.T) {
	store, pub := newTestStore(t, Options{})
	ctx := context.Background()
	p, _ := store.Create(ctx, "Host")

	song := track("NOW")
	got, err := store.UpdatePlayback(ctx, p.Code, &song)
	if err != nil {
		t.Fatalf("UpdatePlayback() error = %v", err)
	}
	song.Name = "changed after the call"
	if got.CurrentSong == nil || got.CurrentSong.Name != "Song NOW" {
		t.Errorf("CurrentSong = %+v", got.CurrentSong)
	}

	cleared, err := store.UpdatePlayback(ctx, p.Code, nil)
	if err != nil {
		t.Fatal(err)
	}
	if cleared.CurrentSong != nil {
		t.Error("nil track should clear the current song")
	}

	events := pub.all()
	if len(events) != 2 || events[0].event != EventPlaybackUpdated {
		t.Fatalf("events = %+v", events)
	}
	if events[1].payload.(*Track) != nil {
		t.Errorf("cleared playback payload = %+v", events[1].payload)
	}
}

func TestClose(t *testing.T) {
	store, pub := newTestStore(t, Options{})
	ctx := context.Background()
	p, _ := store.Create(ctx, "Host")

	if err := store.Close(ctx, p.Code); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, err := store.Get(ctx, p.Code); !errors.Is(err, ErrPartyNotFound) {
		t.Errorf("Get after Close error = %v", err)
	}
	events := pub.all()
	if len(events) != 1 || events[0].event != EventPartyClosed {
		t.Fatalf("events = %+v", events)
	}
	if n := events[0].payload.(ClosedNotice); n.Reason != "closed" || n.Code != p.Code {
		t.Errorf("notice = %+v", n)
	}
}

func TestReapIdle(t *testing.T) {
	mock := clock.NewMock()
	mock.Set(time.Date(2026, 5, 1, 20, 0, 0, 0, time.UTC))
	store, pub := newTestStore(t, Options{Clock: mock, IdleTimeout: time.Hour})
	ctx := context.Background()

	stale, _ := store.Create(ctx, "stale")
	active, _ := store.Create(ctx, "active")

	mock.Add(45 * time.Minute)
	store.Join(ctx, active.Code, "Alice")
	mock.Add(30 * time.Minute)

	n, err := store.ReapIdle(ctx)
	if err != nil {
		t.Fatalf("ReapIdle() error = %v", err)
	}
	if n != 1 {
		t.Fatalf("reaped %d, want 1", n)
	}
	if _, err := store.Get(ctx, stale.Code); !errors.Is(err, ErrPartyNotFound) {
		t.Errorf("stale party still present: %v", err)
	}
	if _, err := store.Get(ctx, active.Code); err != nil {
		t.Errorf("active party reaped: %v", err)
	}

	var closed []ClosedNotice
	for _, e := range pub.all() {
		if e.event == EventPartyClosed {
			closed = append(closed, e.payload.(ClosedNotice))
		}
	}
	if len(closed) != 1 || closed[0].Code != stale.Code || closed[0].Reason != "expired" {
		t.Errorf("closed notices = %+v", closed)
	}
}

func TestReapIdleDisabled(t *testing.T) {
	mock := clock.NewMock()
	store, _ := newTestStore(t, Options{Clock: mock})
	ctx := context.Background()
	p, _ := store.Create(ctx, "host")

	mock.Add(365 * 24 * time.Hour)
	n, err := store.ReapIdle(ctx)
	if err != nil || n != 0 {
		t.Fatalf("ReapIdle() = %d, %v", n, err)
	}
	if _, err := store.Get(ctx, p.Code); err != nil {
		t.Errorf("party removed with reaping disabled: %v", err)
	}
}

func TestRunStopsWithContext(t *testing.T) {
	mock := clock.NewMock()
	store, _ := newTestStore(t, Options{Clock: mock, IdleTimeout: time.Minute})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		store.Run(ctx, time.Second)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
