package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/mentorlab/callkit/internal/core"
	"github.com/mentorlab/callkit/internal/domain"
)

type fakeSignal struct {
	mu     sync.Mutex
	frames []core.Frame
	fail   bool
	closed bool
}

func (f *fakeSignal) TrySend(data core.Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("send buffer full")
	}
	f.frames = append(f.frames, data)
	return nil
}

func (f *fakeSignal) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

func (f *fakeSignal) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}

func newOrchestrator() *Orchestrator {
	return &Orchestrator{
		Registry: NewRegistry(),
		Rooms:    NewRoomManager(),
		Policy:   SimplePolicy{},
	}
}

func bind(t *testing.T, o *Orchestrator, cid core.ConnID, id domain.ParticipantID, role domain.Role) *fakeSignal {
	t.Helper()
	sig := &fakeSignal{}
	_, cancel := context.WithCancel(context.Background())
	o.Registry.BindSignal(cid, core.NewOccupantSession(domain.Participant{ID: id, Role: role}, sig), cancel)
	return sig
}

func TestJoinCreatesRoomAndReportsPeers(t *testing.T) {
	t.Parallel()

	o := newOrchestrator()
	bind(t, o, "c1", "u-a", domain.RoleMentor)
	bind(t, o, "c2", "u-b", domain.RoleStudent)

	res, err := o.Join("c1", "room-1")
	if err != nil {
		t.Fatal(err)
	}
	if res.Count != 1 || res.Rejoined || len(res.Peers) != 0 {
		t.Fatalf("first join = %+v", res)
	}

	res, err = o.Join("c2", "room-1")
	if err != nil {
		t.Fatal(err)
	}
	if res.Count != 2 || len(res.Peers) != 1 || res.Peers[0].ID != "u-a" {
		t.Fatalf("second join = %+v", res)
	}
}

func TestJoinThirdParticipantRejected(t *testing.T) {
	t.Parallel()

	o := newOrchestrator()
	bind(t, o, "c1", "u-a", domain.RoleMentor)
	bind(t, o, "c2", "u-b", domain.RoleStudent)
	bind(t, o, "c3", "u-c", domain.RoleStudent)

	if _, err := o.Join("c1", "room-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := o.Join("c2", "room-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := o.Join("c3", "room-1"); !errors.Is(err, core.ErrRoomFull) {
		t.Fatalf("third join error = %v", err)
	}

	// The occupied room survives the rejected join.
	if _, ok := o.Rooms.Get("room-1"); !ok {
		t.Fatal("room disappeared")
	}
}

func TestJoinRejectionDropsFreshRoom(t *testing.T) {
	t.Parallel()

	// A join that loses its registry entry mid-flight must not leak an
	// empty room, and must not masquerade as a full room.
	o := newOrchestrator()
	if _, err := o.Join("ghost", "room-x"); !errors.Is(err, ErrUnboundChannel) {
		t.Fatalf("unbound join error = %v, want ErrUnboundChannel", err)
	}
	if _, ok := o.Rooms.Get("room-x"); ok {
		t.Fatal("empty room leaked")
	}
}

func TestConcurrentJoinsRespectCapacity(t *testing.T) {
	t.Parallel()

	o := newOrchestrator()
	const n = 8
	for i := 0; i < n; i++ {
		bind(t, o, core.ConnID(fmt.Sprintf("c%d", i)), domain.ParticipantID(fmt.Sprintf("u-%d", i)), domain.RoleStudent)
	}

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = o.Join(core.ConnID(fmt.Sprintf("c%d", i)), "room-1")
		}(i)
	}
	wg.Wait()

	admitted := 0
	for _, err := range errs {
		if err == nil {
			admitted++
		} else if !errors.Is(err, core.ErrRoomFull) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if admitted != domain.MaxOccupants {
		t.Fatalf("admitted = %d, want %d", admitted, domain.MaxOccupants)
	}
	room, ok := o.Rooms.Get("room-1")
	if !ok || room.OccupantCount() != domain.MaxOccupants {
		t.Fatalf("room count = %d", room.OccupantCount())
	}
}

func TestRelayReachesOnlyPeer(t *testing.T) {
	t.Parallel()

	o := newOrchestrator()
	sigA := bind(t, o, "c1", "u-a", domain.RoleMentor)
	sigB := bind(t, o, "c2", "u-b", domain.RoleStudent)
	if _, err := o.Join("c1", "room-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := o.Join("c2", "room-1"); err != nil {
		t.Fatal(err)
	}

	frame := core.Frame(`{"type":"offer","sender_id":"u-a"}`)
	o.Relay("c1", frame)

	if sigA.count() != 0 {
		t.Fatal("sender received its own relay")
	}
	if sigB.count() != 1 {
		t.Fatalf("peer frames = %d", sigB.count())
	}
}

func TestRelayFromUnjoinedChannelIsNoop(t *testing.T) {
	t.Parallel()

	o := newOrchestrator()
	bind(t, o, "c1", "u-a", domain.RoleMentor)
	o.Relay("c1", core.Frame("x")) // not joined anywhere; must not panic
}

func TestRelayKicksSlowOccupant(t *testing.T) {
	t.Parallel()

	o := newOrchestrator()
	bind(t, o, "c1", "u-a", domain.RoleMentor)
	sigB := bind(t, o, "c2", "u-b", domain.RoleStudent)
	sigB.fail = true
	if _, err := o.Join("c1", "room-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := o.Join("c2", "room-1"); err != nil {
		t.Fatal(err)
	}

	o.Relay("c1", core.Frame("x"))

	room, ok := o.Rooms.Get("room-1")
	if !ok {
		t.Fatal("room gone")
	}
	if got := room.OccupantCount(); got != 1 {
		t.Fatalf("count after kick = %d", got)
	}
	for _, p := range room.Occupants() {
		if p.ID == "u-b" {
			t.Fatal("slow occupant still present")
		}
	}
}

func TestLeaveFreesSlotAndDestroysEmptyRoom(t *testing.T) {
	t.Parallel()

	o := newOrchestrator()
	bind(t, o, "c1", "u-a", domain.RoleMentor)
	bind(t, o, "c2", "u-b", domain.RoleStudent)
	if _, err := o.Join("c1", "room-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := o.Join("c2", "room-1"); err != nil {
		t.Fatal(err)
	}

	roomID, p, had := o.Leave("c1")
	if !had || roomID != "room-1" || p.ID != "u-a" {
		t.Fatalf("leave = %v %v %v", roomID, p, had)
	}
	room, ok := o.Rooms.Get("room-1")
	if !ok || room.OccupantCount() != 1 {
		t.Fatal("slot not freed")
	}

	// The freed slot is immediately reusable.
	bind(t, o, "c3", "u-c", domain.RoleStudent)
	if _, err := o.Join("c3", "room-1"); err != nil {
		t.Fatalf("slot not reusable: %v", err)
	}

	o.Leave("c2")
	o.Leave("c3")
	if _, ok := o.Rooms.Get("room-1"); ok {
		t.Fatal("empty room not destroyed")
	}
}

func TestLeaveWithoutJoinIsNoop(t *testing.T) {
	t.Parallel()

	o := newOrchestrator()
	bind(t, o, "c1", "u-a", domain.RoleMentor)
	if _, _, had := o.Leave("c1"); had {
		t.Fatal("leave reported a slot that was never taken")
	}
}

func TestDisconnectUnbindsChannel(t *testing.T) {
	t.Parallel()

	o := newOrchestrator()
	bind(t, o, "c1", "u-a", domain.RoleMentor)
	if _, err := o.Join("c1", "room-1"); err != nil {
		t.Fatal(err)
	}

	if _, _, had := o.Disconnect("c1"); !had {
		t.Fatal("disconnect lost the slot info")
	}
	if _, ok := o.Registry.GetSession("c1"); ok {
		t.Fatal("channel still bound")
	}
	if _, ok := o.Rooms.Get("room-1"); ok {
		t.Fatal("room survived last occupant")
	}
}

func TestRejoinRetiresOldChannel(t *testing.T) {
	t.Parallel()

	o := newOrchestrator()
	sigA := bind(t, o, "c1", "u-a", domain.RoleMentor)
	bind(t, o, "c2", "u-b", domain.RoleStudent)
	if _, err := o.Join("c1", "room-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := o.Join("c2", "room-1"); err != nil {
		t.Fatal(err)
	}

	bind(t, o, "c3", "u-b", domain.RoleStudent)
	res, err := o.Join("c3", "room-1")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Rejoined {
		t.Fatal("expected rejoin")
	}

	// The superseded channel is gone from the registry and its frames no
	// longer reach the room.
	if _, ok := o.Registry.GetSession("c2"); ok {
		t.Fatal("old channel still bound")
	}
	before := sigA.count()
	o.Relay("c2", core.Frame(`{"type":"offer"}`))
	if sigA.count() != before {
		t.Fatal("stale channel frame relayed into the room")
	}

	// The fresh channel relays normally.
	o.Relay("c3", core.Frame(`{"type":"offer"}`))
	if sigA.count() != before+1 {
		t.Fatal("fresh channel relay lost")
	}
}

func TestLeaveOfStaleChannelAfterRejoin(t *testing.T) {
	t.Parallel()

	o := newOrchestrator()
	bind(t, o, "c1", "u-a", domain.RoleMentor)
	bind(t, o, "c2", "u-a", domain.RoleMentor) // same participant, fresh channel
	if _, err := o.Join("c1", "room-1"); err != nil {
		t.Fatal(err)
	}
	res, err := o.Join("c2", "room-1")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Rejoined {
		t.Fatal("expected rejoin")
	}

	// The dying old channel must not register as a departure.
	if _, _, had := o.Leave("c1"); had {
		t.Fatal("stale channel reported as departure")
	}
	room, ok := o.Rooms.Get("room-1")
	if !ok || room.OccupantCount() != 1 {
		t.Fatal("rejoined occupant lost its slot")
	}
}

func TestJoinSwitchingRoomsLeavesOldRoom(t *testing.T) {
	t.Parallel()

	o := newOrchestrator()
	bind(t, o, "c1", "u-a", domain.RoleMentor)
	if _, err := o.Join("c1", "room-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := o.Join("c1", "room-2"); err != nil {
		t.Fatal(err)
	}

	if _, ok := o.Rooms.Get("room-1"); ok {
		t.Fatal("old room not cleaned up")
	}
	room, ok := o.Rooms.Get("room-2")
	if !ok || room.OccupantCount() != 1 {
		t.Fatal("new room missing occupant")
	}
}
