package core

import (
	"errors"
	"testing"

	"github.com/mentorlab/callkit/internal/domain"
)

type fakeSignal struct {
	frames []Frame
	fail   bool
	closed bool
}

func (f *fakeSignal) TrySend(data Frame) error {
	if f.fail {
		return errors.New("send buffer full")
	}
	f.frames = append(f.frames, data)
	return nil
}

func (f *fakeSignal) Close() { f.closed = true }

func newFakeOccupant(id domain.ParticipantID, role domain.Role) (OccupantSession, *fakeSignal) {
	sig := &fakeSignal{}
	return NewOccupantSession(domain.Participant{ID: id, Role: role}, sig), sig
}

func TestRoomCapacity(t *testing.T) {
	t.Parallel()

	r := NewRoomService(&domain.Room{ID: "room-1"})
	a, _ := newFakeOccupant("u-a", domain.RoleMentor)
	b, _ := newFakeOccupant("u-b", domain.RoleStudent)
	c, _ := newFakeOccupant("u-c", domain.RoleStudent)

	if _, err := r.AddOccupant("c1", a); err != nil {
		t.Fatal(err)
	}
	if _, err := r.AddOccupant("c2", b); err != nil {
		t.Fatal(err)
	}
	if _, err := r.AddOccupant("c3", c); !errors.Is(err, ErrRoomFull) {
		t.Fatalf("third join error = %v, want ErrRoomFull", err)
	}
	if got := r.OccupantCount(); got != domain.MaxOccupants {
		t.Fatalf("count = %d", got)
	}
}

func TestRoomRejoinKeepsSlot(t *testing.T) {
	t.Parallel()

	r := NewRoomService(&domain.Room{ID: "room-1"})
	a, _ := newFakeOccupant("u-a", domain.RoleMentor)
	b, _ := newFakeOccupant("u-b", domain.RoleStudent)
	again, sig2 := newFakeOccupant("u-a", domain.RoleMentor)

	if _, err := r.AddOccupant("c1", a); err != nil {
		t.Fatal(err)
	}
	if _, err := r.AddOccupant("c2", b); err != nil {
		t.Fatal(err)
	}

	prev, err := r.AddOccupant("c3", again)
	if err != nil {
		t.Fatal(err)
	}
	if prev != "c1" {
		t.Fatalf("superseded channel = %q, want c1", prev)
	}
	if got := r.OccupantCount(); got != 2 {
		t.Fatalf("count after rejoin = %d", got)
	}

	// The replaced channel is gone: frames from u-b land on the new one.
	r.Broadcast("c2", Frame(`{"type":"offer"}`))
	if len(sig2.frames) != 1 {
		t.Fatalf("new channel got %d frames", len(sig2.frames))
	}
}

func TestRoomOccupantsJoinOrder(t *testing.T) {
	t.Parallel()

	r := NewRoomService(&domain.Room{ID: "room-1"})
	a, _ := newFakeOccupant("u-a", domain.RoleMentor)
	b, _ := newFakeOccupant("u-b", domain.RoleStudent)
	if _, err := r.AddOccupant("c1", a); err != nil {
		t.Fatal(err)
	}
	if _, err := r.AddOccupant("c2", b); err != nil {
		t.Fatal(err)
	}

	occ := r.Occupants()
	if len(occ) != 2 || occ[0].ID != "u-a" || occ[1].ID != "u-b" {
		t.Fatalf("occupants = %+v", occ)
	}

	r.RemoveOccupant("c1")
	occ = r.Occupants()
	if len(occ) != 1 || occ[0].ID != "u-b" {
		t.Fatalf("occupants after remove = %+v", occ)
	}
}

func TestRoomBroadcastSkipsSender(t *testing.T) {
	t.Parallel()

	r := NewRoomService(&domain.Room{ID: "room-1"})
	a, sigA := newFakeOccupant("u-a", domain.RoleMentor)
	b, sigB := newFakeOccupant("u-b", domain.RoleStudent)
	if _, err := r.AddOccupant("c1", a); err != nil {
		t.Fatal(err)
	}
	if _, err := r.AddOccupant("c2", b); err != nil {
		t.Fatal(err)
	}

	frame := Frame(`{"type":"ice-candidate"}`)
	res := r.Broadcast("c1", frame)
	if res.SentTo != 1 || len(res.Dropped) != 0 {
		t.Fatalf("result = %+v", res)
	}
	if len(sigA.frames) != 0 {
		t.Fatal("sender received its own frame")
	}
	if len(sigB.frames) != 1 || string(sigB.frames[0]) != string(frame) {
		t.Fatalf("peer frames = %v", sigB.frames)
	}
}

func TestRoomBroadcastReportsDropped(t *testing.T) {
	t.Parallel()

	r := NewRoomService(&domain.Room{ID: "room-1"})
	a, _ := newFakeOccupant("u-a", domain.RoleMentor)
	b, sigB := newFakeOccupant("u-b", domain.RoleStudent)
	sigB.fail = true
	if _, err := r.AddOccupant("c1", a); err != nil {
		t.Fatal(err)
	}
	if _, err := r.AddOccupant("c2", b); err != nil {
		t.Fatal(err)
	}

	res := r.Broadcast("c1", Frame("x"))
	if res.SentTo != 0 || len(res.Dropped) != 1 {
		t.Fatalf("result = %+v", res)
	}
	if res.Dropped[0].Participant().ID != "u-b" {
		t.Fatalf("dropped = %v", res.Dropped[0].Participant())
	}
}
