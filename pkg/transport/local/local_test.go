package local

import (
	"testing"
	"time"

	"github.com/ryandielhenn/meshmap/pkg/meshmap"
)

type recordingResponder struct {
	reply *meshmap.Message
	err   error
}

func (r *recordingResponder) ReplyRequest(msg *meshmap.Message, from meshmap.MemberID) (*meshmap.Message, error) {
	return r.reply, r.err
}

type recordingChannelListener struct {
	accept  bool
	got     chan *meshmap.Message
	fromGot chan meshmap.MemberID
}

func (l *recordingChannelListener) Accept(msg *meshmap.Message, from meshmap.MemberID) bool {
	return l.accept
}

func (l *recordingChannelListener) MessageReceived(msg *meshmap.Message, from meshmap.MemberID) {
	l.got <- msg
	l.fromGot <- from
}

func (l *recordingChannelListener) LeftOver(msg *meshmap.Message, from meshmap.MemberID) {}

func TestHubJoinAnnouncesToExistingPeers(t *testing.T) {
	hub := NewHub()
	var added meshmap.MemberID
	ch1, _ := hub.Join("a")
	ch1.AddMembershipListener(membershipFunc{added: func(id meshmap.MemberID) { added = id }})

	hub.Join("b")

	if added != "b" {
		t.Fatalf("expected member 'a' to be notified of join of 'b', got %q", added)
	}
}

func TestChannelSendDeliversToListener(t *testing.T) {
	hub := NewHub()
	chA, _ := hub.Join("a")
	chB, _ := hub.Join("b")

	l := &recordingChannelListener{accept: true, got: make(chan *meshmap.Message, 1), fromGot: make(chan meshmap.MemberID, 1)}
	chB.AddChannelListener(l)

	msg := &meshmap.Message{Type: meshmap.MsgPing}
	if err := chA.Send([]meshmap.MemberID{"b"}, msg, meshmap.SendOptionsDefault); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case got := <-l.got:
		if got.Type != meshmap.MsgPing {
			t.Fatalf("got message type %v, want MsgPing", got.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
	}
	if from := <-l.fromGot; from != "a" {
		t.Fatalf("delivered from %q, want a", from)
	}
}

func TestRPCSendToUnboundMemberIsFaulty(t *testing.T) {
	hub := NewHub()
	_, rpcA := hub.Join("a")
	hub.Join("b") // never binds a responder

	_, err := rpcA.Send([]meshmap.MemberID{"b"}, &meshmap.Message{}, meshmap.AllReply, meshmap.SendOptionsDefault, 50*time.Millisecond)
	if err == nil {
		t.Fatal("expected error when destination has no bound responder")
	}
}

func TestRPCSendToUnknownMemberDoesNotPanic(t *testing.T) {
	hub := NewHub()
	_, rpcA := hub.Join("a")

	_, err := rpcA.Send([]meshmap.MemberID{"ghost"}, &meshmap.Message{}, meshmap.AllReply, meshmap.SendOptionsDefault, 50*time.Millisecond)
	if err == nil {
		t.Fatal("expected error when destination was never joined")
	}
}

func TestRPCSendAllReplyCollectsEveryReply(t *testing.T) {
	hub := NewHub()
	_, rpcA := hub.Join("a")
	_, rpcB := hub.Join("b")
	_, rpcC := hub.Join("c")
	rpcB.Bind(&recordingResponder{reply: &meshmap.Message{Type: meshmap.MsgPing}})
	rpcC.Bind(&recordingResponder{reply: &meshmap.Message{Type: meshmap.MsgPing}})

	replies, err := rpcA.Send([]meshmap.MemberID{"b", "c"}, &meshmap.Message{}, meshmap.AllReply, meshmap.SendOptionsDefault, time.Second)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(replies) != 2 {
		t.Fatalf("AllReply got %d replies, want 2", len(replies))
	}
}

func TestRPCSendFirstReplyReturnsEarly(t *testing.T) {
	hub := NewHub()
	_, rpcA := hub.Join("a")
	_, rpcB := hub.Join("b")
	rpcB.Bind(&recordingResponder{reply: &meshmap.Message{Type: meshmap.MsgPing}})

	replies, err := rpcA.Send([]meshmap.MemberID{"b"}, &meshmap.Message{}, meshmap.FirstReply, meshmap.SendOptionsDefault, time.Second)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(replies) != 1 {
		t.Fatalf("FirstReply got %d replies, want 1", len(replies))
	}
}

func TestHubLeaveAnnouncesDisappearance(t *testing.T) {
	hub := NewHub()
	chA, _ := hub.Join("a")
	var gone meshmap.MemberID
	chA.AddMembershipListener(membershipFunc{disappeared: func(id meshmap.MemberID) { gone = id }})
	hub.Join("b")

	hub.Leave("b")

	if gone != "b" {
		t.Fatalf("expected 'a' to be notified of 'b' leaving, got %q", gone)
	}
}

// membershipFunc adapts plain functions to meshmap.MembershipListener for
// tests that only care about one callback at a time.
type membershipFunc struct {
	added       func(meshmap.MemberID)
	disappeared func(meshmap.MemberID)
}

func (f membershipFunc) MemberAdded(id meshmap.MemberID) {
	if f.added != nil {
		f.added(id)
	}
}

func (f membershipFunc) MemberDisappeared(id meshmap.MemberID) {
	if f.disappeared != nil {
		f.disappeared(id)
	}
}
