package httpchan

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ryandielhenn/meshmap/pkg/meshmap"
)

type echoResponder struct{}

func (echoResponder) ReplyRequest(msg *meshmap.Message, from meshmap.MemberID) (*meshmap.Message, error) {
	return &meshmap.Message{Type: msg.Type, KeyRaw: msg.KeyRaw}, nil
}

type captureListener struct {
	got chan *meshmap.Message
}

func (l *captureListener) Accept(msg *meshmap.Message, from meshmap.MemberID) bool { return true }

func (l *captureListener) MessageReceived(msg *meshmap.Message, from meshmap.MemberID) {
	l.got <- msg
}

func (l *captureListener) LeftOver(msg *meshmap.Message, from meshmap.MemberID) {}

// newNode starts an httptest.Server backed by a Transport and returns the
// transport alongside its address, so tests can wire a small two-node
// cluster without touching the network beyond loopback.
func newNode(t *testing.T) (*Transport, string) {
	t.Helper()
	tr := New("placeholder")
	srv := httptest.NewServer(tr.Handler())
	t.Cleanup(srv.Close)
	tr.self = meshmap.MemberID(srv.URL)
	return tr, srv.URL
}

func TestChannelSendDeliversOverHTTP(t *testing.T) {
	trA, addrA := newNode(t)
	trB, addrB := newNode(t)
	trA.UpdatePeers(map[meshmap.MemberID]string{meshmap.MemberID(addrB): addrB})
	trB.UpdatePeers(map[meshmap.MemberID]string{meshmap.MemberID(addrA): addrA})

	chA, _ := trA.MapContext("kv")
	chB, _ := trB.MapContext("kv")

	l := &captureListener{got: make(chan *meshmap.Message, 1)}
	chB.AddChannelListener(l)

	msg := &meshmap.Message{Type: meshmap.MsgPing, KeyRaw: []byte("k")}
	if err := chA.Send([]meshmap.MemberID{meshmap.MemberID(addrB)}, msg, meshmap.SendOptionsDefault); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case got := <-l.got:
		if string(got.KeyRaw) != "k" {
			t.Fatalf("got KeyRaw=%q, want k", got.KeyRaw)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for HTTP delivery")
	}
}

func TestRPCSendRoundTripsOverHTTP(t *testing.T) {
	trA, addrA := newNode(t)
	trB, addrB := newNode(t)
	trA.UpdatePeers(map[meshmap.MemberID]string{meshmap.MemberID(addrB): addrB})
	trB.UpdatePeers(map[meshmap.MemberID]string{meshmap.MemberID(addrA): addrA})

	_, rpcA := trA.MapContext("kv")
	_, rpcB := trB.MapContext("kv")
	rpcB.Bind(echoResponder{})

	msg := &meshmap.Message{Type: meshmap.MsgState, KeyRaw: []byte("hello")}
	replies, err := rpcA.Send([]meshmap.MemberID{meshmap.MemberID(addrB)}, msg, meshmap.AllReply, meshmap.SendOptionsDefault, 2*time.Second)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(replies) != 1 {
		t.Fatalf("got %d replies, want 1", len(replies))
	}
	if string(replies[0].Message.KeyRaw) != "hello" {
		t.Fatalf("reply KeyRaw = %q, want hello", replies[0].Message.KeyRaw)
	}
}

func TestRPCSendNoResponderIsFaulty(t *testing.T) {
	trA, addrA := newNode(t)
	trB, addrB := newNode(t)
	trA.UpdatePeers(map[meshmap.MemberID]string{meshmap.MemberID(addrB): addrB})
	trB.UpdatePeers(map[meshmap.MemberID]string{meshmap.MemberID(addrA): addrA})

	_, rpcA := trA.MapContext("kv")
	trB.MapContext("kv") // never binds a responder

	_, err := rpcA.Send([]meshmap.MemberID{meshmap.MemberID(addrB)}, &meshmap.Message{}, meshmap.AllReply, meshmap.SendOptionsDefault, 500*time.Millisecond)
	if err == nil {
		t.Fatal("expected error when peer has no bound responder")
	}
}
