package net

import (
	"math/rand"
	"reflect"
	"testing"
	"time"

	"github.com/sectionnet/routing/src/common"
	"github.com/sectionnet/routing/src/xor"
)

func TestInmemTransportBootstrap(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	addr1, trans1 := NewInmemTransport("")
	defer trans1.Close()
	addr2, trans2 := NewInmemTransport("")
	defer trans2.Close()

	trans1.Connect(addr2, trans2)

	args := &BootstrapRequest{
		FromAddr:    addr1,
		Destination: xor.RandomName(rng),
	}
	expected := &BootstrapResponse{
		FromAddr:    addr2,
		Rebootstrap: []string{"contact1", "contact2"},
	}

	go func() {
		rpc := <-trans2.Consumer()
		req, ok := rpc.Command.(*BootstrapRequest)
		if !ok {
			t.Errorf("command type: got %T", rpc.Command)
		}
		if req.Destination != args.Destination {
			t.Errorf("destination: got %s, want %s", req.Destination, args.Destination)
		}
		rpc.Respond(expected, nil)
	}()

	var resp BootstrapResponse
	if err := trans1.Bootstrap(addr2, args, &resp); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(&resp, expected) {
		t.Fatalf("response: got %+v, want %+v", resp, expected)
	}
}

func TestInmemTransportDisconnectedTarget(t *testing.T) {
	_, trans := NewInmemTransport("")
	defer trans.Close()

	var resp VoteResponse
	if err := trans.Vote("nowhere", &VoteRequest{}, &resp); err == nil {
		t.Fatal("expected error for unknown target")
	}
}

func TestTCPTransportVoteRoundTrip(t *testing.T) {
	logger := common.NewTestEntry(t, "net")

	trans1, err := NewTCPTransport("127.0.0.1:0", "", 2, time.Second, time.Second, logger)
	if err != nil {
		t.Fatal(err)
	}
	defer trans1.Close()
	go trans1.Listen()

	trans2, err := NewTCPTransport("127.0.0.1:0", "", 2, time.Second, time.Second, logger)
	if err != nil {
		t.Fatal(err)
	}
	defer trans2.Close()

	go func() {
		rpc := <-trans1.Consumer()
		req, ok := rpc.Command.(*VoteRequest)
		if !ok {
			t.Errorf("command type: got %T", rpc.Command)
		}
		if len(req.EventBytes) == 0 {
			t.Error("empty event bytes")
		}
		rpc.Respond(&VoteResponse{Success: true}, nil)
	}()

	args := &VoteRequest{
		FromAddr:   trans2.AdvertiseAddr(),
		EventBytes: []byte(`{"Type":0}`),
	}
	var resp VoteResponse
	if err := trans2.Vote(trans1.AdvertiseAddr(), args, &resp); err != nil {
		t.Fatal(err)
	}
	if !resp.Success {
		t.Fatal("vote not acknowledged")
	}
}
