// SPDX-License-Identifier: GPL-3.0-or-later

package tcp

import (
	"reflect"
	"testing"
	"time"

	"github.com/dtn7/dtn7-go/pkg/bpv7"
	"github.com/dtn7/dtn7-go/pkg/cla"
)

func TestTCPRoundTrip(t *testing.T) {
	bndl, err := bpv7.Builder().
		Source("dtn://src/").
		Destination("dtn://dest/").
		CreationTimestampNow().
		Lifetime("10m").
		PayloadBlock([]byte("hello world")).
		Build()
	if err != nil {
		t.Fatal(err)
	}

	const addr = "127.0.0.1:35556"

	server := NewServer(addr, bpv7.MustNewEndpointID("dtn://dest/"), false)
	if startErr, _ := server.Start(); startErr != nil {
		t.Fatal(startErr)
	}
	defer func() { _ = server.Close() }()

	client := NewClient(addr, bpv7.MustNewEndpointID("dtn://dest/"), false)
	if startErr, _ := client.Start(); startErr != nil {
		t.Fatal(startErr)
	}
	defer func() { _ = client.Close() }()

	select {
	case cs := <-client.Channel():
		if cs.MessageType != cla.PeerAppeared {
			t.Fatalf("expected PeerAppeared, got %v", cs.MessageType)
		}
	case <-time.After(time.Second):
		t.Fatal("client did not report PeerAppeared")
	}

	if err := client.Send(bndl); err != nil {
		t.Fatal(err)
	}

	select {
	case cs := <-server.Channel():
		if cs.MessageType != cla.ReceivedBundle {
			t.Fatalf("expected ReceivedBundle, got %v", cs.MessageType)
		}
		crb := cs.Message.(cla.ConvergenceReceivedBundle)
		if !reflect.DeepEqual(*crb.Bundle, bndl) {
			t.Fatal("received bundle did not match sent bundle")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server did not receive the bundle within timeout")
	}
}
