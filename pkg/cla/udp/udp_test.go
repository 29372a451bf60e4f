// SPDX-License-Identifier: GPL-3.0-or-later

package udp

import (
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/dtn7/dtn7-go/pkg/bpv7"
	"github.com/dtn7/dtn7-go/pkg/cla"
)

func TestUDPRoundTripSingleDatagram(t *testing.T) {
	const addr = "127.0.0.1:35557"

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

	<-client.Channel() // PeerAppeared

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

func TestUDPRoundTripFragmented(t *testing.T) {
	const addr = "127.0.0.1:35558"

	bndl, err := bpv7.Builder().
		Source("dtn://src/").
		Destination("dtn://dest/").
		CreationTimestampNow().
		Lifetime("10m").
		PayloadBlock([]byte(strings.Repeat("x", 3*maxDatagramSize))).
		Build()
	if err != nil {
		t.Fatal(err)
	}

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

	<-client.Channel() // PeerAppeared

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
		t.Fatal("server did not receive the reassembled bundle within timeout")
	}
}
