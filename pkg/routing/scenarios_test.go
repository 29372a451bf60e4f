// SPDX-License-Identifier: GPL-3.0-or-later

package routing

import (
	"io/ioutil"
	"os"
	"testing"
	"time"

	"github.com/dtn7/dtn7-go/pkg/bpv7"
	"github.com/dtn7/dtn7-go/pkg/cla"
	"github.com/dtn7/dtn7-go/pkg/cla/tcp"
)

func setupCoreDir(t *testing.T) string {
	dir, err := ioutil.TempDir("", "routing-core")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return dir
}

func newEpidemicCore(t *testing.T, nodeId string) *Core {
	c, err := NewCore(
		setupCoreDir(t),
		bpv7.MustNewEndpointID(nodeId),
		false,
		RoutingConf{Algorithm: "epidemic"},
		0,
		time.Hour,
		50*time.Millisecond,
		0,
	)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

// TestDirectDeliveryEpidemic covers the direct delivery scenario: a source
// with a single, already-connected neighbor which is also the bundle's
// destination.
func TestDirectDeliveryEpidemic(t *testing.T) {
	const addrB = "127.0.0.1:35560"

	coreA := newEpidemicCore(t, "dtn://a/")
	defer coreA.Close()
	coreB := newEpidemicCore(t, "dtn://b/")
	defer coreB.Close()

	coreB.RegisterCLA(tcp.NewServer(addrB, bpv7.MustNewEndpointID("dtn://b/"), false), cla.TCP, bpv7.MustNewEndpointID("dtn://b/"))
	coreA.RegisterCLA(tcp.NewClient(addrB, bpv7.MustNewEndpointID("dtn://b/"), false), cla.TCP, bpv7.MustNewEndpointID("dtn://b/"))

	delivered := make(chan bpv7.Bundle, 1)
	coreB.RegisterLocalEndpoint(bpv7.MustNewEndpointID("dtn://b/"), func(b bpv7.Bundle) {
		delivered <- b
	})

	bndl, err := bpv7.Builder().
		Source("dtn://a/").
		Destination("dtn://b/").
		CreationTimestampNow().
		Lifetime("3600s").
		PayloadBlock(make([]byte, 512)).
		Build()
	if err != nil {
		t.Fatal(err)
	}

	coreA.SendBundle(&bndl)

	select {
	case b := <-delivered:
		if b.PrimaryBlock.SourceNode.String() != "dtn://a/" {
			t.Fatalf("unexpected source: %v", b.PrimaryBlock.SourceNode)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("bundle was not delivered to B within timeout")
	}

	select {
	case <-delivered:
		t.Fatal("bundle was delivered more than once")
	case <-time.After(100 * time.Millisecond):
	}
}

// TestTwoHopRelayEpidemic covers the two-hop relay scenario: A and B never
// connect directly, only through R.
func TestTwoHopRelayEpidemic(t *testing.T) {
	const addrR = "127.0.0.1:35561"
	const addrB = "127.0.0.1:35562"

	rEid := bpv7.MustNewEndpointID("dtn://r/")
	bEid := bpv7.MustNewEndpointID("dtn://b/")

	coreA := newEpidemicCore(t, "dtn://a/")
	defer coreA.Close()
	coreR := newEpidemicCore(t, "dtn://r/")
	defer coreR.Close()
	coreB := newEpidemicCore(t, "dtn://b/")
	defer coreB.Close()

	// A <-> R
	coreR.RegisterCLA(tcp.NewServer(addrR, rEid, false), cla.TCP, rEid)
	coreA.RegisterCLA(tcp.NewClient(addrR, rEid, false), cla.TCP, rEid)

	// R <-> B
	coreB.RegisterCLA(tcp.NewServer(addrB, bEid, false), cla.TCP, bEid)
	coreR.RegisterCLA(tcp.NewClient(addrB, bEid, false), cla.TCP, bEid)

	delivered := make(chan bpv7.Bundle, 4)
	coreB.RegisterLocalEndpoint(bEid, func(b bpv7.Bundle) {
		delivered <- b
	})

	bndl, err := bpv7.Builder().
		Source("dtn://a/").
		Destination("dtn://b/").
		CreationTimestampNow().
		Lifetime("3600s").
		PayloadBlock([]byte("two hop relay")).
		Build()
	if err != nil {
		t.Fatal(err)
	}

	coreA.SendBundle(&bndl)

	select {
	case b := <-delivered:
		payload, pErr := b.PayloadBlock()
		if pErr != nil {
			t.Fatal(pErr)
		}
		if string(payload.Value.(*bpv7.PayloadBlock).Data()) != "two hop relay" {
			t.Fatalf("unexpected payload: %v", payload)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("bundle was not relayed to B within timeout")
	}

	select {
	case <-delivered:
		t.Fatal("B received the relayed bundle more than once")
	case <-time.After(200 * time.Millisecond):
	}
}
