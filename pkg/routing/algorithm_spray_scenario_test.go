// SPDX-License-Identifier: GPL-3.0-or-later

package routing

import (
	"testing"
	"time"

	"github.com/dtn7/dtn7-go/pkg/bpv7"
	"github.com/dtn7/dtn7-go/pkg/cla"
	"github.com/dtn7/dtn7-go/pkg/cla/tcp"
)

func newBinarySprayCore(t *testing.T, nodeId string, multiplicity uint64) *Core {
	c, err := NewCore(
		setupCoreDir(t),
		bpv7.MustNewEndpointID(nodeId),
		false,
		RoutingConf{
			Algorithm: "binary_spray",
			SprayConf: SprayConfig{Multiplicity: multiplicity},
		},
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

func pollUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition was not met within timeout")
}

func sprayRemainingCopies(t *testing.T, c *Core, bid bpv7.BundleID) (uint64, bool) {
	bs, ok := c.routing.(*BinarySpray)
	if !ok {
		t.Fatalf("core's routing algorithm is not BinarySpray: %T", c.routing)
	}

	bs.dataMutex.RLock()
	defer bs.dataMutex.RUnlock()

	metadata, ok := bs.bundleData[bid]
	if !ok {
		return 0, false
	}
	return metadata.remainingCopies, true
}

// TestBinarySprayCopyCountSequence covers the spray-and-wait halving
// sequence with a Multiplicity of 4: meeting a first relay splits 4 into
// 2/2, meeting a second splits the remaining 2 into 1/1, and no more than 4
// total copies exist across the network at any time.
func TestBinarySprayCopyCountSequence(t *testing.T) {
	const addrR1 = "127.0.0.1:35563"
	const addrR2 = "127.0.0.1:35564"

	r1Eid := bpv7.MustNewEndpointID("dtn://r1/")
	r2Eid := bpv7.MustNewEndpointID("dtn://r2/")

	coreA := newBinarySprayCore(t, "dtn://a/", 4)
	defer coreA.Close()
	coreR1 := newBinarySprayCore(t, "dtn://r1/", 4)
	defer coreR1.Close()
	coreR2 := newBinarySprayCore(t, "dtn://r2/", 4)
	defer coreR2.Close()

	coreR1.RegisterCLA(tcp.NewServer(addrR1, r1Eid, false), cla.TCP, r1Eid)
	coreA.RegisterCLA(tcp.NewClient(addrR1, r1Eid, false), cla.TCP, r1Eid)

	bndl, err := bpv7.Builder().
		Source("dtn://a/").
		Destination("dtn://dest-never-met/").
		CreationTimestampNow().
		Lifetime("3600s").
		PayloadBlock([]byte("spray and wait")).
		Build()
	if err != nil {
		t.Fatal(err)
	}
	bid := bndl.ID()

	coreA.SendBundle(&bndl)

	pollUntil(t, 2*time.Second, func() bool {
		copies, ok := sprayRemainingCopies(t, coreA, bid)
		return ok && copies == 2
	})
	pollUntil(t, 2*time.Second, func() bool {
		copies, ok := sprayRemainingCopies(t, coreR1, bid)
		return ok && copies == 2
	})

	if copies, _ := sprayRemainingCopies(t, coreA, bid); copies != 2 {
		t.Fatalf("A should have 2 remaining copies after meeting R1, got %d", copies)
	}
	if copies, _ := sprayRemainingCopies(t, coreR1, bid); copies != 2 {
		t.Fatalf("R1 should have 2 remaining copies, got %d", copies)
	}

	// A now meets R2. This triggers a checkPendingBundles retry via the
	// PeerAppeared event, splitting A's remaining 2 copies into 1/1.
	coreR2.RegisterCLA(tcp.NewServer(addrR2, r2Eid, false), cla.TCP, r2Eid)
	coreA.RegisterCLA(tcp.NewClient(addrR2, r2Eid, false), cla.TCP, r2Eid)

	pollUntil(t, 2*time.Second, func() bool {
		copies, ok := sprayRemainingCopies(t, coreR2, bid)
		return ok && copies == 1
	})

	aCopies, _ := sprayRemainingCopies(t, coreA, bid)
	r1Copies, _ := sprayRemainingCopies(t, coreR1, bid)
	r2Copies, _ := sprayRemainingCopies(t, coreR2, bid)

	if aCopies != 1 {
		t.Fatalf("A should have 1 remaining copy after meeting R2, got %d", aCopies)
	}
	if r1Copies != 2 {
		t.Fatalf("R1's copy count should be unaffected by A meeting R2, got %d", r1Copies)
	}
	if r2Copies != 1 {
		t.Fatalf("R2 should have 1 remaining copy, got %d", r2Copies)
	}

	if total := aCopies + r1Copies + r2Copies; total != 4 {
		t.Fatalf("total copies in the network must stay at the Multiplicity of 4, got %d", total)
	}
}
