package mcts

import (
	"sync"
	"testing"
)

func TestNodeClaimElectsOneOwner(t *testing.T) {
	var nd = newNode(nil)
	var owners = 0
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if nd.tryClaim() {
				mu.Lock()
				owners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if owners != 1 {
		t.Errorf("claim owners: %v", owners)
	}
}

func TestNodePublishReleasesEdges(t *testing.T) {
	var nd = newNode(nil)
	if !nd.tryClaim() {
		t.Fatal("claim failed")
	}
	if nd.IsExpanded() {
		t.Error("expanded before publish")
	}
	var child = newNode(nd)
	nd.publish([]Edge{{P: 1, Child: child}}, TerminalNone, 0.25, 10, 1)
	if !nd.IsExpanded() {
		t.Error("not expanded after publish")
	}
	if len(nd.Edges()) != 1 || nd.Edges()[0].Child != child {
		t.Error("edge array lost")
	}
}

func TestNodeCollisionRollback(t *testing.T) {
	var nd = newNode(nil)
	var parent = newNode(nil)
	if !nd.tryClaim() {
		t.Fatal("claim failed")
	}
	// A loser path holds virtual losses on every node it selected.
	var path = []*Node{parent, nd}
	nd.addVirtualLoss(1)
	var wait = nd.addCollision(path)
	if wait == nil {
		t.Fatal("collision not registered while pending")
	}
	nd.publish(nil, TerminalDraw, 0, 0, 1)
	select {
	case <-wait:
	default:
		t.Error("publish did not release waiters")
	}
	if nd.VLoss() != 0 {
		t.Errorf("virtual loss not rolled back: %v", nd.VLoss())
	}
}

func TestNodeAbandonClaim(t *testing.T) {
	var nd = newNode(nil)
	if !nd.tryClaim() {
		t.Fatal("claim failed")
	}
	nd.addVirtualLoss(1)
	var wait = nd.addCollision([]*Node{newNode(nil), nd})
	nd.abandonClaim(1)
	select {
	case <-wait:
	default:
		t.Error("abandon did not release waiters")
	}
	if nd.VLoss() != 0 {
		t.Errorf("virtual loss not rolled back: %v", nd.VLoss())
	}
	if !nd.tryClaim() {
		t.Error("node not claimable after abandon")
	}
}

func TestTerminalQIsPinned(t *testing.T) {
	var nd = newNode(nil)
	nd.tryClaim()
	nd.publish(nil, TerminalLoss, -1, 0, 1)
	for i := 0; i < 5; i++ {
		nd.addVisit(TerminalLoss.value(), 0)
	}
	if nd.Q() != -1 {
		t.Errorf("terminal Q drifted: %v", nd.Q())
	}
	if msg := nd.checkInvariants(); msg != "" {
		t.Error(msg)
	}
}

func TestCheckInvariantsCatchesImbalance(t *testing.T) {
	var nd = newNode(nil)
	nd.tryClaim()
	var child = newNode(nd)
	nd.publish([]Edge{{P: 1, Child: child}}, TerminalNone, 0, 0, 1)
	nd.addVisit(0, 0)
	child.n.Add(5) // never backpropagated
	if msg := nd.checkInvariants(); msg == "" {
		t.Error("imbalance not reported")
	}
}
