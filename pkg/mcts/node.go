package mcts

import (
	"math"
	"sync"
	"sync/atomic"

	"github.com/DmitryFilippov/Lumina/pkg/chess"
)

type Terminal int32

const (
	TerminalNone Terminal = iota
	TerminalWin
	TerminalLoss
	TerminalDraw
	TerminalTBWin
	TerminalTBLoss
	TerminalTBDraw
)

// value of a terminal node from its own side to move.
func (t Terminal) value() float64 {
	switch t {
	case TerminalWin, TerminalTBWin:
		return 1
	case TerminalLoss, TerminalTBLoss:
		return -1
	}
	return 0
}

const (
	stateFresh int32 = iota
	statePendingEval
	stateExpanded
)

// Edge pairs a move with its prior and the owning pointer to the child.
// Edges are built en bloc at expansion time in descending-prior order and
// never change afterwards.
type Edge struct {
	Move  chess.Move
	P     float32
	Child *Node
}

// Node is one position in the search tree. Counters are atomics: the edge
// array is published by the release store of state, counters use relaxed
// increments, and Q/M are derived on read. The parent pointer is a back
// reference only and never owns.
type Node struct {
	parent *Node

	// Written by the expansion owner before the state release-store,
	// read-only afterwards.
	edges     []Edge
	terminal  Terminal
	nnValue   float32
	movesLeft float32

	n     atomic.Int64
	wBits atomic.Uint64 // float64 bits, CAS-updated
	mBits atomic.Uint64
	vloss atomic.Int32
	state atomic.Int32

	mu         sync.Mutex
	expanded   chan struct{} // closed on publish, created on claim
	collisions [][]*Node
}

func newNode(parent *Node) *Node {
	return &Node{parent: parent}
}

func (nd *Node) N() int64      { return nd.n.Load() }
func (nd *Node) W() float64    { return math.Float64frombits(nd.wBits.Load()) }
func (nd *Node) M() float64    { return math.Float64frombits(nd.mBits.Load()) }
func (nd *Node) VLoss() int32  { return nd.vloss.Load() }
func (nd *Node) Parent() *Node { return nd.parent }
func (nd *Node) IsExpanded() bool {
	return nd.state.Load() == stateExpanded
}
func (nd *Node) IsTerminal() bool {
	return nd.IsExpanded() && nd.terminal != TerminalNone
}

// Edges is valid only after IsExpanded observed true.
func (nd *Node) Edges() []Edge { return nd.edges }

func (nd *Node) Terminal() Terminal {
	if !nd.IsExpanded() {
		return TerminalNone
	}
	return nd.terminal
}

// Q is the running average value from this node's side to move.
func (nd *Node) Q() float64 {
	var n = nd.n.Load()
	if n == 0 {
		return 0
	}
	return nd.W() / float64(n)
}

func (nd *Node) addVisit(v, m float64) {
	nd.n.Add(1)
	addFloat(&nd.wBits, v)
	addFloat(&nd.mBits, m)
}

func addFloat(bits *atomic.Uint64, delta float64) {
	for {
		var old = bits.Load()
		var next = math.Float64bits(math.Float64frombits(old) + delta)
		if bits.CompareAndSwap(old, next) {
			return
		}
	}
}

func (nd *Node) addVirtualLoss(weight int32)    { nd.vloss.Add(weight) }
func (nd *Node) removeVirtualLoss(weight int32) { nd.vloss.Add(-weight) }

// tryClaim elects the single expansion owner for a fresh node.
func (nd *Node) tryClaim() bool {
	if !nd.state.CompareAndSwap(stateFresh, statePendingEval) {
		return false
	}
	nd.mu.Lock()
	nd.expanded = make(chan struct{})
	nd.mu.Unlock()
	return true
}

// publish installs the expansion results and releases them with the state
// store, then rolls back the virtual losses of every collided path.
func (nd *Node) publish(edges []Edge, terminal Terminal, value, movesLeft float32, vlWeight int32) {
	nd.edges = edges
	nd.terminal = terminal
	nd.nnValue = value
	nd.movesLeft = movesLeft
	nd.state.Store(stateExpanded)

	nd.mu.Lock()
	var waiters = nd.expanded
	var collided = nd.collisions
	nd.collisions = nil
	nd.mu.Unlock()
	if waiters != nil {
		close(waiters)
	}
	for _, path := range collided {
		for i := 1; i < len(path); i++ {
			path[i].removeVirtualLoss(vlWeight)
		}
	}
}

// abandonClaim returns a pending node to fresh after a failed evaluation,
// waking waiters and rolling back collided paths so the kept tree stays
// consistent.
func (nd *Node) abandonClaim(vlWeight int32) {
	nd.mu.Lock()
	var waiters = nd.expanded
	var collided = nd.collisions
	nd.collisions = nil
	nd.expanded = nil
	nd.mu.Unlock()
	nd.state.Store(stateFresh)
	if waiters != nil {
		close(waiters)
	}
	for _, path := range collided {
		for i := 1; i < len(path); i++ {
			path[i].removeVirtualLoss(vlWeight)
		}
	}
}

// addCollision parks a CAS-losing path. Its virtual losses stay in place so
// other workers keep diverging, and are rolled back at publish time.
// Returns a channel to wait on when the loser has nowhere else to go.
func (nd *Node) addCollision(path []*Node) <-chan struct{} {
	nd.mu.Lock()
	defer nd.mu.Unlock()
	if nd.state.Load() == stateExpanded {
		// Raced with publish: undo immediately, nobody will sweep us.
		return nil
	}
	nd.collisions = append(nd.collisions, append([]*Node(nil), path...))
	return nd.expanded
}

// checkInvariants walks a quiescent subtree and reports the first violated
// accounting rule, or an empty string.
func (nd *Node) checkInvariants() string {
	if !nd.IsExpanded() {
		return ""
	}
	if nd.vloss.Load() != 0 {
		return "virtual loss left on quiescent node"
	}
	if nd.terminal != TerminalNone {
		if len(nd.edges) != 0 {
			return "terminal node has edges"
		}
		var n = nd.n.Load()
		if n > 0 && math.Abs(nd.Q()-nd.terminal.value()) > 1e-9 {
			return "terminal Q drifted from its result"
		}
		return ""
	}
	var children int64
	var priors float64
	for i := range nd.edges {
		var e = &nd.edges[i]
		priors += float64(e.P)
		if e.Child == nil {
			return "edge without child node"
		}
		if e.Child.parent != nd {
			return "orphan edge"
		}
		children += e.Child.n.Load()
		if msg := e.Child.checkInvariants(); msg != "" {
			return msg
		}
	}
	if nd.n.Load() != children+1 {
		return "visit count out of balance"
	}
	if len(nd.edges) > 0 && math.Abs(priors-1) > 1e-4 {
		return "priors do not sum to one"
	}
	return ""
}
