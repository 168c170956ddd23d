package mcts

import (
	"context"
	"math"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/DmitryFilippov/Lumina/pkg/chess"
	"github.com/DmitryFilippov/Lumina/pkg/nn"
)

// TablebaseProber answers endgame probes with a WDL score from the side to
// move: +1 win, 0 draw, -1 loss. Failures report ok=false and the search
// falls back to the network.
type TablebaseProber interface {
	ProbeWDL(pos *chess.Position) (wdl int, ok bool)
}

// Search runs one move search over a shared tree: a pool of workers descends
// by PUCT, leaves are evaluated through the batcher, results are
// backpropagated, and the stopper chain is polled after every playout.
type Search struct {
	params    Params
	tree      *Tree
	batcher   *nn.Batcher
	prober    TablebaseProber
	stopper   Stopper
	rootMoves map[chess.Move]bool

	rootPriors []float32

	stopFlag  atomic.Bool
	abort     chan struct{}
	abortOnce sync.Once

	playouts atomic.Int64
	selDepth atomic.Int64
	start    time.Time

	pollMu    sync.Mutex
	edgeCache []int64
}

func NewSearch(tree *Tree, batcher *nn.Batcher, prober TablebaseProber,
	params Params, stopper Stopper, rootMoves []chess.Move) *Search {
	var s = &Search{
		params:  params,
		tree:    tree,
		batcher: batcher,
		prober:  prober,
		stopper: stopper,
		abort:   make(chan struct{}),
	}
	if len(rootMoves) > 0 {
		s.rootMoves = make(map[chess.Move]bool, len(rootMoves))
		for _, m := range rootMoves {
			s.rootMoves[m] = true
		}
	}
	return s
}

// Stop lets in-flight playouts finish and then ends the search.
func (s *Search) Stop() { s.stopFlag.Store(true) }

// Abort additionally tears down pending evaluations; their results are
// discarded.
func (s *Search) Abort() {
	s.Stop()
	s.abortOnce.Do(func() { close(s.abort) })
}

func (s *Search) Playouts() int64 { return s.playouts.Load() }
func (s *Search) SelDepth() int64 { return s.selDepth.Load() }
func (s *Search) Elapsed() time.Duration {
	return time.Since(s.start)
}

// Run blocks until the stopper fires, Stop/Abort is called, ctx is
// cancelled, or the evaluator fails.
func (s *Search) Run(ctx context.Context) error {
	s.start = time.Now()
	if s.tree.Root() == nil {
		return errors.New("mcts: search without a position")
	}

	var collectorDone = make(chan error, 1)
	go func() { collectorDone <- s.batcher.Run() }()

	var err = s.run(ctx)

	s.batcher.Close()
	if cerr := <-collectorDone; err == nil && cerr != nil {
		err = cerr
	}
	return err
}

func (s *Search) run(ctx context.Context) error {
	if err := s.ensureRootExpanded(); err != nil {
		return err
	}
	var root = s.tree.Root()
	if root.terminal != TerminalNone || len(root.edges) == 0 {
		return nil
	}
	s.applyRootNoise()

	var watchDone = make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-watchDone:
		}
	}()

	var g errgroup.Group
	for i := 0; i < s.params.Threads; i++ {
		g.Go(s.worker)
	}
	var err = g.Wait()
	s.Stop()
	return err
}

func (s *Search) worker() error {
	var lastCollision *Node
	if s.pollStoppers() {
		s.Stop()
	}
	for !s.stopFlag.Load() {
		var err = s.playout(&lastCollision)
		if err != nil {
			s.Abort()
			return err
		}
		s.playouts.Add(1)
		if s.pollStoppers() {
			s.Stop()
		}
	}
	return nil
}

// playout runs one root-to-leaf descent. A collision with another worker's
// pending expansion counts as an iteration but produces no new visit.
func (s *Search) playout(lastCollision **Node) error {
	var node = s.tree.Root()
	var pos = s.tree.HeadPosition()
	var path = make([]*Node, 1, 64)
	path[0] = node

	for node.IsExpanded() && node.terminal == TerminalNone {
		var edge = s.selectChild(node, len(path) == 1)
		if edge == nil {
			break
		}
		var next, ok = pos.Apply(edge.Move)
		if !ok {
			return errors.Errorf("mcts: tree edge holds illegal move %v", edge.Move)
		}
		edge.Child.addVirtualLoss(s.params.VirtualLossWeight)
		node = edge.Child
		path = append(path, node)
		pos = next
	}

	if depth := int64(len(path) - 1); depth > s.selDepth.Load() {
		s.selDepth.Store(depth)
	}

	if node.IsExpanded() && node.terminal != TerminalNone {
		s.backprop(path, node.terminal.value(), 0)
		*lastCollision = nil
		return nil
	}

	if node.tryClaim() {
		*lastCollision = nil
		return s.expandAndBackprop(node, pos, path)
	}

	// Another worker owns the expansion. The virtual losses stay on the
	// path so the next descent diverges; the owner rolls them back when it
	// publishes. If this worker keeps landing on the same node it has
	// nowhere else to go and waits the evaluation out.
	var wait = node.addCollision(path)
	if wait == nil {
		// Lost the race to a publish that already happened: roll back
		// ourselves and let the next iteration pass through.
		for i := 1; i < len(path); i++ {
			path[i].removeVirtualLoss(s.params.VirtualLossWeight)
		}
		*lastCollision = nil
		return nil
	}
	if *lastCollision == node {
		select {
		case <-wait:
		case <-s.abort:
		}
	}
	*lastCollision = node
	return nil
}

func (s *Search) expandAndBackprop(node *Node, pos *chess.Position, path []*Node) error {
	var vl = s.params.VirtualLossWeight

	var outcome chess.Outcome
	if len(path) == 1 {
		// The controller asked for this exact position; a root repetition
		// is not a finished game.
		outcome = pos.Outcome()
	} else {
		outcome = pos.SearchOutcome()
	}
	switch outcome {
	case chess.Loss:
		node.publish(nil, TerminalLoss, -1, 0, vl)
		s.backprop(path, -1, 0)
		return nil
	case chess.Draw:
		node.publish(nil, TerminalDraw, 0, 0, vl)
		s.backprop(path, 0, 0)
		return nil
	}

	if s.prober != nil && s.params.TablebasePieceLimit > 0 &&
		pos.PieceCount() <= s.params.TablebasePieceLimit {
		if wdl, ok := s.prober.ProbeWDL(pos); ok {
			var tag = TerminalTBDraw
			if wdl > 0 {
				tag = TerminalTBWin
			} else if wdl < 0 {
				tag = TerminalTBLoss
			}
			node.publish(nil, tag, float32(tag.value()), 0, vl)
			s.backprop(path, tag.value(), 0)
			return nil
		}
	}

	var moves = pos.LegalMoves()
	var indices = make([]int, len(moves))
	for i, m := range moves {
		indices[i] = pos.PolicyIndex(m)
	}
	var entry, err = s.batcher.Evaluate(&nn.Request{
		Fingerprint:   pos.Fingerprint(),
		VerifyKey:     pos.VerifyKey(),
		Planes:        pos.Encode(),
		PolicyIndices: indices,
	}, s.abort)
	if err != nil {
		node.abandonClaim(vl)
		for i := 1; i < len(path); i++ {
			path[i].removeVirtualLoss(vl)
		}
		return err
	}

	var order = make([]int, len(moves))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return entry.Priors[order[a]] > entry.Priors[order[b]]
	})
	var edges = make([]Edge, len(moves))
	for i, idx := range order {
		edges[i] = Edge{Move: moves[idx], P: entry.Priors[idx], Child: newNode(node)}
	}
	node.publish(edges, TerminalNone, entry.Value, entry.MovesLeft, vl)
	s.backprop(path, float64(entry.Value), float64(entry.MovesLeft))
	return nil
}

// backprop adds the leaf value along the path, flipping the sign every ply
// so each node accumulates from its own side to move, and rolls back the
// virtual losses the descent placed.
func (s *Search) backprop(path []*Node, leafValue, leafMovesLeft float64) {
	var v = leafValue
	for i := len(path) - 1; i >= 0; i-- {
		var nd = path[i]
		nd.addVisit(v, leafMovesLeft+float64(len(path)-1-i))
		if i > 0 {
			nd.removeVirtualLoss(s.params.VirtualLossWeight)
		}
		v = -v
	}
}

// selectChild picks the PUCT-maximising edge. Edges are ordered by
// descending prior, so a strict comparison already breaks ties toward the
// higher prior and then the lower move index.
func (s *Search) selectChild(node *Node, isRoot bool) *Edge {
	var parentN = node.N()
	var cpuct = s.params.cpuct(parentN)
	var sqrtN = math.Sqrt(float64(parentN))

	var fpu float64
	if s.params.FPUStrategy == FPUAbsolute {
		fpu = s.params.FPUValue
	} else {
		fpu = node.Q() - s.params.FPUValue
	}
	var parentM = node.M() / math.Max(1, float64(parentN))

	var best *Edge
	var bestScore = math.Inf(-1)
	for i := range node.edges {
		var e = &node.edges[i]
		if isRoot && s.rootMoves != nil && !s.rootMoves[e.Move] {
			continue
		}
		var child = e.Child
		var n = child.N()
		var vloss = int64(child.VLoss())
		var effN = n + vloss
		var q float64
		if effN == 0 {
			q = fpu
		} else {
			q = (-child.W() - float64(vloss)) / float64(effN)
		}
		if s.params.MovesLeftSlope > 0 && n > 0 {
			var childM = child.M() / float64(n)
			q += s.params.MovesLeftSlope * q * (parentM - childM)
		}
		var p = float64(e.P)
		if isRoot && s.rootPriors != nil {
			p = float64(s.rootPriors[i])
		}
		var score = q + cpuct*p*sqrtN/(1+float64(effN))
		if score > bestScore {
			bestScore = score
			best = e
		}
	}
	return best
}

func (s *Search) ensureRootExpanded() error {
	var root = s.tree.Root()
	if root.IsExpanded() {
		return nil
	}
	if !root.tryClaim() {
		return errors.New("mcts: root claimed outside the search")
	}
	return s.expandAndBackprop(root, s.tree.HeadPosition(), []*Node{root})
}

// applyRootNoise blends a fresh Dirichlet sample into the root priors. The
// tree's stored priors stay clean so a reused subtree is not polluted.
func (s *Search) applyRootNoise() {
	if s.params.DirichletEpsilon <= 0 {
		s.rootPriors = nil
		return
	}
	var root = s.tree.Root()
	var seed = s.params.NoiseSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	var rng = rand.New(rand.NewSource(seed))
	var noise = dirichlet(rng, s.params.DirichletAlpha, len(root.edges))
	var eps = s.params.DirichletEpsilon
	s.rootPriors = make([]float32, len(root.edges))
	for i := range root.edges {
		s.rootPriors[i] = float32((1-eps)*float64(root.edges[i].P) + eps*noise[i])
	}
}

func (s *Search) pollStoppers() bool {
	if s.stopper == nil {
		return false
	}
	var root = s.tree.Root()
	s.pollMu.Lock()
	defer s.pollMu.Unlock()
	if cap(s.edgeCache) < len(root.edges) {
		s.edgeCache = make([]int64, len(root.edges))
	}
	var stats = IterationStats{
		Elapsed:    time.Since(s.start),
		RootVisits: root.N(),
		Playouts:   s.playouts.Load(),
		EdgeVisits: s.edgeCache[:len(root.edges)],
	}
	for i := range root.edges {
		stats.EdgeVisits[i] = root.edges[i].Child.N()
	}
	return s.stopper.ShouldStop(&stats)
}

// BestMove returns the most-visited root move (ties to the better Q) and
// the ponder reply under it.
func (s *Search) BestMove() (best, ponder chess.Move) {
	return bestMoveOf(s.tree.Root(), s.rootMoves)
}

func bestMoveOf(root *Node, filter map[chess.Move]bool) (best, ponder chess.Move) {
	if root == nil || !root.IsExpanded() {
		return chess.MoveEmpty, chess.MoveEmpty
	}
	var bestEdge *Edge
	var bestN = int64(-1)
	var bestQ = math.Inf(-1)
	for i := range root.edges {
		var e = &root.edges[i]
		if filter != nil && !filter[e.Move] {
			continue
		}
		var n = e.Child.N()
		var q = -e.Child.Q()
		if n > bestN || (n == bestN && q > bestQ) {
			bestN, bestQ, bestEdge = n, q, e
		}
	}
	if bestEdge == nil {
		return chess.MoveEmpty, chess.MoveEmpty
	}
	var p, _ = bestMoveOf(bestEdge.Child, nil)
	return bestEdge.Move, p
}

// SampleMove draws a root move from visit counts raised to 1/temperature,
// for selfplay diversity. A zero temperature degenerates to BestMove.
func (s *Search) SampleMove(rng *rand.Rand, temperature float64) chess.Move {
	var root = s.tree.Root()
	if root == nil || !root.IsExpanded() || len(root.edges) == 0 {
		return chess.MoveEmpty
	}
	if temperature <= 0 {
		var best, _ = s.BestMove()
		return best
	}
	var weights = make([]float64, len(root.edges))
	var sum float64
	for i := range root.edges {
		var n = float64(root.edges[i].Child.N())
		if n > 0 {
			weights[i] = math.Pow(n, 1/temperature)
		}
		sum += weights[i]
	}
	if sum <= 0 {
		var best, _ = s.BestMove()
		return best
	}
	var r = rng.Float64() * sum
	for i := range weights {
		r -= weights[i]
		if r <= 0 {
			return root.edges[i].Move
		}
	}
	return root.edges[len(root.edges)-1].Move
}

// RootStats summarises the root for info lines.
func (s *Search) RootStats() (visits int64, q float64, pv []chess.Move) {
	var root = s.tree.Root()
	if root == nil {
		return 0, 0, nil
	}
	return root.N(), root.Q(), s.tree.PrincipalVariation(16)
}
