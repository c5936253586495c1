package ir

// LoopInfo recovers the natural loops of a function so that loop back-edges
// can be excluded from taint propagation. A block is a loop header iff it is
// the target of an edge whose source it dominates; the loop body is the set
// of blocks that reach the back-edge source without passing the header.
type LoopInfo struct {
	fn      *Function
	headers map[int]bool
	loopFor []int // innermost loop index per block, -1 = none
	loops   []*natLoop
}

type natLoop struct {
	header int
	blocks map[int]bool
}

// NewLoopInfo analyzes the function's CFG. Blocks unreachable from the entry
// block belong to no loop.
func NewLoopInfo(fn *Function) *LoopInfo {
	li := &LoopInfo{
		fn:      fn,
		headers: make(map[int]bool),
		loopFor: make([]int, len(fn.Blocks)),
	}
	for i := range li.loopFor {
		li.loopFor[i] = -1
	}
	if len(fn.Blocks) == 0 {
		return li
	}

	idom, rpo := computeIdoms(fn)
	preds := fn.Preds()

	reachable := make([]bool, len(fn.Blocks))
	for _, b := range rpo {
		reachable[b] = true
	}

	dominates := func(a, b int) bool {
		// Walk the idom chain from b towards the entry.
		for b != -1 {
			if a == b {
				return true
			}
			if b == 0 {
				break
			}
			b = idom[b]
		}
		return a == 0 && b == 0
	}

	// Find back edges and collect natural loops, merging bodies that share a
	// header.
	bodies := make(map[int]map[int]bool)
	for _, u := range rpo {
		for _, v := range fn.Blocks[u].Succs {
			if !dominates(v, u) {
				continue
			}
			li.headers[v] = true
			body := bodies[v]
			if body == nil {
				body = map[int]bool{v: true}
				bodies[v] = body
			}
			// All blocks reaching u without passing v are in the loop.
			stack := []int{u}
			for len(stack) > 0 {
				n := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				if body[n] {
					continue
				}
				body[n] = true
				for _, p := range preds[n] {
					if reachable[p] {
						stack = append(stack, p)
					}
				}
			}
		}
	}

	for header, body := range bodies {
		li.loops = append(li.loops, &natLoop{header: header, blocks: body})
	}

	// Innermost loop per block = smallest containing loop body.
	for i := range fn.Blocks {
		best := -1
		for l, loop := range li.loops {
			if !loop.blocks[i] {
				continue
			}
			if best == -1 || len(loop.blocks) < len(li.loops[best].blocks) {
				best = l
			}
		}
		li.loopFor[i] = best
	}

	return li
}

// IsHeader reports whether the block at index b is a loop header.
func (li *LoopInfo) IsHeader(b int) bool { return li.headers[b] }

// IsBackEdge reports whether the edge src -> dst closes a loop iteration:
// both blocks are in the same loop, dst is that loop's header, and src is
// not itself a header.
func (li *LoopInfo) IsBackEdge(src, dst int) bool {
	if li.loopFor[src] != li.loopFor[dst] {
		return false
	}
	return !li.IsHeader(src) && li.IsHeader(dst)
}

// computeIdoms returns the immediate dominator of every reachable block
// (entry's idom is itself) plus the reverse postorder used to iterate. The
// algorithm is the standard iterative one over RPO.
func computeIdoms(fn *Function) (idom []int, rpo []int) {
	n := len(fn.Blocks)
	idom = make([]int, n)
	for i := range idom {
		idom[i] = -1
	}

	// Postorder DFS from the entry block.
	post := make([]int, 0, n)
	postIdx := make([]int, n)
	visited := make([]bool, n)
	var dfs func(int)
	dfs = func(b int) {
		visited[b] = true
		for _, s := range fn.Blocks[b].Succs {
			if !visited[s] {
				dfs(s)
			}
		}
		postIdx[b] = len(post)
		post = append(post, b)
	}
	dfs(0)

	rpo = make([]int, 0, len(post))
	for i := len(post) - 1; i >= 0; i-- {
		rpo = append(rpo, post[i])
	}

	preds := fn.Preds()
	idom[0] = 0

	intersect := func(a, b int) int {
		for a != b {
			for postIdx[a] < postIdx[b] {
				a = idom[a]
			}
			for postIdx[b] < postIdx[a] {
				b = idom[b]
			}
		}
		return a
	}

	changed := true
	for changed {
		changed = false
		for _, b := range rpo {
			if b == 0 {
				continue
			}
			newIdom := -1
			for _, p := range preds[b] {
				if !visited[p] || idom[p] == -1 {
					continue
				}
				if newIdom == -1 {
					newIdom = p
				} else {
					newIdom = intersect(p, newIdom)
				}
			}
			if newIdom != -1 && idom[b] != newIdom {
				idom[b] = newIdom
				changed = true
			}
		}
	}

	return idom, rpo
}
