// Package iolayout implements the Layout Engine (C10): Walker-Buchheim O(n)
// tree positioning (spec §4.11). It operates over a domain-agnostic Node
// tree so the Tree Projector (internal/iotree) can hang taxonomy/animal
// metadata off the same nodes it lays out.
package iolayout

// Node is one vertex of the tree being laid out. Callers build the tree by
// setting ID, Children and Parent/SiblingIndex before calling Layout; the
// remaining fields are working state for the algorithm.
//
// The correctness note in spec §4.11 requires every leaf's Parent and
// SiblingIndex to be populated before the first walk, so the Tree Projector
// must set them while it builds the hierarchy rather than leaving this
// package to infer them.
type Node struct {
	ID       string
	Children []*Node
	Parent   *Node

	// SiblingIndex is this node's 0-based position in Parent.Children.
	SiblingIndex int

	depth int

	prelim   float64
	mod      float64
	shift    float64
	change   float64
	thread   *Node
	ancestor *Node

	x, y float64
}

// Position is a node's final (x, y) after the second walk.
type Position struct {
	X float64
	Y float64
}

// Params are the spacing parameters spec §4.11 names.
type Params struct {
	MinDistance float64
	LevelHeight float64
}

// DefaultParams matches spec §4.11: min_distance = 100, level_height = 150.
var DefaultParams = Params{MinDistance: 100, LevelHeight: 150}

// Layout runs the two-pass Walker-Buchheim algorithm over root and returns
// every node's final position keyed by ID. O(n) in the number of nodes.
func Layout(root *Node, params Params) map[string]Position {
	if params.MinDistance == 0 {
		params.MinDistance = DefaultParams.MinDistance
	}
	if params.LevelHeight == 0 {
		params.LevelHeight = DefaultParams.LevelHeight
	}

	setDepths(root, 0)
	firstWalk(root, params)

	positions := make(map[string]Position)
	secondWalk(root, 0, params, positions)
	return positions
}

func setDepths(n *Node, depth int) {
	n.depth = depth
	n.ancestor = n
	for _, c := range n.Children {
		setDepths(c, depth+1)
	}
}

// firstWalk is the post-order pass computing each node's preliminary x
// (prelim) and modifier (mod) relative to its parent.
func firstWalk(v *Node, params Params) {
	if len(v.Children) == 0 {
		if ell := leftSibling(v); ell != nil {
			v.prelim = ell.prelim + params.MinDistance
		} else {
			v.prelim = 0
		}
		return
	}

	defaultAncestor := v.Children[0]
	for _, w := range v.Children {
		firstWalk(w, params)
		defaultAncestor = apportion(w, defaultAncestor, params)
	}
	executeShifts(v)

	first, last := v.Children[0], v.Children[len(v.Children)-1]
	midpoint := (first.prelim + last.prelim) / 2

	if ell := leftSibling(v); ell != nil {
		v.prelim = ell.prelim + params.MinDistance
		v.mod = v.prelim - midpoint
	} else {
		v.prelim = midpoint
	}
}

// apportion resolves overlap between v's subtree and the subtrees of its
// left siblings by walking the inside/outside left/right contours via the
// thread pointer, shifting subtrees apart as needed (spec §4.11).
func apportion(v *Node, defaultAncestor *Node, params Params) *Node {
	w := leftSibling(v)
	if w == nil {
		return defaultAncestor
	}

	vip, vop := v, v
	vim, vom := w, firstChildOfParent(v)
	sip, sop := vip.mod, vop.mod
	sim, som := vim.mod, vom.mod

	for nextRight(vim) != nil && nextLeft(vip) != nil {
		vim = nextRight(vim)
		vip = nextLeft(vip)
		vom = nextLeft(vom)
		vop = nextRight(vop)
		vop.ancestor = v

		shift := (vim.prelim + sim) - (vip.prelim + sip) + params.MinDistance
		if shift > 0 {
			moveSubtree(ancestorOf(vim, v, defaultAncestor), v, shift)
			sip += shift
			sop += shift
		}
		sim += vim.mod
		sip += vip.mod
		som += vom.mod
		sop += vop.mod
	}

	if nextRight(vim) != nil && nextRight(vop) == nil {
		vop.thread = nextRight(vim)
		vop.mod += sim - sop
	} else if nextLeft(vip) != nil && nextLeft(vom) == nil {
		vom.thread = nextLeft(vip)
		vom.mod += sip - som
		defaultAncestor = v
	} else {
		defaultAncestor = v
	}
	return defaultAncestor
}

func nextLeft(v *Node) *Node {
	if len(v.Children) > 0 {
		return v.Children[0]
	}
	return v.thread
}

func nextRight(v *Node) *Node {
	if len(v.Children) > 0 {
		return v.Children[len(v.Children)-1]
	}
	return v.thread
}

// moveSubtree shifts wr (and everything between wl and wr) right by shift,
// distributing the shift proportionally across the intervening subtrees via
// change/shift so siblings fan out smoothly rather than jumping.
func moveSubtree(wl, wr *Node, shift float64) {
	subtrees := wr.SiblingIndex - wl.SiblingIndex
	if subtrees == 0 {
		subtrees = 1
	}
	wr.change -= shift / float64(subtrees)
	wr.shift += shift
	wl.change += shift / float64(subtrees)
	wr.prelim += shift
	wr.mod += shift
}

// executeShifts applies accumulated shift/change right to left over v's
// direct children (spec §4.11 "then execute_shifts right-to-left").
func executeShifts(v *Node) {
	var shift, change float64
	for i := len(v.Children) - 1; i >= 0; i-- {
		w := v.Children[i]
		w.prelim += shift
		w.mod += shift
		change += w.change
		shift += w.shift + change
	}
}

// ancestorOf returns vim.ancestor if it is still a sibling under v's parent,
// else falls back to defaultAncestor (vim.ancestor may point outside the
// current sibling group after earlier apportion calls moved subtrees).
func ancestorOf(vim, v, defaultAncestor *Node) *Node {
	if vim.ancestor != nil && vim.ancestor.Parent == v.Parent {
		return vim.ancestor
	}
	return defaultAncestor
}

func leftSibling(v *Node) *Node {
	if v.Parent == nil || v.SiblingIndex == 0 {
		return nil
	}
	return v.Parent.Children[v.SiblingIndex-1]
}

func firstChildOfParent(v *Node) *Node {
	if v.Parent == nil {
		return v
	}
	return v.Parent.Children[0]
}

// secondWalk is the pre-order pass computing final coordinates from prelim
// plus the accumulated mod of every ancestor.
func secondWalk(v *Node, m float64, params Params, out map[string]Position) {
	v.x = v.prelim + m
	v.y = float64(v.depth) * params.LevelHeight
	out[v.ID] = Position{X: v.x, Y: v.y}
	for _, w := range v.Children {
		secondWalk(w, m+v.mod, params, out)
	}
}
