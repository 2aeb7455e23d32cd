// Package iotree implements the Tree Projector (C9): it scopes a viewer's
// visible animals, builds the taxonomic hierarchy over them, lays it out via
// the Layout Engine, and returns a flat, cacheable node/edge list (spec
// §4.10).
package iotree

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/fieldnote/dex/internal/iocache"
	"github.com/fieldnote/dex/internal/iolayout"
	"github.com/fieldnote/dex/pkg/errcode"
	"github.com/fieldnote/dex/pkg/schema"
)

// Mode selects the scope a tree is projected over (spec §4.10).
type Mode string

const (
	ModePersonal Mode = "personal"
	ModeFriends  Mode = "friends"
	ModeSelected Mode = "selected"
	ModeGlobal   Mode = "global"
)

// NodeKind distinguishes the synthetic root, virtual taxonomic nodes, and
// animal leaves in a Projection.
type NodeKind string

const (
	KindRoot      NodeKind = "root"
	KindTaxonomic NodeKind = "taxonomic"
	KindAnimal    NodeKind = "animal"
)

// rootID is the constant root node's id; "Life" is its display name
// (spec §4.10: "Root node is the constant (\"Life\", rank=root)").
const rootID = "root"

// FriendCapture is one scoped user's capture of an animal node
// ({user_id, username, captured_at} in spec §4.10; this schema has no
// username field, so friend_code — the catalog's only user-facing
// identifier — stands in for it).
type FriendCapture struct {
	UserID     uuid.UUID `json:"user_id"`
	FriendCode string    `json:"friend_code"`
	CapturedAt time.Time `json:"captured_at"`
}

// FlatNode is one node of a Projection: either the root, a virtual
// taxonomic rank node, or an animal leaf.
type FlatNode struct {
	ID   string   `json:"id"`
	Kind NodeKind `json:"kind"`
	Name string   `json:"name"`
	Rank schema.TaxonRank `json:"rank,omitempty"`
	X    float64  `json:"x"`
	Y    float64  `json:"y"`

	// Taxonomic node annotations (spec §4.10).
	ChildrenCount int `json:"children_count,omitempty"`
	AnimalCount   int `json:"animal_count,omitempty"`

	// Animal node annotations (spec §4.10).
	AnimalID          *uuid.UUID      `json:"animal_id,omitempty"`
	ScientificName    string          `json:"scientific_name,omitempty"`
	CapturedByViewer  bool            `json:"captured_by_viewer,omitempty"`
	CapturedByFriends []FriendCapture `json:"captured_by_friends,omitempty"`
	CaptureCount      int             `json:"capture_count,omitempty"`
}

// Edge is a parent-child edge, including the virtual-to-animal edges at the
// leaves (spec §4.10: "no same-family cross edges").
type Edge struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

// Projection is the Tree Projector's output: a flat, JSON/cache-safe
// node/edge list plus the cache key it belongs under.
type Projection struct {
	Nodes    []FlatNode `json:"nodes"`
	Edges    []Edge     `json:"edges"`
	CacheKey string     `json:"-"`
}

// AdminChecker answers whether a user may request the global tree (spec
// §4.10: "global requires the viewer to be an administrator"). This
// catalog's schema carries no admin flag of its own, so the check is
// delegated to a collaborator the same way ioconversion delegates blob
// storage.
type AdminChecker interface {
	IsAdmin(ctx context.Context, userID uuid.UUID) (bool, error)
}

// Projector is the Tree Projector (C9).
type Projector struct {
	db    *gorm.DB
	admin AdminChecker
}

// New constructs a Projector.
func New(db *gorm.DB, admin AdminChecker) *Projector {
	return &Projector{db: db, admin: admin}
}

var rankLevels = []struct {
	Rank schema.TaxonRank
	Get  func(a *schema.CanonicalAnimal) string
}{
	{schema.RankKingdom, func(a *schema.CanonicalAnimal) string { return a.Kingdom }},
	{schema.RankPhylum, func(a *schema.CanonicalAnimal) string { return a.Phylum }},
	{schema.RankClass, func(a *schema.CanonicalAnimal) string { return a.Class }},
	{schema.RankOrder, func(a *schema.CanonicalAnimal) string { return a.Order }},
	{schema.RankFamily, func(a *schema.CanonicalAnimal) string { return a.Family }},
	{schema.RankGenus, func(a *schema.CanonicalAnimal) string { return a.Genus }},
	{schema.RankSpecies, func(a *schema.CanonicalAnimal) string { return a.Species }},
}

// Project builds the tree visible to viewer under mode, scoped further by
// scopeIDs when mode is "selected" (spec §4.10).
func (p *Projector) Project(ctx context.Context, viewer uuid.UUID, mode Mode, scopeIDs []uuid.UUID) (*Projection, error) {
	scopedUsers, cacheKey, err := p.resolveScope(ctx, viewer, mode, scopeIDs)
	if err != nil {
		return nil, err
	}

	captures, err := p.loadCaptures(ctx, mode, scopedUsers)
	if err != nil {
		return nil, err
	}
	if len(captures) == 0 {
		root := &iolayout.Node{ID: rootID}
		iolayout.Layout(root, iolayout.DefaultParams)
		return &Projection{Nodes: []FlatNode{{ID: rootID, Kind: KindRoot, Name: "Life"}}, CacheKey: cacheKey}, nil
	}

	animalIDs := make([]uuid.UUID, 0, len(captures))
	for id := range captures {
		animalIDs = append(animalIDs, id)
	}
	var animals []schema.CanonicalAnimal
	if err := p.db.WithContext(ctx).Where("animal_id IN ?", animalIDs).Find(&animals).Error; err != nil {
		return nil, errcode.Internal("failed to load scoped animals", err)
	}

	root, nodesByID, metas := buildHierarchy(animals)
	computeCounts(root, metas)

	positions := iolayout.Layout(root, iolayout.DefaultParams)

	nodes := make([]FlatNode, 0, len(nodesByID))
	edges := make([]Edge, 0, len(nodesByID))
	for id, n := range nodesByID {
		pos := positions[id]
		fn := flatten(n, metas[id], pos, viewer, captures)
		nodes = append(nodes, fn)
		if n.Parent != nil {
			edges = append(edges, Edge{Source: n.Parent.ID, Target: n.ID})
		}
	}
	if err := p.fillFriendCodes(ctx, nodes); err != nil {
		return nil, err
	}

	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].Source != edges[j].Source {
			return edges[i].Source < edges[j].Source
		}
		return edges[i].Target < edges[j].Target
	})

	return &Projection{Nodes: nodes, Edges: edges, CacheKey: cacheKey}, nil
}

// fillFriendCodes resolves the friend_code stand-in for username on every
// FriendCapture entry (spec §4.10's {user_id, username, captured_at}).
func (p *Projector) fillFriendCodes(ctx context.Context, nodes []FlatNode) error {
	ids := make(map[uuid.UUID]bool)
	for _, n := range nodes {
		for _, fc := range n.CapturedByFriends {
			ids[fc.UserID] = true
		}
	}
	if len(ids) == 0 {
		return nil
	}
	userIDs := make([]uuid.UUID, 0, len(ids))
	for id := range ids {
		userIDs = append(userIDs, id)
	}
	var users []schema.User
	if err := p.db.WithContext(ctx).Where("user_id IN ?", userIDs).Find(&users).Error; err != nil {
		return errcode.Internal("failed to load friend identities", err)
	}
	codes := make(map[uuid.UUID]string, len(users))
	for _, u := range users {
		codes[u.UserID] = u.FriendCode
	}
	for i := range nodes {
		for j := range nodes[i].CapturedByFriends {
			nodes[i].CapturedByFriends[j].FriendCode = codes[nodes[i].CapturedByFriends[j].UserID]
		}
	}
	return nil
}

// resolveScope computes scoped_users and the cache key for mode (spec
// §4.10's scoped_users rules).
func (p *Projector) resolveScope(ctx context.Context, viewer uuid.UUID, mode Mode, scopeIDs []uuid.UUID) ([]uuid.UUID, string, error) {
	switch mode {
	case ModePersonal:
		return []uuid.UUID{viewer}, iocache.TreeKey(string(ModePersonal), viewer.String()), nil

	case ModeFriends:
		friends, err := p.acceptedFriendsOf(ctx, viewer)
		if err != nil {
			return nil, "", err
		}
		return append(friends, viewer), iocache.TreeKey(string(ModeFriends), viewer.String()), nil

	case ModeSelected:
		friends, err := p.acceptedFriendsOf(ctx, viewer)
		if err != nil {
			return nil, "", err
		}
		friendSet := make(map[uuid.UUID]bool, len(friends))
		for _, f := range friends {
			friendSet[f] = true
		}
		scoped := []uuid.UUID{viewer}
		for _, id := range scopeIDs {
			if friendSet[id] {
				scoped = append(scoped, id)
			}
			// invalid entries (not an accepted friend) are silently dropped.
		}
		ids := make([]string, 0, len(scoped))
		for _, id := range scoped {
			ids = append(ids, id.String())
		}
		sort.Strings(ids)
		return scoped, iocache.TreeSelectedKey(ids), nil

	case ModeGlobal:
		isAdmin, err := p.admin.IsAdmin(ctx, viewer)
		if err != nil {
			return nil, "", errcode.Internal("failed to check administrator status", err)
		}
		if !isAdmin {
			return nil, "", errcode.Forbidden("the global tree requires an administrator account")
		}
		return nil, iocache.TreeGlobalKey(), nil

	default:
		return nil, "", errcode.Validation("unknown tree mode <em>%s</em>", mode)
	}
}

// capture is one scoped user's observations of an animal.
type capture struct {
	userID     uuid.UUID
	count      int
	firstCatch time.Time
}

// loadCaptures groups observations by (animal, scoped user). mode == global
// has no owner filter: every user's observations are in scope.
func (p *Projector) loadCaptures(ctx context.Context, mode Mode, scopedUsers []uuid.UUID) (map[uuid.UUID][]capture, error) {
	type row struct {
		AnimalID   uuid.UUID
		UserID     uuid.UUID
		Count      int
		FirstCatch time.Time
	}
	q := p.db.WithContext(ctx).Model(&schema.Observation{}).
		Select("animal_id, owner_user_id as user_id, COUNT(*) as count, MIN(catch_date) as first_catch").
		Group("animal_id, owner_user_id")
	if mode != ModeGlobal {
		q = q.Where("owner_user_id IN ?", scopedUsers)
	}

	var rows []row
	if err := q.Find(&rows).Error; err != nil {
		return nil, errcode.Internal("failed to load scoped observations", err)
	}

	out := make(map[uuid.UUID][]capture, len(rows))
	for _, r := range rows {
		out[r.AnimalID] = append(out[r.AnimalID], capture{userID: r.UserID, count: r.Count, firstCatch: r.FirstCatch})
	}
	return out, nil
}

func (p *Projector) acceptedFriendsOf(ctx context.Context, owner uuid.UUID) ([]uuid.UUID, error) {
	var friendships []schema.Friendship
	err := p.db.WithContext(ctx).
		Where("status = ? AND (from_user = ? OR to_user = ?)", schema.FriendshipAccepted, owner, owner).
		Find(&friendships).Error
	if err != nil {
		return nil, errcode.Internal("failed to load friendships", err)
	}
	friends := make([]uuid.UUID, 0, len(friendships))
	for _, f := range friendships {
		if f.FromUser == owner {
			friends = append(friends, f.ToUser)
		} else {
			friends = append(friends, f.FromUser)
		}
	}
	return friends, nil
}

// nodeMeta carries the taxonomy/animal metadata a layout node doesn't know
// about; keyed by iolayout.Node.ID alongside nodesByID.
type nodeMeta struct {
	kind        NodeKind
	rank        schema.TaxonRank
	name        string
	animal      *schema.CanonicalAnimal
	animalCount int
}

// buildHierarchy attaches every animal as a leaf under the deepest
// non-empty rank node on its path, creating virtual rank nodes as needed
// (spec §4.10).
func buildHierarchy(animals []schema.CanonicalAnimal) (*iolayout.Node, map[string]*iolayout.Node, map[string]*nodeMeta) {
	root := &iolayout.Node{ID: rootID}
	nodesByID := map[string]*iolayout.Node{rootID: root}
	metas := map[string]*nodeMeta{rootID: {kind: KindRoot, name: "Life"}}

	for i := range animals {
		a := &animals[i]
		parent := root
		path := ""
		for _, lvl := range rankLevels {
			v := lvl.Get(a)
			if v == "" {
				continue
			}
			path += "/" + string(lvl.Rank) + ":" + v
			n, ok := nodesByID[path]
			if !ok {
				n = &iolayout.Node{ID: path, Parent: parent, SiblingIndex: len(parent.Children)}
				parent.Children = append(parent.Children, n)
				nodesByID[path] = n
				metas[path] = &nodeMeta{kind: KindTaxonomic, rank: lvl.Rank, name: v}
			}
			parent = n
		}

		leafID := "animal:" + a.AnimalID.String()
		leaf := &iolayout.Node{ID: leafID, Parent: parent, SiblingIndex: len(parent.Children)}
		parent.Children = append(parent.Children, leaf)
		nodesByID[leafID] = leaf
		metas[leafID] = &nodeMeta{kind: KindAnimal, animal: a}
	}

	return root, nodesByID, metas
}

// computeCounts fills in each taxonomic node's animal_count (subtree total)
// post-order (spec §4.10: "animal_count (subtree total)").
func computeCounts(n *iolayout.Node, metas map[string]*nodeMeta) int {
	m := metas[n.ID]
	if m.kind == KindAnimal {
		return 1
	}
	total := 0
	for _, c := range n.Children {
		total += computeCounts(c, metas)
	}
	m.animalCount = total
	return total
}

func flatten(n *iolayout.Node, m *nodeMeta, pos iolayout.Position, viewer uuid.UUID, captures map[uuid.UUID][]capture) FlatNode {
	fn := FlatNode{ID: n.ID, Kind: m.kind, Name: m.name, Rank: m.rank, X: pos.X, Y: pos.Y}

	switch m.kind {
	case KindTaxonomic, KindRoot:
		fn.ChildrenCount = len(n.Children)
		fn.AnimalCount = m.animalCount

	case KindAnimal:
		a := m.animal
		fn.AnimalID = &a.AnimalID
		fn.ScientificName = a.ScientificName
		fn.Name = a.ScientificName

		total := 0
		for _, c := range captures[a.AnimalID] {
			total += c.count
			if c.userID == viewer {
				fn.CapturedByViewer = true
				continue
			}
			fn.CapturedByFriends = append(fn.CapturedByFriends, FriendCapture{
				UserID: c.userID, CapturedAt: c.firstCatch,
			})
		}
		fn.CaptureCount = total
	}
	return fn
}
