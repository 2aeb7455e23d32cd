package ioapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/fieldnote/dex/internal/iocache"
	"github.com/fieldnote/dex/internal/iochunk"
	"github.com/fieldnote/dex/internal/iolayout"
	"github.com/fieldnote/dex/internal/iotree"
	"github.com/fieldnote/dex/pkg/errcode"
)

// treeResponse is spec §6 GET /graph/tree's body.
type treeResponse struct {
	Nodes    []iotree.FlatNode `json:"nodes"`
	Edges    []iotree.Edge     `json:"edges"`
	Layout   treeLayout        `json:"layout"`
	Stats    treeStats         `json:"stats"`
	Metadata treeMetadata      `json:"metadata"`
}

type treeLayout struct {
	Positions     map[string]iolayout.Position `json:"positions"`
	WorldBounds   iochunk.Bounds               `json:"world_bounds"`
	ChunkMetadata []iochunk.Metadata           `json:"chunk_metadata"`
	ChunkSize     float64                      `json:"chunk_size"`
}

type treeStats struct {
	NodeCount int `json:"node_count"`
	EdgeCount int `json:"edge_count"`
}

type treeMetadata struct {
	Mode   string `json:"mode"`
	Cached bool   `json:"cached"`
}

// parseTreeQuery reads mode, friend_ids, and use_cache from the request's
// query string (spec §6: "mode=personal|friends|selected|global&
// friend_ids=...&use_cache=true|false").
func parseTreeQuery(r *http.Request) (iotree.Mode, []uuid.UUID, bool, error) {
	mode := iotree.Mode(r.URL.Query().Get("mode"))
	if mode == "" {
		mode = iotree.ModePersonal
	}

	var scopeIDs []uuid.UUID
	if raw := r.URL.Query().Get("friend_ids"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			id, err := uuid.Parse(strings.TrimSpace(part))
			if err != nil {
				return "", nil, false, errcode.Validation("malformed <em>friend_ids</em> entry")
			}
			scopeIDs = append(scopeIDs, id)
		}
	}

	useCache := true
	if raw := r.URL.Query().Get("use_cache"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			return "", nil, false, errcode.Validation("malformed <em>use_cache</em> flag")
		}
		useCache = parsed
	}

	return mode, scopeIDs, useCache, nil
}

func ttlFor(mode iotree.Mode) time.Duration {
	if mode == iotree.ModeGlobal {
		return iocache.TreeGlobalTTL
	}
	return iocache.TreeTTL
}

// handleGetTree implements GET /graph/tree (spec §6).
func (s *Server) handleGetTree(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	viewer := viewerFrom(ctx)

	mode, scopeIDs, useCache, err := parseTreeQuery(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	cacheKey := iocache.TreeKey(string(mode), viewer.String())
	if useCache {
		var cached treeResponse
		if hit, err := s.cache.Get(ctx, cacheKey, &cached); err == nil && hit {
			cached.Metadata.Cached = true
			writeJSON(w, http.StatusOK, cached)
			return
		}
	}

	projection, err := s.tree.Project(ctx, viewer, mode, scopeIDs)
	if err != nil {
		writeError(w, r, err)
		return
	}

	chunks := iochunk.Generate(projection.Nodes, projection.Edges)

	positions := make(map[string]iolayout.Position, len(projection.Nodes))
	for _, n := range projection.Nodes {
		positions[n.ID] = iolayout.Position{X: n.X, Y: n.Y}
	}

	resp := treeResponse{
		Nodes: projection.Nodes,
		Edges: projection.Edges,
		Layout: treeLayout{
			Positions:     positions,
			WorldBounds:   chunks.WorldBounds(),
			ChunkMetadata: chunks.Chunks(),
			ChunkSize:     iochunk.ChunkSize,
		},
		Stats:    treeStats{NodeCount: len(projection.Nodes), EdgeCount: len(projection.Edges)},
		Metadata: treeMetadata{Mode: string(mode), Cached: false},
	}

	_ = s.cache.Set(ctx, projection.CacheKey, resp, ttlFor(mode))
	writeJSON(w, http.StatusOK, resp)
}

// chunkResponse is spec §6 GET /graph/tree/chunk/{x}/{y}'s body.
type chunkResponse struct {
	Nodes     []iotree.FlatNode `json:"nodes"`
	Edges     []iotree.Edge     `json:"edges"`
	NodeCount int               `json:"node_count"`
	EdgeCount int               `json:"edge_count"`
}

// handleGetChunk implements GET /graph/tree/chunk/{x}/{y} (spec §6).
func (s *Server) handleGetChunk(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	viewer := viewerFrom(ctx)

	x, errX := strconv.Atoi(chi.URLParam(r, "x"))
	y, errY := strconv.Atoi(chi.URLParam(r, "y"))
	if errX != nil || errY != nil {
		writeError(w, r, errcode.Validation("malformed chunk coordinates"))
		return
	}

	mode, scopeIDs, useCache, err := parseTreeQuery(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	treeKey := iocache.TreeKey(string(mode), viewer.String())
	chunkKey := iocache.TreeChunkKey(treeKey, x, y)
	if useCache {
		var cached chunkResponse
		if hit, err := s.cache.Get(ctx, chunkKey, &cached); err == nil && hit {
			writeJSON(w, http.StatusOK, cached)
			return
		}
	}

	projection, err := s.tree.Project(ctx, viewer, mode, scopeIDs)
	if err != nil {
		writeError(w, r, err)
		return
	}

	chunks := iochunk.Generate(projection.Nodes, projection.Edges)
	nodes, edges := chunks.GetChunk(x, y)

	resp := chunkResponse{Nodes: nodes, Edges: edges, NodeCount: len(nodes), EdgeCount: len(edges)}
	_ = s.cache.Set(ctx, chunkKey, resp, ttlFor(mode))
	writeJSON(w, http.StatusOK, resp)
}

// invalidateTreeRequest is spec §6 POST /graph/tree/invalidate's body.
type invalidateTreeRequest struct {
	Scope string `json:"scope" validate:"required,oneof=user global"`
}

// handleInvalidateTree implements POST /graph/tree/invalidate (spec §6):
// "global requires admin".
func (s *Server) handleInvalidateTree(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	viewer := viewerFrom(ctx)

	var req invalidateTreeRequest
	if err := s.decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	switch req.Scope {
	case "user":
		if err := s.cache.DeletePrefix(ctx, iocache.TreeKey(string(iotree.ModePersonal), viewer.String())); err != nil {
			writeError(w, r, err)
			return
		}
		if err := s.cache.DeletePrefix(ctx, iocache.TreeKey(string(iotree.ModeFriends), viewer.String())); err != nil {
			writeError(w, r, err)
			return
		}
		if err := s.cache.DeletePrefix(ctx, "tree:selected:"); err != nil {
			writeError(w, r, err)
			return
		}
	case "global":
		isAdmin, err := s.admin.IsAdmin(ctx, viewer)
		if err != nil {
			writeError(w, r, errcode.Internal("failed to check administrator status", err))
			return
		}
		if !isAdmin {
			writeError(w, r, errcode.Forbidden("invalidating the global tree requires an administrator account"))
			return
		}
		if err := s.cache.DeletePrefix(ctx, iocache.TreeGlobalKey()); err != nil {
			writeError(w, r, err)
			return
		}
	default:
		writeError(w, r, errcode.Validation("scope must be <em>user</em> or <em>global</em>"))
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"invalidated": true})
}
