package ioapi

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/fieldnote/dex/internal/iocache"
	"github.com/fieldnote/dex/internal/iotree"
	"github.com/fieldnote/dex/pkg/errcode"
	"github.com/fieldnote/dex/pkg/schema"
)

// meResponse is the authenticated user's own identity record, including
// the shareable friend code (spec §3 User).
type meResponse struct {
	UserID     uuid.UUID `json:"user_id"`
	FriendCode string    `json:"friend_code"`
	CreatedAt  string    `json:"created_at"`
}

// handleGetMe implements GET /users/me.
func (s *Server) handleGetMe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	viewer := viewerFrom(ctx)

	var user schema.User
	if err := s.db.WithContext(ctx).First(&user, "user_id = ?", viewer).Error; err != nil {
		writeError(w, r, errcode.NotFound("user", viewer.String()))
		return
	}

	writeJSON(w, http.StatusOK, meResponse{
		UserID:     user.UserID,
		FriendCode: user.FriendCode,
		CreatedAt:  user.CreatedAt.Format(timeFormat),
	})
}

// friendByCodeRequest is POST /friends/by_code's body: the target user's
// shareable 8-character code.
type friendByCodeRequest struct {
	FriendCode string `json:"friend_code" validate:"required,len=8,alphanum"`
}

// friendResponse is one Friendship edge as seen from the viewer's side.
type friendResponse struct {
	ID         uuid.UUID               `json:"id"`
	UserID     uuid.UUID               `json:"user_id"`
	FriendCode string                  `json:"friend_code,omitempty"`
	Status     schema.FriendshipStatus `json:"status"`
	Direction  string                  `json:"direction"`
	CreatedAt  string                  `json:"created_at"`
}

// handleFriendByCode implements POST /friends/by_code: look up the target
// by friend code and create a pending Friendship from the viewer. Friend
// codes are stored uppercase, so lookup folds the input first.
func (s *Server) handleFriendByCode(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	viewer := viewerFrom(ctx)

	var req friendByCodeRequest
	if err := s.decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	code := strings.ToUpper(req.FriendCode)

	var target schema.User
	if err := s.db.WithContext(ctx).First(&target, "friend_code = ?", code).Error; err != nil {
		writeError(w, r, errcode.NotFound("user with friend code", code))
		return
	}
	if target.UserID == viewer {
		writeError(w, r, errcode.Validation("cannot send a friend request to yourself"))
		return
	}

	var existing int64
	err := s.db.WithContext(ctx).Model(&schema.Friendship{}).
		Where("(from_user = ? AND to_user = ?) OR (from_user = ? AND to_user = ?)",
			viewer, target.UserID, target.UserID, viewer).
		Count(&existing).Error
	if err != nil {
		writeError(w, r, errcode.Internal("failed to check existing friendship", err))
		return
	}
	if existing > 0 {
		writeError(w, r, errcode.Conflict("friend request already exists"))
		return
	}

	friendship := schema.Friendship{
		ID:       uuid.New(),
		FromUser: viewer,
		ToUser:   target.UserID,
		Status:   schema.FriendshipPending,
	}
	if err := s.db.WithContext(ctx).Create(&friendship).Error; err != nil {
		writeError(w, r, errcode.Internal("failed to create friend request", err))
		return
	}

	writeJSON(w, http.StatusCreated, friendResponse{
		ID:         friendship.ID,
		UserID:     target.UserID,
		FriendCode: target.FriendCode,
		Status:     friendship.Status,
		Direction:  "outgoing",
		CreatedAt:  friendship.CreatedAt.Format(timeFormat),
	})
}

// handleListFriends implements GET /friends: every pending or accepted edge
// the viewer sits on, annotated with the other party's friend code.
func (s *Server) handleListFriends(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	viewer := viewerFrom(ctx)

	var friendships []schema.Friendship
	err := s.db.WithContext(ctx).
		Where("status IN ? AND (from_user = ? OR to_user = ?)",
			[]schema.FriendshipStatus{schema.FriendshipPending, schema.FriendshipAccepted},
			viewer, viewer).
		Order("created_at").
		Find(&friendships).Error
	if err != nil {
		writeError(w, r, errcode.Internal("failed to load friendships", err))
		return
	}

	friends := make([]friendResponse, 0, len(friendships))
	for i := range friendships {
		f := &friendships[i]
		other := f.ToUser
		direction := "outgoing"
		if f.ToUser == viewer {
			other = f.FromUser
			direction = "incoming"
		}

		view := friendResponse{
			ID:        f.ID,
			UserID:    other,
			Status:    f.Status,
			Direction: direction,
			CreatedAt: f.CreatedAt.Format(timeFormat),
		}
		var user schema.User
		if err := s.db.WithContext(ctx).First(&user, "user_id = ?", other).Error; err == nil {
			view.FriendCode = user.FriendCode
		}
		friends = append(friends, view)
	}

	writeJSON(w, http.StatusOK, map[string][]friendResponse{"friends": friends})
}

// handleAcceptFriend implements POST /friends/{id}/accept. Only the
// recipient of a pending request may accept it; acceptance changes which
// observations flow into both parties' friends-mode trees, so their tree
// caches are invalidated the same way an observation write would.
func (s *Server) handleAcceptFriend(w http.ResponseWriter, r *http.Request) {
	s.respondToFriendRequest(w, r, schema.FriendshipAccepted)
}

// handleRejectFriend implements POST /friends/{id}/reject.
func (s *Server) handleRejectFriend(w http.ResponseWriter, r *http.Request) {
	s.respondToFriendRequest(w, r, schema.FriendshipRejected)
}

func (s *Server) respondToFriendRequest(w http.ResponseWriter, r *http.Request, status schema.FriendshipStatus) {
	ctx := r.Context()
	viewer := viewerFrom(ctx)

	friendshipID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, errcode.Validation("malformed friendship id"))
		return
	}

	var friendship schema.Friendship
	if err := s.db.WithContext(ctx).First(&friendship, "id = ?", friendshipID).Error; err != nil {
		writeError(w, r, errcode.NotFound("friend request", friendshipID.String()))
		return
	}
	if friendship.ToUser != viewer {
		writeError(w, r, errcode.Forbidden("only the recipient can respond to a friend request"))
		return
	}
	if friendship.Status != schema.FriendshipPending {
		writeError(w, r, errcode.Conflict("friend request has already been responded to"))
		return
	}

	if err := s.db.WithContext(ctx).Model(&friendship).Update("status", status).Error; err != nil {
		writeError(w, r, errcode.Internal("failed to update friend request", err))
		return
	}

	if status == schema.FriendshipAccepted {
		s.invalidateFriendTrees(r, friendship.FromUser, friendship.ToUser)
	}

	writeJSON(w, http.StatusOK, friendResponse{
		ID:        friendship.ID,
		UserID:    friendship.FromUser,
		Status:    status,
		Direction: "incoming",
		CreatedAt: friendship.CreatedAt.Format(timeFormat),
	})
}

// handleBlockFriend implements POST /friends/{id}/block: either party may
// block an edge in any state. A blocked edge is no longer accepted, so
// both parties' tree caches are invalidated.
func (s *Server) handleBlockFriend(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	viewer := viewerFrom(ctx)

	friendshipID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, errcode.Validation("malformed friendship id"))
		return
	}

	var friendship schema.Friendship
	if err := s.db.WithContext(ctx).First(&friendship, "id = ?", friendshipID).Error; err != nil {
		writeError(w, r, errcode.NotFound("friendship", friendshipID.String()))
		return
	}
	if friendship.FromUser != viewer && friendship.ToUser != viewer {
		writeError(w, r, errcode.Forbidden("only a participant can block a friendship"))
		return
	}

	wasAccepted := friendship.Status == schema.FriendshipAccepted
	if err := s.db.WithContext(ctx).Model(&friendship).Update("status", schema.FriendshipBlocked).Error; err != nil {
		writeError(w, r, errcode.Internal("failed to block friendship", err))
		return
	}
	if wasAccepted {
		s.invalidateFriendTrees(r, friendship.FromUser, friendship.ToUser)
	}

	other := friendship.ToUser
	if friendship.ToUser == viewer {
		other = friendship.FromUser
	}
	writeJSON(w, http.StatusOK, friendResponse{
		ID:        friendship.ID,
		UserID:    other,
		Status:    schema.FriendshipBlocked,
		Direction: "outgoing",
		CreatedAt: friendship.CreatedAt.Format(timeFormat),
	})
}

// invalidateFriendTrees drops both parties' scoped tree caches after a
// friendship edge changes state. Failures are ignored here: a stale tree
// expires on its own TTL within minutes.
func (s *Server) invalidateFriendTrees(r *http.Request, users ...uuid.UUID) {
	ctx := r.Context()
	for _, userID := range users {
		_ = s.cache.DeletePrefix(ctx, iocache.TreeKey(string(iotree.ModeFriends), userID.String()))
		_ = s.cache.DeletePrefix(ctx, iocache.DexFriendsOverviewKey(userID.String()))
	}
	_ = s.cache.DeletePrefix(ctx, "tree:selected:")
}
