package ioapi_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/fieldnote/dex/internal/ioanimal"
	"github.com/fieldnote/dex/internal/ioapi"
	"github.com/fieldnote/dex/internal/ioblob"
	"github.com/fieldnote/dex/internal/iocache"
	"github.com/fieldnote/dex/internal/ioconversion"
	"github.com/fieldnote/dex/internal/iojob"
	"github.com/fieldnote/dex/internal/ioobservation"
	"github.com/fieldnote/dex/internal/ioreconcile"
	"github.com/fieldnote/dex/internal/iotesting"
	"github.com/fieldnote/dex/internal/iotree"
	"github.com/fieldnote/dex/pkg/schema"
)

// newSocialTestServer is newTestServer plus access to the database, so
// tests can seed users with friend codes.
func newSocialTestServer(t *testing.T) (*httptest.Server, *gorm.DB) {
	t.Helper()

	db := iotesting.OpenGORM(t)

	redisSrv := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: redisSrv.Addr()})
	cache := iocache.New(rdb)

	blobs, err := ioblob.New(t.TempDir())
	require.NoError(t, err)

	conversions := ioconversion.New(db, blobs)
	reconciler := ioreconcile.New(db, cache)
	animals := ioanimal.New(db)
	observations := ioobservation.New(db, cache)
	jobs := iojob.New(db, nil, reconciler, animals, conversions, blobs, nil)

	admin := fakeAdminChecker{}
	tree := iotree.New(db, admin)

	server := ioapi.New(db, conversions, blobs, jobs, observations, tree, cache, admin, testSigningKey, nil)
	return httptest.NewServer(server.Router()), db
}

func seedUser(t *testing.T, db *gorm.DB, friendCode string) uuid.UUID {
	t.Helper()
	user := schema.User{UserID: uuid.New(), FriendCode: friendCode}
	require.NoError(t, db.Create(&user).Error)
	t.Cleanup(func() { db.Delete(&schema.User{}, "user_id = ?", user.UserID) })
	return user.UserID
}

func authedJSON(t *testing.T, method, url string, userID uuid.UUID, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+bearerToken(t, userID))

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func TestHealthEndpoints_NoAuthRequired(t *testing.T) {
	srv, _ := newSocialTestServer(t)
	defer srv.Close()

	for _, path := range []string{"/healthz", "/readyz"} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}
}

func TestGetMe_ReturnsFriendCode(t *testing.T) {
	srv, db := newSocialTestServer(t)
	defer srv.Close()

	viewer := seedUser(t, db, "AB12CD34")

	resp := authedJSON(t, http.MethodGet, srv.URL+"/api/v1/users/me", viewer, nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var me struct {
		UserID     uuid.UUID `json:"user_id"`
		FriendCode string    `json:"friend_code"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&me))
	assert.Equal(t, viewer, me.UserID)
	assert.Equal(t, "AB12CD34", me.FriendCode)
}

// TestFriendRequestFlow walks the recovered social flow end to end:
// request by (lowercased) code, duplicate rejection, recipient-only
// acceptance, and the accepted edge showing up in both friend lists.
func TestFriendRequestFlow(t *testing.T) {
	srv, db := newSocialTestServer(t)
	defer srv.Close()

	alice := seedUser(t, db, "ALICE001")
	bob := seedUser(t, db, "BOB00002")

	resp := authedJSON(t, http.MethodPost, srv.URL+"/api/v1/friends/by_code", alice,
		map[string]string{"friend_code": "bob00002"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created struct {
		ID     uuid.UUID               `json:"id"`
		UserID uuid.UUID               `json:"user_id"`
		Status schema.FriendshipStatus `json:"status"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	resp.Body.Close()
	assert.Equal(t, bob, created.UserID)
	assert.Equal(t, schema.FriendshipPending, created.Status)

	resp = authedJSON(t, http.MethodPost, srv.URL+"/api/v1/friends/by_code", alice,
		map[string]string{"friend_code": "BOB00002"})
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	acceptURL := srv.URL + "/api/v1/friends/" + created.ID.String() + "/accept"

	resp = authedJSON(t, http.MethodPost, acceptURL, alice, nil)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = authedJSON(t, http.MethodPost, acceptURL, bob, nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var accepted struct {
		Status schema.FriendshipStatus `json:"status"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&accepted))
	assert.Equal(t, schema.FriendshipAccepted, accepted.Status)

	listResp := authedJSON(t, http.MethodGet, srv.URL+"/api/v1/friends", bob, nil)
	defer listResp.Body.Close()
	require.Equal(t, http.StatusOK, listResp.StatusCode)

	var list struct {
		Friends []struct {
			UserID     uuid.UUID               `json:"user_id"`
			FriendCode string                  `json:"friend_code"`
			Status     schema.FriendshipStatus `json:"status"`
			Direction  string                  `json:"direction"`
		} `json:"friends"`
	}
	require.NoError(t, json.NewDecoder(listResp.Body).Decode(&list))
	require.Len(t, list.Friends, 1)
	assert.Equal(t, alice, list.Friends[0].UserID)
	assert.Equal(t, "ALICE001", list.Friends[0].FriendCode)
	assert.Equal(t, schema.FriendshipAccepted, list.Friends[0].Status)
	assert.Equal(t, "incoming", list.Friends[0].Direction)
}

func TestFriendByCode_SelfRequestRejected(t *testing.T) {
	srv, db := newSocialTestServer(t)
	defer srv.Close()

	viewer := seedUser(t, db, "SELF0001")

	resp := authedJSON(t, http.MethodPost, srv.URL+"/api/v1/friends/by_code", viewer,
		map[string]string{"friend_code": "SELF0001"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestBlockFriend_EitherPartyAnyState(t *testing.T) {
	srv, db := newSocialTestServer(t)
	defer srv.Close()

	alice := seedUser(t, db, "ALICE101")
	bob := seedUser(t, db, "BOB00102")

	resp := authedJSON(t, http.MethodPost, srv.URL+"/api/v1/friends/by_code", alice,
		map[string]string{"friend_code": "BOB00102"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created struct {
		ID uuid.UUID `json:"id"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	resp.Body.Close()

	// The requester blocks its own pending request.
	resp = authedJSON(t, http.MethodPost,
		srv.URL+"/api/v1/friends/"+created.ID.String()+"/block", alice, nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var friendship schema.Friendship
	require.NoError(t, db.First(&friendship, "id = ?", created.ID).Error)
	assert.Equal(t, schema.FriendshipBlocked, friendship.Status)

	// A blocked edge never surfaces in either friend list.
	listResp := authedJSON(t, http.MethodGet, srv.URL+"/api/v1/friends", bob, nil)
	defer listResp.Body.Close()
	var list struct {
		Friends []json.RawMessage `json:"friends"`
	}
	require.NoError(t, json.NewDecoder(listResp.Body).Decode(&list))
	assert.Empty(t, list.Friends)
}
