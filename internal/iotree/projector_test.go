package iotree_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/fieldnote/dex/internal/iotesting"
	"github.com/fieldnote/dex/internal/iotree"
	"github.com/fieldnote/dex/pkg/errcode"
	"github.com/fieldnote/dex/pkg/schema"
)

type alwaysAdmin bool

func (a alwaysAdmin) IsAdmin(_ context.Context, _ uuid.UUID) (bool, error) { return bool(a), nil }

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func fixedTime(daysAfterEpoch int) time.Time {
	return epoch.AddDate(0, 0, daysAfterEpoch)
}

func seedAnimal(t *testing.T, gdb *gorm.DB, kingdom, phylum, class, order, family, genus, species, sci string, idx int) schema.CanonicalAnimal {
	t.Helper()
	a := schema.CanonicalAnimal{
		AnimalID: uuid.New(), ScientificName: sci, CreationIndex: idx,
		Kingdom: kingdom, Phylum: phylum, Class: class, Order: order, Family: family, Genus: genus, Species: species,
	}
	require.NoError(t, gdb.Create(&a).Error)
	return a
}

func TestProjector_Project_PersonalScopeOnlyIncludesViewer(t *testing.T) {
	gdb := iotesting.OpenGORM(t)
	ctx := context.Background()
	proj := iotree.New(gdb, alwaysAdmin(false))

	viewer := uuid.New()
	other := uuid.New()
	fox := seedAnimal(t, gdb, "Animalia", "Chordata", "Mammalia", "Carnivora", "Canidae", "Vulpes", "vulpes", "Vulpes vulpes", 1)

	require.NoError(t, gdb.Create(&schema.Observation{
		ObservationID: uuid.New(), OwnerUserID: viewer, AnimalID: fox.AnimalID, CatchDate: fixedTime(1),
	}).Error)
	require.NoError(t, gdb.Create(&schema.Observation{
		ObservationID: uuid.New(), OwnerUserID: other, AnimalID: fox.AnimalID, CatchDate: fixedTime(2),
	}).Error)

	projection, err := proj.Project(ctx, viewer, iotree.ModePersonal, nil)
	require.NoError(t, err)

	var animalNode *iotree.FlatNode
	for i := range projection.Nodes {
		if projection.Nodes[i].Kind == iotree.KindAnimal {
			animalNode = &projection.Nodes[i]
		}
	}
	require.NotNil(t, animalNode)
	assert.True(t, animalNode.CapturedByViewer)
	assert.Empty(t, animalNode.CapturedByFriends)
	assert.Equal(t, 1, animalNode.CaptureCount)
}

func TestProjector_Project_FriendsScopeIncludesAcceptedFriendCaptures(t *testing.T) {
	gdb := iotesting.OpenGORM(t)
	ctx := context.Background()
	proj := iotree.New(gdb, alwaysAdmin(false))

	viewer := uuid.New()
	friend := uuid.New()
	owl := seedAnimal(t, gdb, "Animalia", "Chordata", "Aves", "Strigiformes", "Strigidae", "Bubo", "bubo", "Bubo bubo", 1)

	require.NoError(t, gdb.Create(&schema.Friendship{
		ID: uuid.New(), FromUser: viewer, ToUser: friend, Status: schema.FriendshipAccepted,
	}).Error)
	require.NoError(t, gdb.Create(&schema.Observation{
		ObservationID: uuid.New(), OwnerUserID: friend, AnimalID: owl.AnimalID, CatchDate: fixedTime(1),
	}).Error)

	projection, err := proj.Project(ctx, viewer, iotree.ModeFriends, nil)
	require.NoError(t, err)

	var animalNode *iotree.FlatNode
	for i := range projection.Nodes {
		if projection.Nodes[i].Kind == iotree.KindAnimal {
			animalNode = &projection.Nodes[i]
		}
	}
	require.NotNil(t, animalNode)
	assert.False(t, animalNode.CapturedByViewer)
	require.Len(t, animalNode.CapturedByFriends, 1)
	assert.Equal(t, friend, animalNode.CapturedByFriends[0].UserID)
}

func TestProjector_Project_GlobalRequiresAdmin(t *testing.T) {
	gdb := iotesting.OpenGORM(t)
	ctx := context.Background()
	viewer := uuid.New()

	denied := iotree.New(gdb, alwaysAdmin(false))
	_, err := denied.Project(ctx, viewer, iotree.ModeGlobal, nil)
	require.Error(t, err)
	assert.Equal(t, errcode.ForbiddenError, errcode.CodeOf(err))

	allowed := iotree.New(gdb, alwaysAdmin(true))
	_, err = allowed.Project(ctx, viewer, iotree.ModeGlobal, nil)
	require.NoError(t, err)
}

func TestProjector_Project_EmitsTaxonomicEdgesAndCounts(t *testing.T) {
	gdb := iotesting.OpenGORM(t)
	ctx := context.Background()
	proj := iotree.New(gdb, alwaysAdmin(false))

	viewer := uuid.New()
	fox := seedAnimal(t, gdb, "Animalia", "Chordata", "Mammalia", "Carnivora", "Canidae", "Vulpes", "vulpes", "Vulpes vulpes", 1)
	wolf := seedAnimal(t, gdb, "Animalia", "Chordata", "Mammalia", "Carnivora", "Canidae", "Canis", "lupus", "Canis lupus", 2)

	for _, a := range []schema.CanonicalAnimal{fox, wolf} {
		require.NoError(t, gdb.Create(&schema.Observation{
			ObservationID: uuid.New(), OwnerUserID: viewer, AnimalID: a.AnimalID, CatchDate: fixedTime(1),
		}).Error)
	}

	projection, err := proj.Project(ctx, viewer, iotree.ModePersonal, nil)
	require.NoError(t, err)

	var family *iotree.FlatNode
	for i := range projection.Nodes {
		if projection.Nodes[i].Kind == iotree.KindTaxonomic && projection.Nodes[i].Name == "Canidae" {
			family = &projection.Nodes[i]
		}
	}
	require.NotNil(t, family)
	assert.Equal(t, 2, family.ChildrenCount)
	assert.Equal(t, 2, family.AnimalCount)

	for _, e := range projection.Edges {
		assert.NotEmpty(t, e.Source)
		assert.NotEmpty(t, e.Target)
	}
}
