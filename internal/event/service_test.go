package event

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/event-reminders/backend/internal/apperror"
	"github.com/event-reminders/backend/internal/storage"
	"github.com/event-reminders/backend/internal/storage/models"
	"github.com/event-reminders/backend/internal/storage/storagetest"
)

func TestAccessPolicy(t *testing.T) {
	ctx := context.Background()
	db := storagetest.NewDB(t)
	events := storage.NewEventRepository(db)
	svc := NewService(events)

	private := storagetest.Event("alice", time.Now().Add(24*time.Hour))
	private.Visibility = models.VisibilityPrivate
	require.NoError(t, events.Create(ctx, private))
	public := storagetest.CreateEvent(t, db, "alice", time.Now().Add(24*time.Hour))

	_, err := svc.LoadAccessible(ctx, private.ID, "alice")
	assert.NoError(t, err, "creator")

	_, err = svc.LoadAccessible(ctx, public.ID, "bob")
	assert.NoError(t, err, "public event")

	_, err = svc.LoadAccessible(ctx, private.ID, "bob")
	assert.True(t, apperror.Is(err, apperror.KindForbidden))

	_, err = svc.Get(ctx, private.ID, "bob")
	assert.True(t, apperror.Is(err, apperror.KindNotFound))

	_, err = events.Register(ctx, private.ID, "bob")
	require.NoError(t, err)
	_, err = svc.LoadAccessible(ctx, private.ID, "bob")
	assert.NoError(t, err, "registered user")

	_, err = svc.LoadAccessible(ctx, "missing", "bob")
	assert.True(t, apperror.Is(err, apperror.KindNotFound))
}

func TestRegister(t *testing.T) {
	ctx := context.Background()
	db := storagetest.NewDB(t)
	events := storage.NewEventRepository(db)
	svc := NewService(events)

	public := storagetest.CreateEvent(t, db, "alice", time.Now().Add(24*time.Hour))
	private := storagetest.Event("alice", time.Now().Add(24*time.Hour))
	private.Visibility = models.VisibilityPrivate
	require.NoError(t, events.Create(ctx, private))

	added, err := svc.Register(ctx, public.ID, "bob")
	require.NoError(t, err)
	assert.True(t, added)

	added, err = svc.Register(ctx, public.ID, "bob")
	require.NoError(t, err)
	assert.False(t, added)

	_, err = svc.Register(ctx, private.ID, "bob")
	assert.True(t, apperror.Is(err, apperror.KindForbidden))

	_, err = svc.Register(ctx, public.ID, "alice")
	assert.True(t, apperror.Is(err, apperror.KindValidation))
}

func TestInvite(t *testing.T) {
	ctx := context.Background()
	db := storagetest.NewDB(t)
	events := storage.NewEventRepository(db)
	svc := NewService(events)

	private := storagetest.Event("alice", time.Now().Add(24*time.Hour))
	private.Visibility = models.VisibilityPrivate
	require.NoError(t, events.Create(ctx, private))

	_, err := svc.Invite(ctx, private.ID, "bob", InviteRequest{UserID: "carol"})
	assert.True(t, apperror.Is(err, apperror.KindNotFound), "private event is hidden from strangers")

	_, err = svc.Invite(ctx, private.ID, "alice", InviteRequest{UserID: "alice"})
	assert.True(t, apperror.Is(err, apperror.KindValidation))

	_, err = svc.Invite(ctx, private.ID, "alice", InviteRequest{})
	assert.True(t, apperror.Is(err, apperror.KindValidation))

	added, err := svc.Invite(ctx, private.ID, "alice", InviteRequest{UserID: "bob"})
	require.NoError(t, err)
	assert.True(t, added)

	added, err = svc.Invite(ctx, private.ID, "alice", InviteRequest{UserID: "bob"})
	require.NoError(t, err)
	assert.False(t, added)

	_, err = svc.Get(ctx, private.ID, "bob")
	assert.NoError(t, err, "invited user sees the event")

	_, err = svc.Invite(ctx, private.ID, "bob", InviteRequest{UserID: "carol"})
	assert.True(t, apperror.Is(err, apperror.KindForbidden), "only the creator invites")
}
