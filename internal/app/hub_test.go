package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"asamblea/internal/backend"
	"asamblea/internal/backend/backendtest"
	"asamblea/internal/domain"
)

func newTestHub(t *testing.T) (*SessionHub, *backendtest.Fake) {
	t.Helper()
	fake := backendtest.New(testAssembly(), backendtest.Question(1))
	fake.SetAttendance("1001", backendtest.Representative("1", "101"))

	hub := NewSessionHub(HubConfig{}, func(domain.Identity) backend.Backend { return fake }, nil, testLogger(), nil)
	t.Cleanup(hub.Close)
	return hub, fake
}

func TestSessionHub_OpenAndGet(t *testing.T) {
	hub, _ := newTestHub(t)

	session, out := hub.Open(context.Background(), 7, selfIdentity("1001"), domain.RoleRepresentative)
	require.NoError(t, out.Err)
	require.NotNil(t, session)

	got, err := hub.GetSession(7)
	require.NoError(t, err)
	assert.Same(t, session, got)
	assert.Equal(t, 1, hub.GetSessionCount())

	_, err = hub.GetSession(8)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestSessionHub_FailedEntryIsNotKept(t *testing.T) {
	hub, fake := newTestHub(t)
	fake.SetAttendanceError("1001", &backend.Error{Op: "attendance", Code: backend.CodeDuplicateRegistration})

	session, out := hub.Open(context.Background(), 7, selfIdentity("1001"), domain.RoleRepresentative)
	assert.Nil(t, session)
	assert.ErrorIs(t, out.Err, domain.ErrDuplicateRegistration)
	assert.Zero(t, hub.GetSessionCount())
}

func TestSessionHub_ReopenReplaces(t *testing.T) {
	hub, _ := newTestHub(t)

	first, _ := hub.Open(context.Background(), 7, selfIdentity("1001"), domain.RoleRepresentative)
	second, out := hub.Open(context.Background(), 7, selfIdentity("1001"), domain.RoleRepresentative)
	require.NoError(t, out.Err)

	got, err := hub.GetSession(7)
	require.NoError(t, err)
	assert.Same(t, second, got)
	assert.NotSame(t, first, second)
	assert.Equal(t, 1, hub.GetSessionCount())
}

func TestSessionHub_CleanupRemovesExited(t *testing.T) {
	hub, _ := newTestHub(t)

	session, _ := hub.Open(context.Background(), 7, selfIdentity("1001"), domain.RoleRepresentative)
	require.NotNil(t, session)
	hub.cleanupStaleSessions()
	assert.Equal(t, 1, hub.GetSessionCount())

	session.Exit(context.Background(), true)
	hub.cleanupStaleSessions()
	assert.Zero(t, hub.GetSessionCount())
}

func TestSessionHub_DeleteSession(t *testing.T) {
	hub, _ := newTestHub(t)

	_, out := hub.Open(context.Background(), 7, selfIdentity("1001"), domain.RoleModerator)
	require.NoError(t, out.Err)

	hub.DeleteSession(7)
	hub.DeleteSession(7)
	assert.Zero(t, hub.GetSessionCount())
}
