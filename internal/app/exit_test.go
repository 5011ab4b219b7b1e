package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"asamblea/internal/backend/backendtest"
	"asamblea/internal/domain"
)

func newExitFixture(t *testing.T, active, observer bool) (*ExitGuard, *backendtest.Fake, *int) {
	t.Helper()

	fake := backendtest.New(testAssembly(), backendtest.Question(1))
	if active {
		fake.SetState(1, domain.QuestionActive)
	}
	registry := NewRegistry(7, fake, testLogger())
	require.NoError(t, registry.Reload(context.Background()))

	navigations := 0
	guard := NewExitGuard(7, selfIdentity("1001"), registry, func() bool { return observer }, fake, func() { navigations++ }, testLogger(), nil)
	t.Cleanup(guard.Wait)
	return guard, fake, &navigations
}

func receiveLeave(t *testing.T, fake *backendtest.Fake) domain.Identity {
	t.Helper()
	select {
	case id := <-fake.Leaves():
		return id
	case <-time.After(2 * time.Second):
		t.Fatal("no leave notification")
		return domain.Identity{}
	}
}

func TestExitGuard_NeedsConfirmationWhileActive(t *testing.T) {
	guard, fake, navigations := newExitFixture(t, true, false)

	assert.True(t, guard.HasActiveQuestion())
	assert.Equal(t, ExitNeedsConfirmation, guard.RequestExit())
	assert.Zero(t, *navigations)

	guard.ConfirmExit(context.Background())
	assert.Equal(t, 1, *navigations)
	assert.True(t, guard.Allowed())
	assert.Equal(t, ExitAllowed, guard.RequestExit())

	assert.Equal(t, "1001", receiveLeave(t, fake).Document)
}

func TestExitGuard_ObserverIsExempt(t *testing.T) {
	guard, fake, navigations := newExitFixture(t, true, true)

	assert.Equal(t, ExitAllowed, guard.RequestExit())

	guard.ConfirmExit(context.Background())
	guard.Wait()
	assert.Equal(t, 1, *navigations)
	assert.Zero(t, fake.Calls(backendtest.OpLeave))
}

func TestExitGuard_NoActiveQuestionStillNotifies(t *testing.T) {
	guard, fake, _ := newExitFixture(t, false, false)

	assert.False(t, guard.HasActiveQuestion())
	assert.Equal(t, ExitAllowed, guard.RequestExit())

	guard.ConfirmExit(context.Background())
	receiveLeave(t, fake)
}

func TestExitGuard_LeaveFailureIsDropped(t *testing.T) {
	guard, fake, navigations := newExitFixture(t, false, false)
	fake.FailNext(backendtest.OpLeave, assert.AnError)

	guard.ConfirmExit(context.Background())
	guard.Wait()

	assert.Equal(t, 1, *navigations)
	assert.True(t, guard.Allowed())
	assert.Equal(t, 1, fake.Calls(backendtest.OpLeave))
}

func TestExitGuard_ConfirmTwiceNavigatesOnce(t *testing.T) {
	guard, fake, navigations := newExitFixture(t, false, false)

	guard.ConfirmExit(context.Background())
	guard.ConfirmExit(context.Background())
	guard.Wait()

	assert.Equal(t, 1, *navigations)
	assert.Equal(t, 1, fake.Calls(backendtest.OpLeave))
}
