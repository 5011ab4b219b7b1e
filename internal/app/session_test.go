package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"asamblea/internal/backend"
	"asamblea/internal/backend/backendtest"
	"asamblea/internal/domain"
)

type sessionFixture struct {
	fake    *backendtest.Fake
	clock   *fakeClock
	session *LiveSession
	client  *recordingSubscriber
}

func newSessionFixture(t *testing.T, role domain.Role, questions ...domain.Question) *sessionFixture {
	t.Helper()

	fake := backendtest.New(testAssembly(), questions...)
	fake.SetAttendance("1001", backendtest.Representative("1.25", "101"))
	clock := newFakeClock()

	session := NewLiveSession(SessionConfig{
		AssemblyID: 7,
		Identity:   selfIdentity("1001"),
		Role:       role,
	}, fake, nil, clock, testLogger(), nil)
	t.Cleanup(session.Close)

	client := newRecordingSubscriber("client-1")
	session.RegisterClient(client)

	return &sessionFixture{fake: fake, clock: clock, session: session, client: client}
}

func (f *sessionFixture) enter(t *testing.T) {
	t.Helper()
	out := f.session.Enter(context.Background())
	require.NoError(t, out.Err)
	require.True(t, f.session.Entered())
}

func (f *sessionFixture) state(t *testing.T, questionID int64) domain.QuestionState {
	t.Helper()
	q, ok := f.session.registry.Get(questionID)
	require.True(t, ok)
	return q.State
}

func TestLiveSession_HappyPath(t *testing.T) {
	f := newSessionFixture(t, domain.RoleModerator, backendtest.Question(1))
	f.fake.DurationSeconds = 180
	f.enter(t)

	out := f.session.Activate(context.Background(), 1, false)
	require.NoError(t, out.Err)
	require.NotNil(t, out.Record)
	assert.Equal(t, 180, out.Record.DurationSeconds)
	assert.NotNil(t, f.client.waitFor(domain.EventQuestionActivated, time.Second))

	f.clock.Advance(179 * time.Second)
	f.session.countdown.Tick(context.Background())
	assert.Zero(t, f.fake.Calls(backendtest.OpFinalize))
	assert.Equal(t, domain.QuestionActive, f.state(t, 1))

	f.clock.Advance(2 * time.Second)
	f.session.countdown.Tick(context.Background())
	f.session.countdown.Tick(context.Background())

	assert.Equal(t, 1, f.fake.Calls(backendtest.OpFinalize))
	assert.Equal(t, domain.QuestionFinalized, f.state(t, 1))
	assert.False(t, f.session.countdown.Has(1))
	assert.NotNil(t, f.client.waitFor(domain.EventQuestionFinalized, time.Second))
}

func TestLiveSession_AutoFinalizeExactlyOnce(t *testing.T) {
	f := newSessionFixture(t, domain.RoleModerator, backendtest.Question(1))
	f.fake.DurationSeconds = 3
	f.enter(t)

	require.NoError(t, f.session.Activate(context.Background(), 1, false).Err)
	for i := 0; i < 8; i++ {
		f.clock.Advance(time.Second)
		f.session.countdown.Tick(context.Background())
	}

	assert.Equal(t, 1, f.fake.Calls(backendtest.OpFinalize))
	assert.Equal(t, domain.QuestionFinalized, f.fake.State(1))
}

func TestLiveSession_ModeratorFinalizeBeforeExpiry(t *testing.T) {
	f := newSessionFixture(t, domain.RoleModerator, backendtest.Question(1))
	f.fake.DurationSeconds = 3
	f.enter(t)

	require.NoError(t, f.session.Activate(context.Background(), 1, false).Err)
	out := f.session.Finalize(context.Background(), 1)
	require.NoError(t, out.Err)
	assert.Equal(t, domain.NoticeSuccess, out.Notice.Kind)

	f.clock.Advance(10 * time.Second)
	f.session.countdown.Tick(context.Background())

	assert.Equal(t, 1, f.fake.Calls(backendtest.OpFinalize))
}

func TestLiveSession_ContestedActivation(t *testing.T) {
	f := newSessionFixture(t, domain.RoleModerator, backendtest.Question(1), backendtest.Question(2))
	f.enter(t)

	require.NoError(t, f.session.Activate(context.Background(), 1, false).Err)

	out := f.session.Activate(context.Background(), 2, false)
	require.NoError(t, out.Err)
	require.True(t, out.NeedsConfirmation())
	assert.Equal(t, int64(1), out.Confirm.ActiveQuestionID)
	assert.Equal(t, domain.QuestionScheduled, f.state(t, 2))

	out = f.session.Activate(context.Background(), 2, true)
	require.NoError(t, out.Err)
	require.NotNil(t, out.Record)

	assert.Equal(t, domain.QuestionActive, f.state(t, 1))
	assert.Equal(t, domain.QuestionActive, f.state(t, 2))
	assert.True(t, f.session.countdown.Has(1))
}

func TestLiveSession_CancelNeedsConfirmation(t *testing.T) {
	f := newSessionFixture(t, domain.RoleModerator, backendtest.Question(1))
	f.enter(t)

	out := f.session.Cancel(context.Background(), 1, false)
	require.True(t, out.NeedsConfirmation())
	assert.Equal(t, domain.QuestionScheduled, f.fake.State(1))

	out = f.session.Cancel(context.Background(), 1, true)
	require.NoError(t, out.Err)
	assert.Equal(t, domain.QuestionCancelled, f.state(t, 1))
	assert.NotNil(t, f.client.waitFor(domain.EventQuestionCancelled, time.Second))
}

func TestLiveSession_RepresentativeCannotModerate(t *testing.T) {
	f := newSessionFixture(t, domain.RoleRepresentative, backendtest.Question(1))
	f.enter(t)

	for _, out := range []Outcome{
		f.session.Activate(context.Background(), 1, true),
		f.session.Finalize(context.Background(), 1),
		f.session.Cancel(context.Background(), 1, true),
		f.session.ChangeAssemblyStatus(context.Background(), domain.AssemblyFinished),
	} {
		assert.ErrorIs(t, out.Err, domain.ErrNotModerator)
		require.NotNil(t, out.Notice)
		assert.Equal(t, domain.NoticeError, out.Notice.Kind)
	}
	assert.Zero(t, f.fake.Calls(backendtest.OpActivate))
}

func TestLiveSession_ReloadDiscoversActiveQuestion(t *testing.T) {
	f := newSessionFixture(t, domain.RoleRepresentative, backendtest.Question(1))
	f.enter(t)
	assert.False(t, f.session.countdown.Has(1))

	f.fake.SetState(1, domain.QuestionActive)
	require.NoError(t, f.session.Reload(context.Background()))

	assert.True(t, f.session.countdown.Has(1))
	prompt := f.client.waitFor(domain.EventVotePrompt, time.Second)
	require.NotNil(t, prompt)
	assert.Equal(t, int64(1), prompt.QuestionID)

	// Closed elsewhere: the record goes away on the next reload.
	f.fake.SetState(1, domain.QuestionFinalized)
	require.NoError(t, f.session.Reload(context.Background()))
	assert.False(t, f.session.countdown.Has(1))
}

func TestLiveSession_ReloadDiscoveryFailureIsSilent(t *testing.T) {
	f := newSessionFixture(t, domain.RoleRepresentative, backendtest.Question(1))
	f.enter(t)

	f.fake.SetState(1, domain.QuestionActive)
	f.fake.FailNext(backendtest.OpActive, assert.AnError)

	require.NoError(t, f.session.Reload(context.Background()))
	assert.False(t, f.session.countdown.Has(1))
	assert.Equal(t, domain.QuestionActive, f.state(t, 1))
}

func TestLiveSession_CastVote(t *testing.T) {
	f := newSessionFixture(t, domain.RoleRepresentative, backendtest.Question(1), backendtest.Question(2))
	f.enter(t)
	f.fake.SetState(1, domain.QuestionActive)
	require.NoError(t, f.session.Reload(context.Background()))

	out := f.session.CastVote(context.Background(), 1, 11)
	require.NoError(t, out.Err)
	opt, ok := f.fake.Vote(1)
	require.True(t, ok)
	assert.Equal(t, int64(11), opt)

	tests := []struct {
		name       string
		questionID int64
		optionID   int64
		want       error
	}{
		{"second vote", 1, 12, domain.ErrAlreadyVoted},
		{"foreign option", 1, 21, domain.ErrInvalidOption},
		{"inactive question", 2, 21, domain.ErrQuestionNotActive},
		{"unknown question", 9, 91, domain.ErrQuestionNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := f.session.CastVote(context.Background(), tt.questionID, tt.optionID)
			assert.ErrorIs(t, out.Err, tt.want)
			require.NotNil(t, out.Notice)
			assert.Equal(t, domain.NoticeError, out.Notice.Kind)
		})
	}
}

func TestLiveSession_VoteOnQuestionClosedElsewhere(t *testing.T) {
	f := newSessionFixture(t, domain.RoleRepresentative, backendtest.Question(1))
	f.enter(t)
	f.fake.SetState(1, domain.QuestionActive)
	require.NoError(t, f.session.Reload(context.Background()))

	// The server closed the question; the local registry still shows it open.
	f.fake.SetState(1, domain.QuestionFinalized)
	f.fake.FailNext(backendtest.OpVote, &backend.Error{Op: backendtest.OpVote, Code: backend.CodeQuestionClosed, Message: "la pregunta ya fue finalizada"})

	out := f.session.CastVote(context.Background(), 1, 11)
	assert.ErrorIs(t, out.Err, domain.ErrQuestionNotActive)
	require.NotNil(t, out.Notice)
	assert.Equal(t, domain.NoticeError, out.Notice.Kind)

	assert.Equal(t, domain.QuestionFinalized, f.state(t, 1))
	assert.False(t, f.session.countdown.Has(1))
}

func TestLiveSession_ObserverCannotVote(t *testing.T) {
	f := newSessionFixture(t, domain.RoleRepresentative, backendtest.Question(1))
	f.session.cfg.Identity = selfIdentity("9999")
	f.enter(t)
	f.fake.SetState(1, domain.QuestionActive)
	require.NoError(t, f.session.Reload(context.Background()))

	require.True(t, f.session.Registration().ObserverMode)
	out := f.session.CastVote(context.Background(), 1, 11)
	assert.ErrorIs(t, out.Err, domain.ErrObserverCannotVote)
	assert.Zero(t, f.fake.Calls(backendtest.OpVote))
}

func TestLiveSession_EnterFailureCanBeRetried(t *testing.T) {
	f := newSessionFixture(t, domain.RoleRepresentative, backendtest.Question(1))
	f.fake.FailNext(backendtest.OpAttendance, &backend.Error{Op: "attendance", Code: backend.CodeUnavailable, Temporary: true})

	out := f.session.Enter(context.Background())
	require.Error(t, out.Err)
	assert.False(t, f.session.Entered())

	out = f.session.RetryEnter(context.Background())
	require.NoError(t, out.Err)
	assert.True(t, f.session.Entered())
	assert.True(t, f.session.CanVote())
	assert.Len(t, f.session.Questions(), 1)
}

func TestLiveSession_DuplicateEntryCannotBeRetried(t *testing.T) {
	f := newSessionFixture(t, domain.RoleRepresentative)
	f.fake.SetAttendanceError("1001", &backend.Error{Op: "attendance", Code: backend.CodeDuplicateRegistration})

	out := f.session.Enter(context.Background())
	assert.ErrorIs(t, out.Err, domain.ErrDuplicateRegistration)

	out = f.session.RetryEnter(context.Background())
	assert.ErrorIs(t, out.Err, domain.ErrNotRetryable)
	assert.Equal(t, 1, f.fake.Calls(backendtest.OpAttendance))
}

func TestLiveSession_ExitWhileVoting(t *testing.T) {
	f := newSessionFixture(t, domain.RoleRepresentative, backendtest.Question(1))
	f.enter(t)
	f.fake.SetState(1, domain.QuestionActive)
	require.NoError(t, f.session.Reload(context.Background()))

	out := f.session.Exit(context.Background(), false)
	require.True(t, out.NeedsConfirmation())
	assert.Equal(t, ActionExit, out.Confirm.Action)
	assert.Equal(t, int64(1), out.Confirm.ActiveQuestionID)
	assert.False(t, f.session.Exited())

	out = f.session.Exit(context.Background(), true)
	require.NoError(t, out.Err)
	assert.True(t, f.session.Exited())

	select {
	case id := <-f.fake.Leaves():
		assert.Equal(t, "1001", id.Document)
	case <-time.After(2 * time.Second):
		t.Fatal("no leave notification")
	}
}

func TestLiveSession_ModeratorWithUnitsVotes(t *testing.T) {
	f := newSessionFixture(t, domain.RoleModerator, backendtest.Question(1))
	f.enter(t)

	reg := f.session.Registration()
	require.NotNil(t, reg)
	assert.True(t, reg.CanVote())
	assert.Equal(t, 1, f.fake.Calls(backendtest.OpAttendance))

	require.NoError(t, f.session.Activate(context.Background(), 1, false).Err)
	assert.NotNil(t, f.client.waitFor(domain.EventVotePrompt, time.Second))

	out := f.session.CastVote(context.Background(), 1, 11)
	require.NoError(t, out.Err)
	opt, ok := f.fake.Vote(1)
	require.True(t, ok)
	assert.Equal(t, int64(11), opt)
}

func TestLiveSession_ModeratorKeepsControlWhenAttendanceFails(t *testing.T) {
	f := newSessionFixture(t, domain.RoleModerator, backendtest.Question(1))
	f.fake.SetAttendanceError("1001", &backend.Error{Op: "attendance", Code: backend.CodeDuplicateRegistration, Message: "ya registrado"})

	out := f.session.Enter(context.Background())
	require.NoError(t, out.Err)
	require.NotNil(t, out.Notice)
	assert.Equal(t, domain.NoticeWarning, out.Notice.Kind)
	assert.Nil(t, f.session.Registration())

	require.NoError(t, f.session.Activate(context.Background(), 1, false).Err)
	assert.ErrorIs(t, f.session.CastVote(context.Background(), 1, 11).Err, domain.ErrNotRegistered)
}

func TestLiveSession_ExitBeforeEnterSendsNoLeave(t *testing.T) {
	f := newSessionFixture(t, domain.RoleRepresentative, backendtest.Question(1))

	out := f.session.Exit(context.Background(), false)
	require.NoError(t, out.Err)
	assert.False(t, out.NeedsConfirmation())
	assert.True(t, f.session.Exited())

	select {
	case id := <-f.fake.Leaves():
		t.Fatalf("unexpected leave for %s", id.Document)
	case <-time.After(200 * time.Millisecond):
	}
	assert.Zero(t, f.fake.Calls(backendtest.OpLeave))
}

func TestLiveSession_ChangeAssemblyStatus(t *testing.T) {
	f := newSessionFixture(t, domain.RoleModerator)
	f.enter(t)

	out := f.session.ChangeAssemblyStatus(context.Background(), domain.AssemblyScheduled)
	assert.ErrorIs(t, out.Err, domain.ErrInvalidStatus)
	assert.Zero(t, f.fake.Calls(backendtest.OpStatus))

	out = f.session.ChangeAssemblyStatus(context.Background(), domain.AssemblyFinished)
	require.NoError(t, out.Err)
	assert.Equal(t, domain.AssemblyFinished, f.fake.Status())
	assert.NotNil(t, f.client.waitFor(domain.EventAssemblyStatus, time.Second))
}

func TestLiveSession_ActiveQuestion(t *testing.T) {
	f := newSessionFixture(t, domain.RoleRepresentative, backendtest.Question(1))
	f.enter(t)

	aq, out := f.session.ActiveQuestion(context.Background())
	assert.Nil(t, aq)
	require.NotNil(t, out.Notice)
	assert.Equal(t, domain.NoticeWarning, out.Notice.Kind)

	f.fake.SetState(1, domain.QuestionActive)
	aq, out = f.session.ActiveQuestion(context.Background())
	require.NoError(t, out.Err)
	require.NotNil(t, aq)
	assert.Equal(t, int64(1), aq.ID)
	assert.False(t, aq.AlreadyVoted)
}

func TestLiveSession_WatchCountdown(t *testing.T) {
	f := newSessionFixture(t, domain.RoleModerator, backendtest.Question(1))
	f.fake.DurationSeconds = 90
	f.enter(t)
	require.NoError(t, f.session.Activate(context.Background(), 1, false).Err)

	other := newRecordingSubscriber("client-2")
	f.session.RegisterClient(other)
	f.session.WatchCountdown("client-1", 1)

	f.clock.Advance(65 * time.Second)
	f.session.countdown.Tick(context.Background())

	tick := f.client.waitFor(domain.EventCountdownTick, time.Second)
	require.NotNil(t, tick)
	payload, ok := tick.Payload.(*domain.CountdownPayload)
	require.True(t, ok)
	assert.Equal(t, 25, payload.Remaining)
	assert.Equal(t, "0:25", payload.Display)
	assert.True(t, payload.LowTime)

	assert.Nil(t, other.waitFor(domain.EventCountdownTick, 100*time.Millisecond))

	f.session.UnregisterClient("client-1")
	assert.Equal(t, 1, f.session.ClientCount())
}

func TestLiveSession_QuestionsCarryCountdown(t *testing.T) {
	f := newSessionFixture(t, domain.RoleModerator, backendtest.Question(1), backendtest.Question(2))
	f.fake.DurationSeconds = 120
	f.enter(t)
	require.NoError(t, f.session.Activate(context.Background(), 2, false).Err)

	f.clock.Advance(30 * time.Second)
	views := f.session.Questions()
	require.Len(t, views, 2)
	assert.Nil(t, views[0].Countdown)
	require.NotNil(t, views[1].Countdown)
	assert.Equal(t, 90, views[1].Countdown.Remaining)
}

func TestLiveSession_PeriodicRefresh(t *testing.T) {
	fake := backendtest.New(testAssembly(), backendtest.Question(1))
	fake.SetAttendance("1001", backendtest.Representative("1", "101"))

	session := NewLiveSession(SessionConfig{
		AssemblyID:      7,
		Identity:        selfIdentity("1001"),
		Role:            domain.RoleRepresentative,
		RefreshInterval: 20 * time.Millisecond,
	}, fake, nil, newFakeClock(), testLogger(), nil)
	t.Cleanup(session.Close)

	require.NoError(t, session.Enter(context.Background()).Err)
	fake.SetState(1, domain.QuestionActive)

	require.Eventually(t, func() bool {
		q, ok := session.registry.Get(1)
		return ok && q.State == domain.QuestionActive && session.countdown.Has(1)
	}, 2*time.Second, 10*time.Millisecond)
}
