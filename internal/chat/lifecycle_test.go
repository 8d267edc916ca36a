package chat

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synerchat/server/internal/apperr"
	"github.com/synerchat/server/internal/model"
	"github.com/synerchat/server/internal/realtime"
)

func TestScenario_VerificationRequiredOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s := h.openSession(t)

	h.clock.Set(baseTime.Add(31 * time.Minute))
	report := h.sched.Sweep(ctx)
	assert.Equal(t, 1, report.Scanned)
	assert.Equal(t, 1, report.Pending)
	assert.Empty(t, report.Failures)

	got, err := h.store.Chats.GetSessionByID(ctx, s.ID)
	require.NoError(t, err)
	assert.True(t, got.VerificationPending)

	for _, c := range []*recConn{h.c1, h.c2} {
		events := c.events(t, realtime.EventVerificationRequired)
		require.Len(t, events, 1)
		ev := decodeInto[VerificationRequiredEvent](t, events[0])
		assert.Equal(t, s.ID, ev.ChatID)
		assert.True(t, baseTime.Add(36*time.Minute).Equal(ev.Deadline), "deadline is %s", ev.Deadline)
	}

	again := h.sched.Sweep(ctx)
	assert.Equal(t, 0, again.Pending)
	assert.Equal(t, 0, again.Destroyed)
	assert.Len(t, h.c1.events(t, realtime.EventVerificationRequired), 1, "no duplicate broadcast")
}

func TestScenario_DestroyedAfterDeadline(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s := h.openSession(t)
	_, err := h.store.Messages.CreateMessage(ctx, s.ID, h.u1.ID, "blob", "text")
	require.NoError(t, err)

	h.clock.Set(baseTime.Add(31 * time.Minute))
	h.sched.Sweep(ctx)

	h.clock.Set(baseTime.Add(35*time.Minute + 30*time.Second))
	report := h.sched.Sweep(ctx)
	assert.Equal(t, 0, report.Destroyed, "the advertised deadline has not passed")

	h.clock.Set(baseTime.Add(36 * time.Minute))
	report = h.sched.Sweep(ctx)
	assert.Equal(t, 1, report.Destroyed)

	_, err = h.store.Chats.GetSessionByID(ctx, s.ID)
	assert.Error(t, err)
	msgs, err := h.store.Messages.ListMessages(ctx, s.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	for _, c := range []*recConn{h.c1, h.c2} {
		events := c.events(t, realtime.EventChatDestroyed)
		require.Len(t, events, 1)
		ev := decodeInto[ChatDestroyedEvent](t, events[0])
		assert.Equal(t, s.ID, ev.ChatID)
		assert.Equal(t, ReasonVerificationTimeout, ev.Reason)
	}
}

func TestScenario_VerifyRestoresActive(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s := h.openSession(t)

	h.clock.Set(baseTime.Add(31 * time.Minute))
	h.sched.Sweep(ctx)

	h.clock.Set(baseTime.Add(32 * time.Minute))
	got, err := h.svc.Verify(ctx, s.ID, h.u2.ID, "AAAA")
	require.NoError(t, err)
	assert.Equal(t, model.StateActive, got.State())
	assert.True(t, baseTime.Add(32*time.Minute).Equal(got.LastVerifiedAt))
	assert.True(t, baseTime.Add(62*time.Minute).Equal(got.NextVerificationAt))

	stored, err := h.store.Chats.GetSessionByID(ctx, s.ID)
	require.NoError(t, err)
	assert.False(t, stored.VerificationPending)
	assert.Nil(t, stored.VerificationDeadline)

	for _, c := range []*recConn{h.c1, h.c2} {
		events := c.events(t, realtime.EventChatVerified)
		require.Len(t, events, 1)
		ev := decodeInto[ChatVerifiedEvent](t, events[0])
		assert.Equal(t, h.u2.ID, ev.VerifiedBy)
	}

	h.clock.Set(baseTime.Add(40 * time.Minute))
	report := h.sched.Sweep(ctx)
	assert.Zero(t, report.Pending)
	assert.Zero(t, report.Destroyed)
}

func TestVerify_RequiresPeerCode(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s := h.openSession(t)

	tests := []struct {
		name    string
		userID  uuid.UUID
		code    string
		wantErr error
	}{
		{name: "user1 with own code", userID: h.u1.ID, code: "AAAA", wantErr: apperr.ErrInvalidCode},
		{name: "user2 with own code", userID: h.u2.ID, code: "BBBB", wantErr: apperr.ErrInvalidCode},
		{name: "wrong length", userID: h.u1.ID, code: "BBB", wantErr: apperr.ErrCodeLength},
		{name: "multibyte four characters", userID: h.u1.ID, code: "ñaño", wantErr: apperr.ErrInvalidCode},
		{name: "multibyte five characters", userID: h.u1.ID, code: "ñañoñ", wantErr: apperr.ErrCodeLength},
		{name: "outsider", userID: uuid.New(), code: "AAAA", wantErr: apperr.ErrNotParticipant},
		{name: "unknown chat", userID: h.u1.ID, code: "BBBB", wantErr: apperr.ErrSessionNotFound},
		{name: "user1 with peer code", userID: h.u1.ID, code: "BBBB"},
		{name: "user2 with peer code", userID: h.u2.ID, code: "AAAA"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := s.ID
			if tt.name == "unknown chat" {
				id = uuid.New()
			}
			before, err := h.store.Chats.GetSessionByID(ctx, s.ID)
			require.NoError(t, err)

			_, err = h.svc.Verify(ctx, id, tt.userID, tt.code)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
			after, err := h.store.Chats.GetSessionByID(ctx, s.ID)
			require.NoError(t, err)
			assert.Equal(t, before, after, "a rejected verify leaves the session untouched")
		})
	}
	assert.Len(t, h.c1.events(t, realtime.EventChatVerified), 2, "only the two successful verifies broadcast")
}

func TestDestroyedSession_RejectsEveryOperation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s := h.openSession(t)

	h.clock.Set(baseTime.Add(31 * time.Minute))
	h.sched.Sweep(ctx)
	h.clock.Set(baseTime.Add(40 * time.Minute))
	require.Equal(t, 1, h.sched.Sweep(ctx).Destroyed)

	_, err := h.svc.Verify(ctx, s.ID, h.u2.ID, "AAAA")
	assert.ErrorIs(t, err, apperr.ErrSessionNotFound)

	_, err = h.consent.RequestDeletion(ctx, s.ID, h.u1.ID)
	assert.ErrorIs(t, err, apperr.ErrSessionNotFound)

	err = h.consent.ClearMessages(ctx, s.ID, h.u1.ID)
	assert.ErrorIs(t, err, apperr.ErrSessionNotFound)

	_, err = h.svc.SendMessage(ctx, s.ID, h.u1.ID, "late", "")
	assert.ErrorIs(t, err, apperr.ErrSessionNotFound)
}

func TestVerifyRacingDestroy_StaysConsistent(t *testing.T) {
	for i := 0; i < 20; i++ {
		h := newHarness(t)
		ctx := context.Background()
		s := h.openSession(t)

		h.clock.Set(baseTime.Add(31 * time.Minute))
		h.sched.Sweep(ctx)
		h.clock.Set(baseTime.Add(36 * time.Minute))

		var (
			wg        sync.WaitGroup
			verifyErr error
			report    SweepReport
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, verifyErr = h.svc.Verify(ctx, s.ID, h.u1.ID, "BBBB")
		}()
		go func() {
			defer wg.Done()
			report = h.sched.Sweep(ctx)
		}()
		wg.Wait()

		stored, getErr := h.store.Chats.GetSessionByID(ctx, s.ID)
		if verifyErr == nil {
			require.NoError(t, getErr, "a successful verify keeps the session")
			assert.Equal(t, 0, report.Destroyed)
			assert.False(t, stored.VerificationPending)
		} else {
			assert.ErrorIs(t, verifyErr, apperr.ErrSessionNotFound)
			assert.Error(t, getErr, "a failed verify means the sweep destroyed the session")
			assert.Equal(t, 1, report.Destroyed)
		}
	}
}

func TestActiveSessionVerifyRefreshesTimer(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s := h.openSession(t)

	h.clock.Set(baseTime.Add(20 * time.Minute))
	_, err := h.svc.Verify(ctx, s.ID, h.u1.ID, "BBBB")
	require.NoError(t, err)

	h.clock.Set(baseTime.Add(31 * time.Minute))
	assert.Zero(t, h.sched.Sweep(ctx).Pending, "due time moved to T+50m")

	h.clock.Set(baseTime.Add(50 * time.Minute))
	assert.Equal(t, 1, h.sched.Sweep(ctx).Pending)
}
