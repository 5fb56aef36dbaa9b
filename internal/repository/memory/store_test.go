package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/consult-lifecycle/internal/model"
	"github.com/jwalitptl/consult-lifecycle/internal/repository"
)

func newCase() *model.Case {
	now := time.Now()
	return &model.Case{
		Base:            model.Base{ID: uuid.New(), CreatedAt: now, UpdatedAt: now},
		Status:          model.CaseStatusSubmitted,
		OwnerPatientID:  uuid.New(),
		StatusChangedAt: now,
		Version:         1,
	}
}

func TestStore_WithTxRollbackDiscardsWrites(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	c := newCase()
	require.NoError(t, s.Cases().Create(ctx, c))

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(r repository.Repositories) error {
		updated := c.Clone()
		updated.Status = model.CaseStatusPending
		updated.Version = 2
		if err := r.Cases().Update(ctx, updated, 1); err != nil {
			return err
		}
		got, err := r.Cases().Get(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, model.CaseStatusPending, got.Status)
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := s.Cases().Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CaseStatusSubmitted, got.Status)
	assert.Equal(t, int64(1), got.Version)
}

func TestStore_WithTxCommit(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	c := newCase()
	require.NoError(t, s.Cases().Create(ctx, c))

	err := s.WithTx(ctx, func(r repository.Repositories) error {
		updated := c.Clone()
		updated.Status = model.CaseStatusPending
		updated.Version = 2
		return r.Cases().Update(ctx, updated, 1)
	})
	require.NoError(t, err)

	got, err := s.Cases().Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CaseStatusPending, got.Status)
}

func TestCaseRepository_UpdateVersionConflict(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	c := newCase()
	require.NoError(t, s.Cases().Create(ctx, c))

	c.Version = 3
	assert.ErrorIs(t, s.Cases().Update(ctx, c, 2), repository.ErrVersionConflict)
}

func TestCaseRepository_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	c := newCase()
	require.NoError(t, s.Cases().Create(ctx, c))

	got, err := s.Cases().Get(ctx, c.ID)
	require.NoError(t, err)
	got.Status = model.CaseStatusClosed

	again, err := s.Cases().Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CaseStatusSubmitted, again.Status)
}

func TestAppointmentRepository_GetActiveByCaseSkipsSuperseded(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	caseID := uuid.New()

	old := &model.Appointment{Base: model.Base{ID: uuid.New()}, CaseID: caseID, Status: model.AppointmentStatusRescheduled}
	cur := &model.Appointment{Base: model.Base{ID: uuid.New()}, CaseID: caseID, Status: model.AppointmentStatusScheduled, RescheduleCount: 1}
	require.NoError(t, s.Appointments().Create(ctx, old))
	require.NoError(t, s.Appointments().Create(ctx, cur))

	got, err := s.Appointments().GetActiveByCase(ctx, caseID)
	require.NoError(t, err)
	assert.Equal(t, cur.ID, got.ID)

	_, err = s.Appointments().GetActiveByCase(ctx, uuid.New())
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestCouponRepository_LookupScopedToPatient(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	patient := uuid.New()
	require.NoError(t, s.Coupons().Create(ctx, &model.Coupon{Code: "SAVE10", PatientID: patient, Value: 1000, Status: model.CouponStatusAvailable}))

	_, err := s.Coupons().Lookup(ctx, "SAVE10", uuid.New())
	assert.ErrorIs(t, err, repository.ErrNotFound)

	c, err := s.Coupons().Lookup(ctx, "SAVE10", patient)
	require.NoError(t, err)
	assert.Equal(t, model.Money(1000), c.Value)

	appt := uuid.New()
	require.NoError(t, s.Coupons().MarkRedeemed(ctx, "SAVE10", appt, time.Now()))
	assert.ErrorIs(t, s.Coupons().MarkRedeemed(ctx, "SAVE10", appt, time.Now()), repository.ErrCouponUnavailable)
}

func TestOutboxRepository_ClaimAndRetry(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	now := time.Now()
	evt := &model.OutboxEvent{ID: uuid.New(), EventType: "CaseSubmitted", Payload: []byte(`{}`), Status: model.OutboxStatusPending, CreatedAt: now}
	require.NoError(t, s.Outbox().Create(ctx, evt))

	claimed, err := s.Outbox().ClaimPending(ctx, 10, now)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	again, err := s.Outbox().ClaimPending(ctx, 10, now)
	require.NoError(t, err)
	assert.Empty(t, again)

	retryAt := now.Add(time.Minute)
	require.NoError(t, s.Outbox().MarkFailed(ctx, evt.ID, "broker down", &retryAt))

	notYet, err := s.Outbox().ClaimPending(ctx, 10, now)
	require.NoError(t, err)
	assert.Empty(t, notYet)

	due, err := s.Outbox().ClaimPending(ctx, 10, retryAt)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, 1, due[0].RetryCount)

	require.NoError(t, s.Outbox().MarkProcessed(ctx, evt.ID, retryAt))
	n, err := s.Outbox().DeleteProcessedBefore(ctx, retryAt.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
