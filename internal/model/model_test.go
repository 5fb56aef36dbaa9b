package model

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComposeFee(t *testing.T) {
	tests := []struct {
		name string
		base Money
		bps  int64
		want Money
	}{
		{"no surcharge", 5000, 0, 5000},
		{"five percent", 5000, 500, 5250},
		{"rounds half up", 1999, 250, 2049},
		{"negative basis points ignored", 1000, -10, 1000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ComposeFee(tt.base, tt.bps))
		})
	}
}

func TestActor_ActsFor(t *testing.T) {
	patient := uuid.New()
	other := uuid.New()

	assert.True(t, Actor{Role: RolePatient, ID: patient}.ActsFor(patient))
	assert.False(t, Actor{Role: RolePatient, ID: other}.ActsFor(patient))
	assert.True(t, Actor{Role: RoleSupervisor, ID: other, PatientIDs: []uuid.UUID{patient}}.ActsFor(patient))
	assert.False(t, Actor{Role: RoleSupervisor, ID: other}.ActsFor(patient))
	assert.False(t, Actor{Role: RoleAdmin, ID: patient}.ActsFor(patient))
}

func TestCoupon_ExpiredAt(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	assert.True(t, (&Coupon{Status: CouponStatusExpired}).ExpiredAt(now))
	assert.True(t, (&Coupon{Status: CouponStatusAvailable, ExpiresAt: &past}).ExpiredAt(now))
	assert.True(t, (&Coupon{Status: CouponStatusAvailable, ExpiresAt: &now}).ExpiredAt(now))
	assert.False(t, (&Coupon{Status: CouponStatusAvailable, ExpiresAt: &future}).ExpiredAt(now))
	assert.False(t, (&Coupon{Status: CouponStatusAvailable}).ExpiredAt(now))
}

func TestTimeList_ScanFromJSONB(t *testing.T) {
	t1 := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	t2 := t1.Add(2 * time.Hour)

	raw, err := TimeList{t1, t2}.Value()
	require.NoError(t, err)

	var got TimeList
	require.NoError(t, got.Scan(raw))
	require.Len(t, got, 2)
	assert.True(t, got.Contains(t2))
	assert.False(t, got.Contains(t2.Add(time.Minute)))
}

func TestCase_CloneIsDeep(t *testing.T) {
	doctor := uuid.New()
	c := &Case{Status: CaseStatusAssigned, AssignedDoctorID: &doctor}

	cp := c.Clone()
	*cp.AssignedDoctorID = uuid.New()

	assert.Equal(t, doctor, *c.AssignedDoctorID)
}
