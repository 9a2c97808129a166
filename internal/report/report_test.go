package report

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"booking-assistant/internal/booking"
	"booking-assistant/internal/domain"
)

type fakeSource struct {
	services    []domain.Service
	bookings    []domain.Booking
	servicesErr error
	bookingsErr error
}

func (f fakeSource) ListServices(context.Context) ([]domain.Service, error) {
	return f.services, f.servicesErr
}

func (f fakeSource) ListAll(context.Context) ([]domain.Booking, error) {
	return f.bookings, f.bookingsErr
}

func TestBuild(t *testing.T) {
	src := fakeSource{
		services: booking.DefaultCatalog(),
		bookings: []domain.Booking{
			{ID: "1", ServiceID: "s1", Date: "2026-03-02", Status: domain.StatusConfirmed},
			{ID: "2", ServiceID: "s2", Date: "2026-03-01", Status: domain.StatusConfirmed},
			{ID: "3", ServiceID: "s2", Date: "2026-03-02", Status: domain.StatusCancelled},
			{ID: "4", ServiceID: "s3", Date: "2026-03-02", Status: domain.StatusPending},
			{ID: "5", ServiceID: "gone", Date: "2026-03-03", Status: domain.StatusConfirmed},
		},
	}

	r, err := Build(context.Background(), src)
	require.NoError(t, err)
	require.Equal(t, 5, r.Total)
	require.Equal(t, map[domain.BookingStatus]int{
		domain.StatusPending:   1,
		domain.StatusConfirmed: 3,
		domain.StatusCancelled: 1,
	}, r.ByStatus)
	require.InDelta(t, 50+120+40, r.Revenue, 1e-9)
	require.Equal(t, []DayCount{
		{Date: "2026-03-01", Count: 1},
		{Date: "2026-03-02", Count: 3},
		{Date: "2026-03-03", Count: 1},
	}, r.PerDay)
}

func TestBuild_Empty(t *testing.T) {
	r, err := Build(context.Background(), fakeSource{})
	require.NoError(t, err)
	require.Zero(t, r.Total)
	require.Len(t, r.ByStatus, 3)
	require.NotNil(t, r.PerDay)
	require.Empty(t, r.PerDay)
}

func TestBuild_FromMemoryStore(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	store := booking.NewMemory(booking.WithClock(func() time.Time { return now }), booking.WithSeed(booking.DemoSeed(now)))

	r, err := Build(context.Background(), store)
	require.NoError(t, err)
	require.Equal(t, 1, r.Total)
	require.InDelta(t, 50, r.Revenue, 1e-9)
	require.Equal(t, []DayCount{{Date: "2026-03-01", Count: 1}}, r.PerDay)
}

func TestBuild_Errors(t *testing.T) {
	_, err := Build(context.Background(), nil)
	require.Error(t, err)

	_, err = Build(context.Background(), fakeSource{servicesErr: errors.New("catalog down")})
	require.ErrorContains(t, err, "catalog down")

	_, err = Build(context.Background(), fakeSource{bookingsErr: errors.New("scan failed")})
	require.ErrorContains(t, err, "list bookings")
}
