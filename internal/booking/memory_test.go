package booking

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"booking-assistant/internal/domain"
)

func draft(key string) domain.BookingDraft {
	return domain.BookingDraft{
		IdempotencyKey: key,
		ServiceID:      "s1",
		Date:           "2026-03-10",
		Time:           "10:00 AM",
		UserDetails:    domain.UserDetails{Name: "Jane", Email: "jane@x.com", Phone: "555"},
	}
}

func slotAvailable(t *testing.T, slots []domain.TimeSlot, label string) bool {
	t.Helper()
	for _, s := range slots {
		if s.Time == label {
			return s.Available
		}
	}
	t.Fatalf("slot %q not in grid", label)
	return false
}

func TestCreateBooking_ConfirmedAndHoldsSlot(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	b, err := m.CreateBooking(ctx, draft(""))
	require.NoError(t, err)
	require.NotEmpty(t, b.ID)
	require.Equal(t, domain.StatusConfirmed, b.Status)
	require.Equal(t, "General Consultation", b.ServiceName)

	slots, err := m.GetAvailability(ctx, "2026-03-10", "s1")
	require.NoError(t, err)
	require.Len(t, slots, len(SlotGrid))
	require.False(t, slotAvailable(t, slots, "10:00 AM"))
	require.True(t, slotAvailable(t, slots, "09:00 AM"))

	other, err := m.GetAvailability(ctx, "2026-03-10", "s2")
	require.NoError(t, err)
	require.True(t, slotAvailable(t, other, "10:00 AM"))

	_, err = m.CreateBooking(ctx, draft(""))
	require.ErrorIs(t, err, ErrSlotUnavailable)
}

func TestCancelBooking_FreesSlot(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	b, err := m.CreateBooking(ctx, draft(""))
	require.NoError(t, err)

	ok, err := m.CancelBooking(ctx, b.ID)
	require.NoError(t, err)
	require.True(t, ok)

	all, err := m.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, domain.StatusCancelled, all[0].Status)

	slots, err := m.GetAvailability(ctx, "2026-03-10", "s1")
	require.NoError(t, err)
	require.True(t, slotAvailable(t, slots, "10:00 AM"))

	again, err := m.CreateBooking(ctx, draft(""))
	require.NoError(t, err)
	require.NotEqual(t, b.ID, again.ID)
}

func TestCancelBooking_UnknownAndRepeated(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	ok, err := m.CancelBooking(ctx, "nope")
	require.NoError(t, err)
	require.False(t, ok)

	b, err := m.CreateBooking(ctx, draft(""))
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		ok, err = m.CancelBooking(ctx, b.ID)
		require.NoError(t, err)
		require.True(t, ok)
	}
}

func TestCreateBooking_IdempotencyKey(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	first, err := m.CreateBooking(ctx, draft("key-1"))
	require.NoError(t, err)
	second, err := m.CreateBooking(ctx, draft("key-1"))
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)

	all, err := m.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestCreateBooking_IdempotencyKeyDroppedOnceSlotReleased(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	first, err := m.CreateBooking(ctx, draft("key-1"))
	require.NoError(t, err)
	ok, err := m.CancelBooking(ctx, first.ID)
	require.NoError(t, err)
	require.True(t, ok)

	second, err := m.CreateBooking(ctx, draft("key-1"))
	require.NoError(t, err)
	require.NotEqual(t, first.ID, second.ID)
	require.Equal(t, domain.StatusConfirmed, second.Status)

	third, err := m.CreateBooking(ctx, draft("key-1"))
	require.NoError(t, err)
	require.Equal(t, second.ID, third.ID)
}

func TestCreateBooking_ConcurrentSameKey(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	var wg sync.WaitGroup
	ids := make([]string, 8)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			b, err := m.CreateBooking(ctx, draft("same"))
			if err == nil {
				ids[i] = b.ID
			}
		}(i)
	}
	wg.Wait()

	all, err := m.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	for _, id := range ids {
		require.Equal(t, all[0].ID, id)
	}
}

func TestCreateBooking_RejectsBadInput(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	d := draft("")
	d.ServiceID = "s9"
	_, err := m.CreateBooking(ctx, d)
	require.ErrorIs(t, err, ErrUnknownService)

	d = draft("")
	d.Time = "08:15 AM"
	_, err = m.CreateBooking(ctx, d)
	require.ErrorIs(t, err, ErrInvalidSlot)

	d = draft("")
	d.Date = "tomorrow"
	_, err = m.CreateBooking(ctx, d)
	require.ErrorIs(t, err, ErrInvalidDate)
}

func TestRescheduleBooking_KeepsID(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	b, err := m.CreateBooking(ctx, draft(""))
	require.NoError(t, err)

	moved, err := m.RescheduleBooking(ctx, b.ID, "2026-03-11", "2pm")
	require.NoError(t, err)
	require.Equal(t, b.ID, moved.ID)
	require.Equal(t, "2026-03-11", moved.Date)
	require.Equal(t, "02:00 PM", moved.Time)
	require.Equal(t, domain.StatusConfirmed, moved.Status)

	slots, err := m.GetAvailability(ctx, "2026-03-10", "s1")
	require.NoError(t, err)
	require.True(t, slotAvailable(t, slots, "10:00 AM"))

	same, err := m.RescheduleBooking(ctx, b.ID, "2026-03-11", "14:00")
	require.NoError(t, err)
	require.Equal(t, moved, same)
}

func TestRescheduleBooking_Failures(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	_, err := m.RescheduleBooking(ctx, "missing", "2026-03-11", "09:00 AM")
	require.ErrorIs(t, err, ErrNotFound)

	a, err := m.CreateBooking(ctx, draft(""))
	require.NoError(t, err)
	d := draft("")
	d.Time = "09:00 AM"
	b, err := m.CreateBooking(ctx, d)
	require.NoError(t, err)

	_, err = m.RescheduleBooking(ctx, b.ID, a.Date, a.Time)
	require.ErrorIs(t, err, ErrSlotUnavailable)

	_, err = m.CancelBooking(ctx, b.ID)
	require.NoError(t, err)
	_, err = m.RescheduleBooking(ctx, b.ID, "2026-03-12", "09:00 AM")
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestVerifyOTP_DemoCodeAnyPhone(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	ok, err := m.VerifyOTP(ctx, "+1 555 0000", "123456")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestVerifyOTP_WrongCodeFails(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	ok, err := m.VerifyOTP(ctx, "555", "111111")
	require.NoError(t, err)
	require.False(t, ok)

	// suffix codes need a live challenge
	ok, err = m.VerifyOTP(ctx, "555", "000006")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestVerifyOTP_SuffixAgainstChallenge(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.IssueOTP(ctx, "555"))
	ok, err := m.VerifyOTP(ctx, "555", "000006")
	require.NoError(t, err)
	require.True(t, ok)

	// consumed
	ok, err = m.VerifyOTP(ctx, "555", "000006")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestVerifyOTP_AttemptCap(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(WithOTPPolicy(OTPPolicy{AcceptSuffix: "6", MaxAttempts: 2}))

	require.NoError(t, m.IssueOTP(ctx, "555"))
	for i := 0; i < 2; i++ {
		ok, err := m.VerifyOTP(ctx, "555", "000001")
		require.NoError(t, err)
		require.False(t, ok)
	}
	ok, err := m.VerifyOTP(ctx, "555", "000006")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestIssueOTP_RejectsEmptyPhone(t *testing.T) {
	require.Error(t, NewMemory().IssueOTP(context.Background(), "  "))
}

func TestFindBookings_Substring(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(WithSeed(DemoSeed(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))))

	_, err := m.CreateBooking(ctx, draft(""))
	require.NoError(t, err)

	found, err := m.FindBookings(ctx, "JANE@")
	require.NoError(t, err)
	require.Len(t, found, 1)
	require.Equal(t, "jane@x.com", found[0].UserDetails.Email)

	found, err = m.FindBookings(ctx, "john")
	require.NoError(t, err)
	require.Len(t, found, 1)
	require.Equal(t, "b1", found[0].ID)

	found, err = m.FindBookings(ctx, " ")
	require.NoError(t, err)
	require.Empty(t, found)
}

func TestLatency_HonoursContext(t *testing.T) {
	m := NewMemory(WithLatency(time.Second))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.CreateBooking(ctx, draft(""))
	require.True(t, errors.Is(err, context.Canceled))

	fast := NewMemory(WithLatency(10 * time.Millisecond))
	start := time.Now()
	_, err = fast.ListServices(context.Background())
	require.NoError(t, err)
	require.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
}

func TestNormalizeSlot(t *testing.T) {
	cases := map[string]string{
		"10:00 AM":  "10:00 AM",
		"10:00":     "10:00 AM",
		"10am":      "10:00 AM",
		"2 pm":      "02:00 PM",
		"14:00":     "02:00 PM",
		"slot_1530": "03:30 PM",
		"9:30am":    "09:30 AM",
	}
	for in, want := range cases {
		got, err := NormalizeSlot(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}

	_, err := NormalizeSlot("12:00 PM")
	require.ErrorIs(t, err, ErrInvalidSlot)
	_, err = NormalizeSlot("soon")
	require.ErrorIs(t, err, ErrInvalidSlot)
}

func TestResolveService_ByIDOrName(t *testing.T) {
	catalog := DefaultCatalog()

	s, ok := ResolveService(catalog, "S2")
	require.True(t, ok)
	require.Equal(t, "s2", s.ID)

	s, ok = ResolveService(catalog, "telehealth session")
	require.True(t, ok)
	require.Equal(t, "s3", s.ID)

	_, ok = ResolveService(catalog, "dentist")
	require.False(t, ok)
}
