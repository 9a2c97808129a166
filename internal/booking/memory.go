package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"booking-assistant/internal/domain"
)

const idempotencyTTL = 24 * time.Hour

// OTPPolicy controls the demo verification flow. DemoCode is accepted for any
// phone; codes ending in AcceptSuffix pass only against a live challenge.
type OTPPolicy struct {
	DemoCode     string
	AcceptSuffix string
	TTL          time.Duration
	MaxAttempts  int
}

// DefaultOTPPolicy mirrors the demo behaviour of the chat widget.
func DefaultOTPPolicy() OTPPolicy {
	return OTPPolicy{
		DemoCode:     "123456",
		AcceptSuffix: "6",
		TTL:          5 * time.Minute,
		MaxAttempts:  5,
	}
}

type challenge struct {
	phone    string
	code     string
	attempts int
}

// Memory is an in-process Store. A single mutex serialises every write, which
// also covers per-booking ordering.
type Memory struct {
	mu       sync.RWMutex
	catalog  []domain.Service
	bookings map[string]*domain.Booking
	order    []string
	otps     *cache.Cache
	idem     *cache.Cache
	policy   OTPPolicy
	latency  time.Duration
	now      func() time.Time
	newID    func() string
}

type Option func(*Memory)

// WithLatency delays every operation by d to mimic a remote backend.
func WithLatency(d time.Duration) Option {
	return func(m *Memory) {
		if d > 0 {
			m.latency = d
		}
	}
}

func WithOTPPolicy(p OTPPolicy) Option {
	return func(m *Memory) {
		def := DefaultOTPPolicy()
		if p.DemoCode == "" {
			p.DemoCode = def.DemoCode
		}
		if p.TTL <= 0 {
			p.TTL = def.TTL
		}
		if p.MaxAttempts <= 0 {
			p.MaxAttempts = def.MaxAttempts
		}
		m.policy = p
	}
}

// WithSeed preloads bookings, e.g. the demo booking used by the admin view.
func WithSeed(bookings ...domain.Booking) Option {
	return func(m *Memory) {
		for _, b := range bookings {
			b := b
			m.bookings[b.ID] = &b
			m.order = append(m.order, b.ID)
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Memory) {
		m.now = now
	}
}

// DemoSeed returns the booking the demo ships with.
func DemoSeed(now time.Time) domain.Booking {
	return domain.Booking{
		ID:          "b1",
		ServiceID:   "s1",
		ServiceName: "General Consultation",
		Date:        now.Format(DateLayout),
		Time:        "10:00 AM",
		UserDetails: domain.UserDetails{Name: "John Doe", Email: "john@example.com", Phone: "+15550101"},
		Status:      domain.StatusConfirmed,
		CreatedAt:   now,
	}
}

// NewMemory builds an in-memory Store with the default catalog.
func NewMemory(opts ...Option) *Memory {
	policy := DefaultOTPPolicy()
	m := &Memory{
		catalog:  DefaultCatalog(),
		bookings: make(map[string]*domain.Booking),
		otps:     cache.New(policy.TTL, time.Minute),
		idem:     cache.New(idempotencyTTL, 10*time.Minute),
		policy:   policy,
		now:      time.Now,
		newID:    func() string { return "b-" + uuid.NewString() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Memory) wait(ctx context.Context) error {
	if m.latency <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(m.latency)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (m *Memory) ListServices(ctx context.Context) ([]domain.Service, error) {
	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	return append([]domain.Service(nil), m.catalog...), nil
}

// GetAvailability returns the full slot grid for the day, marking slots held
// by a confirmed booking of the same service as unavailable.
func (m *Memory) GetAvailability(ctx context.Context, date, serviceID string) ([]domain.TimeSlot, error) {
	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	day, err := NormalizeDate(date)
	if err != nil {
		return nil, err
	}
	svc, ok := ResolveService(m.catalog, serviceID)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownService, serviceID)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	slots := make([]domain.TimeSlot, 0, len(SlotGrid))
	for _, label := range SlotGrid {
		slots = append(slots, domain.TimeSlot{Time: label, Available: !m.heldLocked(svc.ID, day, label, "")})
	}
	return slots, nil
}

func (m *Memory) IssueOTP(ctx context.Context, phone string) error {
	if err := m.wait(ctx); err != nil {
		return err
	}
	key := domain.NormalizePhone(phone)
	if key == "" {
		return fmt.Errorf("booking: issue otp: invalid phone %q", phone)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.otps.Set(key, &challenge{phone: phone, code: m.policy.DemoCode}, m.policy.TTL)
	return nil
}

func (m *Memory) VerifyOTP(ctx context.Context, phone, code string) (bool, error) {
	if err := m.wait(ctx); err != nil {
		return false, err
	}
	key := domain.NormalizePhone(phone)
	code = strings.TrimSpace(code)

	m.mu.Lock()
	defer m.mu.Unlock()
	raw, live := m.otps.Get(key)
	if code != "" && code == m.policy.DemoCode {
		m.otps.Delete(key)
		return true, nil
	}
	if !live || code == "" {
		return false, nil
	}
	ch := raw.(*challenge)
	ch.attempts++
	if code == ch.code || (m.policy.AcceptSuffix != "" && strings.HasSuffix(code, m.policy.AcceptSuffix)) {
		m.otps.Delete(key)
		return true, nil
	}
	if ch.attempts >= m.policy.MaxAttempts {
		m.otps.Delete(key)
	}
	return false, nil
}

// CreateBooking stores a confirmed booking. A repeated idempotency key
// returns the booking created by the first call while that booking still
// holds the requested slot. A record whose booking was cancelled or moved
// is dropped and a new booking is created.
func (m *Memory) CreateBooking(ctx context.Context, draft domain.BookingDraft) (domain.Booking, error) {
	if err := m.wait(ctx); err != nil {
		return domain.Booking{}, err
	}
	svc, ok := ResolveService(m.catalog, draft.ServiceID)
	if !ok {
		return domain.Booking{}, fmt.Errorf("%w: %q", ErrUnknownService, draft.ServiceID)
	}
	day, err := NormalizeDate(draft.Date)
	if err != nil {
		return domain.Booking{}, err
	}
	slot, err := NormalizeSlot(draft.Time)
	if err != nil {
		return domain.Booking{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if draft.IdempotencyKey != "" {
		if id, found := m.idem.Get(draft.IdempotencyKey); found {
			if b, ok := m.bookings[id.(string)]; ok && b.Holds(svc.ID, day, slot) {
				return *b, nil
			}
			m.idem.Delete(draft.IdempotencyKey)
		}
	}
	if m.heldLocked(svc.ID, day, slot, "") {
		return domain.Booking{}, fmt.Errorf("%w: %s %s %s", ErrSlotUnavailable, svc.ID, day, slot)
	}

	b := &domain.Booking{
		ID:          m.newID(),
		ServiceID:   svc.ID,
		ServiceName: svc.Name,
		Date:        day,
		Time:        slot,
		UserDetails: draft.UserDetails,
		Status:      domain.StatusPending,
		CreatedAt:   m.now().UTC(),
	}
	if err := b.Transition(domain.StatusConfirmed); err != nil {
		return domain.Booking{}, fmt.Errorf("%w: %v", ErrInvalidTransition, err)
	}
	m.bookings[b.ID] = b
	m.order = append(m.order, b.ID)
	if draft.IdempotencyKey != "" {
		m.idem.Set(draft.IdempotencyKey, b.ID, cache.DefaultExpiration)
	}
	return *b, nil
}

// RescheduleBooking moves a booking to a new date and time, keeping its id
// and confirmed status.
func (m *Memory) RescheduleBooking(ctx context.Context, id, date, slot string) (domain.Booking, error) {
	if err := m.wait(ctx); err != nil {
		return domain.Booking{}, err
	}
	day, err := NormalizeDate(date)
	if err != nil {
		return domain.Booking{}, err
	}
	label, err := NormalizeSlot(slot)
	if err != nil {
		return domain.Booking{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[strings.TrimSpace(id)]
	if !ok {
		return domain.Booking{}, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	if !domain.CanTransition(b.Status, domain.StatusConfirmed) {
		return domain.Booking{}, fmt.Errorf("%w: booking %s is %s", ErrInvalidTransition, b.ID, b.Status)
	}
	if b.Date == day && b.Time == label {
		return *b, nil
	}
	if m.heldLocked(b.ServiceID, day, label, b.ID) {
		return domain.Booking{}, fmt.Errorf("%w: %s %s %s", ErrSlotUnavailable, b.ServiceID, day, label)
	}
	if err := b.Transition(domain.StatusConfirmed); err != nil {
		return domain.Booking{}, fmt.Errorf("%w: %v", ErrInvalidTransition, err)
	}
	b.Date = day
	b.Time = label
	return *b, nil
}

// CancelBooking marks a booking cancelled. Cancelling twice succeeds; an
// unknown id reports false.
func (m *Memory) CancelBooking(ctx context.Context, id string) (bool, error) {
	if err := m.wait(ctx); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[strings.TrimSpace(id)]
	if !ok {
		return false, nil
	}
	if b.Status == domain.StatusCancelled {
		return true, nil
	}
	if err := b.Transition(domain.StatusCancelled); err != nil {
		return false, errors.Join(ErrInvalidTransition, err)
	}
	return true, nil
}

func (m *Memory) FindBookings(ctx context.Context, email string) ([]domain.Booking, error) {
	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	needle := strings.ToLower(strings.TrimSpace(email))
	out := []domain.Booking{}
	if needle == "" {
		return out, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, id := range m.order {
		b := m.bookings[id]
		if strings.Contains(strings.ToLower(b.UserDetails.Email), needle) {
			out = append(out, *b)
		}
	}
	return out, nil
}

func (m *Memory) ListAll(ctx context.Context) ([]domain.Booking, error) {
	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Booking, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, *m.bookings[id])
	}
	return out, nil
}

// heldLocked reports whether a confirmed booking other than except occupies
// the slot. Callers hold m.mu.
func (m *Memory) heldLocked(serviceID, date, slot, except string) bool {
	for _, b := range m.bookings {
		if b.ID != except && b.Holds(serviceID, date, slot) {
			return true
		}
	}
	return false
}

var _ Store = (*Memory)(nil)
