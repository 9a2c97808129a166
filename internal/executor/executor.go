// Package executor maps a validated intent onto at most one booking store
// operation and reports what happened as facts for the next model call.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"booking-assistant/internal/booking"
	"booking-assistant/internal/domain"
	"booking-assistant/internal/metrics"
)

// Kind classifies the outcome of one executed action.
type Kind string

const (
	KindOK                Kind = "ok"
	KindMissing           Kind = "missing"
	KindNotFound          Kind = "not_found"
	KindUnavailable       Kind = "unavailable"
	KindUnverified        Kind = "unverified"
	KindUnsupported       Kind = "unsupported"
	KindInvalidTransition Kind = "invalid_transition"
	KindFailed            Kind = "failed"
)

type Request struct {
	SessionID string
	Action    domain.Action
	Payload   json.RawMessage
	State     domain.SessionState
}

type Result struct {
	Kind  Kind
	Facts domain.Facts
	// Verified is the phone that passed verification in this call.
	Verified string
	Err      error
}

type Executor struct {
	store    booking.Store
	validate *validator.Validate
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

type Option func(*Executor)

func WithLogger(l *zap.Logger) Option {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Executor) {
		e.metrics = m
	}
}

func New(store booking.Store, opts ...Option) (*Executor, error) {
	if store == nil {
		return nil, errors.New("executor: store must not be nil")
	}
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return fld.Name
		}
		return name
	})
	e := &Executor{store: store, validate: v, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Execute performs the action. It never panics on model input and never
// calls the store when required payload fields are missing or malformed.
func (e *Executor) Execute(ctx context.Context, req Request) Result {
	res := e.dispatch(ctx, req)
	e.metrics.CountAction(string(req.Action), string(res.Kind))
	if res.Err != nil {
		e.logger.Warn("action failed",
			zap.String("session_id", req.SessionID),
			zap.String("action", string(req.Action)),
			zap.String("result", string(res.Kind)),
			zap.Error(res.Err))
	}
	return res
}

func (e *Executor) dispatch(ctx context.Context, req Request) Result {
	if req.Action.Unsupported() {
		return Result{Kind: KindUnsupported, Facts: domain.Facts{Unsupported: req.Action}}
	}
	switch req.Action {
	case domain.ActionShowServices:
		return e.showServices(ctx)
	case domain.ActionSendOTP:
		return e.sendOTP(ctx, req)
	case domain.ActionVerifyOTP:
		return e.verifyOTP(ctx, req)
	case domain.ActionFetchSlots:
		return e.fetchSlots(ctx, req)
	case domain.ActionCreateBooking:
		return e.createBooking(ctx, req)
	case domain.ActionFetchBookings:
		return e.fetchBookings(ctx, req)
	case domain.ActionRescheduleBooking:
		return e.reschedule(ctx, req)
	case domain.ActionCancelBooking:
		return e.cancel(ctx, req)
	}
	// none, collect_info, fallback and error carry no backend effect.
	return Result{Kind: KindOK}
}

func (e *Executor) showServices(ctx context.Context) Result {
	services, err := e.store.ListServices(ctx)
	if err != nil {
		return failed(domain.ActionShowServices, err)
	}
	return Result{Kind: KindOK, Facts: domain.Facts{Services: services}}
}

func (e *Executor) sendOTP(ctx context.Context, req Request) Result {
	var p sendOTPPayload
	if missing := e.decode(req, &p); missing != nil {
		return missingResult(missing)
	}
	phone := p.Phone.String()
	if domain.NormalizePhone(phone) == "" {
		return missingResult(&domain.MissingFields{Action: req.Action, Fields: []string{"phone"}})
	}
	if err := e.store.IssueOTP(ctx, phone); err != nil {
		return failed(req.Action, err)
	}
	return Result{Kind: KindOK, Facts: domain.Facts{OTPSent: &domain.OTPDispatch{Phone: phone}}}
}

func (e *Executor) verifyOTP(ctx context.Context, req Request) Result {
	var p verifyOTPPayload
	if missing := e.decode(req, &p); missing != nil {
		return missingResult(missing)
	}
	phone := p.Phone.String()
	ok, err := e.store.VerifyOTP(ctx, phone, p.OTP.String())
	if err != nil {
		return failed(req.Action, err)
	}
	res := Result{Kind: KindOK, Facts: domain.Facts{Verification: &domain.Verification{Phone: phone, Success: ok}}}
	if ok {
		res.Verified = phone
	}
	return res
}

func (e *Executor) fetchSlots(ctx context.Context, req Request) Result {
	var p fetchSlotsPayload
	if missing := e.decode(req, &p); missing != nil {
		return missingResult(missing)
	}
	svc, res, ok := e.resolveService(ctx, p.ServiceID.String(), p.Date.String(), "")
	if !ok {
		return res
	}
	date, err := booking.NormalizeDate(p.Date.String())
	if err != nil {
		return missingResult(&domain.MissingFields{Action: req.Action, Fields: []string{"date"}})
	}
	slots, err := e.store.GetAvailability(ctx, date, svc.ID)
	if err != nil {
		return failed(req.Action, err)
	}
	return Result{Kind: KindOK, Facts: domain.Facts{Availability: &domain.Availability{ServiceID: svc.ID, Date: date, Slots: slots}}}
}

func (e *Executor) createBooking(ctx context.Context, req Request) Result {
	var p createBookingPayload
	if missing := e.decode(req, &p); missing != nil {
		return missingResult(missing)
	}

	svc, res, ok := e.resolveService(ctx, p.ServiceID.String(), p.Date.String(), p.Time.String())
	if !ok {
		return res
	}
	date, err := booking.NormalizeDate(p.Date.String())
	if err != nil {
		return missingResult(&domain.MissingFields{Action: req.Action, Fields: []string{"date"}})
	}
	slot, err := booking.NormalizeSlot(p.Time.String())
	if err != nil {
		return e.unavailable(ctx, svc.ID, date, p.Time.String(), "not on the schedule")
	}

	phone := p.Phone.String()
	if !req.State.IsVerified(phone) {
		return Result{Kind: KindUnverified, Facts: domain.Facts{Unverified: phone}}
	}

	user := domain.UserDetails{Name: p.Name.String(), Email: p.Email.String(), Phone: phone}
	b, err := e.store.CreateBooking(ctx, domain.BookingDraft{
		IdempotencyKey: idempotencyKey(req.SessionID, p.IdempotencyKey.String(), svc.ID, date, slot, user.Email),
		ServiceID:      svc.ID,
		Date:           date,
		Time:           slot,
		UserDetails:    user,
	})
	switch {
	case errors.Is(err, booking.ErrSlotUnavailable):
		return e.unavailable(ctx, svc.ID, date, slot, "already booked")
	case err != nil:
		return failed(req.Action, err)
	}
	return Result{Kind: KindOK, Facts: domain.Facts{Booking: &b}}
}

func (e *Executor) fetchBookings(ctx context.Context, req Request) Result {
	var p fetchBookingsPayload
	if missing := e.decode(req, &p); missing != nil {
		return missingResult(missing)
	}
	email := p.Email.String()
	found, err := e.store.FindBookings(ctx, email)
	if err != nil {
		return failed(req.Action, err)
	}
	return Result{Kind: KindOK, Facts: domain.Facts{Lookup: &domain.BookingLookup{Email: email, Bookings: found}}}
}

func (e *Executor) reschedule(ctx context.Context, req Request) Result {
	var p reschedulePayload
	if missing := e.decode(req, &p); missing != nil {
		return missingResult(missing)
	}
	id := p.BookingID.String()
	if _, err := booking.NormalizeDate(p.Date.String()); err != nil {
		return missingResult(&domain.MissingFields{Action: req.Action, Fields: []string{"date"}})
	}

	b, err := e.store.RescheduleBooking(ctx, id, p.Date.String(), p.Time.String())
	switch {
	case errors.Is(err, booking.ErrNotFound):
		return Result{Kind: KindNotFound, Facts: domain.Facts{NotFound: &domain.NotFound{BookingID: id}}}
	case errors.Is(err, booking.ErrInvalidTransition):
		return Result{Kind: KindInvalidTransition, Facts: domain.Facts{
			Failure: fmt.Sprintf("booking %s is cancelled and cannot be rescheduled", id),
		}}
	case errors.Is(err, booking.ErrSlotUnavailable), errors.Is(err, booking.ErrInvalidSlot):
		serviceID := e.serviceOf(ctx, id)
		date, _ := booking.NormalizeDate(p.Date.String())
		reason := "already booked"
		if errors.Is(err, booking.ErrInvalidSlot) {
			reason = "not on the schedule"
		}
		return e.unavailable(ctx, serviceID, date, p.Time.String(), reason)
	case err != nil:
		return failed(req.Action, err)
	}
	return Result{Kind: KindOK, Facts: domain.Facts{Booking: &b}}
}

func (e *Executor) cancel(ctx context.Context, req Request) Result {
	var p cancelPayload
	if missing := e.decode(req, &p); missing != nil {
		return missingResult(missing)
	}
	id := p.BookingID.String()
	ok, err := e.store.CancelBooking(ctx, id)
	if err != nil {
		return failed(req.Action, err)
	}
	res := Result{Kind: KindOK, Facts: domain.Facts{Cancellation: &domain.Cancellation{BookingID: id, Success: ok}}}
	if !ok {
		res.Kind = KindNotFound
		res.Facts.NotFound = &domain.NotFound{BookingID: id}
	}
	return res
}

// decode unmarshals the payload into dst and validates it. A non-nil result
// lists the fields to ask the user for.
func (e *Executor) decode(req Request, dst any) *domain.MissingFields {
	raw := req.Payload
	if len(raw) == 0 {
		raw = json.RawMessage(`{}`)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		e.logger.Debug("undecodable payload", zap.String("action", string(req.Action)), zap.Error(err))
		return &domain.MissingFields{Action: req.Action, Fields: requiredFields(dst)}
	}
	if n, ok := dst.(interface{ normalize() }); ok {
		n.normalize()
	}
	err := e.validate.Struct(dst)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return &domain.MissingFields{Action: req.Action, Fields: requiredFields(dst)}
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fe.Field())
	}
	return &domain.MissingFields{Action: req.Action, Fields: fields}
}

// requiredFields lists the json names of fields tagged required on dst.
func requiredFields(dst any) []string {
	t := reflect.TypeOf(dst)
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	var out []string
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if strings.Contains(f.Tag.Get("validate"), "required") {
			out = append(out, strings.SplitN(f.Tag.Get("json"), ",", 2)[0])
		}
	}
	return out
}

func (e *Executor) resolveService(ctx context.Context, ref, date, slot string) (domain.Service, Result, bool) {
	catalog, err := e.store.ListServices(ctx)
	if err != nil {
		return domain.Service{}, failed("list_services", err), false
	}
	svc, ok := booking.ResolveService(catalog, ref)
	if !ok {
		return domain.Service{}, Result{Kind: KindUnavailable, Facts: domain.Facts{
			Services:    catalog,
			Unavailable: &domain.Unavailable{ServiceID: ref, Date: date, Time: slot, Reason: "unknown service"},
		}}, false
	}
	return svc, Result{}, true
}

// unavailable reports a rejected slot together with the current grid so the
// user can pick again.
func (e *Executor) unavailable(ctx context.Context, serviceID, date, slot, reason string) Result {
	res := Result{Kind: KindUnavailable, Facts: domain.Facts{
		Unavailable: &domain.Unavailable{ServiceID: serviceID, Date: date, Time: slot, Reason: reason},
	}}
	if serviceID == "" || date == "" {
		return res
	}
	slots, err := e.store.GetAvailability(ctx, date, serviceID)
	if err != nil {
		e.logger.Warn("refresh availability", zap.String("service_id", serviceID), zap.Error(err))
		return res
	}
	res.Facts.Availability = &domain.Availability{ServiceID: serviceID, Date: date, Slots: slots}
	return res
}

func (e *Executor) serviceOf(ctx context.Context, bookingID string) string {
	all, err := e.store.ListAll(ctx)
	if err != nil {
		return ""
	}
	for _, b := range all {
		if b.ID == bookingID {
			return b.ServiceID
		}
	}
	return ""
}

// idempotencyKey scopes a caller-supplied key to the session, or derives one
// from the booking's identifying fields so a replayed intent books once.
func idempotencyKey(sessionID, supplied, serviceID, date, slot, email string) string {
	name := sessionID + "|" + supplied
	if supplied == "" {
		name = strings.Join([]string{sessionID, serviceID, date, slot, strings.ToLower(email)}, "|")
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)).String()
}

func missingResult(m *domain.MissingFields) Result {
	return Result{Kind: KindMissing, Facts: domain.Facts{Missing: m}}
}

func failed(action domain.Action, err error) Result {
	return Result{
		Kind:  KindFailed,
		Facts: domain.Facts{Failure: fmt.Sprintf("could not complete %s, please try again", action)},
		Err:   err,
	}
}
