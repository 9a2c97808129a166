package usecase

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"booking-assistant/internal/domain"
	"booking-assistant/internal/executor"
)

func messageTexts(msgs []domain.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Text)
	}
	return out
}

func TestRender_FailedMutationsDropModelText(t *testing.T) {
	cases := []struct {
		name   string
		action domain.Action
		text   string
		res    executor.Result
		want   string
	}{
		{
			name:   "cancel not found",
			action: domain.ActionCancelBooking,
			text:   "Your booking has been cancelled.",
			res: executor.Result{Kind: executor.KindNotFound, Facts: domain.Facts{
				NotFound:     &domain.NotFound{BookingID: "b-9"},
				Cancellation: &domain.Cancellation{BookingID: "b-9"},
			}},
			want: cancelFailedText,
		},
		{
			name:   "cancel store failure",
			action: domain.ActionCancelBooking,
			text:   "Your booking has been cancelled.",
			res:    executor.Result{Kind: executor.KindFailed, Err: errors.New("store down")},
			want:   cancelFailedText,
		},
		{
			name:   "reschedule not found",
			action: domain.ActionRescheduleBooking,
			text:   "Moved to 11:00 AM.",
			res:    executor.Result{Kind: executor.KindNotFound, Facts: domain.Facts{NotFound: &domain.NotFound{BookingID: "b-9"}}},
			want:   rescheduleFailed,
		},
		{
			name:   "reschedule cancelled booking",
			action: domain.ActionRescheduleBooking,
			text:   "Moved to 11:00 AM.",
			res:    executor.Result{Kind: executor.KindInvalidTransition, Facts: domain.Facts{Failure: "booking b-1 is cancelled"}},
			want:   rescheduleFailed,
		},
		{
			name:   "reschedule store failure",
			action: domain.ActionRescheduleBooking,
			text:   "Moved to 11:00 AM.",
			res:    executor.Result{Kind: executor.KindFailed, Err: errors.New("store down")},
			want:   rescheduleFailed,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			intent := domain.Intent{Action: tc.action, ResponseText: tc.text, Suggestions: []string{"Start Over"}}
			got := render(intent, tc.res)
			require.Equal(t, []string{tc.want}, messageTexts(got))
			require.Equal(t, []string{"Start Over"}, got[0].QuickReplies)
		})
	}
}

func TestRender_SuccessfulCancelKeepsModelText(t *testing.T) {
	intent := domain.Intent{Action: domain.ActionCancelBooking, ResponseText: "Anything else?"}
	res := executor.Result{Kind: executor.KindOK, Facts: domain.Facts{Cancellation: &domain.Cancellation{BookingID: "b-1", Success: true}}}
	require.Equal(t, []string{cancelledText, "Anything else?"}, messageTexts(render(intent, res)))
}

func TestRender_FailedTextActionBecomesApology(t *testing.T) {
	intent := domain.Intent{Action: domain.ActionFetchBookings, ResponseText: "Here are your bookings."}
	got := render(intent, executor.Result{Kind: executor.KindFailed, Err: errors.New("store down")})
	require.Equal(t, []string{apologyText}, messageTexts(got))
}
