// Package report aggregates bookings for the admin dashboard.
package report

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"booking-assistant/internal/domain"
)

// Source is the read side of the booking store used for reporting.
type Source interface {
	ListServices(ctx context.Context) ([]domain.Service, error)
	ListAll(ctx context.Context) ([]domain.Booking, error)
}

type DayCount struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

type Report struct {
	Total    int                          `json:"total"`
	ByStatus map[domain.BookingStatus]int `json:"byStatus"`
	// Revenue sums catalog prices of bookings that are not cancelled.
	Revenue float64    `json:"revenue"`
	PerDay  []DayCount `json:"perDay"`
}

// Build reads every booking and the catalog and aggregates them. Bookings of
// services missing from the catalog count toward totals but not revenue.
func Build(ctx context.Context, src Source) (Report, error) {
	if src == nil {
		return Report{}, errors.New("report: source must not be nil")
	}
	services, err := src.ListServices(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("report: list services: %w", err)
	}
	bookings, err := src.ListAll(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("report: list bookings: %w", err)
	}

	prices := make(map[string]float64, len(services))
	for _, s := range services {
		prices[s.ID] = s.Price
	}

	r := Report{ByStatus: map[domain.BookingStatus]int{
		domain.StatusPending:   0,
		domain.StatusConfirmed: 0,
		domain.StatusCancelled: 0,
	}}
	days := map[string]int{}
	for _, b := range bookings {
		r.Total++
		r.ByStatus[b.Status]++
		days[b.Date]++
		if b.Status != domain.StatusCancelled {
			r.Revenue += prices[b.ServiceID]
		}
	}

	r.PerDay = make([]DayCount, 0, len(days))
	for d, n := range days {
		r.PerDay = append(r.PerDay, DayCount{Date: d, Count: n})
	}
	sort.Slice(r.PerDay, func(i, j int) bool { return r.PerDay[i].Date < r.PerDay[j].Date })
	return r, nil
}
