// Package timemath derives countdown state for closure requests from stored timestamps.
// Every function takes the current instant explicitly so results are reproducible.
package timemath

import (
	"math"
	"time"

	"github.com/spec-kit/account-workflows/internal/domain"
)

const (
	day = 24 * time.Hour

	// ProgressRequested is shown while a request awaits review.
	ProgressRequested = 33.0
	// ProgressCountdownSpan is the share of the bar covered by the waiting period.
	ProgressCountdownSpan = 34.0
	// ProgressDone is shown for terminal requests.
	ProgressDone = 100.0
)

// EstimatedCompletion is the instant the waiting period ends.
func EstimatedCompletion(approvalDate time.Time) time.Time {
	return approvalDate.Add(domain.WaitingPeriod)
}

// DaysRemaining returns whole days left in the waiting period, rounded up and never negative.
func DaysRemaining(approvalDate, now time.Time) int {
	remaining := EstimatedCompletion(approvalDate).Sub(now)
	if remaining <= 0 {
		return 0
	}
	return int(math.Ceil(float64(remaining) / float64(day)))
}

// IsOverdue is true strictly after the waiting period has ended.
func IsOverdue(approvalDate, now time.Time) bool {
	return now.After(EstimatedCompletion(approvalDate))
}

// Progress returns the completion percentage shown for a request.
func Progress(status domain.ClosureStatus, approvalDate *time.Time, now time.Time) float64 {
	switch status {
	case domain.ClosureStatusPending:
		return ProgressRequested
	case domain.ClosureStatusApproved:
		if approvalDate == nil {
			return ProgressRequested
		}
		elapsed := now.Sub(*approvalDate)
		pct := ProgressRequested + ProgressCountdownSpan*float64(elapsed)/float64(domain.WaitingPeriod)
		return math.Min(ProgressDone, math.Max(ProgressRequested, pct))
	case domain.ClosureStatusCompleted, domain.ClosureStatusRejected:
		return ProgressDone
	}
	return 0
}

// CountdownView bundles the derived fields a display needs.
type CountdownView struct {
	Progress            float64
	DaysRemaining       int
	Overdue             bool
	EstimatedCompletion *time.Time
}

// Countdown derives the display bundle for a status and optional approval date.
func Countdown(status domain.ClosureStatus, approvalDate *time.Time, now time.Time) CountdownView {
	view := CountdownView{Progress: Progress(status, approvalDate, now)}
	if approvalDate == nil {
		return view
	}
	eta := EstimatedCompletion(*approvalDate)
	view.EstimatedCompletion = &eta
	if status == domain.ClosureStatusApproved {
		view.DaysRemaining = DaysRemaining(*approvalDate, now)
		view.Overdue = IsOverdue(*approvalDate, now)
	}
	return view
}

// NeedsRefresh reports whether a live display must keep recomputing the countdown.
func NeedsRefresh(status domain.ClosureStatus, approvalDate *time.Time, now time.Time) bool {
	return status == domain.ClosureStatusApproved && approvalDate != nil && !IsOverdue(*approvalDate, now)
}
