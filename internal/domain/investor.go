package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Investor is the account holder a closure request or ticket refers to.
type Investor struct {
	ID        string
	Name      string
	Balance   decimal.Decimal
	ClosedAt  *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// InvestorStanding is the advisory account status shown to operators.
// It is derived from the investor's current closure request and never stored.
type InvestorStanding struct {
	InvestorID string
	Active     bool
	Closed     bool
	Label      string
}
