// Package pnl implements the weighted-average-cost position state machine.
// It is pure: every transition takes a Book and a Fill and returns the next
// Book, so replaying the same trade sequence always produces the same state.
package pnl

import (
	"fmt"

	"github.com/gabagool-watch/watchmegain-sub001/internal/domain"
)

// State is the tagged position variant. Shares magnitude and average entry
// price are meaningful only in the Long and Short states.
type State int

const (
	Flat State = iota
	Long
	Short
)

func (s State) String() string {
	switch s {
	case Flat:
		return "flat"
	case Long:
		return "long"
	case Short:
		return "short"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Book is the accounting state of one (wallet, market, outcome) tuple.
// Shares is always the unsigned magnitude; State carries the sign.
type Book struct {
	State    State
	Shares   float64
	AvgPrice float64
	Realized float64
}

// Fill is one execution applied to a Book.
type Fill struct {
	Side  domain.TradeSide
	Price float64
	Size  float64
	Fee   float64
}

// Policy controls transitions the venue semantics leave ambiguous.
type Policy struct {
	// AllowShort enables the close-then-flip rule when a reducing fill
	// exceeds the held shares. When false such a fill is an integrity
	// error and must not be applied.
	AllowShort bool
}

// OversellError reports a reducing fill larger than the held shares under a
// long-only policy. It wraps domain.ErrIntegrity.
type OversellError struct {
	Held float64
	Size float64
}

func (e *OversellError) Error() string {
	return fmt.Sprintf("fill size %.6f exceeds held shares %.6f", e.Size, e.Held)
}

func (e *OversellError) Unwrap() error { return domain.ErrIntegrity }

// SignedShares returns the share count signed by direction: positive long,
// negative short, zero flat.
func (b Book) SignedShares() float64 {
	switch b.State {
	case Long:
		return b.Shares
	case Short:
		return -b.Shares
	default:
		return 0
	}
}

// Apply folds one fill into the book and returns the next state. Fees reduce
// realized PnL at the moment they are incurred and are never capitalized
// into the cost basis. Apply never mutates its receiver.
func (b Book) Apply(f Fill, pol Policy) (Book, error) {
	if f.Size <= 0 {
		return b, fmt.Errorf("%w: non-positive fill size %.6f", domain.ErrMalformed, f.Size)
	}
	if f.Price < 0 || f.Price > 1 {
		return b, fmt.Errorf("%w: price %.6f outside [0,1]", domain.ErrMalformed, f.Price)
	}

	next := b
	next.Realized -= f.Fee

	increasing := (f.Side == domain.TradeSideBuy && b.State != Short) ||
		(f.Side == domain.TradeSideSell && b.State == Short)

	switch {
	case b.State == Flat:
		if f.Side == domain.TradeSideSell && !pol.AllowShort {
			return b, fmt.Errorf("%w: sell while flat", domain.ErrIntegrity)
		}
		next.State = Long
		if f.Side == domain.TradeSideSell {
			next.State = Short
		}
		next.Shares = f.Size
		next.AvgPrice = f.Price
		return next, nil

	case increasing:
		// Weighted-average cost basis, recomputed on every increase.
		next.AvgPrice = (b.Shares*b.AvgPrice + f.Size*f.Price) / (b.Shares + f.Size)
		next.Shares = b.Shares + f.Size
		return next, nil

	case f.Size <= b.Shares:
		// Partial or full close; avg price unchanged on decrease.
		next.Realized += closePnL(b.State, f.Size, f.Price, b.AvgPrice)
		next.Shares = b.Shares - f.Size
		if next.Shares == 0 {
			next.State = Flat
			next.AvgPrice = 0
		}
		return next, nil

	default:
		// Fill larger than the held shares: flip sign.
		if !pol.AllowShort {
			return b, &OversellError{Held: b.Shares, Size: f.Size}
		}
		// Close the existing side in full, then open the opposite side
		// with the remainder as a fresh average-cost position.
		next.Realized += closePnL(b.State, b.Shares, f.Price, b.AvgPrice)
		next.State = Long
		if b.State == Long {
			next.State = Short
		}
		next.Shares = f.Size - b.Shares
		next.AvgPrice = f.Price
		return next, nil
	}
}

// Settle force-closes the book at the market's resolution price, realizing
// the remaining value. It is a no-op on a flat book.
func (b Book) Settle(resolutionPrice float64) Book {
	if b.State == Flat {
		return b
	}
	next := b
	next.Realized += closePnL(b.State, b.Shares, resolutionPrice, b.AvgPrice)
	next.State = Flat
	next.Shares = 0
	next.AvgPrice = 0
	return next
}

// Unrealized returns the mark-to-market PnL of the book at the given price.
func (b Book) Unrealized(price float64) float64 {
	return b.SignedShares() * (price - b.AvgPrice)
}

// closePnL is the realized PnL of reducing size shares at price against an
// avg entry, signed by direction.
func closePnL(s State, size, price, avg float64) float64 {
	if s == Short {
		return size * (avg - price)
	}
	return size * (price - avg)
}

// FromPosition converts a persisted position row into a Book.
func FromPosition(p domain.Position) Book {
	b := Book{Realized: p.RealizedPnL}
	switch {
	case p.Shares > 0:
		b.State = Long
		b.Shares = p.Shares
		b.AvgPrice = p.AvgEntryPrice
	case p.Shares < 0:
		b.State = Short
		b.Shares = -p.Shares
		b.AvgPrice = p.AvgEntryPrice
	}
	return b
}

// ToPosition writes the book back onto a position row, preserving identity
// fields and maintaining the shares = 0 <=> closed invariant.
func ToPosition(b Book, p domain.Position) domain.Position {
	p.Shares = b.SignedShares()
	p.AvgEntryPrice = b.AvgPrice
	p.RealizedPnL = b.Realized
	if b.State == Flat {
		p.Status = domain.PositionStatusClosed
		p.AvgEntryPrice = 0
		p.UnrealizedPnL = 0
	} else {
		p.Status = domain.PositionStatusOpen
		p.ClosedAt = nil
	}
	return p
}
