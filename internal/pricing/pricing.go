// Package pricing computes advisory session prices and refunds.
//
// All durations are billed in whole 15-minute blocks, rounded up. Amounts
// are in minor currency units (cents).
package pricing

import (
	"fmt"

	"github.com/copperline/advisory/internal/domain"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// BlockMinutes is the billing granularity for advisory sessions.
const BlockMinutes = 15

// DefaultPerBlockCents is the standard rate: $25 per 15-minute block.
const DefaultPerBlockCents = 2500

// Calculator prices sessions at a fixed per-block rate.
//
// The rate is injected rather than read from package state so tests and
// future tier pricing can construct their own calculators.
type Calculator struct {
	perBlockCents int64
	printer       *message.Printer
}

// NewCalculator creates a Calculator with the given per-block rate in cents.
func NewCalculator(perBlockCents int64) *Calculator {
	return &Calculator{
		perBlockCents: perBlockCents,
		printer:       message.NewPrinter(language.AmericanEnglish),
	}
}

// Blocks returns the number of whole 15-minute blocks covering minutes,
// rounded up. Minutes must be positive.
func Blocks(minutes int) int {
	return (minutes + BlockMinutes - 1) / BlockMinutes
}

// PriceForDuration returns the price in cents for a session of the given
// length. Callers enforce duration caps (60 minutes for retainer sessions);
// this function only rejects non-positive durations.
func (c *Calculator) PriceForDuration(minutes int) (int64, error) {
	if minutes <= 0 {
		return 0, domain.Invalid("pricing.price_for_duration", "Duration must be positive")
	}
	return int64(Blocks(minutes)) * c.perBlockCents, nil
}

// RefundForUnusedTime returns the refund in cents for the whole blocks booked
// but not used. Zero or negative unused time yields a zero refund, not an
// error.
func (c *Calculator) RefundForUnusedTime(bookedMinutes, usedMinutes int) int64 {
	if bookedMinutes <= 0 {
		return 0
	}
	usedBlocks := 0
	if usedMinutes > 0 {
		usedBlocks = Blocks(usedMinutes)
	}
	unused := Blocks(bookedMinutes) - usedBlocks
	if unused <= 0 {
		return 0
	}
	return int64(unused) * c.perBlockCents
}

// FormatPrice renders cents as a US dollar amount for display, e.g. "$25.00".
func (c *Calculator) FormatPrice(cents int64) string {
	amount := currency.USD.Amount(float64(cents) / 100)
	return c.printer.Sprint(currency.NarrowSymbol(amount))
}

// SlotLabel describes a duration for display: "15 minutes", "1 hour", "1h 30m".
func SlotLabel(minutes int) string {
	if minutes < 60 {
		return fmt.Sprintf("%d minutes", minutes)
	}
	hours := minutes / 60
	rem := minutes % 60
	if rem == 0 {
		if hours == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", hours)
	}
	return fmt.Sprintf("%dh %dm", hours, rem)
}
