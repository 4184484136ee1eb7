package appointment

import (
	"time"

	"github.com/shopspring/decimal"
)

// Follow-up pricing tiers, measured from the original appointment's date.
const (
	freeFollowUpWindow     = 7 * 24 * time.Hour
	discountFollowUpWindow = 30 * 24 * time.Hour
)

var halfPrice = decimal.NewFromFloat(0.5)

// ComputeFollowUpFee prices a follow-up visit relative to the original
// appointment: free within 7 days, half price within 30, full price after.
func ComputeFollowUpFee(originalDate, followUpDate time.Time, originalFee float64) float64 {
	elapsed := followUpDate.Sub(originalDate)

	switch {
	case elapsed <= freeFollowUpWindow:
		return 0
	case elapsed <= discountFollowUpWindow:
		fee := decimal.NewFromFloat(originalFee).Mul(halfPrice)
		return roundMoney(fee)
	default:
		return roundMoney(decimal.NewFromFloat(originalFee))
	}
}

// ComputePaymentTotal adds a percentage processing fee plus a fixed fee to
// the base amount. Rounded half-up to cents; never negative.
func ComputePaymentTotal(baseFee, processingFeePercent, processingFeeFixed float64) float64 {
	base := decimal.NewFromFloat(baseFee)
	pct := decimal.NewFromFloat(processingFeePercent)
	fixed := decimal.NewFromFloat(processingFeeFixed)

	total := base.Add(base.Mul(pct).Div(decimal.NewFromInt(100))).Add(fixed)
	if total.IsNegative() {
		return 0
	}
	return roundMoney(total)
}

// Refund tiers for cancellations, measured against the appointment start.
const (
	fullRefundLead = 24 * time.Hour
	halfRefundLead = 2 * time.Hour
)

// RefundFraction returns the share of the paid amount returned when an
// appointment is cancelled at cancelledAt: everything with a day's notice,
// half with two hours, nothing inside that.
func RefundFraction(cancelledAt, startsAt time.Time) float64 {
	lead := startsAt.Sub(cancelledAt)

	switch {
	case lead >= fullRefundLead:
		return 1
	case lead >= halfRefundLead:
		return 0.5
	default:
		return 0
	}
}

// RefundAmount applies RefundFraction to the paid amount, rounded to cents.
func RefundAmount(paid float64, cancelledAt, startsAt time.Time) float64 {
	frac := RefundFraction(cancelledAt, startsAt)
	if frac == 0 || paid <= 0 {
		return 0
	}
	return roundMoney(decimal.NewFromFloat(paid).Mul(decimal.NewFromFloat(frac)))
}

// roundMoney rounds half away from zero to 2 places, which for the
// non-negative amounts used here is plain round-half-up.
func roundMoney(d decimal.Decimal) float64 {
	f, _ := d.Round(2).Float64()
	return f
}
