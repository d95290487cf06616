package service

import (
	"math"
	"time"

	"rental-service/internal/models"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// RentalDays returns ceil((end-start) / 1 day)
func RentalDays(start, end time.Time) int {
	return int(math.Ceil(end.Sub(start).Hours() / 24))
}

// DailyPrice applies an enabled category discount to the base price
func DailyPrice(base decimal.Decimal, discount *models.Discount) decimal.Decimal {
	if discount == nil || !discount.Enabled || !discount.Percentage.IsPositive() {
		return base
	}
	factor := hundred.Sub(discount.Percentage).Div(hundred)
	return base.Mul(factor).Round(2)
}

// GrandTotal returns daily × days rounded to 2 decimal places
func GrandTotal(daily decimal.Decimal, days int) decimal.Decimal {
	return daily.Mul(decimal.NewFromInt(int64(days))).Round(2)
}

// RevenueSplit divides a grand total between the vehicle owner and the platform.
// The admin share is the remainder so the two always sum to the total.
func RevenueSplit(total decimal.Decimal, ownerSharePercent int) (owner, admin decimal.Decimal) {
	owner = total.Mul(decimal.NewFromInt(int64(ownerSharePercent))).Div(hundred).Round(2)
	admin = total.Sub(owner).Round(2)
	return owner, admin
}
