package payment

import "github.com/shopspring/decimal"

var (
	//PromptPayの1取引あたりの上下限（THB）
	MinAmount = decimal.RequireFromString("20.00")
	MaxAmount = decimal.RequireFromString("150000.00")
)

// 範囲チェックしてサタン（最小単位）に変換する
func ToSatang(amount decimal.Decimal) (int64, error) {
	if !amount.Equal(amount.Round(2)) {
		return 0, ErrInvalidAmount
	}
	//負の値もここで弾く
	if amount.LessThan(MinAmount) || amount.GreaterThan(MaxAmount) {
		return 0, ErrAmountOutOfRange
	}
	return amount.Shift(2).IntPart(), nil
}

func FromSatang(satang int64) decimal.Decimal {
	return decimal.New(satang, -2)
}

// 金額がゲートウェイの範囲内か
func CheckAmount(amount decimal.Decimal) error {
	_, err := ToSatang(amount)
	return err
}
