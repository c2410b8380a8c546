// Package keycode はキー文字列の生成と有効期限の計算を行う。
package keycode

import (
	"crypto/rand"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	alphabet   = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	groupCount = 4
	groupSize  = 4

	//"never"は100年後として扱う
	NeverYears  = 100
	PolicyNever = "never"
)

var ErrInvalidPolicy = errors.New("invalid expire policy")

// XXXX-XXXX-XXXX-XXXX 形式のキーを返す。
// 一意性はDBのユニーク制約とリトライで担保する。
func GenerateKey() string {
	// 256 = 36*7 + 4。252以上は捨てて偏りをなくす
	const limit = 252

	out := make([]byte, 0, groupCount*groupSize+groupCount-1)
	buf := make([]byte, 32)
	for n := 0; n < groupCount*groupSize; {
		if _, err := rand.Read(buf); err != nil {
			panic(fmt.Sprintf("keycode: crypto/rand failed: %v", err))
		}
		for _, b := range buf {
			if b >= limit {
				continue
			}
			if n > 0 && n%groupSize == 0 {
				out = append(out, '-')
			}
			out = append(out, alphabet[int(b)%len(alphabet)])
			n++
			if n == groupCount*groupSize {
				break
			}
		}
	}
	return string(out)
}

// 入力されたキーを検索用に正規化する
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// 有効期限を計算する。activatedAtは初回アクティベート時刻。
// 空または"never"なら100年後、"<N>D"ならN日後。
func CalculateExpireDate(policy string, activatedAt time.Time) (time.Time, error) {
	p := strings.TrimSpace(policy)
	if p == "" || strings.EqualFold(p, PolicyNever) {
		return activatedAt.AddDate(NeverYears, 0, 0), nil
	}

	days, err := ParsePolicyDays(p)
	if err != nil {
		return time.Time{}, err
	}
	return activatedAt.AddDate(0, 0, days), nil
}

// 仮の有効期限（アクティベートまで切れない）
func PlaceholderExpireDate(purchasedAt time.Time) time.Time {
	return purchasedAt.AddDate(NeverYears, 0, 0)
}

// "<N>D" をN日に変換する
func ParsePolicyDays(policy string) (int, error) {
	p := strings.ToUpper(strings.TrimSpace(policy))
	if len(p) < 2 || !strings.HasSuffix(p, "D") {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPolicy, policy)
	}
	n, err := strconv.Atoi(strings.TrimSuffix(p, "D"))
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPolicy, policy)
	}
	return n, nil
}
