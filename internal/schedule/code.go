package schedule

import (
	"crypto/rand"
	"errors"
	"math/big"

	"github.com/zulandar/tradepost/internal/apperr"
	"github.com/zulandar/tradepost/internal/models"
	"gorm.io/gorm"
)

// CodeAlphabet omits characters that are easy to confuse when read aloud
// or off a phone screen (0/O, 1/I/L).
const CodeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

const (
	codeLength   = 4
	maxCodeDraws = 64
)

// drawCode is swapped in tests to force collisions.
var drawCode = randomCode

func randomCode() (string, error) {
	max := big.NewInt(int64(len(CodeAlphabet)))
	b := make([]byte, codeLength)
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b[i] = CodeAlphabet[n.Int64()]
	}
	return string(b), nil
}

// uniqueCode draws codes until one is unused.
func uniqueCode(tx *gorm.DB) (string, error) {
	for i := 0; i < maxCodeDraws; i++ {
		code, err := drawCode()
		if err != nil {
			return "", apperr.Internal(err, "schedule: draw verification code")
		}
		var n int64
		if err := tx.Model(&models.ScheduledPurchaseRequest{}).
			Where("verification_code = ?", code).Count(&n).Error; err != nil {
			return "", apperr.Internal(err, "schedule: check verification code")
		}
		if n == 0 {
			return code, nil
		}
	}
	return "", apperr.Internal(errors.New("no free verification code"), "schedule: %d draws collided", maxCodeDraws)
}
