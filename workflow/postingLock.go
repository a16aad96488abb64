package workflow

import (
	"fmt"

	"gorm.io/gorm"
)

// AcquireProductPostingLock serializes stock posting per product across
// instances using MySQL advisory locks.
// NOTE: GET_LOCK is connection-scoped. Callers pin one connection with
// gorm's Connection, acquire the lock there, run the posting transaction
// on that connection, and release the lock only after commit.
func AcquireProductPostingLock(conn *gorm.DB, productId int) error {
	lockName := fmt.Sprintf("posting:product:%d", productId)
	var ok int
	if err := conn.Raw("SELECT GET_LOCK(?, 30)", lockName).Scan(&ok).Error; err != nil {
		return err
	}
	if ok != 1 {
		return fmt.Errorf("could not acquire posting lock for product_id=%d", productId)
	}
	return nil
}

func ReleaseProductPostingLock(conn *gorm.DB, productId int) {
	lockName := fmt.Sprintf("posting:product:%d", productId)
	var _ok int
	_ = conn.Raw("SELECT RELEASE_LOCK(?)", lockName).Scan(&_ok).Error
}
