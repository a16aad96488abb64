package models

import (
	"github.com/desniniranjan/fishing-sub002/config"
	"github.com/desniniranjan/fishing-sub002/utils"
)

func MigrateTable() {
	db := config.GetDB()

	utils.ErrorPanic(db.AutoMigrate(
		&Product{},
		&Sale{},
		&StockLedgerEntry{},
		&AuditRecord{},
		&User{},
	))
}
