package models

import (
	"github.com/medexa/pharmadist_backend/config"
	"github.com/medexa/pharmadist_backend/utils"
)

// MigrateTable creates/updates the engine's tables. Order matters for
// foreign keys: stocks and groups before their dependents.
func MigrateTable() {
	db := config.GetDB()
	utils.ErrorPanic(db.AutoMigrate(
		&Stock{},
		&OrderGroup{},
		&Order{},
		&StockIOLog{},
		&DiscountRule{},
		&ReindexOutbox{},
	))
}
