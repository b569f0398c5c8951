package models

import (
	"log"

	"bitbucket.org/mmdatafocus/qrtrace_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Order{}, &OrderItem{},
		&QrBatch{}, &QrMasterCode{}, &QrCode{},
		&QrReverseJob{}, &QrReverseJobItem{},
		&ProductInventory{}, &QrMovement{},
		&QrEventRecord{}, &IdempotencyKey{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
