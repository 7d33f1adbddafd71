package service

import (
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"server/conf"
	"server/model"
)

var DB *gorm.DB

// Init opens the ledger database and synchronizes its schema
func Init() {
	var err error
	DB, err = gorm.Open(mysql.Open(conf.MysqlDsn+"?charset=utf8mb4&parseTime=True&loc=Local"), &gorm.Config{
		PrepareStmt:    true,
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		panic(err)
	}
	if conf.ResetDB {
		// 重置数据库
		if err = model.DropTable(DB); err != nil {
			panic(err)
		}
	}
	// 同步表结构到数据库, 对比数据库和代码中的结构，并执行DDL操作
	if err = model.Migrate(DB); err != nil {
		panic(err)
	}
}
