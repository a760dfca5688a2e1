package database

import (
	"fmt"

	"github.com/llmc-dev/ragd/domain/index"
	"gorm.io/gorm"
)

// ApplyOptions builds an index.Query from the given options and applies it to
// a GORM session.
func ApplyOptions(db *gorm.DB, options ...index.Option) *gorm.DB {
	q := index.Build(options...)

	db = applyConditions(db, q)

	for _, ord := range q.Orders() {
		dir := "ASC"
		if !ord.Ascending() {
			dir = "DESC"
		}
		db = db.Order(fmt.Sprintf("%s %s", ord.Field(), dir))
	}

	if q.LimitValue() > 0 {
		db = db.Limit(q.LimitValue())
	}

	if q.OffsetValue() > 0 {
		db = db.Offset(q.OffsetValue())
	}

	return db
}

// ApplyConditions applies only WHERE conditions (no limit/offset/order) for
// COUNT and DELETE queries.
func ApplyConditions(db *gorm.DB, options ...index.Option) *gorm.DB {
	return applyConditions(db, index.Build(options...))
}

func applyConditions(db *gorm.DB, q index.Query) *gorm.DB {
	for _, cond := range q.Conditions() {
		switch {
		case cond.Raw() != "":
			db = db.Where(cond.Raw(), cond.Args()...)
		case cond.In():
			db = db.Where(fmt.Sprintf("%s IN ?", cond.Field()), cond.Value())
		default:
			db = db.Where(fmt.Sprintf("%s = ?", cond.Field()), cond.Value())
		}
	}
	return db
}
