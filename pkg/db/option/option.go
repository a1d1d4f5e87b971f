// Package option holds composable gorm query modifiers.
package option

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Operator string

const (
	EQ  Operator = "="
	GT  Operator = ">"
	GTE Operator = ">="
	LT  Operator = "<"
	LTE Operator = "<="
)

// QueryOption mutates a statement before execution.
type QueryOption interface {
	Apply(*gorm.DB) *gorm.DB
}

type queryOptionFunc func(*gorm.DB) *gorm.DB

func (f queryOptionFunc) Apply(db *gorm.DB) *gorm.DB { return f(db) }

// Condition is a single column comparison.
type Condition struct {
	Field    string
	Operator Operator
	Value    any
}

// ApplyOperator adds a column comparison. The column name is quoted by the dialect.
func ApplyOperator(cond Condition) QueryOption {
	return queryOptionFunc(func(db *gorm.DB) *gorm.DB {
		switch cond.Operator {
		case EQ, GT, GTE, LT, LTE:
		default:
			return db
		}
		return db.Where(clause.Expr{
			SQL:  "? " + string(cond.Operator) + " ?",
			Vars: []any{clause.Column{Name: cond.Field}, cond.Value},
		})
	})
}

// QuerySortBy orders by Fields in sequence, ignoring columns not in Allow.
type QuerySortBy struct {
	Allow  map[string]bool
	Fields []string
	Desc   bool
}

func WithSortBy(sort QuerySortBy) QueryOption {
	return queryOptionFunc(func(db *gorm.DB) *gorm.DB {
		for _, field := range sort.Fields {
			if !sort.Allow[field] {
				continue
			}
			db = db.Order(clause.OrderByColumn{Column: clause.Column{Name: field}, Desc: sort.Desc})
		}
		return db
	})
}

// WithLimit caps the result size. Non-positive limits are ignored.
func WithLimit(limit int) QueryOption {
	return queryOptionFunc(func(db *gorm.DB) *gorm.DB {
		if limit <= 0 {
			return db
		}
		return db.Limit(limit)
	})
}
