package option

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// QueryOption mutates a gorm query before it is executed by a repository.
type QueryOption func(tx *gorm.DB) *gorm.DB

type Operator string

const (
	EQ  Operator = "="
	GT  Operator = ">"
	GTE Operator = ">="
	LT  Operator = "<"
	LTE Operator = "<="
)

type Condition struct {
	Field    string
	Operator Operator
	Value    any
}

type QuerySortBy struct {
	SortBy  string
	OrderBy string
	Allow   map[string]bool
}

// LockingUpdate is a gorm scope enabling SELECT ... FOR UPDATE inside a
// transaction. Usable directly via tx.Scopes(option.LockingUpdate).
// SQLite takes a database-level write lock instead, so the clause is
// skipped there.
func LockingUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector != nil && tx.Dialector.Name() == "sqlite" {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}

func WithLockingUpdate() QueryOption {
	return LockingUpdate
}

// WithSortBy orders the result set. Columns must be allow-listed; an
// unknown column falls back to created_at to keep the query injectable-free.
func WithSortBy(sort QuerySortBy) QueryOption {
	return func(tx *gorm.DB) *gorm.DB {
		column := sort.SortBy
		if column == "" {
			column = "created_at"
		}
		if sort.Allow != nil && !sort.Allow[column] {
			column = "created_at"
		}

		direction := "ASC"
		if sort.OrderBy == "desc" || sort.OrderBy == "DESC" {
			direction = "DESC"
		}

		return tx.Order(column + " " + direction)
	}
}

func ApplyOperator(cond Condition) QueryOption {
	return func(tx *gorm.DB) *gorm.DB {
		return tx.Where(cond.Field+" "+string(cond.Operator)+" ?", cond.Value)
	}
}

func WithLimit(limit int) QueryOption {
	return func(tx *gorm.DB) *gorm.DB {
		return tx.Limit(limit)
	}
}
