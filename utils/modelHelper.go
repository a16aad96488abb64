package utils

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/desniniranjan/fishing-sub002/config"
)

/* DB fetching */

// fetch model from db
// (may return RecordNotFound)
func FetchSingleModel[T any](ctx context.Context, id int, associations ...string) (*T, error) {

	db := config.GetDB()
	dbCtx := db.WithContext(ctx)
	// preloading
	for _, field := range associations {
		dbCtx = dbCtx.Preload(field)
	}
	var result T
	if err := dbCtx.First(&result, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrorRecordNotFound
		}
		return nil, NewPersistenceError("fetch record", err)
	}
	return &result, nil
}

// fetch all models from db
func FetchAllModels[T any](ctx context.Context, associations ...string) ([]*T, error) {

	db := config.GetDB()
	dbCtx := db.WithContext(ctx)
	// preloading
	for _, field := range associations {
		dbCtx = dbCtx.Preload(field)
	}
	var results []*T
	if err := dbCtx.Find(&results).Error; err != nil {
		return nil, NewPersistenceError("list records", err)
	}
	return results, nil
}

// validate a referenced row exists
// (may return RecordNotFound)
func ValidateResourceId[T any](ctx context.Context, id int) error {
	if id == 0 {
		return ErrorRecordNotFound
	}
	db := config.GetDB()
	var count int64
	var v T
	if err := db.WithContext(ctx).Model(&v).Where("id = ?", id).Count(&count).Error; err != nil {
		return NewPersistenceError("count records", err)
	}
	if count <= 0 {
		return ErrorRecordNotFound
	}
	return nil
}

func ResourceCountWhere[T any](ctx context.Context, query string, args ...interface{}) (int64, error) {
	db := config.GetDB()
	var count int64
	var v T
	if err := db.WithContext(ctx).Model(&v).Where(query, args...).Count(&count).Error; err != nil {
		return 0, NewPersistenceError("count records", err)
	}
	return count, nil
}
