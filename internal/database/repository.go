package database

import (
	"context"

	"gorm.io/gorm"
)

// Create ensures the type T is saved to the database.
func Create[T any](ctx context.Context, db *gorm.DB, entity *T) error {
	return gorm.G[T](db).Create(ctx, entity)
}

// FindByID finds a record of type T by its ID.
func FindByID[T any](ctx context.Context, db *gorm.DB, id uint) (T, error) {
	return gorm.G[T](db).Where("id = ?", id).First(ctx)
}

// FindAuthEvents lists the audit trail of one public key, oldest first.
func FindAuthEvents(ctx context.Context, db *gorm.DB, publicKey string) ([]AuthEvent, error) {
	return gorm.G[AuthEvent](db).Where("public_key = ?", publicKey).Order("id").Find(ctx)
}
