// Package store provides relational persistence for Lumen.
//
// Databases are selected through a dialector registry (sqlite, postgres,
// mysql out of the box; call Register to add more). The sqlite driver is the
// pure-Go glebarez build so tests run without cgo.
package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// Open connects to the database identified by dbType and dsn and runs the
// schema migration unless skipMigrate is set. Extra models passed in are
// migrated alongside the base ones.
func Open(dbType, dsn string, skipMigrate bool, models ...any) (*gorm.DB, error) {
	dial, err := dialector(dbType, dsn)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dial, &gorm.Config{})
	if err != nil {
		return nil, err
	}

	if !skipMigrate {
		base := []any{&User{}, &Post{}}
		if err := db.AutoMigrate(append(base, models...)...); err != nil {
			return nil, err
		}
	}

	return db, nil
}

// FindOrCreateUser returns the user row for the given email, creating it on
// first contact.
func FindOrCreateUser(ctx context.Context, db *gorm.DB, email string) (*User, error) {
	var user User
	err := db.WithContext(ctx).Where("email = ?", email).First(&user).Error
	if err == nil {
		return &user, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	user = User{Email: email, CreatedAt: time.Now().UTC()}
	if err := db.WithContext(ctx).Create(&user).Error; err != nil {
		// A concurrent request may have won the unique-index race.
		if ferr := db.WithContext(ctx).Where("email = ?", email).First(&user).Error; ferr == nil {
			return &user, nil
		}
		return nil, err
	}
	return &user, nil
}

// UserByEmail looks up an existing user row.
func UserByEmail(ctx context.Context, db *gorm.DB, email string) (*User, error) {
	var user User
	if err := db.WithContext(ctx).Where("email = ?", email).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}
