package db

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

var (
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrAccountExists      = errors.New("an account exists for this email, please log in")
)

const bcryptCost = 10

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// Register creates a customer. A guest with the same email is upgraded in place
// so its earlier orders stay attached.
func Register(ctx context.Context, db *gorm.DB, email, password string) (*User, error) {
	email = NormalizeEmail(email)
	hash, err := hashPassword(password)
	if err != nil {
		return nil, err
	}

	var user User
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("email = ?", email).First(&user).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			user = User{Email: email, PasswordHash: &hash, Role: RoleCustomer}
			return tx.Create(&user).Error
		case err != nil:
			return err
		case user.Role != RoleGuest:
			return ErrEmailTaken
		}
		user.PasswordHash = &hash
		user.Role = RoleCustomer
		return tx.Save(&user).Error
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func Authenticate(ctx context.Context, db *gorm.DB, email, password string) (*User, error) {
	var user User
	err := db.WithContext(ctx).Where("email = ?", NormalizeEmail(email)).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if user.PasswordHash == nil {
		return nil, ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(*user.PasswordHash), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}
	return &user, nil
}

// FindOrCreateGuest returns the guest for email, creating it when missing.
// Emails that belong to a password account yield ErrAccountExists.
func FindOrCreateGuest(ctx context.Context, db *gorm.DB, email string) (*User, error) {
	email = NormalizeEmail(email)
	var user User
	err := db.WithContext(ctx).Where("email = ?", email).First(&user).Error
	if err == nil {
		if user.Role != RoleGuest {
			return nil, ErrAccountExists
		}
		return &user, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	user = User{Email: email, Role: RoleGuest}
	if err := db.WithContext(ctx).Create(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// EnsureAdmin creates the admin account or resets its password and role.
func EnsureAdmin(ctx context.Context, db *gorm.DB, email, password string) (*User, error) {
	email = NormalizeEmail(email)
	hash, err := hashPassword(password)
	if err != nil {
		return nil, err
	}

	var user User
	err = db.WithContext(ctx).Where("email = ?", email).First(&user).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	user.Email = email
	user.PasswordHash = &hash
	user.Role = RoleAdmin
	if err := db.WithContext(ctx).Save(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}
