package models

import (
	"context"
	"errors"
	"time"

	"github.com/desniniranjan/fishing-sub002/config"
	"github.com/desniniranjan/fishing-sub002/utils"
)

type User struct {
	ID        int       `gorm:"primary_key" json:"id"`
	Username  string    `gorm:"size:100;not null;unique" json:"username" binding:"required"`
	Name      string    `gorm:"size:100;not null" json:"name" binding:"required"`
	Password  string    `gorm:"size:255;not null" json:"-"`
	IsActive  *bool     `gorm:"not null" json:"is_active"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewUser struct {
	Username string `json:"username" binding:"required"`
	Name     string `json:"name" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func CreateUser(ctx context.Context, input *NewUser) (*User, error) {
	taken, err := utils.ResourceCountWhere[User](ctx, "username = ?", input.Username)
	if err != nil {
		return nil, err
	}
	if taken > 0 {
		return nil, utils.NewValidationError("username %q already exists", input.Username)
	}
	hashed, err := utils.HashPassword(input.Password)
	if err != nil {
		return nil, err
	}
	user := User{
		Username: input.Username,
		Name:     input.Name,
		Password: string(hashed),
		IsActive: utils.NewTrue(),
	}
	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&user).Error; err != nil {
		return nil, utils.NewPersistenceError("create user", err)
	}
	return &user, nil
}

// Login verifies credentials and returns a signed token.
func Login(ctx context.Context, username, password string) (string, error) {
	db := config.GetDB()
	var user User
	if err := db.WithContext(ctx).Where("username = ?", username).First(&user).Error; err != nil {
		return "", errors.New("invalid username or password")
	}
	if user.IsActive == nil || !*user.IsActive {
		return "", errors.New("user is not active")
	}
	if err := utils.ComparePassword(user.Password, password); err != nil {
		return "", errors.New("invalid username or password")
	}
	return utils.JwtGenerate(user.ID, user.Name)
}
