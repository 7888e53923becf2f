package entity

import "time"

const (
	UserRoleSuperAdmin = "super_admin"
	UserRoleAdmin      = "admin"
	UserRoleUser       = "user"

	SigninProviderEmail = "email"
)

// DbUser represents a persisted user account.
type DbUser struct {
	ID             uint      `gorm:"primarykey" json:"id"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	UUID           string    `gorm:"column:uuid;type:varchar(64);uniqueIndex;not null" json:"uuid"`
	Email          string    `gorm:"column:email;type:varchar(255);uniqueIndex;not null" json:"email"`
	PasswordHash   string    `gorm:"column:password_hash;type:varchar(255);not null" json:"-"`
	Nickname       string    `gorm:"column:nickname;type:varchar(255)" json:"nickname"`
	SigninProvider string    `gorm:"column:signin_provider;type:varchar(50)" json:"signin_provider"`
	Role           string    `gorm:"column:role;type:varchar(50);index;not null" json:"role"`
	IsActive       bool      `gorm:"column:is_active;not null;default:true" json:"is_active"`
}

// TableName overrides default pluralised name.
func (DbUser) TableName() string {
	return "users"
}

// UserSummary is a lightweight user description returned to clients.
type UserSummary struct {
	ID             uint      `json:"id"`
	UUID           string    `json:"uuid"`
	Email          string    `json:"email"`
	Nickname       string    `json:"nickname"`
	SigninProvider string    `json:"signin_provider"`
	Role           string    `json:"role"`
	IsActive       bool      `json:"is_active"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// ToSummary converts the row into its client view.
func (u *DbUser) ToSummary() UserSummary {
	if u == nil {
		return UserSummary{}
	}
	return UserSummary{
		ID:             u.ID,
		UUID:           u.UUID,
		Email:          u.Email,
		Nickname:       u.Nickname,
		SigninProvider: u.SigninProvider,
		Role:           u.Role,
		IsActive:       u.IsActive,
		CreatedAt:      u.CreatedAt,
		UpdatedAt:      u.UpdatedAt,
	}
}

// UserQuery supports listing users with pagination.
type UserQuery struct {
	BaseParams
	Role    string `json:"role" form:"role" query:"role"`
	Keyword string `json:"keyword" form:"keyword" query:"keyword"`
}

type AuthLoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type AuthRegisterRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
	Nickname string `json:"nickname"`
}

type AuthResponse struct {
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expires_at"`
	User      UserSummary `json:"user"`
}

type UserUpdateRequest struct {
	Nickname *string `json:"nickname,omitempty"`
	Role     *string `json:"role,omitempty"`
	Password *string `json:"password,omitempty"`
	IsActive *bool   `json:"is_active,omitempty"`
}

type UserListResponse struct {
	Users []UserSummary `json:"users"`
	Meta  *Meta         `json:"meta"`
}
