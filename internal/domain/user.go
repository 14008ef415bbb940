package domain

import (
	"strings"
	"time"

	"github.com/alexandernizov/accounts/internal/domain/errs"
	"github.com/google/uuid"
)

// MaxPasswordBytes is the longest password bcrypt accepts.
const MaxPasswordBytes = 72

// Account is a registered platform user.
//
// Password holds a bcrypt hash for every account loaded from a store. After
// SetPassword it temporarily holds plaintext until the account is prepared for
// persistence.
type Account struct {
	ID           uuid.UUID
	Handle       string
	Email        string
	DisplayName  string
	Avatar       string
	CoverImage   string
	Password     string
	RefreshToken *string
	WatchHistory []uuid.UUID
	CreatedAt    time.Time
	UpdatedAt    time.Time

	passwordModified bool
}

// SetPassword assigns a plaintext password and marks it for hashing.
func (a *Account) SetPassword(plain string) {
	a.Password = plain
	a.passwordModified = true
}

// SetPasswordHash stores an already hashed password and clears the modified mark.
func (a *Account) SetPasswordHash(hash string) {
	a.Password = hash
	a.passwordModified = false
}

func (a Account) PasswordModified() bool {
	return a.passwordModified
}

// Normalize trims and lower-cases the unique fields in place.
func (a *Account) Normalize() {
	a.Handle = NormalizeHandle(a.Handle)
	a.Email = NormalizeEmail(a.Email)
	a.DisplayName = strings.TrimSpace(a.DisplayName)
	a.Avatar = strings.TrimSpace(a.Avatar)
	a.CoverImage = strings.TrimSpace(a.CoverImage)
}

// Validate reports every missing required field at once.
func (a Account) Validate() error {
	var fields []errs.FieldError
	if a.Handle == "" {
		fields = append(fields, errs.FieldError{Field: "username", Message: "username is required", Missing: true})
	}
	if a.Email == "" {
		fields = append(fields, errs.FieldError{Field: "email", Message: "email is required", Missing: true})
	}
	if a.DisplayName == "" {
		fields = append(fields, errs.FieldError{Field: "fullname", Message: "fullname is required", Missing: true})
	}
	if a.Avatar == "" {
		fields = append(fields, errs.FieldError{Field: "avatar", Message: "avatar is required", Missing: true})
	}
	switch {
	case a.Password == "":
		fields = append(fields, errs.FieldError{Field: "password", Message: "Password is required", Missing: true})
	case a.passwordModified && len(a.Password) > MaxPasswordBytes:
		fields = append(fields, errs.FieldError{Field: "password", Message: "Password must be at most 72 bytes"})
	}
	if len(fields) > 0 {
		return &errs.ValidationError{Fields: fields}
	}
	return nil
}

func NormalizeHandle(handle string) string {
	return strings.ToLower(strings.TrimSpace(handle))
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

type Tokens struct {
	AccessToken  string
	RefreshToken string
}

type AccountCtxKey struct {
}
