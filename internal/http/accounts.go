package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/alexandernizov/accounts/internal/domain"
	"github.com/alexandernizov/accounts/internal/services/accounts"
	"github.com/google/uuid"
)

type AccountProvider interface {
	Register(ctx context.Context, in accounts.RegisterInput) (*domain.Account, error)
	Login(ctx context.Context, login, password string) (*domain.Account, domain.Tokens, error)
	Logout(ctx context.Context, id uuid.UUID) error
	Refresh(ctx context.Context, refreshToken string) (domain.Tokens, error)
	ChangePassword(ctx context.Context, id uuid.UUID, oldPassword, newPassword string) error
	UpdateProfile(ctx context.Context, id uuid.UUID, in accounts.ProfileInput) (*domain.Account, error)
	Current(ctx context.Context, id uuid.UUID) (*domain.Account, error)
	AddToWatchHistory(ctx context.Context, id uuid.UUID, mediaID uuid.UUID) error
	WatchHistory(ctx context.Context, id uuid.UUID) ([]uuid.UUID, error)
}

type accountResponse struct {
	ID         uuid.UUID `json:"_id"`
	Username   string    `json:"username"`
	Email      string    `json:"email"`
	Fullname   string    `json:"fullname"`
	Avatar     string    `json:"avatar"`
	CoverImage string    `json:"coverImage"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

func toAccountResponse(a *domain.Account) accountResponse {
	return accountResponse{
		ID:         a.ID,
		Username:   a.Handle,
		Email:      a.Email,
		Fullname:   a.DisplayName,
		Avatar:     a.Avatar,
		CoverImage: a.CoverImage,
		CreatedAt:  a.CreatedAt,
		UpdatedAt:  a.UpdatedAt,
	}
}

type registerRequest struct {
	Username   string `json:"username"`
	Email      string `json:"email"`
	Fullname   string `json:"fullname"`
	Avatar     string `json:"avatar"`
	CoverImage string `json:"coverImage"`
	Password   string `json:"password"`
}

type loginRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	User         accountResponse `json:"user"`
	AccessToken  string          `json:"accessToken"`
	RefreshToken string          `json:"refreshToken"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type tokensResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

type changePasswordRequest struct {
	OldPassword string `json:"oldPassword"`
	NewPassword string `json:"newPassword"`
}

type updateProfileRequest struct {
	Fullname   *string `json:"fullname"`
	Email      *string `json:"email"`
	Avatar     *string `json:"avatar"`
	CoverImage *string `json:"coverImage"`
}

type watchRequest struct {
	MediaID uuid.UUID `json:"mediaId"`
}

type accountsHandler struct {
	provider     AccountProvider
	secureCookie bool
}

func decode(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return NewAPIError(http.StatusBadRequest, "Invalid request body", err.Error())
	}
	return nil
}

func (h *accountsHandler) setTokenCookies(w http.ResponseWriter, tokens domain.Tokens) {
	for name, value := range map[string]string{accessTokenCookie: tokens.AccessToken, refreshTokenCookie: tokens.RefreshToken} {
		http.SetCookie(w, &http.Cookie{Name: name, Value: value, Path: "/", HttpOnly: true, Secure: h.secureCookie})
	}
}

func (h *accountsHandler) clearTokenCookies(w http.ResponseWriter) {
	for _, name := range []string{accessTokenCookie, refreshTokenCookie} {
		http.SetCookie(w, &http.Cookie{Name: name, Value: "", Path: "/", MaxAge: -1, HttpOnly: true, Secure: h.secureCookie})
	}
}

func currentID(r *http.Request) (uuid.UUID, error) {
	claims, ok := claimsFromContext(r.Context())
	if !ok {
		return uuid.Nil, NewAPIError(http.StatusUnauthorized, "Unauthorized request")
	}
	return claims.ID, nil
}

func (h *accountsHandler) register(w http.ResponseWriter, r *http.Request) error {
	var req registerRequest
	if err := decode(r, &req); err != nil {
		return err
	}

	account, err := h.provider.Register(r.Context(), accounts.RegisterInput{
		Username:   req.Username,
		Email:      req.Email,
		Fullname:   req.Fullname,
		Avatar:     req.Avatar,
		CoverImage: req.CoverImage,
		Password:   req.Password,
	})
	if err != nil {
		return err
	}

	return respond(w, http.StatusCreated, toAccountResponse(account), "User registered successfully")
}

func (h *accountsHandler) login(w http.ResponseWriter, r *http.Request) error {
	var req loginRequest
	if err := decode(r, &req); err != nil {
		return err
	}

	login := req.Username
	if login == "" {
		login = req.Email
	}
	if login == "" {
		return NewAPIError(http.StatusBadRequest, "username or email is required")
	}

	account, tokens, err := h.provider.Login(r.Context(), login, req.Password)
	if err != nil {
		return err
	}

	h.setTokenCookies(w, tokens)
	return respond(w, http.StatusOK, loginResponse{
		User:         toAccountResponse(account),
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
	}, "User logged In Successfully")
}

func (h *accountsHandler) logout(w http.ResponseWriter, r *http.Request) error {
	id, err := currentID(r)
	if err != nil {
		return err
	}

	if err := h.provider.Logout(r.Context(), id); err != nil {
		return err
	}

	h.clearTokenCookies(w)
	return respond(w, http.StatusOK, struct{}{}, "User logged Out")
}

func (h *accountsHandler) refresh(w http.ResponseWriter, r *http.Request) error {
	token := ""
	if c, err := r.Cookie(refreshTokenCookie); err == nil {
		token = c.Value
	}
	if token == "" && r.ContentLength != 0 {
		var req refreshRequest
		if err := decode(r, &req); err != nil {
			return err
		}
		token = req.RefreshToken
	}
	if token == "" {
		return NewAPIError(http.StatusUnauthorized, "Unauthorized request")
	}

	tokens, err := h.provider.Refresh(r.Context(), token)
	if err != nil {
		return err
	}

	h.setTokenCookies(w, tokens)
	return respond(w, http.StatusOK, tokensResponse(tokens), "Access token refreshed")
}

func (h *accountsHandler) changePassword(w http.ResponseWriter, r *http.Request) error {
	id, err := currentID(r)
	if err != nil {
		return err
	}

	var req changePasswordRequest
	if err := decode(r, &req); err != nil {
		return err
	}

	if err := h.provider.ChangePassword(r.Context(), id, req.OldPassword, req.NewPassword); err != nil {
		return err
	}

	return respond(w, http.StatusOK, struct{}{}, "Password changed successfully")
}

func (h *accountsHandler) current(w http.ResponseWriter, r *http.Request) error {
	id, err := currentID(r)
	if err != nil {
		return err
	}

	account, err := h.provider.Current(r.Context(), id)
	if err != nil {
		return err
	}

	return respond(w, http.StatusOK, toAccountResponse(account), "Current user fetched successfully")
}

func (h *accountsHandler) updateProfile(w http.ResponseWriter, r *http.Request) error {
	id, err := currentID(r)
	if err != nil {
		return err
	}

	var req updateProfileRequest
	if err := decode(r, &req); err != nil {
		return err
	}

	account, err := h.provider.UpdateProfile(r.Context(), id, accounts.ProfileInput(req))
	if err != nil {
		return err
	}

	return respond(w, http.StatusOK, toAccountResponse(account), "Account details updated successfully")
}

func (h *accountsHandler) watchHistory(w http.ResponseWriter, r *http.Request) error {
	id, err := currentID(r)
	if err != nil {
		return err
	}

	history, err := h.provider.WatchHistory(r.Context(), id)
	if err != nil {
		return err
	}

	return respond(w, http.StatusOK, history, "Watch history fetched successfully")
}

func (h *accountsHandler) addToWatchHistory(w http.ResponseWriter, r *http.Request) error {
	id, err := currentID(r)
	if err != nil {
		return err
	}

	var req watchRequest
	if err := decode(r, &req); err != nil {
		return err
	}
	if req.MediaID == uuid.Nil {
		return NewAPIError(http.StatusBadRequest, "mediaId is required")
	}

	if err := h.provider.AddToWatchHistory(r.Context(), id, req.MediaID); err != nil {
		return err
	}

	return respond(w, http.StatusCreated, struct{}{}, "Added to watch history")
}
