package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"
	"golang.org/x/crypto/bcrypt"

	apiContext "tenantly/internal/api/context"
	"tenantly/internal/pkg/errors"
	"tenantly/internal/platform/auth"
	"tenantly/internal/platform/models"
	"tenantly/internal/platform/repositories"
)

type IdentityHandler struct {
	identities *repositories.IdentityRepository
	tokenSvc   *auth.TokenService
}

func NewIdentityHandler(identities *repositories.IdentityRepository, tokenSvc *auth.TokenService) *IdentityHandler {
	return &IdentityHandler{identities: identities, tokenSvc: tokenSvc}
}

type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
}

type AuthResponse struct {
	Identity    *models.GlobalIdentity `json:"identity"`
	AccessToken string                 `json:"access_token"`
}

func (h *IdentityHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}
	if req.Email == "" || len(req.Password) < 8 {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "email and a password of at least 8 characters are required", nil)
		return
	}

	if existing, err := h.identities.GetByEmail(r.Context(), req.Email); err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Database error", nil)
		return
	} else if existing != nil {
		errors.WriteError(w, http.StatusConflict, errors.ErrCodeAlreadyExists, "Email already registered", nil)
		return
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to hash password", nil)
		return
	}

	now := time.Now().Unix()
	identity := &models.GlobalIdentity{
		ID:           "idn_" + uuid.NewString(),
		Email:        req.Email,
		FullName:     req.FullName,
		PasswordHash: string(hashed),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := h.identities.Create(r.Context(), identity); err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to create identity", nil)
		return
	}

	token, err := h.tokenSvc.GenerateAccessToken(identity.ID, identity.Email, identity.SuperAdmin)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to generate token", nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(AuthResponse{Identity: identity, AccessToken: token})
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *IdentityHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}

	identity, err := h.identities.GetByEmail(r.Context(), req.Email)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Database error", nil)
		return
	}
	if identity == nil || bcrypt.CompareHashAndPassword([]byte(identity.PasswordHash), []byte(req.Password)) != nil {
		errors.WriteError(w, http.StatusUnauthorized, errors.ErrCodeUnauthorized, "Invalid credentials", nil)
		return
	}

	token, err := h.tokenSvc.GenerateAccessToken(identity.ID, identity.Email, identity.SuperAdmin)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to generate token", nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(AuthResponse{Identity: identity, AccessToken: token})
}

type GrantMembershipRequest struct {
	IdentityID string `json:"identity_id"`
	Role       string `json:"role"`
}

func (h *IdentityHandler) GrantMembership(w http.ResponseWriter, r *http.Request) {
	ps, _ := r.Context().Value(apiContext.Params).(httprouter.Params)
	tenantID := ps.ByName("tenant_id")

	var req GrantMembershipRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.IdentityID == "" {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "identity_id is required", nil)
		return
	}
	if req.Role == "" {
		req.Role = "member"
	}

	if existing, err := h.identities.GetMembership(r.Context(), req.IdentityID, tenantID); err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Database error", nil)
		return
	} else if existing != nil {
		errors.WriteError(w, http.StatusConflict, errors.ErrCodeAlreadyExists, "Membership already exists", nil)
		return
	}

	now := time.Now().Unix()
	m := &models.Membership{
		ID:         "mbr_" + uuid.NewString(),
		IdentityID: req.IdentityID,
		TenantID:   tenantID,
		Role:       req.Role,
		Status:     "active",
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := h.identities.CreateMembership(r.Context(), m); err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to create membership", nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(m)
}

func (h *IdentityHandler) ListMemberships(w http.ResponseWriter, r *http.Request) {
	claims, ok := r.Context().Value(apiContext.Claims).(*auth.Claims)
	if !ok || claims == nil {
		errors.WriteError(w, http.StatusUnauthorized, errors.ErrCodeUnauthorized, "Authentication required", nil)
		return
	}

	list, err := h.identities.ListMemberships(r.Context(), claims.IdentityID)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Database error", nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(list)
}

func (h *IdentityHandler) RevokeMembership(w http.ResponseWriter, r *http.Request) {
	ps, _ := r.Context().Value(apiContext.Params).(httprouter.Params)

	if err := h.identities.RevokeMembership(r.Context(), ps.ByName("identity_id"), ps.ByName("tenant_id")); err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to revoke membership", nil)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
