package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"

	"github.com/electrokart/electrokart/internal/platform/httpx"
)

// DefaultPasscodeRequestsPerMinute caps passcode emails per client IP.
const DefaultPasscodeRequestsPerMinute = 5

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger       *slog.Logger
	service      *Service
	validator    *validator.Validate
	passcodeRate int
}

// HandlerOption customises a Handler.
type HandlerOption func(*Handler)

// WithPasscodeRateLimit sets how many passcode requests a single IP may make
// per minute. Zero or less disables the limit.
func WithPasscodeRateLimit(perMinute int) HandlerOption {
	return func(h *Handler) {
		h.passcodeRate = perMinute
	}
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, opts ...HandlerOption) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{
		logger:       logger,
		service:      service,
		validator:    newValidator(),
		passcodeRate: DefaultPasscodeRequestsPerMinute,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Registration only fails on an empty tag or nil func.
	_ = v.RegisterValidation("passcode", func(fl validator.FieldLevel) bool {
		return ValidPasscodeFormat(fl.Field().String())
	})
	return v
}

// MountRoutes registers auth routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/register", h.handleRegister)
	r.Post("/login", h.handleLogin)
	if h.passcodeRate > 0 {
		r.With(httprate.Limit(h.passcodeRate, time.Minute,
			httprate.WithKeyFuncs(httprate.KeyByIP),
			httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
				httpx.Problem(w, http.StatusTooManyRequests, "Too Many Requests", "too many OTP requests, try again later")
			}),
		)).Post("/login/otp", h.handleRequestPasscode)
	} else {
		r.Post("/login/otp", h.handleRequestPasscode)
	}
	r.Post("/login/otp/verify", h.handleVerifyPasscode)
	r.Group(func(r chi.Router) {
		r.Use(RequireBearer(h.service, h.logger))
		r.Get("/me", h.handleMe)
	})
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !h.decode(w, r, &req) {
		return
	}
	user, err := h.service.Register(r.Context(), RegisterInput{Name: req.Name, Email: req.Email, Password: req.Password})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, registerResponse{Message: "User registered successfully", User: user})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !h.decode(w, r, &req) {
		return
	}
	token, err := h.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, tokenResponse{Token: token})
}

func (h *Handler) handleRequestPasscode(w http.ResponseWriter, r *http.Request) {
	var req passcodeRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.service.RequestPasscode(r.Context(), req.Email); err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, messageResponse{Message: "OTP sent successfully"})
}

func (h *Handler) handleVerifyPasscode(w http.ResponseWriter, r *http.Request) {
	var req verifyPasscodeRequest
	if !h.decode(w, r, &req) {
		return
	}
	token, err := h.service.VerifyPasscode(r.Context(), req.Email, string(req.OTP))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, tokenResponse{Message: "OTP successfully verified", Token: token})
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	if user == nil {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "missing session")
		return
	}
	httpx.JSON(w, http.StatusOK, meResponse{User: user})
}

// decode reads and validates the body, writing the failure response itself.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(w, r, target); err != nil {
		httpx.RespondError(w, err)
		return false
	}
	if err := h.validator.Struct(target); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			fields := make(map[string]string, len(fieldErrs))
			for _, fieldErr := range fieldErrs {
				fields[fieldErr.Field()] = fieldErr.Tag()
			}
			httpx.ValidationProblem(w, fields)
			return false
		}
		h.logger.Error("validate request", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return false
	}
	return true
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrValidation):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "missing or malformed input")
	case errors.Is(err, ErrDuplicateEmail):
		httpx.Problem(w, http.StatusConflict, "Duplicate", "email already registered")
	case errors.Is(err, ErrInvalidCredentials):
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "Invalid credentials")
	case errors.Is(err, ErrUserNotRegistered):
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "User not registered")
	case errors.Is(err, ErrInvalidOtp):
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "Invalid OTP")
	case IsTokenError(err):
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "Invalid token")
	case errors.Is(err, ErrNotificationFailure):
		h.logger.Error("passcode delivery", slog.String("request_id", middleware.GetReqID(r.Context())), slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Delivery Failed", "could not send OTP, try again")
	default:
		h.logger.Error("auth request failed",
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.String("path", r.URL.Path),
			slog.Any("error", err),
		)
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
