package auth

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5"

	"tabular/internal/engine"
	"tabular/internal/store"
)

type Handler struct {
	store  *store.Store
	secret string
}

func NewHandler(s *store.Store, secret string) *Handler {
	return &Handler{store: s, secret: secret}
}

func RegisterRoutes(app *fiber.App, h *Handler) {
	app.Post("/auth/login", h.Login)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login handles POST /auth/login against the _users table.
func (h *Handler) Login(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return engine.NewAppError("INVALID_PAYLOAD", 400, "Invalid JSON body")
	}
	if req.Email == "" || req.Password == "" {
		return engine.NewAppError("INVALID_PAYLOAD", 400, "Email and password are required")
	}

	var id, hash string
	var roles, permissions []string
	err := h.store.Pool.QueryRow(c.Context(),
		`SELECT id, password_hash, roles, permissions FROM _users WHERE email = $1 AND active`,
		req.Email,
	).Scan(&id, &hash, &roles, &permissions)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return engine.UnauthorizedError("Invalid credentials")
		}
		return err
	}

	if !CheckPassword(req.Password, hash) {
		return engine.UnauthorizedError("Invalid credentials")
	}

	token, err := GenerateAccessToken(id, roles, permissions, h.secret)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{"access_token": token})
}
