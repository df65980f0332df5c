package controller

import (
	"ai-daemon/internal/dto"
	"ai-daemon/internal/pkg/serverutils"
	"ai-daemon/internal/service"

	"github.com/gofiber/fiber/v2"
)

type IDaemonController interface {
	RegisterRoutes(r fiber.Router)
	Health(ctx *fiber.Ctx) error
	Providers(ctx *fiber.Ctx) error
	SyncVault(ctx *fiber.Ctx) error
	SearchVault(ctx *fiber.Ctx) error
}

type daemonController struct {
	service service.IStatusService
}

func NewDaemonController(service service.IStatusService) IDaemonController {
	return &daemonController{service: service}
}

func (c *daemonController) RegisterRoutes(r fiber.Router) {
	r.Get("/health", c.Health)
	r.Get("/providers", c.Providers)

	v := r.Group("/vault")
	v.Post("/sync", c.SyncVault)
	v.Get("/search", c.SearchVault)
}

func (c *daemonController) Health(ctx *fiber.Ctx) error {
	return ctx.JSON(c.service.Health(ctx.UserContext()))
}

func (c *daemonController) Providers(ctx *fiber.Ctx) error {
	return ctx.JSON(c.service.Providers(ctx.UserContext()))
}

// SyncVault is the HTTP fallback for clients that cannot send vaultUpdate over the socket.
func (c *daemonController) SyncVault(ctx *fiber.Ctx) error {
	var req dto.VaultSyncRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid JSON body")
	}
	if err := serverutils.ValidateRequest(req); err != nil {
		return err
	}
	return ctx.JSON(c.service.SyncVault(ctx.UserContext(), req.Documents))
}

func (c *daemonController) SearchVault(ctx *fiber.Ctx) error {
	query := ctx.Query("q")
	if query == "" {
		return ctx.Status(fiber.StatusBadRequest).JSON(serverutils.ErrorResponse("Missing query parameter: q"))
	}
	return ctx.JSON(c.service.SearchVault(ctx.UserContext(), query))
}
