package routes

import (
	"context"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/quiet-time/quiet-time/internal/devotional"
	"github.com/quiet-time/quiet-time/internal/version"
)

// ControlOptions 聚合 /-/ 控制面路由的依赖，全部由 CLI 启动阶段注入。
type ControlOptions struct {
	Logger *logrus.Logger
	// Status 返回拦截器生命周期状态与当前缓存代等观测字段。
	Status func() fiber.Map
	// Activate 是 claiming 钩子：立即接管当前会话，而不是等下次重启。
	Activate func(context.Context) error
	// Resolver/Notes 是页面胶水端点的后端。
	Resolver *devotional.Resolver
	Notes    devotional.NotesStore
}

// RegisterControlRoutes 暴露 /-/status、/-/activate 与页面胶水端点。
// 这些路径保留给控制面，永远不会被拦截或缓存。
func RegisterControlRoutes(app *fiber.App, opts ControlOptions) {
	if app == nil {
		return
	}

	app.Get("/-/status", func(c fiber.Ctx) error {
		payload := fiber.Map{"version": version.Full()}
		if opts.Status != nil {
			for key, value := range opts.Status() {
				payload[key] = value
			}
		}
		return c.JSON(payload)
	})

	app.Post("/-/activate", func(c fiber.Ctx) error {
		if opts.Activate == nil {
			return c.Status(fiber.StatusNotImplemented).JSON(fiber.Map{"error": "activation_unavailable"})
		}
		if err := opts.Activate(c.Context()); err != nil {
			if opts.Logger != nil {
				opts.Logger.WithFields(logrus.Fields{"action": "activate"}).Error(err.Error())
			}
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "activation_failed"})
		}
		return c.JSON(fiber.Map{"result": "activated"})
	})

	registerDevotionalRoutes(app, opts)
}

func registerDevotionalRoutes(app *fiber.App, opts ControlOptions) {
	app.Get("/-/today", func(c fiber.Ctx) error {
		if opts.Resolver == nil {
			return c.Status(fiber.StatusNotImplemented).JSON(fiber.Map{"error": "resolver_unavailable"})
		}
		payload, err := opts.Resolver.Today(c.Context(), time.Now())
		if err != nil {
			if opts.Logger != nil {
				opts.Logger.WithFields(logrus.Fields{"action": "today"}).Warn(err.Error())
			}
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "dataset_unavailable"})
		}
		return c.JSON(payload)
	})

	app.Get("/-/notes/:date", func(c fiber.Ctx) error {
		if opts.Notes == nil {
			return c.Status(fiber.StatusNotImplemented).JSON(fiber.Map{"error": "notes_unavailable"})
		}
		date := strings.TrimSpace(c.Params("date"))
		if err := devotional.ValidateNoteDate(date); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_date"})
		}
		text, err := opts.Notes.Get(c.Context(), date)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "notes_read_failed"})
		}
		return c.JSON(fiber.Map{"date": date, "text": text})
	})

	app.Put("/-/notes/:date", func(c fiber.Ctx) error {
		if opts.Notes == nil {
			return c.Status(fiber.StatusNotImplemented).JSON(fiber.Map{"error": "notes_unavailable"})
		}
		date := strings.TrimSpace(c.Params("date"))
		if err := devotional.ValidateNoteDate(date); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_date"})
		}
		if err := opts.Notes.Set(c.Context(), date, string(c.Body())); err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "notes_write_failed"})
		}
		return c.JSON(fiber.Map{"date": date, "result": "saved"})
	})
}
