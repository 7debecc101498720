package http

import (
	"github.com/gofiber/fiber/v2"

	appvf "github.com/jhoicas/verifactu-api/internal/application/verifactu"
	infravf "github.com/jhoicas/verifactu-api/internal/infrastructure/verifactu"
	"github.com/jhoicas/verifactu-api/pkg/jwt"
	"github.com/jhoicas/verifactu-api/pkg/logger"
)

// RouterDeps dependencias para el router.
type RouterDeps struct {
	Records      *appvf.RecordService
	Configs      *appvf.ConfigLoader
	Certificates *infravf.CertificateManager
	Transport    infravf.AEATTransport
	JWTSecret    string
	Environment  string
	Log          *logger.Logger
}

// Router registra las rutas de la API.
func Router(app *fiber.App, deps RouterDeps) {
	log := deps.Log
	if log == nil {
		log = logger.Nop()
	}
	app.Use(SecurityHeaders(deps.Environment), RequestLogger(log.Component("http")))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api")

	// Rutas protegidas (requieren Bearer Token)
	vf := api.Group("/verifactu", AuthMiddleware(deps.JWTSecret))
	readers := RequireRole(jwt.RoleOperator, jwt.RoleViewer)
	operators := RequireRole(jwt.RoleOperator)
	admins := RequireRole(jwt.RoleAdmin)

	// Registros (requieren Verifactu habilitado)
	recordHandler := NewRecordHandler(deps.Records, log.Component("records"))
	records := vf.Group("/records", RequireEnabled(deps.Configs))
	records.Post("/from-sale", operators, recordHandler.CreateFromSale)
	records.Post("/", operators, recordHandler.Create)
	records.Get("/", readers, recordHandler.List)
	records.Get("/export", readers, recordHandler.Export)
	records.Get("/:id", readers, recordHandler.GetByID)
	records.Post("/:id/submit", operators, recordHandler.Submit)
	records.Post("/:id/cancel", operators, recordHandler.Cancel)
	records.Post("/:id/rectify", operators, recordHandler.Rectify)
	records.Get("/:id/qr", readers, recordHandler.QR)
	records.Get("/:id/receipt", readers, recordHandler.Receipt)
	records.Get("/:id/receipt-info", readers, recordHandler.ReceiptInfo)
	records.Get("/:id/audit", readers, recordHandler.Audit)

	vf.Get("/stats", RequireEnabled(deps.Configs), readers, recordHandler.Stats)
	vf.Get("/chain/verify", RequireEnabled(deps.Configs), readers, recordHandler.VerifyChain)

	// Ajustes, certificado y conexión (admin)
	settingsHandler := NewSettingsHandler(deps.Configs, deps.Certificates, deps.Transport, log.Component("settings"))
	vf.Get("/settings", admins, settingsHandler.GetSettings)
	vf.Put("/settings", admins, settingsHandler.UpdateSettings)
	vf.Post("/certificate", admins, settingsHandler.UploadCertificate)
	vf.Get("/certificate", admins, settingsHandler.GetCertificate)
	vf.Delete("/certificate", admins, settingsHandler.DeleteCertificate)
	vf.Post("/connection/test", admins, settingsHandler.TestConnection)
}
