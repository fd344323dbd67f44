package router

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"daringbooks/config"
	"daringbooks/internal/handler"
	"daringbooks/internal/middleware"
	"daringbooks/internal/repository"
	"daringbooks/internal/service"
	"daringbooks/pkg/backoff"
	"daringbooks/pkg/cloudinary"
	"daringbooks/pkg/mpesa"
	"daringbooks/pkg/whatsapp"
)

func Setup(cfg *config.Config, db *gorm.DB, cloud cloudinary.Client) *gin.Engine {
	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{cfg.Store.FrontendURL},
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	// General limiter covers the whole API; the payment limiter is much
	// tighter so one customer cannot spam STK pushes.
	r.Use(middleware.RateLimit(middleware.NewInMemoryRateLimiter(100, 15*time.Minute)))
	paymentLimiter := middleware.RateLimit(middleware.NewInMemoryRateLimiter(3, 5*time.Minute))

	// Repositories
	bookRepo := repository.NewBookRepository(db)
	purchaseRepo := repository.NewPurchaseRepository(db)
	adminRepo := repository.NewAdminRepository(db)

	// Outbound adapters
	gateway := mpesa.NewClient(mpesa.Config{
		ConsumerKey:    cfg.Mpesa.ConsumerKey,
		ConsumerSecret: cfg.Mpesa.ConsumerSecret,
		ShortCode:      cfg.Mpesa.ShortCode,
		Passkey:        cfg.Mpesa.Passkey,
		CallbackURL:    cfg.Mpesa.CallbackURL,
		Environment:    cfg.Mpesa.Environment,
		BaseURL:        cfg.Mpesa.BaseURL,
	})
	messenger := whatsapp.NewClient(whatsapp.Config{
		APIURL:       cfg.WhatsApp.APIURL,
		InstanceID:   cfg.WhatsApp.InstanceID,
		Token:        cfg.WhatsApp.Token,
		StoreName:    cfg.Store.Name,
		WebsiteURL:   cfg.Store.FrontendURL,
		SupportEmail: cfg.Store.ContactEmail,
		Retry:        backoff.Policy{MaxAttempts: 3, BaseDelay: 2 * time.Second, Multiplier: 2},
	})
	mailer := service.NewMailService(cfg)

	// Services
	paymentSvc := service.NewPaymentService(cfg, bookRepo, purchaseRepo, gateway, messenger, mailer)
	downloadSvc := service.NewDownloadService(cfg, bookRepo, purchaseRepo)
	authSvc := service.NewAuthService(cfg, adminRepo)

	// Handlers
	bookHandler := handler.NewBookHandler(bookRepo)
	paymentHandler := handler.NewPaymentHandler(paymentSvc)
	webhookHandler := handler.NewMpesaWebhookHandler(paymentSvc)
	downloadHandler := handler.NewDownloadHandler(downloadSvc)
	authHandler := handler.NewAuthHandler(authSvc)
	adminHandler := handler.NewAdminHandler(cfg, bookRepo, purchaseRepo, adminRepo, paymentSvc, cloud)

	authMw := middleware.AuthRequired(&cfg.JWT)
	adminMw := middleware.AdminRequired()

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.Static("/uploads", cfg.Store.UploadDir)

	api := r.Group("/api/v1")
	{
		api.GET("/books", bookHandler.List)
		api.GET("/books/:id", bookHandler.Get)

		payments := api.Group("/payments")
		{
			payments.POST("/initiate", paymentLimiter, paymentHandler.Initiate)
			payments.GET("/status/:transactionId", paymentHandler.Status)
			payments.POST("/retry-delivery/:transactionId", paymentHandler.RetryDelivery)
			payments.GET("/history/:phone", paymentHandler.History)
		}

		api.POST("/webhooks/mpesa", webhookHandler.Handle)

		download := api.Group("/download")
		{
			download.GET("/:token", downloadHandler.Redeem)
			download.GET("/:token/info", downloadHandler.Info)
		}

		api.POST("/auth/login", authHandler.Login)

		admin := api.Group("/admin")
		admin.Use(authMw, adminMw)
		{
			admin.GET("/stats", adminHandler.DashboardStats)
			admin.GET("/purchases", adminHandler.ListPurchases)
			admin.PATCH("/purchases/:id/notes", adminHandler.UpdateNotes)
			admin.POST("/purchases/:id/cancel", adminHandler.CancelPurchase)
			admin.POST("/deliveries/:transactionId/resend", adminHandler.ResendDelivery)
			admin.GET("/payments/stk-status/:checkoutRequestId", paymentHandler.StkStatus)

			admin.GET("/books", adminHandler.ListBooks)
			admin.POST("/books", adminHandler.CreateBook)
			admin.PUT("/books/:id", adminHandler.UpdateBook)
			admin.DELETE("/books/:id", adminHandler.DeactivateBook)
			admin.POST("/uploads/cover", adminHandler.UploadCover)
			admin.POST("/uploads/book", adminHandler.UploadBookFile)
		}
	}

	return r
}
