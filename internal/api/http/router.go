// Package http wires the admin API: authentication, client provisioning,
// certificate management and daemon supervision.
package http

import (
	"github.com/gin-gonic/gin"

	"github.com/overmesh/nebula-admin/internal/api/http/handler"
	"github.com/overmesh/nebula-admin/internal/api/http/middleware"
	"github.com/overmesh/nebula-admin/internal/audit"
	"github.com/overmesh/nebula-admin/internal/auth"
	"github.com/overmesh/nebula-admin/internal/certstore"
	"github.com/overmesh/nebula-admin/internal/nebulacert"
	"github.com/overmesh/nebula-admin/internal/provisioning"
	"github.com/overmesh/nebula-admin/internal/supervisor"
	"github.com/overmesh/nebula-admin/internal/users"
)

type Services struct {
	Auth        *auth.Service
	Provisioner *provisioning.Service
	Certs       *certstore.Store
	CertClient  *nebulacert.Client
	Supervisor  *supervisor.Supervisor
	Audit       *audit.Store
	JWTSecret   string
}

func SetupRoute(engine *gin.Engine, srvs *Services) {
	engine.Use(middleware.RequestLogger())

	healthHandler := handler.NewHealthHandler()
	engine.GET("/health", healthHandler.Check)

	api := engine.Group("/api")

	if srvs.Auth != nil {
		authHandler := handler.NewAuthHandler(srvs.Auth)
		api.POST("/auth/register", authHandler.Register)
		api.POST("/auth/login", authHandler.Login)
	}

	clientSetupHandler := handler.NewClientSetupHandler(srvs.Provisioner)
	// The download token is the credential; the route must work for a device
	// that has no account.
	api.GET("/client-setup/download/:token", clientSetupHandler.Download)

	protected := api.Group("")
	if srvs.JWTSecret != "" {
		protected.Use(middleware.JWTAuth(srvs.JWTSecret))
	}

	protected.POST("/client-setup/provision", clientSetupHandler.Provision)

	if srvs.Certs != nil {
		certHandler := handler.NewCertHandler(srvs.Provisioner, srvs.Certs, srvs.CertClient)
		admin := protected.Group("")
		if srvs.JWTSecret != "" {
			admin.Use(middleware.RequireRole(users.RoleAdmin))
		}
		admin.POST("/certs/ca", certHandler.CreateCA)
		admin.DELETE("/certs/host/:name", certHandler.Revoke)
		protected.GET("/certs/ca", certHandler.ListCAs)
		protected.GET("/certs/ca/:name", certHandler.InspectCA)
		protected.GET("/certs/host/:name", certHandler.GetCertificate)
	}

	if srvs.Audit != nil {
		auditHandler := handler.NewAuditHandler(srvs.Audit)
		auditGroup := protected.Group("")
		if srvs.JWTSecret != "" {
			auditGroup.Use(middleware.RequireRole(users.RoleAdmin))
		}
		auditGroup.GET("/audit", auditHandler.List)
	}

	if srvs.Supervisor != nil {
		processHandler := handler.NewProcessHandler(srvs.Supervisor)
		protected.POST("/process/start", processHandler.Start)
		protected.POST("/process/stop/:name", processHandler.Stop)
		protected.POST("/process/stop-all", processHandler.StopAll)
		protected.GET("/process/status", processHandler.StatusAll)
		protected.GET("/process/status/:name", processHandler.Status)
	}
}
