package app

import (
	"github.com/osvaldoandrade/mpsflow/internal/controllers"
	"github.com/osvaldoandrade/mpsflow/internal/middleware"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func SetupMappings(app *Application) {
	authed := app.Engine.Group("", middleware.AuthMiddleware(app.Validator))
	{
		authed.POST("/solve_mps",
			middleware.RateLimitSolve(app.RateLimiter, app.Config),
			controllers.NewSolveMPSController(app.Solves, app.Config.Solver.DefaultTimeLimit).Handle,
		)
		authed.GET("/v1/solves/:id", controllers.NewGetSolveController(app.Solves).Handle)
	}

	app.Engine.GET("/health", controllers.NewHealthController().Handle)
	app.Engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
}
