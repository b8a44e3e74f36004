package router

import (
	"log/slog"

	"github.com/gin-gonic/gin"

	"sudooom.mathrush/internal/config"
	"sudooom.mathrush/internal/handler"
	"sudooom.mathrush/internal/middleware"
	"sudooom.mathrush/shared/jwt"
)

// SetupRouter 设置路由，limiter 为 nil 时不限流
func SetupRouter(
	cfg *config.Config,
	jwtService *jwt.Service,
	limiter *middleware.RateLimiter,
	roomHandler *handler.RoomHandler,
	streamHandler *handler.StreamHandler,
) *gin.Engine {
	// 设置 Gin 模式
	gin.SetMode(cfg.App.Mode)

	r := gin.New()

	// 全局中间件
	r.Use(gin.Recovery())
	r.Use(middleware.Logger(slog.Default().With("component", "http")))
	r.Use(middleware.CORS(
		cfg.CORS.AllowedOrigins,
		cfg.CORS.AllowedMethods,
		cfg.CORS.AllowCredentials,
	))

	// API v1
	v1 := r.Group("/api/v1")
	{
		authenticated := v1.Group("")
		authenticated.Use(middleware.JWTAuth(jwtService))
		if limiter != nil {
			authenticated.Use(limiter.Middleware())
		}

		// 房间接口
		rooms := authenticated.Group("/rooms")
		{
			rooms.POST("", roomHandler.Create)
			rooms.GET("/:code", roomHandler.Get)
			rooms.POST("/:code/join", roomHandler.Join)
			rooms.POST("/:code/leave", roomHandler.Leave)
			rooms.PUT("/:code/duration", roomHandler.SetDuration)
			rooms.POST("/:code/start", roomHandler.Start)
			rooms.POST("/:code/answers", roomHandler.Answer)
			rooms.POST("/:code/finish", roomHandler.Finish)
			rooms.GET("/:code/results", roomHandler.Results)
			rooms.GET("/:code/ws", streamHandler.Stream)
		}
	}

	return r
}
