package router

import (
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/SnakeO/gps-catcher/internal/api/handler"
	"github.com/SnakeO/gps-catcher/internal/api/middleware"
	"github.com/SnakeO/gps-catcher/internal/protocol"
)

type Handlers struct {
	Device    *handler.DeviceHandler
	Geofences *handler.GeofenceHandler
	Health    *handler.HealthHandler
}

// NewRouter wires the device endpoints, the decode API, the geofence
// triggers and the JWT protected geofence admin routes.
func NewRouter(h Handlers, jwtSecret string, logger logrus.FieldLogger) *gin.Engine {
	r := gin.New()
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestLogger(logger))

	r.GET("/healthz", h.Health.Handle)

	// Device endpoints
	r.POST("/globalstar/stu", h.Device.GlobalstarSTU)
	r.POST("/globalstar/prv", h.Device.GlobalstarPRV)
	r.POST("/gl200/msg", h.Device.Message(protocol.GL200))
	r.POST("/gl200/sms", h.Device.SMS)
	r.POST("/gl300/msg", h.Device.Message(protocol.GL300))
	r.POST("/spot_trace/msg", h.Device.Message(protocol.SpotTrace))
	r.POST("/gps306a/msg", h.Device.Message(protocol.GPS306A))
	r.POST("/xexun_tk1022/msg", h.Device.Message(protocol.TK1022))
	r.POST("/smart_bdgps/msg", h.Device.Message(protocol.SmartBDGPS))

	// Geofence triggers
	r.GET("/geofence/check", h.Geofences.Check)
	r.GET("/geofence/work", h.Geofences.Work)

	v1 := r.Group("/v1")
	v1.GET("/device/:device/decode", h.Device.Decode)
	v1.POST("/device/:device/decode", h.Device.Decode)

	fences := v1.Group("/geofences")
	fences.Use(middleware.RequireJWT(jwtSecret))
	{
		fences.POST("", h.Geofences.Create)
		fences.GET("", h.Geofences.List)
		fences.DELETE("/:id", h.Geofences.Delete)
		fences.GET("/:id/states", h.Geofences.States)
	}

	return r
}
