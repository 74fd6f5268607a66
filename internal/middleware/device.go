package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// DeviceMiddleware берет id устройства из X-Device-ID; без валидного UUID генерирует новый.
// Id уходит в presence как currentDevice.
func DeviceMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		deviceID := c.GetHeader("X-Device-ID")

		if deviceID != "" {
			if _, err := uuid.Parse(deviceID); err != nil {
				deviceID = ""
			}
		}

		if deviceID == "" {
			deviceID = uuid.New().String()
		}

		c.Set(ContextDeviceID, deviceID)

		// клиент сохраняет и присылает его дальше
		c.Header("X-Device-ID", deviceID)

		c.Next()
	}
}

func DeviceID(c *gin.Context) string {
	return c.GetString(ContextDeviceID)
}
