// internal/handler/discovery_handler.go
package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"serial-device/internal/service"
	"serial-device/internal/utils"
)

// DiscoveryHandler handles device discovery requests
type DiscoveryHandler struct {
	deviceService *service.DeviceService
	logger        *utils.ServiceLogger
}

// NewDiscoveryHandler creates a new discovery handler
func NewDiscoveryHandler(deviceService *service.DeviceService, logger *zap.Logger) *DiscoveryHandler {
	return &DiscoveryHandler{
		deviceService: deviceService,
		logger:        utils.NewServiceLogger(logger, "discovery-handler"),
	}
}

// RegisterRoutes registers discovery routes
func (h *DiscoveryHandler) RegisterRoutes(router *gin.RouterGroup) {
	discovery := router.Group("/discovery")
	{
		discovery.POST("/scan", h.ScanDevices)
		discovery.GET("/ports", h.ListPorts)
	}
}

// ScanDevices rebuilds the device registry
// @Summary Scan for devices
// @Description Probe every candidate serial port and rebuild the registry
// @Tags Discovery
// @Produce json
// @Success 200 {object} utils.APIResponse{data=model.ScanResult} "Device scan completed"
// @Failure 409 {object} utils.APIResponse "A scan is already running"
// @Router /discovery/scan [post]
func (h *DiscoveryHandler) ScanDevices(c *gin.Context) {
	result, err := h.deviceService.Scan(c.Request.Context())
	if err != nil {
		status := statusForError(err)
		if status >= http.StatusInternalServerError {
			h.logger.Error("Failed to scan devices", zap.Error(err))
		}
		utils.ErrorResponse(c, status, "Failed to scan devices", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Device scan completed", result)
}

// ListPorts lists candidate ports without probing them
// @Summary List candidate ports
// @Tags Discovery
// @Produce json
// @Success 200 {object} utils.APIResponse{data=object{ports=[]model.PortView}} "Ports listed"
// @Failure 500 {object} utils.APIResponse "Enumeration failed"
// @Router /discovery/ports [get]
func (h *DiscoveryHandler) ListPorts(c *gin.Context) {
	ports, err := h.deviceService.ListPorts()
	if err != nil {
		h.logger.Error("Failed to list ports", zap.Error(err))
		utils.ErrorResponse(c, http.StatusInternalServerError, "Failed to list ports", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Ports listed", gin.H{
		"ports": ports,
		"count": len(ports),
	})
}
