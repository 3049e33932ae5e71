// internal/handler/device_handler.go
package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"serial-device/internal/device"
	"serial-device/internal/model"
	"serial-device/internal/protocol"
	"serial-device/internal/service"
	"serial-device/internal/utils"
)

// DeviceHandler handles device-related HTTP requests
type DeviceHandler struct {
	deviceService *service.DeviceService
	logger        *utils.ServiceLogger
}

// NewDeviceHandler creates a new device handler
func NewDeviceHandler(deviceService *service.DeviceService, logger *zap.Logger) *DeviceHandler {
	return &DeviceHandler{
		deviceService: deviceService,
		logger:        utils.NewServiceLogger(logger, "device-handler"),
	}
}

// RegisterRoutes registers device-related routes
func (h *DeviceHandler) RegisterRoutes(router *gin.RouterGroup) {
	devices := router.Group("/devices")
	{
		devices.GET("", h.ListDevices)

		deviceRoutes := devices.Group("/:name")
		{
			deviceRoutes.GET("", h.GetDevice)
			deviceRoutes.POST("/open", h.OpenDevice)
			deviceRoutes.POST("/close", h.CloseDevice)
			deviceRoutes.POST("/send", h.Send)
			deviceRoutes.GET("/recv", h.Recv)
			deviceRoutes.POST("/cmd", h.Command)
			deviceRoutes.POST("/flush", h.Flush)
		}
	}
}

// statusForError maps service errors onto HTTP status codes
func statusForError(err error) int {
	switch {
	case errors.Is(err, device.ErrDeviceNotFound):
		return http.StatusNotFound
	case errors.Is(err, device.ErrScanInProgress):
		return http.StatusConflict
	case errors.Is(err, protocol.ErrWriteTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (h *DeviceHandler) fail(c *gin.Context, message string, err error) {
	status := statusForError(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(message,
			zap.String("device", c.Param("name")),
			zap.Error(err),
		)
	}
	utils.ErrorResponse(c, status, message, err)
}

// ListDevices lists the registered devices
// @Summary List devices
// @Tags Devices
// @Produce json
// @Success 200 {object} utils.APIResponse{data=[]model.DeviceView} "Devices retrieved successfully"
// @Router /devices [get]
func (h *DeviceHandler) ListDevices(c *gin.Context) {
	devices := h.deviceService.ListDevices()
	utils.SuccessResponse(c, http.StatusOK, "Devices retrieved successfully", gin.H{
		"devices": devices,
		"count":   len(devices),
	})
}

// GetDevice returns one registered device
// @Summary Get device
// @Tags Devices
// @Produce json
// @Param name path string true "Device name"
// @Success 200 {object} utils.APIResponse{data=model.DeviceView} "Device retrieved successfully"
// @Failure 404 {object} utils.APIResponse "Device not found"
// @Router /devices/{name} [get]
func (h *DeviceHandler) GetDevice(c *gin.Context) {
	view, err := h.deviceService.GetDevice(c.Param("name"))
	if err != nil {
		h.fail(c, "Device not found", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Device retrieved successfully", view)
}

// OpenDevice opens a device's channel
// @Summary Open device
// @Tags Devices
// @Produce json
// @Param name path string true "Device name"
// @Success 200 {object} utils.APIResponse{data=model.OpenState}
// @Failure 404 {object} utils.APIResponse "Device not found"
// @Router /devices/{name}/open [post]
func (h *DeviceHandler) OpenDevice(c *gin.Context) {
	state, err := h.deviceService.OpenDevice(c.Param("name"))
	if err != nil {
		h.fail(c, "Failed to open device", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Open completed", state)
}

// CloseDevice closes a device's channel
// @Summary Close device
// @Tags Devices
// @Produce json
// @Param name path string true "Device name"
// @Success 200 {object} utils.APIResponse{data=model.OpenState}
// @Failure 404 {object} utils.APIResponse "Device not found"
// @Router /devices/{name}/close [post]
func (h *DeviceHandler) CloseDevice(c *gin.Context) {
	state, err := h.deviceService.CloseDevice(c.Param("name"))
	if err != nil {
		h.fail(c, "Failed to close device", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Close completed", state)
}

// Send writes one frame
// @Summary Send frame
// @Tags Devices
// @Accept json
// @Produce json
// @Param name path string true "Device name"
// @Param request body model.SendRequest true "Frame payload"
// @Success 200 {object} utils.APIResponse{data=model.SendResult}
// @Failure 404 {object} utils.APIResponse "Device not found"
// @Failure 504 {object} utils.APIResponse "Write timed out"
// @Router /devices/{name}/send [post]
func (h *DeviceHandler) Send(c *gin.Context) {
	var req model.SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	result, err := h.deviceService.Send(c.Param("name"), req.Payload)
	if err != nil {
		h.fail(c, "Failed to send frame", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Send completed", result)
}

// Recv reads one frame
// @Summary Receive frame
// @Tags Devices
// @Produce json
// @Param name path string true "Device name"
// @Success 200 {object} utils.APIResponse{data=model.RecvResult}
// @Failure 404 {object} utils.APIResponse "Device not found"
// @Router /devices/{name}/recv [get]
func (h *DeviceHandler) Recv(c *gin.Context) {
	result, err := h.deviceService.Recv(c.Param("name"))
	if err != nil {
		h.fail(c, "Failed to receive frame", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Receive completed", result)
}

// Command sends a frame and returns the reply
// @Summary Run command
// @Tags Devices
// @Accept json
// @Produce json
// @Param name path string true "Device name"
// @Param request body model.CommandRequest true "Command"
// @Success 200 {object} utils.APIResponse{data=model.CommandResult}
// @Failure 404 {object} utils.APIResponse "Device not found"
// @Failure 504 {object} utils.APIResponse "Write timed out"
// @Router /devices/{name}/cmd [post]
func (h *DeviceHandler) Command(c *gin.Context) {
	var req model.CommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	result, err := h.deviceService.Command(c.Param("name"), req.Payload, req.Flush)
	if err != nil {
		h.fail(c, "Command failed", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Command completed", result)
}

// Flush discards pending I/O
// @Summary Flush device buffers
// @Tags Devices
// @Produce json
// @Param name path string true "Device name"
// @Success 200 {object} utils.APIResponse
// @Failure 404 {object} utils.APIResponse "Device not found"
// @Router /devices/{name}/flush [post]
func (h *DeviceHandler) Flush(c *gin.Context) {
	name := c.Param("name")
	if err := h.deviceService.Flush(name); err != nil {
		h.fail(c, "Failed to flush device", err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Flush completed", gin.H{"name": name})
}
