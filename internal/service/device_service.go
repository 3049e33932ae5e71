// internal/service/device_service.go
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"serial-device/internal/config"
	"serial-device/internal/device"
	"serial-device/internal/metrics"
	"serial-device/internal/model"
	"serial-device/internal/protocol"
	"serial-device/internal/utils"
)

// EventPublisher receives device events
type EventPublisher interface {
	Publish(event model.DeviceEvent)
}

// DeviceService handles device management on top of the device manager.
// Transport calls on one device are serialized; a scan waits for in-flight
// device calls and blocks new ones until it finishes.
type DeviceService struct {
	manager *device.Manager
	metrics *metrics.Metrics
	events  EventPublisher
	config  config.DeviceConfig
	clock   clock.Clock
	logger  *utils.ServiceLogger

	scanMu     sync.RWMutex
	scanning   atomic.Bool
	lastScan   atomic.Pointer[time.Time]
	registered atomic.Int64

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewDeviceService creates a new device service instance
func NewDeviceService(
	manager *device.Manager,
	metrics *metrics.Metrics,
	events EventPublisher,
	config config.DeviceConfig,
	logger *zap.Logger,
) *DeviceService {
	return &DeviceService{
		manager: manager,
		metrics: metrics,
		events:  events,
		config:  config,
		clock:   clock.New(),
		logger:  utils.NewServiceLogger(logger, "device-service"),
		locks:   make(map[string]*sync.Mutex),
	}
}

// lock resolves name and serializes transport calls on it. Scans are held
// off until the returned unlock runs, so the lookup stays valid for the
// whole call.
func (ds *DeviceService) lock(name string) (func(), error) {
	ds.scanMu.RLock()
	if _, ok := ds.manager.Lookup(device.ByName(name)); !ok {
		ds.scanMu.RUnlock()
		return nil, fmt.Errorf("%w: %s", device.ErrDeviceNotFound, name)
	}

	ds.locksMu.Lock()
	mu, ok := ds.locks[name]
	if !ok {
		mu = &sync.Mutex{}
		ds.locks[name] = mu
	}
	ds.locksMu.Unlock()

	mu.Lock()
	return func() {
		mu.Unlock()
		ds.scanMu.RUnlock()
	}, nil
}

func (ds *DeviceService) publish(eventType model.EventType, name, severity string, data map[string]interface{}) {
	if ds.events == nil {
		return
	}
	ds.events.Publish(model.NewDeviceEvent(eventType, name, severity, data))
}

// Scan rebuilds the registry. A scan requested while another is running
// fails with device.ErrScanInProgress.
func (ds *DeviceService) Scan(ctx context.Context) (*model.ScanResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !ds.scanning.CompareAndSwap(false, true) {
		ds.metrics.ObserveScan(0, 0, device.ErrScanInProgress)
		return nil, device.ErrScanInProgress
	}
	defer ds.scanning.Store(false)

	opLogger := utils.NewOperationLogger(ds.logger.Logger, "scan", uuid.NewString())
	opLogger.Start(zap.String("id_prefix", ds.config.IDPrefix))

	ds.scanMu.Lock()
	start := time.Now()
	names, err := ds.manager.Scan()
	elapsed := time.Since(start)
	ds.scanMu.Unlock()

	ds.metrics.ObserveScan(elapsed, len(names), err)
	if err != nil {
		opLogger.Error(err)
		return nil, fmt.Errorf("scan failed: %w", err)
	}

	now := time.Now()
	ds.lastScan.Store(&now)
	ds.registered.Store(int64(len(names)))
	opLogger.Success(zap.Strings("devices", names))

	if names == nil {
		names = []string{}
	}
	ds.publish(model.EventScanCompleted, "", model.SeverityInfo, map[string]interface{}{
		"devices":     names,
		"duration_ms": elapsed.Milliseconds(),
	})

	return &model.ScanResult{
		Devices:    names,
		Count:      len(names),
		DurationMS: elapsed.Milliseconds(),
		ScannedAt:  now,
	}, nil
}

// Run performs the startup scan and the periodic rescan configured for the
// service. It returns when ctx is cancelled.
func (ds *DeviceService) Run(ctx context.Context) {
	if ds.config.ScanOnStart {
		if _, err := ds.Scan(ctx); err != nil {
			ds.logger.Warn("Initial scan failed", zap.Error(err))
		}
	}

	if ds.config.RescanInterval <= 0 {
		return
	}

	ticker := ds.clock.Ticker(ds.config.RescanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := ds.Scan(ctx); err != nil && !errors.Is(err, device.ErrScanInProgress) {
				ds.logger.Warn("Periodic rescan failed", zap.Error(err))
			}
		}
	}
}

// ListPorts returns the candidate ports in probe order
func (ds *DeviceService) ListPorts() ([]model.PortView, error) {
	ports, err := ds.manager.Ports()
	if err != nil {
		return nil, err
	}
	views := make([]model.PortView, 0, len(ports))
	for i, p := range ports {
		views = append(views, model.PortView{Order: i, PortInfo: p})
	}
	return views, nil
}

// ListDevices returns every registered device sorted by name
func (ds *DeviceService) ListDevices() []model.DeviceView {
	ds.scanMu.RLock()
	defer ds.scanMu.RUnlock()

	records := ds.manager.Records()
	views := make([]model.DeviceView, 0, len(records))
	for _, rec := range records {
		views = append(views, model.NewDeviceView(rec))
	}
	return views
}

// GetDevice returns one registered device
func (ds *DeviceService) GetDevice(name string) (*model.DeviceView, error) {
	ds.scanMu.RLock()
	defer ds.scanMu.RUnlock()

	rec, ok := ds.manager.Lookup(device.ByName(name))
	if !ok {
		return nil, fmt.Errorf("%w: %s", device.ErrDeviceNotFound, name)
	}
	view := model.NewDeviceView(rec)
	return &view, nil
}

// OpenDevice opens a device and reports whether it is open afterwards
func (ds *DeviceService) OpenDevice(name string) (*model.OpenState, error) {
	unlock, err := ds.lock(name)
	if err != nil {
		return nil, err
	}
	defer unlock()

	open := ds.manager.Open(device.ByName(name))
	ds.metrics.ObserveLifecycle("open", open)

	severity := model.SeverityInfo
	if !open {
		severity = model.SeverityWarning
	}
	ds.publish(model.EventDeviceOpened, name, severity, map[string]interface{}{"open": open})

	return &model.OpenState{Name: name, Open: open}, nil
}

// CloseDevice closes a device and reports whether it is open afterwards
func (ds *DeviceService) CloseDevice(name string) (*model.OpenState, error) {
	unlock, err := ds.lock(name)
	if err != nil {
		return nil, err
	}
	defer unlock()

	closed := ds.manager.Close(device.ByName(name))
	ds.metrics.ObserveLifecycle("close", closed)
	ds.publish(model.EventDeviceClosed, name, model.SeverityInfo, map[string]interface{}{"open": !closed})

	return &model.OpenState{Name: name, Open: !closed}, nil
}

// Send writes one frame to an open device
func (ds *DeviceService) Send(name, payload string) (*model.SendResult, error) {
	unlock, err := ds.lock(name)
	if err != nil {
		return nil, err
	}
	defer unlock()

	sent, err := ds.manager.Send(device.ByName(name), payload)
	ds.metrics.ObserveSend(sent, err)
	if err != nil {
		return nil, fmt.Errorf("send to %s: %w", name, err)
	}
	return &model.SendResult{Name: name, Sent: sent}, nil
}

// Recv reads one frame from a device
func (ds *DeviceService) Recv(name string) (*model.RecvResult, error) {
	unlock, err := ds.lock(name)
	if err != nil {
		return nil, err
	}
	defer unlock()

	res := ds.manager.RecvResult(device.ByName(name))
	ds.metrics.ObserveRecv(res.Status)
	return newRecvResult(name, res), nil
}

func newRecvResult(name string, res protocol.RecvResult) *model.RecvResult {
	out := &model.RecvResult{
		Name:    name,
		Status:  res.Status.String(),
		Payload: res.Payload,
	}
	if res.Err != nil {
		out.Error = res.Err.Error()
	}
	return out
}

// Command sends payload and returns the device's reply. With flush set,
// stale input is discarded first.
func (ds *DeviceService) Command(name, payload string, flush bool) (*model.CommandResult, error) {
	unlock, err := ds.lock(name)
	if err != nil {
		return nil, err
	}
	defer unlock()

	ref := device.ByName(name)
	opLogger := utils.NewOperationLogger(ds.logger.Logger, "command", uuid.NewString())
	opLogger.Start(zap.String("device", name), zap.Bool("flush", flush))

	start := time.Now()
	if flush {
		ds.manager.Flush(ref)
	}

	sent, err := ds.manager.Send(ref, payload)
	ds.metrics.ObserveSend(sent, err)
	if err != nil {
		opLogger.Error(err, zap.String("device", name))
		return nil, fmt.Errorf("command to %s: %w", name, err)
	}

	var reply string
	if sent {
		res := ds.manager.RecvResult(ref)
		ds.metrics.ObserveRecv(res.Status)
		if res.Status != protocol.RecvFault {
			reply = res.Payload
		}
	}
	elapsed := time.Since(start)
	opLogger.Success(zap.String("device", name), zap.Bool("sent", sent))

	ds.publish(model.EventDeviceCommand, name, model.SeverityInfo, map[string]interface{}{
		"payload":     payload,
		"reply":       reply,
		"sent":        sent,
		"duration_ms": elapsed.Milliseconds(),
	})

	return &model.CommandResult{
		Name:       name,
		Payload:    payload,
		Reply:      reply,
		DurationMS: elapsed.Milliseconds(),
	}, nil
}

// Flush discards pending I/O on a device
func (ds *DeviceService) Flush(name string) error {
	unlock, err := ds.lock(name)
	if err != nil {
		return err
	}
	defer unlock()

	ds.manager.Flush(device.ByName(name))
	return nil
}

// Status summarizes the registry for health checks. It does not wait for a
// running scan: the device count of the last completed scan is reported
// instead and no device is open.
func (ds *DeviceService) Status() model.ServiceStatus {
	status := model.ServiceStatus{Scanning: ds.scanning.Load()}

	if ds.scanMu.TryRLock() {
		records := ds.manager.Records()
		status.Devices = len(records)
		for _, rec := range records {
			if rec.Channel.IsOpen() {
				status.OpenDevices++
			}
		}
		ds.scanMu.RUnlock()
	} else {
		status.Scanning = true
		status.Devices = int(ds.registered.Load())
	}

	if last := ds.lastScan.Load(); last != nil {
		t := *last
		status.LastScan = &t
	}
	status.Ready = !ds.config.ScanOnStart || status.LastScan != nil
	return status
}

// Shutdown closes every open device
func (ds *DeviceService) Shutdown() error {
	ds.scanMu.Lock()
	defer ds.scanMu.Unlock()
	return ds.manager.Shutdown()
}
