package device

import "errors"

var (
	// ErrDeviceNotFound is returned when a reference does not resolve.
	ErrDeviceNotFound = errors.New("device not found")
	// ErrScanInProgress is returned when Scan is called while another scan runs.
	ErrScanInProgress = errors.New("scan already in progress")
)
