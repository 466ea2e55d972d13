package models

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"time"
)

type DeviceType string

const (
	DeviceTypeButton   DeviceType = "button"
	DeviceTypeWearable DeviceType = "wearable"
	DeviceTypeMobile   DeviceType = "mobile_app"
	DeviceTypeIoT      DeviceType = "iot_device"
)

func (t DeviceType) Valid() bool {
	switch t {
	case DeviceTypeButton, DeviceTypeWearable, DeviceTypeMobile, DeviceTypeIoT:
		return true
	}
	return false
}

type DeviceStatus string

const (
	DeviceStatusActive      DeviceStatus = "active"
	DeviceStatusInactive    DeviceStatus = "inactive"
	DeviceStatusMaintenance DeviceStatus = "maintenance"
	DeviceStatusUnassigned  DeviceStatus = "unassigned"
)

func (s DeviceStatus) Valid() bool {
	switch s {
	case DeviceStatusActive, DeviceStatusInactive, DeviceStatusMaintenance, DeviceStatusUnassigned:
		return true
	}
	return false
}

// Device is one provisioned alert device. Devices authenticate trigger
// ingestion with a per-device token minted at provisioning; only the SHA-256
// digest of the token is stored.
type Device struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Type         DeviceType   `json:"type"`
	SerialNumber string       `json:"serial_number,omitempty"`
	TokenHash    string       `json:"-"`
	AssignedTo   string       `json:"assigned_to,omitempty"`
	Status       DeviceStatus `json:"status"`
	BatteryLevel int          `json:"battery_level"`
	LastPing     time.Time    `json:"last_ping"`
	Firmware     string       `json:"firmware_version,omitempty"`
	Notes        string       `json:"notes,omitempty"`
	CreatedBy    string       `json:"created_by"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// HashDeviceToken digests a provisioning token for storage. The cleartext
// token is returned to the admin exactly once at provisioning time.
func HashDeviceToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// VerifyToken compares a presented token against the stored digest in
// constant time.
func (d *Device) VerifyToken(token string) bool {
	presented := HashDeviceToken(token)
	return subtle.ConstantTimeCompare([]byte(presented), []byte(d.TokenHash)) == 1
}

type DeviceStats struct {
	Total       int64 `json:"total"`
	Active      int64 `json:"active"`
	Unassigned  int64 `json:"unassigned"`
	Maintenance int64 `json:"maintenance"`
	Inactive    int64 `json:"inactive"`
}
