package dto

import "time"

type ProvisionClientRequest struct {
	DeviceName  string `json:"device_name" binding:"required,min=1,max=63"`
	DeviceType  string `json:"device_type" binding:"required,oneof=windows macos linux android ios"`
	IPAddress   string `json:"ip_address"`
	CAName      string `json:"ca_name" binding:"required"`
	AutoConnect bool   `json:"auto_connect"`
}

type ProvisionClientResponse struct {
	Token       string    `json:"token"`
	DeviceName  string    `json:"device_name"`
	IPAddress   string    `json:"ip_address"`
	ExpiresAt   time.Time `json:"expires_at"`
	DownloadURL string    `json:"download_url"`
}
