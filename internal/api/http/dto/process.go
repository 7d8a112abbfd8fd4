package dto

import "time"

type StartProcessRequest struct {
	ConfigName string `json:"config_name" binding:"required,min=1,max=63"`
	Config     string `json:"config" binding:"required"`
}

type StartProcessResponse struct {
	ConfigName string    `json:"config_name"`
	PID        int       `json:"pid"`
	StartedAt  time.Time `json:"started_at"`
}

type StopProcessResponse struct {
	ConfigName string    `json:"config_name"`
	StoppedAt  time.Time `json:"stopped_at"`
}

type StopAllEntry struct {
	ConfigName string `json:"config_name"`
	Stopped    bool   `json:"stopped"`
	Error      string `json:"error,omitempty"`
}

type StopAllResponse struct {
	Results []StopAllEntry `json:"results"`
}
