package dto

import "time"

type CreateAccountRequest struct {
	Email          string `json:"email" binding:"required"`
	DisplayName    string `json:"displayName"`
	Protocol       string `json:"protocol" binding:"required"`
	CredentialsRef string `json:"credentialsRef" binding:"required"`
	ServerHost     string `json:"serverHost" binding:"required"`
	ServerPort     int    `json:"serverPort"`
	ServerTLS      *bool  `json:"serverTls"`
	TLSPinSHA256   string `json:"tlsPinSha256"`
}

type UpdateCredentialsRequest struct {
	CredentialsRef string `json:"credentialsRef" binding:"required"`
	TLSPinSHA256   string `json:"tlsPinSha256"`
}

type EventRequest struct {
	Subject   string    `json:"subject"`
	Location  string    `json:"location"`
	Body      string    `json:"body"`
	StartsAt  time.Time `json:"startsAt" binding:"required"`
	EndsAt    time.Time `json:"endsAt" binding:"required"`
	AllDay    bool      `json:"allDay"`
	Attendees []string  `json:"attendees"`
}

type NoteRequest struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

type BatchIDsRequest struct {
	ServerIDs []string `json:"serverIds" binding:"required"`
}

type BatchMessagesRequest struct {
	FolderServerID string   `json:"folderServerId" binding:"required"`
	ServerIDs      []string `json:"serverIds" binding:"required"`
}

type BatchResponse struct {
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}
