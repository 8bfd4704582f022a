package models

// Role of a chat turn
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Turn is one message of a chat history
type Turn struct {
	Role Role
	Text string
}

// GenerateRequest is a single generation call with optional attached remote files
type GenerateRequest struct {
	System      string
	History     []Turn
	Prompt      string
	Files       []RemoteFile
	Temperature float64
}
