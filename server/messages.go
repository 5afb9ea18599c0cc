package server

// Inbound message types.
const (
	msgAttach        = "attach"
	msgInput         = "input"
	msgResize        = "resize"
	msgCommitChanges = "commit-changes"
	msgPushChanges   = "push-changes"
)

// Outbound message types.
const (
	msgAttached              = "attached"
	msgOutput                = "output"
	msgContainerDisconnected = "container-disconnected"
	msgError                 = "error"
	msgSyncComplete          = "sync-complete"
	msgSyncError             = "sync-error"
	msgCommitSuccess         = "commit-success"
	msgCommitError           = "commit-error"
	msgPushSuccess           = "push-success"
	msgPushError             = "push-error"
)

// inboundMessage is the envelope for everything a viewer sends. Terminal
// bytes travel base64-encoded in Data.
type inboundMessage struct {
	Type          string `json:"type"`
	ContainerID   string `json:"containerId,omitempty"`
	Data          string `json:"data,omitempty"`
	Cols          uint   `json:"cols,omitempty"`
	Rows          uint   `json:"rows,omitempty"`
	CommitMessage string `json:"commitMessage,omitempty"`
	BranchName    string `json:"branchName,omitempty"`
}

// outboundMessage is the envelope for everything sent to a viewer.
type outboundMessage struct {
	Type        string `json:"type"`
	ContainerID string `json:"containerId,omitempty"`
	Data        string `json:"data,omitempty"`
	Message     string `json:"message,omitempty"`
	HasChanges  *bool  `json:"hasChanges,omitempty"`
	Summary     string `json:"summary,omitempty"`
	DiffData    string `json:"diffData,omitempty"`
}
