package control

import "encoding/json"

// Message type constants. Requests without a dedicated response type are
// answered with the generic "ok" message.
const (
	// Connection lifecycle
	MessageTypePing  = "ping"
	MessageTypePong  = "pong"
	MessageTypeOK    = "ok"
	MessageTypeError = "error"

	// Daemon
	MessageTypeStatus         = "status"
	MessageTypeStatusResponse = "status_response"

	// Repositories
	MessageTypeRepoCreate        = "repo_create"
	MessageTypeRepoList          = "repo_list"
	MessageTypeRepoListResponse  = "repo_list_response"
	MessageTypeRepoGet           = "repo_get"
	MessageTypeRepoResponse      = "repo_response"
	MessageTypeRepoResync        = "repo_resync"
	MessageTypeRepoSetCredential = "repo_set_credential"
	MessageTypeRepoDelete        = "repo_delete"

	// Workspaces
	MessageTypeWorkspaceCreate       = "workspace_create"
	MessageTypeWorkspaceList         = "workspace_list"
	MessageTypeWorkspaceListResponse = "workspace_list_response"
	MessageTypeWorkspaceResponse     = "workspace_response"
	MessageTypeWorkspaceDelete       = "workspace_delete"
	MessageTypeWorkspaceAttach       = "workspace_attach"
	MessageTypeAttachResponse        = "attach_response"
	MessageTypeWorkspaceDetach       = "workspace_detach"

	// Credentials
	MessageTypeCredentialCreate       = "credential_create"
	MessageTypeCredentialList         = "credential_list"
	MessageTypeCredentialListResponse = "credential_list_response"
	MessageTypeCredentialResponse     = "credential_response"
	MessageTypeCredentialUpdate       = "credential_update_secret"
	MessageTypeCredentialSetDefault   = "credential_set_default"
	MessageTypeCredentialDelete       = "credential_delete"
	MessageTypeKeypairGenerate        = "keypair_generate"
	MessageTypeKeypairResponse        = "keypair_response"

	// Worktree Git operations
	MessageTypeGitStatus         = "git_status"
	MessageTypeGitStatusResponse = "git_status_response"
	MessageTypeGitStage          = "git_stage"
	MessageTypeGitUnstage        = "git_unstage"
	MessageTypeGitDiscard        = "git_discard"
	MessageTypeGitCommit         = "git_commit"
	MessageTypeGitPush           = "git_push"
	MessageTypeGitPull           = "git_pull"
	MessageTypeGitSwitchBranch   = "git_switch_branch"
	MessageTypeIdentityGet       = "identity_get"
	MessageTypeIdentityResponse  = "identity_response"
	MessageTypeIdentitySet       = "identity_set"
)

// Error code constants; clients branch on these, not on message text.
const (
	ErrCodeNotFound = "not_found"
	ErrCodeConflict = "conflict"
	ErrCodeInvalid  = "invalid"
	ErrCodeAuth     = "auth"
	ErrCodeInternal = "internal"
)

// BaseMessage is the envelope of every request and response on the socket,
// one JSON document per line.
type BaseMessage struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     *ErrorInfo      `json:"error,omitempty"`
}

// ErrorInfo carries a classified failure back to the client.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// RepoCreateRequest registers a new repository.
type RepoCreateRequest struct {
	URL          string  `json:"url"`
	CredentialID *string `json:"credential_id,omitempty"`
}

// RepoRef addresses an existing repository.
type RepoRef struct {
	ID string `json:"id"`
}

// RepoSetCredentialRequest rebinds a repository's credential; a nil
// CredentialID unbinds.
type RepoSetCredentialRequest struct {
	ID           string  `json:"id"`
	CredentialID *string `json:"credential_id"`
}

// RepoInfo is the wire representation of a repository record.
type RepoInfo struct {
	ID            string  `json:"id"`
	URL           string  `json:"url"`
	CredentialID  *string `json:"credential_id,omitempty"`
	DefaultBranch *string `json:"default_branch,omitempty"`
	SyncStatus    string  `json:"sync_status"`
	SyncError     *string `json:"sync_error,omitempty"`
	LastSyncAt    *int64  `json:"last_sync_at,omitempty"`
	CreatedAt     int64   `json:"created_at"`
	UpdatedAt     int64   `json:"updated_at"`
}

// RepoListResponse lists all repositories.
type RepoListResponse struct {
	Repos []RepoInfo `json:"repos"`
}

// WorkspaceCreateRequest makes a new workspace.
type WorkspaceCreateRequest struct {
	Title string `json:"title"`
}

// WorkspaceInfo is the wire representation of a workspace with its
// attachments.
type WorkspaceInfo struct {
	ID       string           `json:"id"`
	Title    string           `json:"title"`
	RootPath string           `json:"root_path"`
	Repos    []AttachmentInfo `json:"repos,omitempty"`
}

// AttachmentInfo describes one attached repository directory.
type AttachmentInfo struct {
	RepoID  string `json:"repo_id"`
	DirName string `json:"dir_name"`
}

// WorkspaceListResponse lists all workspaces.
type WorkspaceListResponse struct {
	Workspaces []WorkspaceInfo `json:"workspaces"`
}

// WorkspaceRef addresses an existing workspace.
type WorkspaceRef struct {
	ID string `json:"id"`
}

// AttachRequest checks a repository out into a workspace.
type AttachRequest struct {
	WorkspaceID string `json:"workspace_id"`
	RepoID      string `json:"repo_id"`
	DirName     string `json:"dir_name,omitempty"`
	Branch      string `json:"branch,omitempty"`
}

// AttachResponse reports the resulting directory name.
type AttachResponse struct {
	DirName string `json:"dir_name"`
}

// DetachRequest removes an attachment.
type DetachRequest struct {
	WorkspaceID string `json:"workspace_id"`
	DirName     string `json:"dir_name"`
}

// CredentialCreateRequest stores a new credential.
type CredentialCreateRequest struct {
	Host      string  `json:"host"`
	Kind      string  `json:"kind"`
	Label     *string `json:"label,omitempty"`
	Username  *string `json:"username,omitempty"`
	Secret    string  `json:"secret"`
	IsDefault bool    `json:"is_default,omitempty"`
}

// CredentialRef addresses an existing credential.
type CredentialRef struct {
	ID string `json:"id"`
}

// CredentialUpdateRequest replaces a credential's secret.
type CredentialUpdateRequest struct {
	ID     string `json:"id"`
	Secret string `json:"secret"`
}

// KeypairGenerateRequest mints an ed25519 deploy key and stores the private
// half as an ssh credential for Host.
type KeypairGenerateRequest struct {
	Host      string  `json:"host"`
	Label     *string `json:"label,omitempty"`
	Comment   string  `json:"comment,omitempty"`
	IsDefault bool    `json:"is_default,omitempty"`
}

// KeypairResponse returns the public key for upload to the forge.
type KeypairResponse struct {
	CredentialID string `json:"credential_id"`
	PublicKey    string `json:"public_key"`
}

// WorktreeRef addresses an attached worktree.
type WorktreeRef struct {
	WorkspaceID string `json:"workspace_id"`
	DirName     string `json:"dir_name"`
}

// GitPathsRequest is a worktree operation over a path list; an empty list
// means all paths.
type GitPathsRequest struct {
	WorktreeRef
	Paths []string `json:"paths,omitempty"`
}

// GitCommitRequest records staged changes.
type GitCommitRequest struct {
	WorktreeRef
	Message string `json:"message"`
	// Name/Email, when both set, apply for this commit only.
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

// GitPushRequest publishes the current branch.
type GitPushRequest struct {
	WorktreeRef
	ForceWithLease bool `json:"force_with_lease,omitempty"`
}

// GitSwitchBranchRequest moves the worktree to another branch.
type GitSwitchBranchRequest struct {
	WorktreeRef
	Branch string `json:"branch"`
}

// IdentityResponse reports the effective commit identity and its source.
type IdentityResponse struct {
	Name   string `json:"name,omitempty"`
	Email  string `json:"email,omitempty"`
	Source string `json:"source"`
}

// IdentitySetRequest writes a repository-local commit identity.
type IdentitySetRequest struct {
	WorktreeRef
	Name  string `json:"name"`
	Email string `json:"email"`
}

// StatusResponse describes the running daemon.
type StatusResponse struct {
	Version           string `json:"version"`
	DataDir           string `json:"data_dir"`
	KeyProvenance     string `json:"key_provenance"`
	KeyFingerprint    string `json:"key_fingerprint"`
	Repositories      int    `json:"repositories"`
	Workspaces        int    `json:"workspaces"`
	ActiveConnections int    `json:"active_connections"`
}
