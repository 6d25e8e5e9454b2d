package store

// SyncStatus is the repository mirror synchronization state.
type SyncStatus string

const (
	SyncIdle    SyncStatus = "idle"
	SyncSyncing SyncStatus = "syncing"
	SyncFailed  SyncStatus = "failed"
)

// CredentialKind identifies the transport a credential authenticates.
type CredentialKind string

const (
	KindHTTPS CredentialKind = "https"
	KindSSH   CredentialKind = "ssh"
)

// Repository is a remote Git repository tracked as a local bare mirror.
type Repository struct {
	ID            string
	URL           string
	CredentialID  *string
	DefaultBranch *string
	MirrorPath    string
	SyncStatus    SyncStatus
	SyncError     *string
	LastSyncAt    *int64
	CreatedAt     int64
	UpdatedAt     int64
}

// Credential is a stored remote authentication secret. SecretEnc is the
// encrypted envelope; the plaintext never touches the store.
type Credential struct {
	ID        string
	Host      string
	Kind      CredentialKind
	Label     *string
	Username  *string
	SecretEnc string
	IsDefault bool
	CreatedAt int64
	UpdatedAt int64
}

// Workspace is a logical container of repository checkouts.
type Workspace struct {
	ID                   string
	Title                string
	RootPath             string
	TerminalCredentialID *string
	CreatedAt            int64
	UpdatedAt            int64
}

// WorkspaceRepo binds a repository to a workspace under a directory name.
// (WorkspaceID, DirName) is unique.
type WorkspaceRepo struct {
	ID          string
	WorkspaceID string
	RepoID      string
	DirName     string
	CreatedAt   int64
	UpdatedAt   int64
}
