package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/codefionn/gitspace/internal/credentials"
	"github.com/codefionn/gitspace/internal/gitrepo"
	"github.com/codefionn/gitspace/internal/store"
)

func credentialsParams(req CredentialCreateRequest) credentials.CreateParams {
	return credentials.CreateParams{
		Host:      req.Host,
		Kind:      store.CredentialKind(req.Kind),
		Label:     req.Label,
		Username:  req.Username,
		Secret:    req.Secret,
		IsDefault: req.IsDefault,
	}
}

func keypairParams(req KeypairGenerateRequest, privateKey string) credentials.CreateParams {
	return credentials.CreateParams{
		Host:      req.Host,
		Kind:      store.KindSSH,
		Label:     req.Label,
		Secret:    privateKey,
		IsDefault: req.IsDefault,
	}
}

func okMessage() *BaseMessage {
	return &BaseMessage{Type: MessageTypeOK}
}

func respond(msgType string, payload any) (*BaseMessage, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &BaseMessage{Type: msgType, Data: data}, nil
}

func decode[T any](data json.RawMessage) (T, error) {
	var req T
	if len(data) == 0 {
		return req, errors.New("missing request data")
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return req, fmt.Errorf("malformed request data: %w", err)
	}
	return req, nil
}

func (s *Server) handlePing(ctx context.Context, data json.RawMessage) (*BaseMessage, error) {
	return &BaseMessage{Type: MessageTypePong}, nil
}

func (s *Server) handleStatus(ctx context.Context, data json.RawMessage) (*BaseMessage, error) {
	repos, err := s.deps.Store.ListRepos()
	if err != nil {
		return nil, err
	}
	workspaces, err := s.deps.Store.ListWorkspaces()
	if err != nil {
		return nil, err
	}
	s.connMu.Lock()
	conns := len(s.conns)
	s.connMu.Unlock()
	return respond(MessageTypeStatusResponse, StatusResponse{
		Version:           s.deps.Version,
		DataDir:           s.deps.DataDir,
		KeyProvenance:     string(s.deps.Vault.Provenance()),
		KeyFingerprint:    s.deps.Vault.Fingerprint(),
		Repositories:      len(repos),
		Workspaces:        len(workspaces),
		ActiveConnections: conns,
	})
}

func repoInfo(r *store.Repository) RepoInfo {
	return RepoInfo{
		ID:            r.ID,
		URL:           r.URL,
		CredentialID:  r.CredentialID,
		DefaultBranch: r.DefaultBranch,
		SyncStatus:    string(r.SyncStatus),
		SyncError:     r.SyncError,
		LastSyncAt:    r.LastSyncAt,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

func (s *Server) handleRepoCreate(ctx context.Context, data json.RawMessage) (*BaseMessage, error) {
	req, err := decode[RepoCreateRequest](data)
	if err != nil {
		return nil, err
	}
	repo, err := s.deps.Repos.Create(ctx, req.URL, req.CredentialID)
	if err != nil {
		return nil, err
	}
	return respond(MessageTypeRepoResponse, repoInfo(repo))
}

func (s *Server) handleRepoList(ctx context.Context, data json.RawMessage) (*BaseMessage, error) {
	repos, err := s.deps.Store.ListRepos()
	if err != nil {
		return nil, err
	}
	out := RepoListResponse{Repos: make([]RepoInfo, 0, len(repos))}
	for _, r := range repos {
		out.Repos = append(out.Repos, repoInfo(r))
	}
	return respond(MessageTypeRepoListResponse, out)
}

func (s *Server) handleRepoGet(ctx context.Context, data json.RawMessage) (*BaseMessage, error) {
	req, err := decode[RepoRef](data)
	if err != nil {
		return nil, err
	}
	repo, err := s.deps.Store.GetRepo(req.ID)
	if err != nil {
		return nil, err
	}
	return respond(MessageTypeRepoResponse, repoInfo(repo))
}

func (s *Server) handleRepoResync(ctx context.Context, data json.RawMessage) (*BaseMessage, error) {
	req, err := decode[RepoRef](data)
	if err != nil {
		return nil, err
	}
	if err := s.deps.Repos.Resync(ctx, req.ID); err != nil {
		return nil, err
	}
	return okMessage(), nil
}

func (s *Server) handleRepoSetCredential(ctx context.Context, data json.RawMessage) (*BaseMessage, error) {
	req, err := decode[RepoSetCredentialRequest](data)
	if err != nil {
		return nil, err
	}
	if err := s.deps.Repos.SetCredential(ctx, req.ID, req.CredentialID); err != nil {
		return nil, err
	}
	return okMessage(), nil
}

func (s *Server) handleRepoDelete(ctx context.Context, data json.RawMessage) (*BaseMessage, error) {
	req, err := decode[RepoRef](data)
	if err != nil {
		return nil, err
	}
	if err := s.deps.Repos.Delete(ctx, req.ID); err != nil {
		return nil, err
	}
	return okMessage(), nil
}

func (s *Server) workspaceInfo(w *store.Workspace) (WorkspaceInfo, error) {
	info := WorkspaceInfo{ID: w.ID, Title: w.Title, RootPath: w.RootPath}
	assocs, err := s.deps.Store.ListWorkspaceRepos(w.ID)
	if err != nil {
		return info, err
	}
	for _, a := range assocs {
		info.Repos = append(info.Repos, AttachmentInfo{RepoID: a.RepoID, DirName: a.DirName})
	}
	return info, nil
}

func (s *Server) handleWorkspaceCreate(ctx context.Context, data json.RawMessage) (*BaseMessage, error) {
	req, err := decode[WorkspaceCreateRequest](data)
	if err != nil {
		return nil, err
	}
	ws, err := s.deps.Work.Create(ctx, req.Title)
	if err != nil {
		return nil, err
	}
	info, err := s.workspaceInfo(ws)
	if err != nil {
		return nil, err
	}
	return respond(MessageTypeWorkspaceResponse, info)
}

func (s *Server) handleWorkspaceList(ctx context.Context, data json.RawMessage) (*BaseMessage, error) {
	workspaces, err := s.deps.Store.ListWorkspaces()
	if err != nil {
		return nil, err
	}
	out := WorkspaceListResponse{Workspaces: make([]WorkspaceInfo, 0, len(workspaces))}
	for _, w := range workspaces {
		info, err := s.workspaceInfo(w)
		if err != nil {
			return nil, err
		}
		out.Workspaces = append(out.Workspaces, info)
	}
	return respond(MessageTypeWorkspaceListResponse, out)
}

func (s *Server) handleWorkspaceDelete(ctx context.Context, data json.RawMessage) (*BaseMessage, error) {
	req, err := decode[WorkspaceRef](data)
	if err != nil {
		return nil, err
	}
	if err := s.deps.Work.Delete(ctx, req.ID); err != nil {
		return nil, err
	}
	return okMessage(), nil
}

func (s *Server) handleAttach(ctx context.Context, data json.RawMessage) (*BaseMessage, error) {
	req, err := decode[AttachRequest](data)
	if err != nil {
		return nil, err
	}
	assoc, err := s.deps.Work.Attach(ctx, req.WorkspaceID, req.RepoID, req.DirName, req.Branch)
	if err != nil {
		return nil, err
	}
	return respond(MessageTypeAttachResponse, AttachResponse{DirName: assoc.DirName})
}

func (s *Server) handleDetach(ctx context.Context, data json.RawMessage) (*BaseMessage, error) {
	req, err := decode[DetachRequest](data)
	if err != nil {
		return nil, err
	}
	if err := s.deps.Work.Detach(ctx, req.WorkspaceID, req.DirName); err != nil {
		return nil, err
	}
	return okMessage(), nil
}

func (s *Server) handleCredentialCreate(ctx context.Context, data json.RawMessage) (*BaseMessage, error) {
	req, err := decode[CredentialCreateRequest](data)
	if err != nil {
		return nil, err
	}
	info, err := s.deps.Creds.Create(credentialsParams(req))
	if err != nil {
		return nil, err
	}
	return respond(MessageTypeCredentialResponse, info)
}

func (s *Server) handleCredentialList(ctx context.Context, data json.RawMessage) (*BaseMessage, error) {
	infos, err := s.deps.Creds.List()
	if err != nil {
		return nil, err
	}
	return respond(MessageTypeCredentialListResponse, infos)
}

func (s *Server) handleCredentialUpdate(ctx context.Context, data json.RawMessage) (*BaseMessage, error) {
	req, err := decode[CredentialUpdateRequest](data)
	if err != nil {
		return nil, err
	}
	if err := s.deps.Creds.UpdateSecret(req.ID, req.Secret); err != nil {
		return nil, err
	}
	return okMessage(), nil
}

func (s *Server) handleCredentialSetDefault(ctx context.Context, data json.RawMessage) (*BaseMessage, error) {
	req, err := decode[CredentialRef](data)
	if err != nil {
		return nil, err
	}
	if err := s.deps.Creds.SetDefault(req.ID); err != nil {
		return nil, err
	}
	return okMessage(), nil
}

func (s *Server) handleCredentialDelete(ctx context.Context, data json.RawMessage) (*BaseMessage, error) {
	req, err := decode[CredentialRef](data)
	if err != nil {
		return nil, err
	}
	if err := s.deps.Creds.Delete(req.ID); err != nil {
		return nil, err
	}
	return okMessage(), nil
}

func (s *Server) handleKeypairGenerate(ctx context.Context, data json.RawMessage) (*BaseMessage, error) {
	req, err := decode[KeypairGenerateRequest](data)
	if err != nil {
		return nil, err
	}
	pair, err := s.deps.Env.GenerateKeypair(ctx, req.Comment)
	if err != nil {
		return nil, err
	}
	info, err := s.deps.Creds.Create(keypairParams(req, pair.PrivateKeyPEM))
	if err != nil {
		return nil, err
	}
	return respond(MessageTypeKeypairResponse, KeypairResponse{
		CredentialID: info.ID,
		PublicKey:    pair.PublicKey,
	})
}

func (s *Server) handleGitStatus(ctx context.Context, data json.RawMessage) (*BaseMessage, error) {
	req, err := decode[WorktreeRef](data)
	if err != nil {
		return nil, err
	}
	st, err := s.deps.Work.GitStatus(ctx, req.WorkspaceID, req.DirName)
	if err != nil {
		return nil, err
	}
	return respond(MessageTypeGitStatusResponse, st)
}

func (s *Server) handleGitStage(ctx context.Context, data json.RawMessage) (*BaseMessage, error) {
	req, err := decode[GitPathsRequest](data)
	if err != nil {
		return nil, err
	}
	if err := s.deps.Work.Stage(ctx, req.WorkspaceID, req.DirName, req.Paths...); err != nil {
		return nil, err
	}
	return okMessage(), nil
}

func (s *Server) handleGitUnstage(ctx context.Context, data json.RawMessage) (*BaseMessage, error) {
	req, err := decode[GitPathsRequest](data)
	if err != nil {
		return nil, err
	}
	if err := s.deps.Work.Unstage(ctx, req.WorkspaceID, req.DirName, req.Paths...); err != nil {
		return nil, err
	}
	return okMessage(), nil
}

func (s *Server) handleGitDiscard(ctx context.Context, data json.RawMessage) (*BaseMessage, error) {
	req, err := decode[GitPathsRequest](data)
	if err != nil {
		return nil, err
	}
	if err := s.deps.Work.Discard(ctx, req.WorkspaceID, req.DirName, req.Paths...); err != nil {
		return nil, err
	}
	return okMessage(), nil
}

func (s *Server) handleGitCommit(ctx context.Context, data json.RawMessage) (*BaseMessage, error) {
	req, err := decode[GitCommitRequest](data)
	if err != nil {
		return nil, err
	}
	var identity *gitrepo.Identity
	if req.Name != "" && req.Email != "" {
		identity = &gitrepo.Identity{Name: req.Name, Email: req.Email}
	}
	if err := s.deps.Work.Commit(ctx, req.WorkspaceID, req.DirName, req.Message, identity); err != nil {
		return nil, err
	}
	return okMessage(), nil
}

func (s *Server) handleGitPush(ctx context.Context, data json.RawMessage) (*BaseMessage, error) {
	req, err := decode[GitPushRequest](data)
	if err != nil {
		return nil, err
	}
	if err := s.deps.Work.Push(ctx, req.WorkspaceID, req.DirName, req.ForceWithLease); err != nil {
		return nil, err
	}
	return okMessage(), nil
}

func (s *Server) handleGitPull(ctx context.Context, data json.RawMessage) (*BaseMessage, error) {
	req, err := decode[WorktreeRef](data)
	if err != nil {
		return nil, err
	}
	if err := s.deps.Work.Pull(ctx, req.WorkspaceID, req.DirName); err != nil {
		return nil, err
	}
	return okMessage(), nil
}

func (s *Server) handleGitSwitchBranch(ctx context.Context, data json.RawMessage) (*BaseMessage, error) {
	req, err := decode[GitSwitchBranchRequest](data)
	if err != nil {
		return nil, err
	}
	if err := s.deps.Work.SwitchBranch(ctx, req.WorkspaceID, req.DirName, req.Branch); err != nil {
		return nil, err
	}
	return okMessage(), nil
}

func (s *Server) handleIdentityGet(ctx context.Context, data json.RawMessage) (*BaseMessage, error) {
	req, err := decode[WorktreeRef](data)
	if err != nil {
		return nil, err
	}
	eff, err := s.deps.Work.Identity(ctx, req.WorkspaceID, req.DirName)
	if err != nil {
		return nil, err
	}
	return respond(MessageTypeIdentityResponse, IdentityResponse{
		Name:   eff.Name,
		Email:  eff.Email,
		Source: string(eff.Source),
	})
}

func (s *Server) handleIdentitySet(ctx context.Context, data json.RawMessage) (*BaseMessage, error) {
	req, err := decode[IdentitySetRequest](data)
	if err != nil {
		return nil, err
	}
	id := gitrepo.Identity{Name: req.Name, Email: req.Email}
	if !id.Complete() {
		return nil, errors.New("both name and email are required")
	}
	if err := s.deps.Work.SetRepoIdentity(ctx, req.WorkspaceID, req.DirName, id); err != nil {
		return nil, err
	}
	return okMessage(), nil
}
