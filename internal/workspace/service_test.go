package workspace

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codefionn/gitspace/internal/config"
	"github.com/codefionn/gitspace/internal/gitenv"
	"github.com/codefionn/gitspace/internal/store"
)

type noopEnvBuilder struct{}

func (noopEnvBuilder) Build(ctx context.Context, repoURL string, credentialID *string) (map[string]string, gitenv.Cleanup, error) {
	return map[string]string{}, func() {}, nil
}

type testEnv struct {
	svc   *Service
	store *store.Store
	cfg   *config.Config

	// arguments of the last stubbed worktree calls
	created []string // mirrorPath, worktreePath, branch
	removed []string // mirrorPath, worktreePath
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	st, err := store.Open(cfg.DBPath())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	env := &testEnv{store: st, cfg: cfg}
	svc := NewService(st, cfg, noopEnvBuilder{})
	svc.createWorktree = func(ctx context.Context, mirrorPath, worktreePath, branch string) error {
		env.created = []string{mirrorPath, worktreePath, branch}
		return os.MkdirAll(worktreePath, 0755)
	}
	svc.removeWorktree = func(ctx context.Context, mirrorPath, worktreePath string) error {
		env.removed = []string{mirrorPath, worktreePath}
		return os.RemoveAll(worktreePath)
	}
	svc.pickBranch = func(ctx context.Context, mirrorPath, requested string) (string, error) {
		if requested != "" {
			return requested, nil
		}
		return "main", nil
	}
	env.svc = svc
	return env
}

func (e *testEnv) seedRepo(t *testing.T, status store.SyncStatus, defaultBranch *string) *store.Repository {
	t.Helper()
	repo := &store.Repository{
		ID:            uuid.NewString(),
		URL:           "https://example.com/" + uuid.NewString() + ".git",
		MirrorPath:    e.cfg.MirrorPath(uuid.NewString()),
		SyncStatus:    status,
		DefaultBranch: defaultBranch,
	}
	require.NoError(t, e.store.InsertRepo(repo))
	return repo
}

func TestCreateWorkspace(t *testing.T) {
	env := newTestEnv(t)
	ws, err := env.svc.Create(context.Background(), "demo")
	require.NoError(t, err)
	assert.Equal(t, env.cfg.WorkspaceRoot(ws.ID), ws.RootPath)

	info, err := os.Stat(ws.RootPath)
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	_, err = env.svc.Create(context.Background(), "   ")
	assert.Error(t, err)
}

func TestAttach(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ws, err := env.svc.Create(ctx, "demo")
	require.NoError(t, err)

	t.Run("uses cached default branch", func(t *testing.T) {
		branch := "develop"
		repo := env.seedRepo(t, store.SyncIdle, &branch)

		assoc, err := env.svc.Attach(ctx, ws.ID, repo.ID, "proj", "")
		require.NoError(t, err)
		assert.Equal(t, "proj", assoc.DirName)
		require.Len(t, env.created, 3)
		assert.Equal(t, repo.MirrorPath, env.created[0])
		assert.Equal(t, filepath.Join(ws.RootPath, "proj"), env.created[1])
		assert.Equal(t, "develop", env.created[2])

		stored, err := env.store.GetWorkspaceRepo(ws.ID, "proj")
		require.NoError(t, err)
		assert.Equal(t, repo.ID, stored.RepoID)
	})

	t.Run("explicit branch wins over cached default", func(t *testing.T) {
		branch := "develop"
		repo := env.seedRepo(t, store.SyncIdle, &branch)

		_, err := env.svc.Attach(ctx, ws.ID, repo.ID, "explicit", "feature")
		require.NoError(t, err)
		assert.Equal(t, "feature", env.created[2])
	})

	t.Run("derives directory name from URL", func(t *testing.T) {
		repo := env.seedRepo(t, store.SyncIdle, nil)
		assoc, err := env.svc.Attach(ctx, ws.ID, repo.ID, "", "")
		require.NoError(t, err)
		// URL last segment without .git
		assert.NotEmpty(t, assoc.DirName)
		assert.NotContains(t, assoc.DirName, ".git")
	})

	t.Run("rejects syncing repository", func(t *testing.T) {
		repo := env.seedRepo(t, store.SyncSyncing, nil)
		_, err := env.svc.Attach(ctx, ws.ID, repo.ID, "busy", "")
		assert.ErrorIs(t, err, ErrRepoSyncing)
	})

	t.Run("rejects directory collision", func(t *testing.T) {
		repo := env.seedRepo(t, store.SyncIdle, nil)
		_, err := env.svc.Attach(ctx, ws.ID, repo.ID, "proj", "")
		assert.ErrorIs(t, err, store.ErrConflict)
	})

	t.Run("rejects invalid directory names", func(t *testing.T) {
		repo := env.seedRepo(t, store.SyncIdle, nil)
		for _, name := range []string{"..", "a/b", `a\b`, "."} {
			_, err := env.svc.Attach(ctx, ws.ID, repo.ID, name, "")
			assert.ErrorIs(t, err, ErrInvalidDirName, "name %q", name)
		}
	})

	t.Run("unknown workspace", func(t *testing.T) {
		repo := env.seedRepo(t, store.SyncIdle, nil)
		_, err := env.svc.Attach(ctx, "missing", repo.ID, "x", "")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})
}

func TestDetach(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ws, err := env.svc.Create(ctx, "demo")
	require.NoError(t, err)
	repo := env.seedRepo(t, store.SyncIdle, nil)

	_, err = env.svc.Attach(ctx, ws.ID, repo.ID, "proj", "main")
	require.NoError(t, err)

	require.NoError(t, env.svc.Detach(ctx, ws.ID, "proj"))
	require.Len(t, env.removed, 2)
	assert.Equal(t, filepath.Join(ws.RootPath, "proj"), env.removed[1])

	_, err = env.store.GetWorkspaceRepo(ws.ID, "proj")
	assert.ErrorIs(t, err, store.ErrNotFound)

	n, err := env.store.CountWorkspacesReferencing(repo.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDetachRemovesAssociationOnWorktreeError(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ws, err := env.svc.Create(ctx, "demo")
	require.NoError(t, err)
	repo := env.seedRepo(t, store.SyncIdle, nil)
	_, err = env.svc.Attach(ctx, ws.ID, repo.ID, "proj", "main")
	require.NoError(t, err)

	wantErr := errors.New("metadata cleanup failed")
	env.svc.removeWorktree = func(ctx context.Context, mirrorPath, worktreePath string) error {
		os.RemoveAll(worktreePath)
		return wantErr
	}

	err = env.svc.Detach(ctx, ws.ID, "proj")
	assert.ErrorIs(t, err, wantErr)
	// The directory is gone regardless, so the association must not
	// survive as a phantom entry.
	_, err = env.store.GetWorkspaceRepo(ws.ID, "proj")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDeleteWorkspace(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ws, err := env.svc.Create(ctx, "demo")
	require.NoError(t, err)
	repoA := env.seedRepo(t, store.SyncIdle, nil)
	repoB := env.seedRepo(t, store.SyncIdle, nil)
	_, err = env.svc.Attach(ctx, ws.ID, repoA.ID, "a", "main")
	require.NoError(t, err)
	_, err = env.svc.Attach(ctx, ws.ID, repoB.ID, "b", "main")
	require.NoError(t, err)

	require.NoError(t, env.svc.Delete(ctx, ws.ID))

	_, err = env.store.GetWorkspace(ws.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, statErr := os.Stat(ws.RootPath)
	assert.True(t, os.IsNotExist(statErr))

	for _, repo := range []*store.Repository{repoA, repoB} {
		n, err := env.store.CountWorkspacesReferencing(repo.ID)
		require.NoError(t, err)
		assert.Zero(t, n, "repository %s must be detached", repo.ID)
	}
}

func TestDeriveDirName(t *testing.T) {
	cases := []struct {
		url  string
		want string
	}{
		{"https://github.com/acme/widget.git", "widget"},
		{"https://github.com/acme/widget", "widget"},
		{"git@github.com:acme/widget.git", "widget"},
		{"ssh://git@host/team/tool.git/", "tool"},
		{"", "repo"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, DeriveDirName(tc.url), "url %q", tc.url)
	}
}

func TestFileOperations(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ws, err := env.svc.Create(ctx, "demo")
	require.NoError(t, err)
	repo := env.seedRepo(t, store.SyncIdle, nil)
	_, err = env.svc.Attach(ctx, ws.ID, repo.ID, "proj", "main")
	require.NoError(t, err)

	t.Run("write read rename delete", func(t *testing.T) {
		require.NoError(t, env.svc.WriteFile(ctx, ws.ID, "proj", "docs/readme.md", []byte("hi")))

		data, err := env.svc.ReadFile(ctx, ws.ID, "proj", "docs/readme.md")
		require.NoError(t, err)
		assert.Equal(t, "hi", string(data))

		require.NoError(t, env.svc.RenameFile(ctx, ws.ID, "proj", "docs/readme.md", "README.md"))
		_, err = env.svc.ReadFile(ctx, ws.ID, "proj", "docs/readme.md")
		assert.Error(t, err)

		require.NoError(t, env.svc.DeleteFile(ctx, ws.ID, "proj", "README.md"))
		_, err = os.Stat(filepath.Join(ws.RootPath, "proj", "README.md"))
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("rejects escaping paths", func(t *testing.T) {
		for _, p := range []string{"../outside.txt", "/etc/passwd", "a/../../b", ""} {
			err := env.svc.WriteFile(ctx, ws.ID, "proj", p, []byte("x"))
			assert.ErrorIs(t, err, ErrOutsideWorkspace, "path %q", p)
		}
	})

	t.Run("requires an attached directory", func(t *testing.T) {
		err := env.svc.WriteFile(ctx, ws.ID, "unattached", "f.txt", []byte("x"))
		assert.ErrorIs(t, err, store.ErrNotFound)
	})
}
