package gitrepo

import (
	"context"
	"strings"
)

// Identity is a git author/committer identity.
type Identity struct {
	Name  string
	Email string
}

// Complete reports whether both fields are set, i.e. a commit would not be
// rejected for a missing identity.
func (id Identity) Complete() bool {
	return id.Name != "" && id.Email != ""
}

// IdentitySource names where an effective identity was resolved from.
type IdentitySource string

const (
	IdentityFromRepo   IdentitySource = "repo"
	IdentityFromGlobal IdentitySource = "global"
	IdentityFromNone   IdentitySource = "none"
)

// EffectiveIdentity is the identity a commit in a given worktree would use,
// annotated with its origin.
type EffectiveIdentity struct {
	Identity
	Source IdentitySource
}

// RepoIdentity reads the repository-local user.name/user.email configured in
// worktreePath. Unset keys come back empty, not as errors.
func RepoIdentity(ctx context.Context, worktreePath string) (Identity, error) {
	return readIdentity(ctx, worktreePath, "--local")
}

// GlobalIdentity reads the global user.name/user.email. The git binary is
// still invoked in dir so relative invocation semantics stay uniform.
func GlobalIdentity(ctx context.Context, dir string) (Identity, error) {
	return readIdentity(ctx, dir, "--global")
}

// ResolveIdentity determines the identity a commit in worktreePath would be
// attributed to. Repo-local config wins over global; a scope only counts
// when both of its keys are set.
func ResolveIdentity(ctx context.Context, worktreePath string) (EffectiveIdentity, error) {
	repo, err := RepoIdentity(ctx, worktreePath)
	if err != nil {
		return EffectiveIdentity{}, err
	}
	if repo.Complete() {
		return EffectiveIdentity{Identity: repo, Source: IdentityFromRepo}, nil
	}
	global, err := GlobalIdentity(ctx, worktreePath)
	if err != nil {
		return EffectiveIdentity{}, err
	}
	if global.Complete() {
		return EffectiveIdentity{Identity: global, Source: IdentityFromGlobal}, nil
	}
	return EffectiveIdentity{Source: IdentityFromNone}, nil
}

// SetRepoIdentity writes both identity keys into the repository-local config
// of worktreePath. A failure after the first write leaves the name set; the
// error tells the caller which key failed so a retry converges.
func SetRepoIdentity(ctx context.Context, worktreePath string, id Identity) error {
	return writeIdentity(ctx, worktreePath, "--local", id)
}

// SetGlobalIdentity writes both identity keys into the global config.
func SetGlobalIdentity(ctx context.Context, dir string, id Identity) error {
	return writeIdentity(ctx, dir, "--global", id)
}

// SessionEnv renders id as author/committer environment overrides for a
// single commit, leaving all on-disk configuration untouched.
func SessionEnv(id Identity) map[string]string {
	return map[string]string{
		"GIT_AUTHOR_NAME":     id.Name,
		"GIT_AUTHOR_EMAIL":    id.Email,
		"GIT_COMMITTER_NAME":  id.Name,
		"GIT_COMMITTER_EMAIL": id.Email,
	}
}

func readIdentity(ctx context.Context, dir, scope string) (Identity, error) {
	var id Identity
	for _, key := range []string{"user.name", "user.email"} {
		res, err := gitLocal(ctx, dir, "config", scope, "--get", key)
		if err != nil {
			return Identity{}, err
		}
		// git config --get exits 1 for an unset key; that is not a failure
		// here, the field just stays empty.
		if !res.Succeeded {
			continue
		}
		value := strings.TrimSpace(res.Stdout)
		if key == "user.name" {
			id.Name = value
		} else {
			id.Email = value
		}
	}
	return id, nil
}

func writeIdentity(ctx context.Context, dir, scope string, id Identity) error {
	for _, kv := range [][2]string{{"user.name", id.Name}, {"user.email", id.Email}} {
		res, err := gitLocal(ctx, dir, "config", scope, kv[0], kv[1])
		if err != nil {
			return err
		}
		if !res.Succeeded {
			return newGitError("config "+kv[0], res)
		}
	}
	return nil
}
