// gitspace is the command-line client for gitspaced. It talks to the
// daemon over its Unix socket; it never touches the data directory itself.
package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/codefionn/gitspace/internal/config"
	"github.com/codefionn/gitspace/internal/control"
	"github.com/codefionn/gitspace/internal/credentials"
	"github.com/codefionn/gitspace/internal/gitrepo"
)

const version = "0.3.0"

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: gitspace [-socket PATH] COMMAND [ARGS]

Commands:
  status                                daemon status
  repo add URL [-credential ID]         register a repository and start its first sync
  repo ls                               list repositories
  repo get ID                           show one repository
  repo sync ID                          trigger a background sync
  repo set-credential ID CRED_ID        change the repository credential and resync
  repo rm ID                            delete a repository and its mirror
  ws create TITLE                       create a workspace
  ws ls                                 list workspaces and their attachments
  ws rm ID                              delete a workspace
  ws attach WS_ID REPO_ID [-dir D] [-branch B]
  ws detach WS_ID DIR
  cred add -host HOST -kind https|ssh [-label L] [-username U] [-default]
  cred ls
  cred update ID                        rotate a credential secret
  cred set-default ID
  cred rm ID
  keygen -host HOST [-comment C] [-default]
  git status|stage|unstage|discard|commit|push|pull|switch WS_ID DIR [ARGS]
  identity get|set WS_ID DIR [-name N -email E]
  version

The secret for "cred add" and "cred update" is read from the terminal
without echo, or from stdin when not a terminal.
`)
}

func run(args []string) error {
	fs := flag.NewFlagSet("gitspace", flag.ContinueOnError)
	fs.Usage = usage
	socketPath := fs.String("socket", config.Default().SocketPath(), "daemon socket path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	rest := fs.Args()
	if len(rest) == 0 {
		usage()
		return errors.New("no command given")
	}

	switch rest[0] {
	case "version":
		fmt.Printf("gitspace %s\n", version)
		return nil
	case "help":
		usage()
		return nil
	}

	client, err := control.Dial(*socketPath)
	if err != nil {
		return err
	}
	defer client.Close()

	switch rest[0] {
	case "status":
		return cmdStatus(client)
	case "repo":
		return cmdRepo(client, rest[1:])
	case "ws":
		return cmdWorkspace(client, rest[1:])
	case "cred":
		return cmdCredential(client, rest[1:])
	case "keygen":
		return cmdKeygen(client, rest[1:])
	case "git":
		return cmdGit(client, rest[1:])
	case "identity":
		return cmdIdentity(client, rest[1:])
	default:
		usage()
		return fmt.Errorf("unknown command %q", rest[0])
	}
}

func cmdStatus(client *control.Client) error {
	var status control.StatusResponse
	if err := client.CallInto(control.MessageTypeStatus, nil, &status); err != nil {
		return err
	}
	fmt.Printf("gitspaced %s\n", status.Version)
	fmt.Printf("  data dir:     %s\n", status.DataDir)
	fmt.Printf("  master key:   %s (%s)\n", status.KeyFingerprint, status.KeyProvenance)
	fmt.Printf("  repositories: %d\n", status.Repositories)
	fmt.Printf("  workspaces:   %d\n", status.Workspaces)
	fmt.Printf("  connections:  %d\n", status.ActiveConnections)
	return nil
}

func cmdRepo(client *control.Client, args []string) error {
	if len(args) == 0 {
		return errors.New("repo: missing subcommand")
	}
	switch args[0] {
	case "add":
		fs := flag.NewFlagSet("repo add", flag.ContinueOnError)
		credID := fs.String("credential", "", "credential ID to use for this repository")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		if fs.NArg() != 1 {
			return errors.New("repo add: exactly one URL expected")
		}
		req := control.RepoCreateRequest{URL: fs.Arg(0)}
		if *credID != "" {
			req.CredentialID = credID
		}
		var repo control.RepoInfo
		if err := client.CallInto(control.MessageTypeRepoCreate, req, &repo); err != nil {
			return err
		}
		fmt.Printf("%s  %s  (sync started)\n", repo.ID, repo.URL)
		return nil
	case "ls":
		var resp control.RepoListResponse
		if err := client.CallInto(control.MessageTypeRepoList, nil, &resp); err != nil {
			return err
		}
		for _, r := range resp.Repos {
			printRepo(r)
		}
		return nil
	case "get":
		if len(args) != 2 {
			return errors.New("repo get: repository ID expected")
		}
		var repo control.RepoInfo
		if err := client.CallInto(control.MessageTypeRepoGet, control.RepoRef{ID: args[1]}, &repo); err != nil {
			return err
		}
		printRepo(repo)
		if repo.SyncError != nil {
			fmt.Printf("  last error: %s\n", *repo.SyncError)
		}
		return nil
	case "sync":
		if len(args) != 2 {
			return errors.New("repo sync: repository ID expected")
		}
		if _, err := client.Call(control.MessageTypeRepoResync, control.RepoRef{ID: args[1]}); err != nil {
			return err
		}
		fmt.Println("sync started")
		return nil
	case "set-credential":
		if len(args) != 3 {
			return errors.New("repo set-credential: repository ID and credential ID expected")
		}
		credID := args[2]
		req := control.RepoSetCredentialRequest{ID: args[1], CredentialID: &credID}
		if _, err := client.Call(control.MessageTypeRepoSetCredential, req); err != nil {
			return err
		}
		fmt.Println("credential updated, sync started")
		return nil
	case "rm":
		if len(args) != 2 {
			return errors.New("repo rm: repository ID expected")
		}
		if _, err := client.Call(control.MessageTypeRepoDelete, control.RepoRef{ID: args[1]}); err != nil {
			return err
		}
		fmt.Println("repository deleted")
		return nil
	default:
		return fmt.Errorf("repo: unknown subcommand %q", args[0])
	}
}

func printRepo(r control.RepoInfo) {
	branch := "-"
	if r.DefaultBranch != nil {
		branch = *r.DefaultBranch
	}
	fmt.Printf("%s  %-8s  %-20s  %s\n", r.ID, r.SyncStatus, branch, r.URL)
}

func cmdWorkspace(client *control.Client, args []string) error {
	if len(args) == 0 {
		return errors.New("ws: missing subcommand")
	}
	switch args[0] {
	case "create":
		if len(args) != 2 {
			return errors.New("ws create: title expected")
		}
		var ws control.WorkspaceInfo
		req := control.WorkspaceCreateRequest{Title: args[1]}
		if err := client.CallInto(control.MessageTypeWorkspaceCreate, req, &ws); err != nil {
			return err
		}
		fmt.Printf("%s  %s\n", ws.ID, ws.RootPath)
		return nil
	case "ls":
		var resp control.WorkspaceListResponse
		if err := client.CallInto(control.MessageTypeWorkspaceList, nil, &resp); err != nil {
			return err
		}
		for _, ws := range resp.Workspaces {
			fmt.Printf("%s  %s\n", ws.ID, ws.Title)
			for _, att := range ws.Repos {
				fmt.Printf("  %s  -> repo %s\n", att.DirName, att.RepoID)
			}
		}
		return nil
	case "rm":
		if len(args) != 2 {
			return errors.New("ws rm: workspace ID expected")
		}
		if _, err := client.Call(control.MessageTypeWorkspaceDelete, control.WorkspaceRef{ID: args[1]}); err != nil {
			return err
		}
		fmt.Println("workspace deleted")
		return nil
	case "attach":
		fs := flag.NewFlagSet("ws attach", flag.ContinueOnError)
		dir := fs.String("dir", "", "directory name inside the workspace")
		branch := fs.String("branch", "", "branch to check out")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		if fs.NArg() != 2 {
			return errors.New("ws attach: workspace ID and repository ID expected")
		}
		req := control.AttachRequest{
			WorkspaceID: fs.Arg(0),
			RepoID:      fs.Arg(1),
			DirName:     *dir,
			Branch:      *branch,
		}
		var resp control.AttachResponse
		if err := client.CallInto(control.MessageTypeWorkspaceAttach, req, &resp); err != nil {
			return err
		}
		fmt.Printf("attached as %s\n", resp.DirName)
		return nil
	case "detach":
		if len(args) != 3 {
			return errors.New("ws detach: workspace ID and directory name expected")
		}
		req := control.DetachRequest{WorkspaceID: args[1], DirName: args[2]}
		if _, err := client.Call(control.MessageTypeWorkspaceDetach, req); err != nil {
			return err
		}
		fmt.Println("detached")
		return nil
	default:
		return fmt.Errorf("ws: unknown subcommand %q", args[0])
	}
}

func cmdCredential(client *control.Client, args []string) error {
	if len(args) == 0 {
		return errors.New("cred: missing subcommand")
	}
	switch args[0] {
	case "add":
		fs := flag.NewFlagSet("cred add", flag.ContinueOnError)
		host := fs.String("host", "", "forge host, e.g. github.com")
		kind := fs.String("kind", "https", "credential kind: https or ssh")
		label := fs.String("label", "", "display label")
		username := fs.String("username", "", "username for https credentials")
		isDefault := fs.Bool("default", false, "make this the default credential for the host")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		secret, err := promptForSecret(fmt.Sprintf("Secret for %s: ", *host))
		if err != nil {
			return err
		}
		req := control.CredentialCreateRequest{
			Host:      *host,
			Kind:      *kind,
			Secret:    secret,
			IsDefault: *isDefault,
		}
		if *label != "" {
			req.Label = label
		}
		if *username != "" {
			req.Username = username
		}
		var cred credentials.Info
		if err := client.CallInto(control.MessageTypeCredentialCreate, req, &cred); err != nil {
			return err
		}
		fmt.Printf("%s  %s (%s)\n", cred.ID, cred.Host, cred.Kind)
		return nil
	case "ls":
		var infos []credentials.Info
		if err := client.CallInto(control.MessageTypeCredentialList, nil, &infos); err != nil {
			return err
		}
		for _, c := range infos {
			marker := " "
			if c.IsDefault {
				marker = "*"
			}
			label := ""
			if c.Label != nil {
				label = *c.Label
			}
			fmt.Printf("%s %s  %-6s  %-24s  %s\n", marker, c.ID, c.Kind, c.Host, label)
		}
		return nil
	case "update":
		if len(args) != 2 {
			return errors.New("cred update: credential ID expected")
		}
		secret, err := promptForSecret("New secret: ")
		if err != nil {
			return err
		}
		req := control.CredentialUpdateRequest{ID: args[1], Secret: secret}
		if _, err := client.Call(control.MessageTypeCredentialUpdate, req); err != nil {
			return err
		}
		fmt.Println("secret updated")
		return nil
	case "set-default":
		if len(args) != 2 {
			return errors.New("cred set-default: credential ID expected")
		}
		if _, err := client.Call(control.MessageTypeCredentialSetDefault, control.CredentialRef{ID: args[1]}); err != nil {
			return err
		}
		fmt.Println("default updated")
		return nil
	case "rm":
		if len(args) != 2 {
			return errors.New("cred rm: credential ID expected")
		}
		if _, err := client.Call(control.MessageTypeCredentialDelete, control.CredentialRef{ID: args[1]}); err != nil {
			return err
		}
		fmt.Println("credential deleted")
		return nil
	default:
		return fmt.Errorf("cred: unknown subcommand %q", args[0])
	}
}

func cmdKeygen(client *control.Client, args []string) error {
	fs := flag.NewFlagSet("keygen", flag.ContinueOnError)
	host := fs.String("host", "", "forge host the key is for")
	comment := fs.String("comment", "", "key comment")
	isDefault := fs.Bool("default", false, "make this the default credential for the host")
	if err := fs.Parse(args); err != nil {
		return err
	}
	req := control.KeypairGenerateRequest{
		Host:      *host,
		Comment:   *comment,
		IsDefault: *isDefault,
	}
	var resp control.KeypairResponse
	if err := client.CallInto(control.MessageTypeKeypairGenerate, req, &resp); err != nil {
		return err
	}
	fmt.Printf("credential %s created; upload this public key to %s:\n\n%s\n", resp.CredentialID, *host, resp.PublicKey)
	return nil
}

func worktreeRef(args []string) (control.WorktreeRef, []string, error) {
	if len(args) < 2 {
		return control.WorktreeRef{}, nil, errors.New("workspace ID and directory name expected")
	}
	return control.WorktreeRef{WorkspaceID: args[0], DirName: args[1]}, args[2:], nil
}

func cmdGit(client *control.Client, args []string) error {
	if len(args) == 0 {
		return errors.New("git: missing subcommand")
	}
	ref, rest, err := worktreeRef(args[1:])
	if err != nil {
		return fmt.Errorf("git %s: %w", args[0], err)
	}

	switch args[0] {
	case "status":
		var st gitrepo.WorktreeStatus
		if err := client.CallInto(control.MessageTypeGitStatus, ref, &st); err != nil {
			return err
		}
		printWorktreeStatus(st)
		return nil
	case "stage":
		req := control.GitPathsRequest{WorktreeRef: ref, Paths: rest}
		_, err := client.Call(control.MessageTypeGitStage, req)
		return err
	case "unstage":
		req := control.GitPathsRequest{WorktreeRef: ref, Paths: rest}
		_, err := client.Call(control.MessageTypeGitUnstage, req)
		return err
	case "discard":
		req := control.GitPathsRequest{WorktreeRef: ref, Paths: rest}
		_, err := client.Call(control.MessageTypeGitDiscard, req)
		return err
	case "commit":
		fs := flag.NewFlagSet("git commit", flag.ContinueOnError)
		message := fs.String("m", "", "commit message")
		name := fs.String("name", "", "author name for this commit only")
		email := fs.String("email", "", "author email for this commit only")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		if *message == "" {
			return errors.New("git commit: -m is required")
		}
		req := control.GitCommitRequest{WorktreeRef: ref, Message: *message, Name: *name, Email: *email}
		if _, err := client.Call(control.MessageTypeGitCommit, req); err != nil {
			return err
		}
		fmt.Println("committed")
		return nil
	case "push":
		fs := flag.NewFlagSet("git push", flag.ContinueOnError)
		lease := fs.Bool("force-with-lease", false, "allow non-fast-forward push with lease")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		req := control.GitPushRequest{WorktreeRef: ref, ForceWithLease: *lease}
		if _, err := client.Call(control.MessageTypeGitPush, req); err != nil {
			return err
		}
		fmt.Println("pushed")
		return nil
	case "pull":
		if _, err := client.Call(control.MessageTypeGitPull, ref); err != nil {
			return err
		}
		fmt.Println("pulled")
		return nil
	case "switch":
		if len(rest) != 1 {
			return errors.New("git switch: branch name expected")
		}
		req := control.GitSwitchBranchRequest{WorktreeRef: ref, Branch: rest[0]}
		if _, err := client.Call(control.MessageTypeGitSwitchBranch, req); err != nil {
			return err
		}
		fmt.Printf("switched to %s\n", rest[0])
		return nil
	default:
		return fmt.Errorf("git: unknown subcommand %q", args[0])
	}
}

func printWorktreeStatus(st gitrepo.WorktreeStatus) {
	if st.Detached {
		fmt.Printf("HEAD detached\n")
	} else {
		fmt.Printf("On branch %s", st.Branch)
		if st.Ahead > 0 || st.Behind > 0 {
			fmt.Printf(" [ahead %d, behind %d]", st.Ahead, st.Behind)
		}
		fmt.Println()
	}
	if len(st.Files) == 0 {
		fmt.Println("working tree clean")
		return
	}
	for _, f := range st.Files {
		fmt.Printf("%s%s %s\n", f.Staged, f.Unstaged, f.Path)
	}
}

func cmdIdentity(client *control.Client, args []string) error {
	if len(args) == 0 {
		return errors.New("identity: missing subcommand")
	}
	ref, rest, err := worktreeRef(args[1:])
	if err != nil {
		return fmt.Errorf("identity %s: %w", args[0], err)
	}

	switch args[0] {
	case "get":
		var resp control.IdentityResponse
		if err := client.CallInto(control.MessageTypeIdentityGet, ref, &resp); err != nil {
			return err
		}
		if resp.Source == "none" {
			fmt.Println("no commit identity configured")
			return nil
		}
		fmt.Printf("%s <%s> (from %s config)\n", resp.Name, resp.Email, resp.Source)
		return nil
	case "set":
		fs := flag.NewFlagSet("identity set", flag.ContinueOnError)
		name := fs.String("name", "", "user.name")
		email := fs.String("email", "", "user.email")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		if *name == "" || *email == "" {
			return errors.New("identity set: -name and -email are required")
		}
		req := control.IdentitySetRequest{WorktreeRef: ref, Name: *name, Email: *email}
		if _, err := client.Call(control.MessageTypeIdentitySet, req); err != nil {
			return err
		}
		fmt.Println("identity set")
		return nil
	default:
		return fmt.Errorf("identity: unknown subcommand %q", args[0])
	}
}

// promptForSecret reads a secret without echo on a terminal, or a single
// line from stdin otherwise.
func promptForSecret(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	fmt.Fprint(os.Stderr, prompt)

	if term.IsTerminal(fd) {
		raw, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(raw)), nil
	}

	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
