// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/base64"
	"flag"
	"fmt"
	"io/fs"
	"net/http"
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"github.com/cheggaaa/pb"
	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/storage/memory"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/pagedock/pagedock/internal/api"
	"github.com/pagedock/pagedock/internal/httpx"
	"github.com/pagedock/pagedock/pkg/content"
	"github.com/pagedock/pagedock/pkg/schema"
)

var (
	deployProject    = flag.String("project", "", "project id to deploy into")
	gitSource        = flag.String("git", "", "git URL to deploy, with an optional #<branch> suffix")
	gitPath          = flag.String("git-path", "", "subdirectory of the git tree to deploy")
	serverEntry      = flag.String("server", "", "path to the server entry module within the deploy tree")
	compatDate       = flag.String("compatibility-date", "", "compatibility date recorded for the server runtime")
	htmlHandling     = flag.String("html-handling", "", "html path mapping mode [auto-trailing-slash, force-trailing-slash, drop-trailing-slash, none]")
	notFoundHandling = flag.String("not-found-handling", "", "fallback for unmatched paths [single-page-application, 404-page, none]")
	workerFirst      = flag.String("worker-first", "", "route requests to server code before assets [true, false, or comma-separated globs]")
)

var deployCmd = &cobra.Command{
	Use:   "deploy [<dir>] -project=<id> [-git=<url>[#<branch>]] [-server=<entry module>]",
	Short: "Deploy a directory or git tree to a project.",
	Long: `Deploy a directory (or, with -git, a freshly cloned git tree) to a project.
Every file is content-hashed and checked against the store, so only blobs the
store has not seen are uploaded. With -server the named file is bundled as the
project's server entry module and excluded from the asset manifest.`,
	Args: cobra.MaximumNArgs(1),
	// Silence errors because we will print the error ourselves in main.
	SilenceErrors: true,
	// Don't show usage for every error.
	SilenceUsage: true,
	// RunE because we want errors to affect the return status.
	RunE: func(cmd *cobra.Command, args []string) error {
		if *deployProject == "" {
			return errors.New("missing -project id")
		}
		var tree billy.Filesystem
		switch {
		case *gitSource != "" && len(args) > 0:
			return errors.New("pass a directory or -git, not both")
		case *gitSource != "":
			repo, ref := splitGitSource(*gitSource)
			fmt.Fprintln(cmd.OutOrStderr(), yellow("NOTE:"), white(fmt.Sprintf("cloning %s", repo)))
			var err error
			tree, err = cloneTree(repo, ref, *gitPath)
			if err != nil {
				return err
			}
		case len(args) == 1:
			tree = osfs.New(args[0])
		default:
			return errors.New("missing deploy source: pass a directory or -git=<url>")
		}
		server, skip, err := serverBundle(tree, *serverEntry, *compatDate)
		if err != nil {
			return err
		}
		manifest, blobs, err := assetManifest(tree, skip)
		if err != nil {
			return err
		}
		if len(manifest) == 0 && server == nil {
			return errors.New("nothing to deploy: empty tree and no -server module")
		}
		client, base, err := controlClient(cmd.Context())
		if err != nil {
			return err
		}
		req := schema.DeployRequest{
			ProjectID:      *deployProject,
			Server:         server,
			Config:         servingConfig(),
			RunWorkerFirst: parseWorkerFirst(*workerFirst),
		}
		if *name != "" {
			req.ProjectName = name
		}
		if len(manifest) > 0 {
			create := api.Stub[schema.CreateUploadSessionRequest, schema.UploadSessionResponse](client, http.MethodPost, base, "/__api/projects/{projectID}/assets-upload-session")
			session, err := create(cmd.Context(), schema.CreateUploadSessionRequest{ProjectID: *deployProject, Manifest: manifest})
			if err != nil {
				return errors.Wrap(err, "creating upload session")
			}
			req.CompletionJWT, err = uploadBuckets(cmd, client, base, *deployProject, session, blobs)
			if err != nil {
				return err
			}
		}
		deploy := api.Stub[schema.DeployRequest, schema.DeployResponse](client, http.MethodPost, base, "/__api/projects/{projectID}/deploy")
		resp, err := deploy(cmd.Context(), req)
		if err != nil {
			return errors.Wrap(err, "finalizing deployment")
		}
		fmt.Fprintln(cmd.OutOrStdout(), green("Deployed:"), white(fmt.Sprintf("project %s is %s (%d new asset(s), %d reused)", resp.Project.ID, resp.Project.Status, resp.NewAssets, resp.SkippedAssets)))
		return nil
	},
}

// splitGitSource separates a -git value into the clone URL and the optional
// ref named by its fragment.
func splitGitSource(src string) (repo, ref string) {
	if i := strings.LastIndexByte(src, '#'); i >= 0 {
		return src[:i], src[i+1:]
	}
	return src, ""
}

// cloneTree clones the repository into memory and returns the tree to deploy.
// The ref is treated as a branch name unless it is already a full reference
// name.
func cloneTree(repo, ref, subdir string) (billy.Filesystem, error) {
	opts := git.CloneOptions{URL: repo, Depth: 1, SingleBranch: true}
	switch {
	case ref == "":
		opts.ReferenceName = plumbing.Main
	case strings.HasPrefix(ref, "refs/"):
		opts.ReferenceName = plumbing.ReferenceName(ref)
	default:
		opts.ReferenceName = plumbing.NewBranchReferenceName(ref)
	}
	mfs := memfs.New()
	if _, err := git.Clone(memory.NewStorage(), mfs, &opts); err != nil {
		return nil, errors.Wrap(err, "cloning repository")
	}
	if subdir == "" {
		return mfs, nil
	}
	deployfs, err := mfs.Chroot(subdir)
	if err != nil {
		return nil, errors.Wrap(err, "making relative path")
	}
	return deployfs, nil
}

// serverBundle reads the entry module named by -server into a server-code
// payload. The returned skip set keeps the module out of the asset manifest.
// Module types are inferred server-side from the path.
func serverBundle(tree billy.Filesystem, entry, compatibilityDate string) (*schema.ServerCodePayload, map[string]bool, error) {
	if entry == "" {
		return nil, nil, nil
	}
	clean := path.Clean("/" + filepath.ToSlash(entry))
	b, err := util.ReadFile(tree, clean)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "reading server entry %s", entry)
	}
	module := path.Base(clean)
	payload := &schema.ServerCodePayload{
		Entrypoint:        module,
		Modules:           map[string]schema.ModulePayload{module: {Content: base64.StdEncoding.EncodeToString(b)}},
		CompatibilityDate: compatibilityDate,
	}
	return payload, map[string]bool{clean: true}, nil
}

// assetManifest walks the deploy tree and content-hashes every regular file.
// Git internals and paths in the skip set are left out.
func assetManifest(tree billy.Filesystem, skip map[string]bool) (map[string]schema.ManifestEntry, map[string][]byte, error) {
	manifest := map[string]schema.ManifestEntry{}
	blobs := map[string][]byte{}
	err := util.Walk(tree, "/", func(p string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if info.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		// Symlinks and other irregular files are not deployable.
		if !info.Mode().IsRegular() {
			return nil
		}
		pathname := path.Clean("/" + filepath.ToSlash(p))
		if skip[pathname] {
			return nil
		}
		if err := content.ValidatePathname(pathname); err != nil {
			return err
		}
		b, err := util.ReadFile(tree, p)
		if err != nil {
			return errors.Wrapf(err, "reading %s", p)
		}
		if len(b) > schema.MaxAssetSize {
			return errors.Errorf("%s: exceeds the %d byte asset limit", pathname, schema.MaxAssetSize)
		}
		size := int64(len(b))
		hash := content.Hash(b)
		manifest[pathname] = schema.ManifestEntry{Hash: hash, Size: &size}
		blobs[hash] = b
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	if len(manifest) > schema.MaxManifestEntries {
		return nil, nil, errors.Errorf("tree has %d files, exceeding the %d entry manifest limit", len(manifest), schema.MaxManifestEntries)
	}
	return manifest, blobs, nil
}

// servingConfig maps the serving flags onto a config payload, or nil when
// none are set so an existing config is left untouched.
func servingConfig() *schema.ServingConfig {
	if *htmlHandling == "" && *notFoundHandling == "" {
		return nil
	}
	return &schema.ServingConfig{
		HTMLHandling:     schema.HTMLHandling(*htmlHandling),
		NotFoundHandling: schema.NotFoundHandling(*notFoundHandling),
	}
}

// parseWorkerFirst maps the -worker-first flag onto the wire setting: a
// boolean, or a comma-separated glob list.
func parseWorkerFirst(s string) *schema.WorkerFirst {
	switch s {
	case "":
		return nil
	case "true":
		return &schema.WorkerFirst{All: true}
	case "false":
		return &schema.WorkerFirst{}
	}
	var patterns []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			patterns = append(patterns, p)
		}
	}
	return &schema.WorkerFirst{Patterns: patterns}
}

// uploadBuckets pushes every bucketed blob through the chunk endpoint and
// returns the completion token minted by the final chunk. Buckets upload one
// at a time: the session record serializes on the server, so a second
// in-flight chunk would clobber the first one's progress.
func uploadBuckets(cmd *cobra.Command, client httpx.BasicClient, base url.URL, projectID string, session *schema.UploadSessionResponse, blobs map[string][]byte) (string, error) {
	if len(session.Buckets) == 0 {
		// Full dedup hit: the session token is already the completion token.
		fmt.Fprintln(cmd.OutOrStderr(), yellow("NOTE:"), white("every asset is already uploaded"))
		return session.JWT, nil
	}
	var total int
	for _, bucket := range session.Buckets {
		total += len(bucket)
	}
	bar := pb.New(total)
	bar.Output = cmd.ErrOrStderr()
	bar.ShowTimeLeft = true
	bar.Start()
	defer bar.Finish()
	upload := api.Stub[schema.UploadChunkRequest, schema.UploadChunkResponse](client, http.MethodPost, base, "/__api/projects/{projectID}/assets/upload")
	var completion string
	for _, bucket := range session.Buckets {
		files := make(map[string]string, len(bucket))
		for _, hash := range bucket {
			b, ok := blobs[hash]
			if !ok {
				return "", errors.Errorf("bucket references hash %s not present in the tree", hash)
			}
			files[hash] = base64.StdEncoding.EncodeToString(b)
		}
		resp, err := upload(cmd.Context(), schema.UploadChunkRequest{
			ProjectID:     projectID,
			Authorization: "Bearer " + session.JWT,
			Files:         files,
		})
		if err != nil {
			return "", errors.Wrap(err, "uploading chunk")
		}
		bar.Add(len(bucket))
		if resp.JWT != nil {
			completion = *resp.JWT
		}
	}
	if completion == "" {
		return "", errors.New("upload completed without a completion token")
	}
	return completion, nil
}
