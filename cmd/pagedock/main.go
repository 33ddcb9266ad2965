// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/pagedock/pagedock/internal/api"
	"github.com/pagedock/pagedock/internal/httpx"
	"github.com/pagedock/pagedock/internal/oauth"
	"github.com/pagedock/pagedock/pkg/schema"
)

var (
	apiURL      = flag.String("api", "http://localhost:8080", "base URL of the control plane")
	adminToken  = flag.String("token", "", "admin bearer token (defaults to $PAGEDOCK_TOKEN)")
	gcpIdentity = flag.Bool("gcp-identity", false, "authenticate with a GCP identity token instead of the admin token")
	name        = flag.String("name", "", "display name for the project")
	limit       = flag.Int("limit", 0, "page size when listing (0 uses the server default)")
)

var (
	yellow = color.New(color.FgYellow).SprintFunc()
	green  = color.New(color.FgGreen).SprintFunc()
	white  = color.New(color.FgWhite).SprintFunc()
)

var rootCmd = &cobra.Command{
	Use:   "pagedock [subcommand]",
	Short: "A CLI tool for the pagedock deployment platform",
}

// controlClient builds the authenticated client and base URL shared by every
// control-plane call. With -gcp-identity the id token occupies the
// Authorization header, so the admin token is not sent; that mode pairs with
// control planes whose auth is IAM.
func controlClient(ctx context.Context) (httpx.BasicClient, url.URL, error) {
	base, err := url.Parse(*apiURL)
	if err != nil {
		return nil, url.URL{}, errors.Wrap(err, "parsing -api URL")
	}
	if *gcpIdentity {
		c, err := oauth.IDTokenClient(ctx)
		if err != nil {
			return nil, url.URL{}, errors.Wrap(err, "building identity client")
		}
		return &httpx.WithUserAgent{BasicClient: c, UserAgent: "pagedock-cli"}, *base, nil
	}
	token := *adminToken
	if token == "" {
		token = os.Getenv("PAGEDOCK_TOKEN")
	}
	var client httpx.BasicClient = &httpx.WithUserAgent{BasicClient: http.DefaultClient, UserAgent: "pagedock-cli"}
	if token != "" {
		client = &httpx.WithAuthorization{BasicClient: client, Authorization: "Bearer " + token}
	}
	return client, *base, nil
}

func writeIndentedJSON(out io.Writer, v any) error {
	e := json.NewEncoder(out)
	e.SetIndent("", "  ")
	if err := e.Encode(v); err != nil {
		return errors.Wrap(err, "encoding json")
	}
	return nil
}

var projectCmd = &cobra.Command{
	Use:   "project [subcommand]",
	Short: "Manage projects on the control plane.",
}

var createCmd = &cobra.Command{
	Use:   "create [-name=<display name>]",
	Short: "Create a new project.",
	Long: `Create a new project and print its id.
The project starts out PENDING and expires after an hour unless a deployment finalizes it.`,
	Args: cobra.NoArgs,
	// Silence errors because we will print the error ourselves in main.
	SilenceErrors: true,
	// Don't show usage for every error.
	SilenceUsage: true,
	// RunE because we want errors to affect the return status.
	RunE: func(cmd *cobra.Command, args []string) error {
		client, base, err := controlClient(cmd.Context())
		if err != nil {
			return err
		}
		var req schema.CreateProjectRequest
		if *name != "" {
			req.Name = name
		}
		stub := api.Stub[schema.CreateProjectRequest, schema.CreateProjectResponse](client, http.MethodPost, base, "/__api/projects")
		resp, err := stub(cmd.Context(), req)
		if err != nil {
			return errors.Wrap(err, "creating project")
		}
		fmt.Fprintln(cmd.OutOrStdout(), resp.Project.ID)
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list [-limit=<n>]",
	Short: "List all projects.",
	Args:  cobra.NoArgs,
	// Silence errors because we will print the error ourselves in main.
	SilenceErrors: true,
	// Don't show usage for every error.
	SilenceUsage: true,
	// RunE because we want errors to affect the return status.
	RunE: func(cmd *cobra.Command, args []string) error {
		client, base, err := controlClient(cmd.Context())
		if err != nil {
			return err
		}
		stub := api.Stub[schema.ListProjectsRequest, schema.ListProjectsResponse](client, http.MethodGet, base, "/__api/projects")
		req := schema.ListProjectsRequest{Limit: *limit}
		for {
			resp, err := stub(cmd.Context(), req)
			if err != nil {
				return errors.Wrap(err, "listing projects")
			}
			for _, p := range resp.Projects {
				name := p.Name
				if name == "" {
					name = "-"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\t%s\n", p.ID, p.Status, p.UpdatedAt.Format(time.RFC3339), name)
			}
			if resp.Complete || resp.Cursor == "" {
				return nil
			}
			req.Cursor = resp.Cursor
		}
	},
}

var getCmd = &cobra.Command{
	Use:   "get <project id>",
	Short: "Get one project record as JSON.",
	Args:  cobra.ExactArgs(1),
	// Silence errors because we will print the error ourselves in main.
	SilenceErrors: true,
	// Don't show usage for every error.
	SilenceUsage: true,
	// RunE because we want errors to affect the return status.
	RunE: func(cmd *cobra.Command, args []string) error {
		client, base, err := controlClient(cmd.Context())
		if err != nil {
			return err
		}
		stub := api.Stub[schema.GetProjectRequest, schema.GetProjectResponse](client, http.MethodGet, base, "/__api/projects/{projectID}")
		resp, err := stub(cmd.Context(), schema.GetProjectRequest{ID: args[0]})
		if err != nil {
			return errors.Wrap(err, "fetching project")
		}
		return writeIndentedJSON(cmd.OutOrStdout(), resp.Project)
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <project id>",
	Short: "Delete a project and every blob it owns.",
	Args:  cobra.ExactArgs(1),
	// Silence errors because we will print the error ourselves in main.
	SilenceErrors: true,
	// Don't show usage for every error.
	SilenceUsage: true,
	// RunE because we want errors to affect the return status.
	RunE: func(cmd *cobra.Command, args []string) error {
		client, base, err := controlClient(cmd.Context())
		if err != nil {
			return err
		}
		stub := api.Stub[schema.DeleteProjectRequest, schema.DeleteProjectResponse](client, http.MethodDelete, base, "/__api/projects/{projectID}")
		if _, err := stub(cmd.Context(), schema.DeleteProjectRequest{ID: args[0]}); err != nil {
			return errors.Wrap(err, "deleting project")
		}
		fmt.Fprintln(cmd.OutOrStdout(), green("Deleted:"), white(fmt.Sprintf("project %s", args[0])))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(projectCmd)

	projectCmd.AddCommand(createCmd)
	createCmd.Flags().AddGoFlag(flag.Lookup("api"))
	createCmd.Flags().AddGoFlag(flag.Lookup("token"))
	createCmd.Flags().AddGoFlag(flag.Lookup("gcp-identity"))
	createCmd.Flags().AddGoFlag(flag.Lookup("name"))

	projectCmd.AddCommand(listCmd)
	listCmd.Flags().AddGoFlag(flag.Lookup("api"))
	listCmd.Flags().AddGoFlag(flag.Lookup("token"))
	listCmd.Flags().AddGoFlag(flag.Lookup("gcp-identity"))
	listCmd.Flags().AddGoFlag(flag.Lookup("limit"))

	projectCmd.AddCommand(getCmd)
	getCmd.Flags().AddGoFlag(flag.Lookup("api"))
	getCmd.Flags().AddGoFlag(flag.Lookup("token"))
	getCmd.Flags().AddGoFlag(flag.Lookup("gcp-identity"))

	projectCmd.AddCommand(deleteCmd)
	deleteCmd.Flags().AddGoFlag(flag.Lookup("api"))
	deleteCmd.Flags().AddGoFlag(flag.Lookup("token"))
	deleteCmd.Flags().AddGoFlag(flag.Lookup("gcp-identity"))

	rootCmd.AddCommand(deployCmd)
	deployCmd.Flags().AddGoFlag(flag.Lookup("api"))
	deployCmd.Flags().AddGoFlag(flag.Lookup("token"))
	deployCmd.Flags().AddGoFlag(flag.Lookup("gcp-identity"))
	deployCmd.Flags().AddGoFlag(flag.Lookup("project"))
	deployCmd.Flags().AddGoFlag(flag.Lookup("name"))
	deployCmd.Flags().AddGoFlag(flag.Lookup("git"))
	deployCmd.Flags().AddGoFlag(flag.Lookup("git-path"))
	deployCmd.Flags().AddGoFlag(flag.Lookup("server"))
	deployCmd.Flags().AddGoFlag(flag.Lookup("compatibility-date"))
	deployCmd.Flags().AddGoFlag(flag.Lookup("html-handling"))
	deployCmd.Flags().AddGoFlag(flag.Lookup("not-found-handling"))
	deployCmd.Flags().AddGoFlag(flag.Lookup("worker-first"))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		color.New(color.FgRed).Printf("Error: %v\n", err)
		os.Exit(1)
	}
}
