package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/modlink/core/cli"
	"github.com/modlink/core/pkg/daemon"
)

// NewStatusCmd creates the `status` command, which reports the daemon's
// connection and sync state over its socket.
func NewStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show bridge connection and sync status",
		RunE: func(cmd *cobra.Command, args []string) error {
			handler := cli.NewErrorHandler(cli.GetOptions(cmd).Verbose)

			client, err := daemon.Connect(resolveSocketPath(cmd))
			if err != nil {
				return handler.Handle(err)
			}
			defer client.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			status, err := client.Status(ctx)
			if err != nil {
				return handler.Handle(err)
			}

			if cli.GetOptions(cmd).JSONOutput {
				return json.NewEncoder(os.Stdout).Encode(status)
			}

			fmt.Printf("Connection:      %s\n", status.Connection)
			fmt.Printf("Task:            %s\n", status.Task)
			fmt.Printf("Edit sessions:   %d\n", status.EditSessions)
			fmt.Printf("Staged slots:    %d\n", status.PendingMutations)
			if status.PendingImport {
				fmt.Println("Import:          pending")
			}
			for _, project := range status.Projects {
				fmt.Printf("Project:         %s\n", project)
			}
			if status.Config != nil {
				fmt.Printf("Endpoint:        %s\n", status.Config.Endpoint)
				fmt.Printf("Up since:        %s\n", status.Config.StartedAt.Format(time.RFC3339))
			}
			return nil
		},
	}

	cmd.AddCommand(newStatusLibrariesCmd())
	return cmd
}

func newStatusLibrariesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "libraries",
		Short: "List the item libraries the daemon has loaded",
		RunE: func(cmd *cobra.Command, args []string) error {
			handler := cli.NewErrorHandler(cli.GetOptions(cmd).Verbose)

			client, err := daemon.Connect(resolveSocketPath(cmd))
			if err != nil {
				return handler.Handle(err)
			}
			defer client.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			libs, err := client.Libraries(ctx)
			if err != nil {
				return handler.Handle(err)
			}

			if cli.GetOptions(cmd).JSONOutput {
				return json.NewEncoder(os.Stdout).Encode(libs)
			}

			for _, lib := range libs {
				fmt.Printf("%s (%s, %d items)  %s\n", lib.ID, lib.CompilationMode, len(lib.Items), lib.Project)
			}
			return nil
		},
	}
}
