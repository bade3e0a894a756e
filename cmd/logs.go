package cmd

import (
	"fmt"
	"io"
	"io/ioutil"
	stdlog "log"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/hpcloud/tail"
	"github.com/spf13/cobra"

	"github.com/modlink/core/cli"
)

// NewLogsCmd creates the `logs` command, which prints or follows the daemon
// log files written under each project root.
func NewLogsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show modlink daemon logs",
		Long: `Streams log files from .modlink/logs under each configured project root.

Examples:
  # Print today's logs
  modlink logs

  # Follow log output
  modlink logs -f

  # Only the bridge component
  modlink logs --component modlinkd
`,
		RunE: runLogsE,
	}

	cmd.Flags().BoolP("follow", "f", false, "Follow log output")
	cmd.Flags().String("component", "", "Only show logs for one component")

	return cmd
}

func runLogsE(cmd *cobra.Command, args []string) error {
	cfg, err := cli.LoadConfig(cmd)
	if err != nil {
		return err
	}

	follow, _ := cmd.Flags().GetBool("follow")
	component, _ := cmd.Flags().GetString("component")

	files := discoverLogFiles(cfg.Projects, component)
	if len(files) == 0 {
		fmt.Println("No log files found")
		return nil
	}

	if !follow {
		for _, file := range files {
			data, err := os.ReadFile(file)
			if err != nil {
				continue
			}
			os.Stdout.Write(data)
		}
		return nil
	}

	lines := make(chan string, 64)
	var wg sync.WaitGroup
	for _, file := range files {
		wg.Add(1)
		go tailFile(file, lines, &wg)
	}
	go func() {
		wg.Wait()
		close(lines)
	}()

	for line := range lines {
		fmt.Println(line)
	}
	return nil
}

// discoverLogFiles globs .modlink/logs under each project root, sorted so
// output ordering is stable.
func discoverLogFiles(roots []string, component string) []string {
	pattern := "*.log"
	if component != "" {
		pattern = component + "-*.log"
	}

	var files []string
	for _, root := range roots {
		matches, err := filepath.Glob(filepath.Join(root, ".modlink", "logs", pattern))
		if err != nil {
			continue
		}
		files = append(files, matches...)
	}
	sort.Strings(files)
	return files
}

func tailFile(path string, lines chan<- string, wg *sync.WaitGroup) {
	defer wg.Done()

	t, err := tail.TailFile(path, tail.Config{
		Follow: true,
		ReOpen: true,
		Location: &tail.SeekInfo{Offset: 0, Whence: io.SeekStart},
		// Suppress the tail library's own output
		Logger: stdlog.New(ioutil.Discard, "", 0),
	})
	if err != nil {
		return
	}

	for line := range t.Lines {
		if line.Err != nil {
			continue
		}
		lines <- line.Text
	}
}
