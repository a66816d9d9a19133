package cmd

import (
	"fmt"
	"runtime"

	"github.com/insajin/cs-mcp-bridge/internal/mcpserver"
	"github.com/spf13/cobra"
)

// versionCmd는 버전 정보를 출력하는 명령어입니다.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "버전 정보를 출력합니다",
	Long:  `cs-mcp의 버전, 커밋 해시, 빌드 날짜를 출력합니다.`,
	Run: func(cmd *cobra.Command, args []string) {
		version, commit, buildDate := GetVersionInfo()
		w := cmd.OutOrStdout()

		fmt.Fprintf(w, "cs-mcp\n")
		fmt.Fprintf(w, "  Version:    %s\n", version)
		fmt.Fprintf(w, "  Commit:     %s\n", commit)
		fmt.Fprintf(w, "  Built:      %s\n", buildDate)
		fmt.Fprintf(w, "  MCP server: %s\n", mcpserver.ServerVersion)
		fmt.Fprintf(w, "  Go version: %s\n", runtime.Version())
		fmt.Fprintf(w, "  OS/Arch:    %s/%s\n", runtime.GOOS, runtime.GOARCH)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
