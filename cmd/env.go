package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/insajin/cs-mcp-bridge/internal/config"
	"github.com/spf13/cobra"
)

// envCmd는 지원하는 환경변수 목록을 출력합니다.
var envCmd = &cobra.Command{
	Use:   "env",
	Short: "지원하는 환경변수 목록을 출력합니다",
	Long: `cs-mcp가 읽는 환경변수와 기본값을 출력합니다.
작업 디렉토리의 .env 파일도 같은 이름으로 읽습니다.`,
	Run: func(cmd *cobra.Command, args []string) {
		printEnv(cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(envCmd)
}

// printEnv는 환경변수 표를 출력합니다. 설정된 비밀번호는 값을 표시하지 않습니다.
func printEnv(w io.Writer) {
	fmt.Fprintln(w, "Supported environment variables:")
	fmt.Fprintln(w)
	for _, e := range config.EnvVars {
		fmt.Fprintf(w, "  %-24s %s\n", e.Env, e.Description)
		fmt.Fprintf(w, "  %-24s default: %s\n", "", envDefault(e))
		if value, ok := os.LookupEnv(e.Env); ok {
			if e.Env == "CS_API_PASSWORD" {
				value = "(set)"
			}
			fmt.Fprintf(w, "  %-24s current: %s\n", "", value)
		}
	}
}

func envDefault(e config.EnvVar) string {
	switch {
	case e.Key == "mcp.instructions":
		return "(built-in operator instructions)"
	case e.Key == "api.username" || e.Key == "api.password":
		return "(required)"
	case e.Default == "":
		return `""`
	}
	return fmt.Sprint(e.Default)
}
