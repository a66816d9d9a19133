package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/insajin/cs-mcp-bridge/internal/metrics"
	"github.com/insajin/cs-mcp-bridge/internal/openapitool"
	"github.com/spf13/cobra"
)

// toolsCmd는 생성될 MCP 도구 목록을 출력합니다.
var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "OpenAPI 문서에서 생성되는 MCP 도구를 출력합니다",
	Long: `팀 서버에 로그인하고 OpenAPI 문서를 읽어
MCP 도구로 노출될 작업과 제외되는 작업을 출력합니다.
MCP 서버는 시작하지 않습니다.`,
	SilenceUsage: true,
	RunE:         runTools,
}

var toolsJSON bool

func init() {
	rootCmd.AddCommand(toolsCmd)
	toolsCmd.Flags().BoolVar(&toolsJSON, "json", false, "JSON 형식으로 출력")
}

// toolsReport는 tools --json 출력 형식입니다.
type toolsReport struct {
	Tools    []openapitool.ToolInfo `json:"tools"`
	Excluded []openapitool.ToolInfo `json:"excluded"`
}

func runTools(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(true)
	if err != nil {
		return err
	}
	log := newLogger(cfg)

	client, srv, err := connect(cmd.Context(), cfg, log, metrics.New())
	if err != nil {
		return err
	}
	defer client.Close()
	defer func() { _ = srv.Stop() }()

	result := srv.Tools()
	report := toolsReport{
		Tools:    result.Generated,
		Excluded: result.Excluded,
	}
	if toolsJSON {
		return printToolsJSON(cmd.OutOrStdout(), report)
	}
	printToolsTable(cmd.OutOrStdout(), report)
	return nil
}

func printToolsJSON(w io.Writer, report toolsReport) error {
	if report.Tools == nil {
		report.Tools = []openapitool.ToolInfo{}
	}
	if report.Excluded == nil {
		report.Excluded = []openapitool.ToolInfo{}
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("JSON 직렬화 실패: %w", err)
	}
	fmt.Fprintln(w, string(data))
	return nil
}

func printToolsTable(w io.Writer, report toolsReport) {
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  Tools (%d):\n", len(report.Tools))
	for _, t := range report.Tools {
		fmt.Fprintf(w, "    %-40s %-7s %s\n", t.Name, t.Method, t.Path)
		if t.Summary != "" {
			fmt.Fprintf(w, "    %-40s %s\n", "", truncate(t.Summary, 72))
		}
	}

	fmt.Fprintf(w, "\n  Excluded (%d):\n", len(report.Excluded))
	for _, t := range report.Excluded {
		tags := ""
		if len(t.Tags) > 0 {
			tags = " [" + strings.Join(t.Tags, ", ") + "]"
		}
		fmt.Fprintf(w, "    %-7s %s%s\n", t.Method, t.Path, tags)
	}
	fmt.Fprintln(w)
}

// truncate는 문자열을 지정 길이로 자릅니다.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
