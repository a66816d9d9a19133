// Package main은 cs-mcp CLI의 진입점입니다.
// Cobalt Strike 팀 서버 REST API를 MCP 도구와 리소스로 노출합니다.
package main

import (
	"os"

	"github.com/insajin/cs-mcp-bridge/cmd"
)

// 빌드 시 ldflags로 주입되는 버전 정보
var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	cmd.SetVersionInfo(version, commit, buildDate)

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
