package mcpserver

import (
	"context"
	"fmt"
	"strings"

	"github.com/insajin/cs-mcp-bridge/internal/metrics"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"
)

// 프롬프트 이름
const (
	PromptBeaconAnalysis   = "cobalt_strike_analysis"
	PromptOperationPlan    = "red_team_operation_plan"
	PromptIncidentResponse = "incident_response_analysis"
)

// analysisFocus는 task_type별 분석 초점입니다. 알 수 없는 값은 general을 사용합니다.
var analysisFocus = map[string]string{
	"general":          "Provide a comprehensive overview of all beacon activities.",
	"lateral_movement": "Focus on lateral movement techniques and credential harvesting.",
	"persistence":      "Analyze persistence mechanisms and backdoor installations.",
	"data_exfil":       "Examine data exfiltration attempts and sensitive file access.",
}

// registerPrompts는 분석 프롬프트를 MCP 서버에 등록합니다.
func registerPrompts(srv *server.MCPServer, m *metrics.Metrics, logger zerolog.Logger) {
	prompts := []struct {
		prompt mcp.Prompt
		render func(args map[string]string) string
	}{
		{
			prompt: mcp.NewPrompt(PromptBeaconAnalysis,
				mcp.WithPromptDescription("Analyze beacon data and generate security insights"),
				mcp.WithArgument("beacon_id",
					mcp.ArgumentDescription("Specific beacon ID to analyze (optional)"),
				),
				mcp.WithArgument("task_type",
					mcp.ArgumentDescription("Type of analysis: general, lateral_movement, persistence, data_exfil"),
				),
			),
			render: func(args map[string]string) string {
				return beaconAnalysisPrompt(args["beacon_id"], args["task_type"])
			},
		},
		{
			prompt: mcp.NewPrompt(PromptOperationPlan,
				mcp.WithPromptDescription("Plan a red team operation against an authorized scope"),
				mcp.WithArgument("target_scope",
					mcp.ArgumentDescription("Target environment scope, e.g. internal network"),
				),
				mcp.WithArgument("objectives",
					mcp.ArgumentDescription("Operation objectives, e.g. privilege escalation"),
				),
			),
			render: func(args map[string]string) string {
				return operationPlanPrompt(args["target_scope"], args["objectives"])
			},
		},
		{
			prompt: mcp.NewPrompt(PromptIncidentResponse,
				mcp.WithPromptDescription("Investigate an incident involving team server activity"),
				mcp.WithArgument("incident_type",
					mcp.ArgumentDescription("Type of incident, e.g. malware, breach, suspicious_activity"),
				),
				mcp.WithArgument("severity",
					mcp.ArgumentDescription("Severity level: low, medium, high, critical"),
				),
			),
			render: func(args map[string]string) string {
				return incidentResponsePrompt(args["incident_type"], args["severity"])
			},
		},
	}

	for _, p := range prompts {
		srv.AddPrompt(p.prompt, func(ctx context.Context, request mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
			m.PromptGets.Add(1)
			logger.Debug().Str("prompt", p.prompt.Name).Msg("프롬프트 조회")
			return mcp.NewGetPromptResult(
				p.prompt.Description,
				[]mcp.PromptMessage{
					mcp.NewPromptMessage(mcp.RoleUser, mcp.NewTextContent(p.render(request.Params.Arguments))),
				},
			), nil
		})
	}
	logger.Debug().Int("count", len(prompts)).Msg("MCP 프롬프트 등록 완료")
}

func beaconAnalysisPrompt(beaconID, taskType string) string {
	var b strings.Builder
	b.WriteString(`You are a cybersecurity analyst reviewing beacon activity on a Cobalt Strike team server.

Your task is to analyze the provided beacon data and identify:
1. Potential security risks and vulnerabilities
2. Attack patterns and techniques used
3. Next steps for adversary simulation
4. Timeline of activities and progression
`)

	if beaconID != "" {
		fmt.Fprintf(&b, "\nFocus your analysis on beacon ID: %s\n", beaconID)
	}

	focus, ok := analysisFocus[taskType]
	if !ok {
		focus = analysisFocus["general"]
	}
	fmt.Fprintf(&b, "\nAnalysis Focus: %s\n", focus)

	b.WriteString(`
Please structure your analysis as follows:
- Executive Summary
- Technical Details
- Risk Assessment
- Recommendations
- Next Steps

Use the available team server MCP tools and the cobalt-strike:// resources to gather the data for your analysis.
`)
	return b.String()
}

func operationPlanPrompt(targetScope, objectives string) string {
	var b strings.Builder
	b.WriteString(`You are a red team operations specialist planning an authorized security assessment with Cobalt Strike.

**Operation Planning Framework:**

1. **Reconnaissance Phase**
   - Network discovery and enumeration
   - Service identification and vulnerability assessment
   - Initial access vector identification

2. **Initial Access**
   - Payload delivery and execution
   - Beacon establishment and communication
   - Initial foothold verification

3. **Post-Exploitation**
   - Privilege escalation opportunities
   - Lateral movement pathways
   - Persistence mechanism deployment

4. **Objectives Achievement**
   - Data identification and access
   - System compromise demonstration
   - Impact assessment

5. **Documentation and Reporting**
   - Activity logging and evidence collection
   - Risk assessment and business impact
   - Remediation recommendations
`)

	if targetScope != "" {
		fmt.Fprintf(&b, "\n**Target Scope:** %s\n", targetScope)
	}
	if objectives != "" {
		fmt.Fprintf(&b, "\n**Primary Objectives:** %s\n", objectives)
	}

	b.WriteString(`
**Available Tools:**
Use the team server MCP tools to execute this plan systematically. Focus on:
- Beacon management and tasking
- Command execution and data collection
- Operational security
- Comprehensive documentation

Plan your approach step by step and use the appropriate MCP tools for each phase.
`)
	return b.String()
}

func incidentResponsePrompt(incidentType, severity string) string {
	if incidentType == "" {
		incidentType = "unknown"
	}
	if severity == "" {
		severity = "medium"
	}

	return fmt.Sprintf(`You are an incident response analyst investigating a security incident involving Cobalt Strike activity.

**Incident Details:**
- Type: %s
- Severity: %s
- Investigation Tool: Cobalt Strike MCP Server

**Investigation Framework:**

1. **Initial Assessment**
   - Scope of compromise determination
   - Timeline establishment
   - Affected systems identification

2. **Evidence Collection**
   - Beacon activity analysis
   - Command execution history
   - File system artifacts
   - Network communication patterns

3. **Threat Analysis**
   - Attack vector identification
   - Tactics, Techniques, and Procedures (TTPs)
   - Indicators of Compromise (IOCs)
   - Attribution assessment

4. **Impact Assessment**
   - Data exposure evaluation
   - System compromise extent
   - Business impact analysis
   - Regulatory implications

5. **Containment and Remediation**
   - Immediate containment actions
   - Eradication strategies
   - Recovery procedures
   - Lessons learned

**Analysis Approach:**
Use the team server MCP tools to gather evidence and reconstruct the timeline. Document all findings with supporting evidence from the MCP tools.
`, incidentType, strings.ToUpper(severity))
}
