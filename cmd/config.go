// config.go는 설정 관리 명령을 구현합니다.
package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/insajin/cs-mcp-bridge/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// configCmd는 설정 관리를 위한 상위 명령어입니다.
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "설정을 관리합니다",
	Long: `설정 파일의 값을 조회하거나 수정합니다.

설정 파일 위치: ~/.config/cs-mcp/config.yaml

주의: 비밀번호는 환경변수(CS_API_PASSWORD)나 .env로 설정하는 것을 권장합니다.`,
}

// configSetCmd는 설정 값을 저장하는 명령어입니다.
var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "설정 값을 저장합니다",
	Long: `설정 파일에 값을 저장합니다.

키는 점(.)으로 구분된 경로를 사용합니다.
예시:
  cs-mcp config set api.base_url https://teamserver:50443
  cs-mcp config set mcp.transport stdio
  cs-mcp config set logging.level debug

지원하는 키 목록은 'cs-mcp env'로 확인하세요.`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

// configGetCmd는 설정 값을 조회하는 명령어입니다.
var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "설정 값을 조회합니다",
	Args:  cobra.ExactArgs(1),
	RunE:  runConfigGet,
}

// configListCmd는 전체 설정을 출력하는 명령어입니다.
var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "전체 설정을 출력합니다",
	Long: `현재 적용된 모든 설정을 YAML 포맷으로 출력합니다.
비밀번호는 마스킹 처리되어 표시됩니다.`,
	RunE: runConfigList,
}

// configPathCmd는 설정 파일 경로를 출력하는 명령어입니다.
var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "설정 파일 경로를 출력합니다",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Fprintln(cmd.OutOrStdout(), config.DefaultConfigPath())
		return nil
	},
}

// configInitCmd는 기본 설정 파일을 생성하는 명령어입니다.
var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "기본 설정 파일을 생성합니다",
	Long: `기본 설정 파일을 ~/.config/cs-mcp/config.yaml에 생성합니다.

이미 파일이 존재하면 덮어쓰지 않습니다.
강제로 덮어쓰려면 --force 플래그를 사용하세요.`,
	RunE: runConfigInit,
}

var forceInit bool

// errConfigExists는 config init 대상 파일이 이미 있는 경우입니다.
var errConfigExists = errors.New("설정 파일이 이미 존재합니다")

func init() {
	rootCmd.AddCommand(configCmd)

	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configListCmd)
	configCmd.AddCommand(configPathCmd)
	configCmd.AddCommand(configInitCmd)

	configInitCmd.Flags().BoolVar(&forceInit, "force", false, "기존 파일을 덮어씁니다")
}

// runConfigSet은 설정 값을 저장합니다.
func runConfigSet(cmd *cobra.Command, args []string) error {
	key, value := args[0], args[1]

	if !isValidConfigKey(key) {
		return fmt.Errorf("알 수 없는 설정 키: %s", key)
	}
	parsed := parseConfigValue(value)
	viper.Set(key, parsed)

	if err := config.EnsureConfigDir(); err != nil {
		return err
	}
	configPath := config.DefaultConfigPath()
	if cfgFile != "" {
		configPath = cfgFile
	}
	if err := viper.WriteConfigAs(configPath); err != nil {
		return fmt.Errorf("설정 파일 저장 실패: %w", err)
	}

	if key == "api.password" {
		parsed = "********"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s = %v\n", key, parsed)
	fmt.Fprintf(cmd.OutOrStdout(), "설정이 저장되었습니다: %s\n", configPath)
	return nil
}

// runConfigGet은 설정 값을 조회합니다.
func runConfigGet(cmd *cobra.Command, args []string) error {
	key := args[0]
	if !isValidConfigKey(key) {
		return fmt.Errorf("알 수 없는 설정 키: %s", key)
	}

	value := viper.Get(key)
	if key == "api.password" {
		if s, ok := value.(string); ok && s != "" {
			value = "********"
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s = %v\n", key, value)
	return nil
}

// runConfigList는 전체 설정을 출력합니다.
func runConfigList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(false)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if configFile := viper.ConfigFileUsed(); configFile != "" {
		fmt.Fprintf(w, "# 설정 파일: %s\n", configFile)
	} else {
		fmt.Fprintf(w, "# 설정 파일: (기본값 사용 중)\n")
	}
	fmt.Fprintln(w)

	return writeYAML(w, cfg.Redacted())
}

// runConfigInit은 기본 설정 파일을 생성합니다.
func runConfigInit(cmd *cobra.Command, args []string) error {
	if err := config.EnsureConfigDir(); err != nil {
		return err
	}
	configPath := config.DefaultConfigPath()

	if err := writeDefaultConfig(configPath, forceInit); err != nil {
		if errors.Is(err, errConfigExists) {
			return fmt.Errorf("%w: %s\n--force 플래그로 덮어쓸 수 있습니다", err, configPath)
		}
		return err
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "설정 파일이 생성되었습니다: %s\n", configPath)
	fmt.Fprintln(w, "\n다음 환경변수를 설정하세요:")
	fmt.Fprintln(w, "  export CS_API_USERNAME=<operator>")
	fmt.Fprintln(w, "  export CS_API_PASSWORD=<password>")
	return nil
}

// writeDefaultConfig는 기본값으로 채운 설정 파일을 path에 씁니다.
// 비밀번호는 비워둡니다.
func writeDefaultConfig(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return errConfigExists
		}
	}

	v := viper.New()
	for _, e := range config.EnvVars {
		v.SetDefault(e.Key, e.Default)
	}
	cfg, err := config.Load(v)
	if err != nil {
		return err
	}

	var b strings.Builder
	b.WriteString("# cs-mcp 설정 파일\n")
	b.WriteString("# 생성됨: cs-mcp config init\n")
	b.WriteString("# 비밀번호는 CS_API_PASSWORD 환경변수로 설정하세요.\n\n")
	if err := writeYAML(&b, cfg); err != nil {
		return err
	}

	if err := os.WriteFile(path, []byte(b.String()), 0600); err != nil {
		return fmt.Errorf("설정 파일 생성 실패: %w", err)
	}
	return nil
}

func writeYAML(w io.Writer, cfg any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("YAML 직렬화 실패: %w", err)
	}
	return enc.Close()
}

// isValidConfigKey는 지원하는 설정 키인지 확인합니다.
func isValidConfigKey(key string) bool {
	for _, e := range config.EnvVars {
		if e.Key == key {
			return true
		}
	}
	return false
}

// parseConfigValue는 문자열 값을 적절한 타입으로 변환합니다.
func parseConfigValue(value string) interface{} {
	switch value {
	case "true":
		return true
	case "false":
		return false
	}
	if i, err := strconv.ParseInt(value, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(value, 64); err == nil {
		return f
	}
	return value
}
