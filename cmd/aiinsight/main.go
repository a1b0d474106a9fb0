package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/term"

	cfgpkg "aiinsight/internal/config"
	"aiinsight/internal/diag"
	"aiinsight/internal/pipeline"
)

// dispatch 可在测试中替换。
var dispatch = runApp

// CLI：
//
//	aiinsight [flags] [file]
//
// 有 --question/--summary 时一次性执行后退出；--serve 启动 HTTP；否则进入交互式会话。
func main() {
	os.Exit(run())
}

func run() int {
	start := time.Now()
	corrID := uuid.NewString()
	// 在任何 ENV 读取前，尝试加载工作目录下的 .env（不覆盖已有 ENV）。
	_ = loadDotEnv(".env")
	logLevel := "info"
	// 先用默认级别，合并配置后按最终 level/dir 重建
	logger := diag.NewLogger(corrID, logLevel)
	var (
		flagConfig   string
		flagLLM      string
		flagModel    string
		flagMaxRows  int
		flagMaxChars int
		flagInitDir  string
		flagStatus   bool
		flagServe    bool
		flagAddr     string
		flagFile     string
		flagQuestion string
		flagSummary  bool
		flagExport   string
		flagColumns  string
		flagOut      string
	)
	flag.StringVar(&flagConfig, "config", "", "配置文件路径（.json/.toml/.yaml）；缺省读取 ./config.{json,toml,yaml}（若存在）")
	flag.StringVar(&flagLLM, "llm", "", "provider 名称（覆盖配置）")
	flag.StringVar(&flagModel, "model", "", "模型名（覆盖配置）")
	flag.IntVar(&flagMaxRows, "max-rows", 0, "表格摘录最大行数（覆盖配置）")
	flag.IntVar(&flagMaxChars, "max-chars", 0, "文本摘录最大字符数（覆盖配置）")
	flag.StringVar(&flagInitDir, "init-config", "", "在指定目录生成默认配置 config.json 和 .env 模板（若已存在则跳过，不覆盖）；不带值时默认当前目录")
	flag.BoolVar(&flagStatus, "status", true, "终端状态提示（stderr）。TTY 动态刷新；非 TTY 打点输出")
	flag.BoolVar(&flagServe, "serve", false, "启动 HTTP 服务")
	flag.StringVar(&flagAddr, "addr", "", "HTTP 监听地址（覆盖配置）")
	flag.StringVar(&flagFile, "file", "", "待分析的 .xlsx/.docx 文件（也可作为位置参数）")
	flag.StringVar(&flagQuestion, "question", "", "一次性提问后退出")
	flag.BoolVar(&flagSummary, "summary", false, "对文件做一次性摘要后退出")
	flag.StringVar(&flagExport, "export", "", "一次性提问后导出的格式，逗号分隔（txt,xlsx,docx,pdf,json）")
	flag.StringVar(&flagColumns, "columns", "", "导出列，逗号分隔（缺省导出全部列）")
	flag.StringVar(&flagOut, "out", "", "导出目录（覆盖 writer 的 output_dir）")
	normalizeInitArg()
	flag.Parse()

	if dir := strings.TrimSpace(flagInitDir); dir != "" {
		if err := initConfig(dir); err != nil {
			fprintf(os.Stderr, "生成默认配置失败: %v\n", err)
			logger.Error("config", string(diag.Classify(err)), "init-config failed", &start)
			return 3
		}
		return 0
	}

	if flagFile == "" && flag.NArg() > 0 {
		flagFile = flag.Arg(0)
	}

	// 配置来源：--config / AI_INSIGHT_CONFIG_FILE / AI_INSIGHT_CONFIG_JSON / ./config.*
	var cfgJSON []byte
	if s := os.Getenv(cfgpkg.EnvPrefix + "CONFIG_JSON"); s != "" {
		cfgJSON = []byte(s)
	}
	if flagConfig == "" {
		flagConfig = os.Getenv(cfgpkg.EnvPrefix + "CONFIG_FILE")
	}
	if flagConfig == "" && len(cfgJSON) == 0 {
		flagConfig = findDefaultConfig()
	}

	cfg := cfgpkg.Defaults()
	if flagConfig != "" || len(cfgJSON) > 0 {
		var base cfgpkg.Config
		var err error
		if len(cfgJSON) > 0 {
			base, err = cfgpkg.LoadJSON("", cfgJSON)
		} else {
			base, err = cfgpkg.LoadFile(flagConfig)
		}
		if err != nil {
			fprintf(os.Stderr, "配置解析失败: %v\n", err)
			logger.Error("config", string(diag.Classify(err)), "first error", &start)
			return 3
		}
		cfg = cfgpkg.Merge(cfg, base)
	}

	overEnv, err := cfgpkg.EnvOverlay(os.Environ())
	if err != nil {
		fprintf(os.Stderr, "环境变量解析失败: %v\n", err)
		logger.Error("config", string(diag.Classify(err)), "first error", &start)
		return 3
	}
	cfg = cfgpkg.Merge(cfg, overEnv)

	var overCLI cfgpkg.Config
	overCLI.LLM = flagLLM
	overCLI.Completion.Model = flagModel
	overCLI.MaxRows = flagMaxRows
	overCLI.MaxChars = flagMaxChars
	overCLI.Server.Addr = flagAddr
	cfg = cfgpkg.Merge(cfg, overCLI)
	if strings.TrimSpace(flagOut) != "" {
		if cfg.Options.Writer, err = withOutputDir(cfg.Options.Writer, flagOut); err != nil {
			fprintf(os.Stderr, "writer 选项无效: %v\n", err)
			return 3
		}
	}

	if err := cfgpkg.Validate(cfg); err != nil {
		fprintf(os.Stderr, "配置校验失败: %v\n", err)
		_ = dumpConfig(os.Stderr, cfg)
		logger.Error("config", string(diag.Classify(err)), "first error", &start)
		return 3
	}

	if s := strings.TrimSpace(cfg.Logging.Level); s != "" {
		logLevel = s
	}
	_ = logger.Close()
	logger = diag.NewLoggerAt(corrID, logLevel, cfg.Logging.Dir)
	defer logger.Close()

	if err := preflightCheckOutputDir(cfg); err != nil {
		fprintf(os.Stderr, "输出目录不可写或无法创建: %v\n", err)
		logger.Error("config", string(diag.Classify(err)), "first error", &start)
		return 3
	}

	comp, set, err := cfgpkg.Assemble(cfg)
	if err != nil {
		fprintf(os.Stderr, "装配失败: %v\n", err)
		logger.Error("config", string(diag.Classify(err)), "first error", &start)
		return 3
	}
	pipe, err := pipeline.New(comp, set, logger)
	if err != nil {
		fprintf(os.Stderr, "装配失败: %v\n", err)
		logger.Error("pipeline", string(diag.Classify(err)), "first error", &start)
		return 3
	}

	status := diag.NewTerminal(os.Stderr, flagStatus)
	diag.SetTerminal(status)
	defer diag.SetTerminal(nil)
	status.SessionStart(cfg.LLM, set.Model)

	logger.DebugStart("config", "effective", "", "", effectiveKV(cfg, set))

	a := &app{
		pipe:     pipe,
		cfg:      cfg,
		logger:   logger,
		out:      os.Stdout,
		errOut:   os.Stderr,
		tty:      isTTY(os.Stdout),
		file:     strings.TrimSpace(flagFile),
		question: strings.TrimSpace(flagQuestion),
		summary:  flagSummary,
		export:   splitList(flagExport),
		columns:  splitList(flagColumns),
		serve:    flagServe,
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	t := logger.Start("cli", "run")
	if err := dispatch(ctx, a); err != nil {
		code := string(diag.Classify(err))
		logger.Error("cli", code, "first error", &start)
		diag.IncOp("cli", "finish", "error")
		if code != string(diag.CodeUnknown) {
			diag.IncError("cli", code)
		}
		if !errors.Is(err, context.Canceled) {
			fprintf(os.Stderr, "运行失败: %v\n", err)
		}
		return 1
	}
	t.Finish("run", 0)
	diag.IncOp("cli", "finish", "success")
	diag.ObserveDuration("cli", "finish", time.Since(start).Milliseconds())
	return 0
}

func fprintf(w io.Writer, format string, a ...any) { _, _ = fmt.Fprintf(w, format, a...) }

// effectiveKV: 运行期配置摘要（不含密钥）。
func effectiveKV(cfg cfgpkg.Config, set pipeline.Settings) map[string]string {
	kv := map[string]string{
		"max_rows":       fmt.Sprintf("%d", cfg.MaxRows),
		"max_chars":      fmt.Sprintf("%d", cfg.MaxChars),
		"llm":            cfg.LLM,
		"model":          set.Model,
		"normalizer":     cfg.Components.Normalizer,
		"prompt_builder": cfg.Components.PromptBuilder,
		"extractor":      cfg.Components.Extractor,
		"exporters":      strings.Join(cfg.Components.Exporters, ","),
		"writer":         cfg.Components.Writer,
	}
	if p, ok := cfg.Provider[cfg.LLM]; ok {
		kv["provider_client"] = p.Client
		var s struct {
			BaseURL  string `json:"base_url"`
			Endpoint string `json:"endpoint_path"`
		}
		_ = json.Unmarshal(p.Options, &s)
		if s.BaseURL != "" {
			kv["base_url"] = s.BaseURL
		}
		if s.Endpoint != "" {
			kv["endpoint_path"] = s.Endpoint
		}
	}
	return kv
}

func dumpConfig(w io.Writer, c cfgpkg.Config) error {
	b, err := json.MarshalIndent(cfgpkg.Redacted(c), "", "  ")
	if err != nil {
		return err
	}
	_, _ = w.Write(append([]byte("有效配置:\n"), b...))
	_, _ = w.Write([]byte("\n"))
	return nil
}

func findDefaultConfig() string {
	for _, name := range []string{"config.json", "config.toml", "config.yaml", "config.yml"} {
		if st, err := os.Stat(name); err == nil && !st.IsDir() {
			return name
		}
	}
	return ""
}

func initConfig(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if err := writeConfig(filepath.Join(dir, "config.json"), cfgpkg.DefaultTemplateConfig()); err != nil {
		return err
	}
	if err := writeDotEnv(filepath.Join(dir, ".env")); err != nil {
		fprintf(os.Stderr, "提示：.env 生成失败（已跳过）：%v\n", err)
	}
	return nil
}

func writeConfig(path string, c cfgpkg.Config) error {
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	if path == "-" {
		_, err = os.Stdout.Write(append(b, '\n'))
		return err
	}
	// 不覆盖已存在文件
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Write(append(b, '\n')); err != nil {
		return err
	}
	return nil
}

// withOutputDir 在 writer 原样选项上替换 output_dir，其余键保留。
func withOutputDir(raw json.RawMessage, dir string) (json.RawMessage, error) {
	m := map[string]any{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, err
		}
	}
	m["output_dir"] = dir
	return json.Marshal(m)
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func isTTY(f *os.File) bool {
	if os.Getenv("CI") != "" {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}

// loadDotEnv 读取简单的 .env 文件格式并注入进程环境。
// 规则：
// - 忽略不存在的文件；
// - 跳过空行与以 # 开头的行；支持可选的前缀 "export "；
// - 仅按首个 '=' 分割；成对的单/双引号被去除，双引号内处理 \n/\t/\r/\"/\\；
// - 不覆盖已存在的环境变量。
func loadDotEnv(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()
	s := bufio.NewScanner(f)
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		eq := strings.IndexByte(line, '=')
		if eq <= 0 {
			continue
		}
		key := strings.TrimSpace(line[:eq])
		val := unquote(strings.TrimSpace(line[eq+1:]))
		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		_ = os.Setenv(key, val)
	}
	return s.Err()
}

func unquote(val string) string {
	if len(val) < 2 {
		return val
	}
	q := val[0]
	if (q != '\'' && q != '"') || val[len(val)-1] != q {
		return val
	}
	val = val[1 : len(val)-1]
	if q == '"' {
		val = strings.NewReplacer(`\n`, "\n", `\t`, "\t", `\r`, "\r", `\"`, `"`, `\\`, `\`).Replace(val)
	}
	return val
}

// normalizeInitArg: --init-config 未带值（末尾或后随其他开关）时补默认值 "."。
func normalizeInitArg() {
	args := os.Args
	if len(args) <= 1 {
		return
	}
	out := make([]string, 0, len(args)+1)
	out = append(out, args[0])
	for i := 1; i < len(args); i++ {
		a := args[i]
		out = append(out, a)
		if a == "--init-config" || a == "-init-config" {
			if i == len(args)-1 || strings.HasPrefix(args[i+1], "-") {
				out = append(out, ".")
			}
		}
	}
	os.Args = out
}

// writeDotEnv 生成 .env 模板（若文件已存在则跳过）。
func writeDotEnv(path string) error {
	var b strings.Builder
	p := cfgpkg.EnvPrefix
	b.WriteString("# aiinsight .env 模板（由 --init-config 生成）\n")
	b.WriteString("# 优先级：CLI > ENV(.env) > 配置文件\n")
	b.WriteString("# 空值表示未设置。\n\n")

	b.WriteString("# 配置来源（可二选一）\n")
	for _, k := range []string{"CONFIG_FILE", "CONFIG_JSON"} {
		b.WriteString(p + k + "=\n")
	}
	b.WriteString("\n# 运行参数覆盖\n")
	for _, k := range []string{"MAX_ROWS", "MAX_CHARS", "LLM", "MODEL", "TEMPERATURE", "MAX_OUTPUT_TOKENS",
		"SUMMARY_MAX_OUTPUT_TOKENS", "BYTES_PER_TOKEN", "LOG_LEVEL", "LOG_DIR", "SERVER_ADDR"} {
		b.WriteString(p + k + "=\n")
	}
	b.WriteString("\n# 组件选择\n")
	for _, k := range []string{"READER", "NORMALIZER", "PROMPT_BUILDER", "EXTRACTOR", "WRITER", "EXPORTERS"} {
		b.WriteString(p + "COMPONENTS_" + k + "=\n")
	}
	for _, name := range []string{"openai", "gemini"} {
		b.WriteString("\n# Provider 覆盖（" + name + "）\n")
		for _, k := range []string{"CLIENT", "LIMITS_RPM", "LIMITS_TPM", "LIMITS_MAX_TOKENS_PER_REQ", "OPTIONS_JSON"} {
			b.WriteString(p + "PROVIDER__" + name + "__" + k + "=\n")
		}
	}
	b.WriteString("\n# 常见供应商 API Key（由 Provider 客户端读取，不带前缀）\n")
	b.WriteString("OPENAI_API_KEY=\n")
	b.WriteString("OPENAI_PROJECT_ID=\n")
	b.WriteString("GOOGLE_API_KEY=\n")

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		if os.IsExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()
	_, err = f.WriteString(b.String())
	return err
}

// preflightCheckOutputDir: fs writer 启动前检查输出目录可写性。
// 目录存在时试写临时文件；不存在时试在父目录创建临时目录。其他 writer 跳过。
func preflightCheckOutputDir(cfg cfgpkg.Config) error {
	writerName := strings.TrimSpace(cfg.Components.Writer)
	if writerName == "" {
		writerName = cfgpkg.Defaults().Components.Writer
	}
	if writerName != "fs" {
		return nil
	}
	var wopts struct {
		OutputDir string `json:"output_dir"`
	}
	if len(cfg.Options.Writer) > 0 {
		_ = json.Unmarshal(cfg.Options.Writer, &wopts)
	}
	dir := strings.TrimSpace(wopts.OutputDir)
	if dir == "" {
		return nil
	}
	st, err := os.Stat(dir)
	switch {
	case err == nil && st.IsDir():
		f, err := os.CreateTemp(dir, ".wcheck-*")
		if err != nil {
			return err
		}
		name := f.Name()
		_ = f.Close()
		return os.Remove(name)
	case err == nil:
		return fmt.Errorf("路径存在但不是目录: %s", dir)
	case !os.IsNotExist(err):
		return err
	}
	parent := filepath.Dir(dir)
	if parent == dir {
		return fmt.Errorf("无法确定父目录: %s", dir)
	}
	pst, err := os.Stat(parent)
	if err != nil {
		return err
	}
	if !pst.IsDir() {
		return fmt.Errorf("父路径不是目录: %s", parent)
	}
	tmpd, err := os.MkdirTemp(parent, ".wcheck-*")
	if err != nil {
		return err
	}
	return os.RemoveAll(tmpd)
}
