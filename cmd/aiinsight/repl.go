package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/peterh/liner"

	"aiinsight/internal/session"
	"aiinsight/pkg/contract"
)

// lineReader: 交互输入（liner.State 满足该接口）。
type lineReader interface {
	Prompt(prompt string) (string, error)
	AppendHistory(item string)
	Close() error
}

func (a *app) input() lineReader {
	if a.newInput != nil {
		return a.newInput()
	}
	l := liner.NewLiner()
	l.SetCtrlCAborts(true)
	return l
}

const replHelp = `命令：
  /load <path>              加载 .xlsx/.docx（保留对话历史）
  /preview                  显示当前摘录预览
  /summary                  对当前文件做一次性摘要（不计入历史）
  /export <fmt> [a,b,...]   导出最近一次回答（txt/xlsx/docx/pdf/json）
  /columns                  显示最近一次回答的结构化列
  /history                  显示对话历史
  /reset                    清空摘录与历史
  /quit                     退出
其余输入作为问题发送。`

// repl 读取输入直到 /quit、EOF 或 Ctrl+C；单条命令失败只提示，不中断会话。
func (a *app) repl(ctx context.Context, s *session.Session, in lineReader) error {
	fprintf(a.out, "%s\n", a.labels.dim.Sprint("输入 /help 查看命令"))
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		line, err := in.Prompt("aiinsight> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				fprintf(a.out, "\n")
				return nil
			}
			return err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		in.AppendHistory(line)
		if !strings.HasPrefix(line, "/") {
			rep, err := a.pipe.Ask(ctx, s, line)
			if err != nil {
				a.printError(err)
				continue
			}
			a.printReply(rep)
			continue
		}
		quit, err := a.command(ctx, s, line)
		if err != nil {
			a.printError(err)
		}
		if quit {
			return nil
		}
	}
}

func (a *app) command(ctx context.Context, s *session.Session, line string) (bool, error) {
	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]
	switch cmd {
	case "/quit", "/exit":
		return true, nil
	case "/help":
		fprintf(a.out, "%s\n", replHelp)
	case "/load":
		if len(args) == 0 {
			return false, fmt.Errorf("%w: /load <path>", contract.ErrInvalidInput)
		}
		return false, a.load(ctx, s, strings.Join(args, " "))
	case "/preview":
		ex := s.Excerpt()
		if ex.Empty() {
			return false, contract.ErrNoContent
		}
		fprintf(a.out, "%s\n", ex.Preview(previewLines, previewChars))
	case "/summary":
		ans, err := a.pipe.Summarize(ctx, s)
		if err != nil {
			return false, err
		}
		a.printMarkdown(ans.Text)
	case "/export":
		if len(args) == 0 {
			return false, fmt.Errorf("%w: /export <%s> [columns]", contract.ErrInvalidInput, strings.Join(a.pipe.Formats(), "|"))
		}
		var cols []string
		if len(args) > 1 {
			// 给出了列参数但全为分隔符：显式空选择，交由导出校验拒绝
			cols = append([]string{}, splitList(strings.Join(args[1:], ","))...)
		}
		return false, a.exportTo(ctx, s, args[0], cols)
	case "/columns":
		last, ok := s.Last()
		if !ok || last.Extraction.Payload == nil {
			return false, contract.ErrNoStructuredData
		}
		fprintf(a.out, "%s\n", strings.Join(last.Extraction.Payload.Keys, ", "))
	case "/history":
		for _, t := range s.History() {
			fprintf(a.out, "%s %s\n", a.labels.info.Sprintf("%-9s", t.Role), t.Text)
		}
	case "/reset":
		release, err := s.Acquire(ctx)
		if err != nil {
			return false, err
		}
		s.Reset()
		release()
		fprintf(a.out, "%s\n", a.labels.ok.Sprint("[reset]"))
	default:
		return false, fmt.Errorf("%w: unknown command %s", contract.ErrInvalidInput, cmd)
	}
	return false, nil
}
