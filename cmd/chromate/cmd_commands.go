package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"chromate/internal/interpreter"
)

var commandsCmd = &cobra.Command{
	Use:   "commands",
	Short: "List the commands the interpreter understands",
	Args:  cobra.NoArgs,
	RunE:  listCommands,
}

type commandGroup struct {
	Category string
	Examples []string
}

// builtinCommands is shown when the interpreter has no catalog to offer.
var builtinCommands = []commandGroup{
	{Category: "검색", Examples: []string{"구글에서 날씨 검색해줘", "오늘 주식 시장 검색해줘", "맛집 찾아줘"}},
	{Category: "페이지 이동", Examples: []string{"네이버로 이동해줘", "유튜브 열어줘", "구글로 이동"}},
	{Category: "스크롤", Examples: []string{"위로 올려줘", "아래로 내려줘", "맨 위로 올려줘"}},
	{Category: "브라우저 제어", Examples: []string{"뒤로 가줘", "앞으로 가줘", "새로고침 해줘"}},
}

func listCommands(cmd *cobra.Command, args []string) error {
	client := interpreter.NewClient(interpreter.Config{
		BaseURL: cfg.Interpreter.BaseURL,
		Timeout: cfg.Interpreter.Timeout,
	}, logger)

	out := cmd.OutOrStdout()
	catalog, err := client.Commands(commandContext(cmd))
	if err != nil {
		logger.Warn("remote command catalog unavailable", zap.Error(err))
	}
	if len(catalog) == 0 {
		printBuiltinCommands(out)
		return nil
	}
	for _, phrase := range catalog {
		fmt.Fprintf(out, "- %s\n", phrase)
	}
	return nil
}

func printBuiltinCommands(out io.Writer) {
	for i, group := range builtinCommands {
		if i > 0 {
			fmt.Fprintln(out)
		}
		fmt.Fprintf(out, "[%s]\n", group.Category)
		for _, example := range group.Examples {
			fmt.Fprintf(out, "- %s\n", example)
		}
	}
	fmt.Fprintf(out, "\n호출어(%q)를 부른 뒤 명령을 말하면 됩니다.\n", cfg.Wake.Keyword)
}
