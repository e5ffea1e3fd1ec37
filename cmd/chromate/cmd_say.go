package main

import (
	"strings"

	"github.com/spf13/cobra"

	"chromate/internal/bootstrap"
)

var sayCmd = &cobra.Command{
	Use:   "say [command...]",
	Short: "Run one command as if it had been spoken",
	Example: `  chromate say 네이버 검색해줘
  chromate say 아래로 내려줘`,
	Args: cobra.MinimumNArgs(1),
	RunE: sayCommand,
}

func sayCommand(cmd *cobra.Command, args []string) error {
	sayCfg := cfg
	if cmd.Flags().Changed("no-browser") {
		sayCfg.Browser.Enabled = !noBrowser
	}

	services, err := bootstrap.Build(sayCfg, logger, bootstrap.Options{Events: newConsoleEvents(cmd.OutOrStdout())})
	if err != nil {
		return err
	}
	defer services.Close()

	ctx := commandContext(cmd)
	if services.Browser != nil {
		if err := services.Browser.Start(ctx); err != nil {
			return err
		}
	}
	return services.Controller.Submit(ctx, strings.Join(args, " "))
}
