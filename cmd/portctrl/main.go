package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/Alia5/portctrl/internal/cmd"
	"github.com/Alia5/portctrl/internal/config"
	"github.com/Alia5/portctrl/internal/configpaths"
	"github.com/Alia5/portctrl/internal/log"

	"github.com/alecthomas/kong"
	kongtoml "github.com/alecthomas/kong-toml"
	kongyaml "github.com/alecthomas/kong-yaml"
	"golang.org/x/term"
)

func main() {
	handlePlainHelpFlag()

	userCfg := findUserConfig(os.Args[1:])
	jsonPaths, yamlPaths, tomlPaths := configpaths.ConfigCandidatePaths(userCfg)

	var cli config.CLI
	ctx := kong.Parse(&cli,
		kong.Name("portctrl"),
		kong.Description(Description()),
		kong.UsageOnError(),
		kong.Help(help),
		// Flags and env override values from JSON/YAML/TOML config files.
		kong.Configuration(kong.JSON, jsonPaths...),
		kong.Configuration(kongyaml.Loader, yamlPaths...),
		kong.Configuration(kongtoml.Loader, tomlPaths...),
	)

	logger, closeFiles, err := log.SetupLogger(cli.Log.Level, cli.Log.File)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to setup logger:", err)
		os.Exit(2)
	}
	defer func() {
		for _, c := range closeFiles {
			_ = c.Close()
		}
	}()

	ctx.Bind(logger)
	ctx.Bind(cmd.Backend(cli.Backend))
	ctx.BindTo(os.Stdout, (*io.Writer)(nil))

	err = ctx.Run()
	ctx.FatalIfErrorf(err)
}

func handlePlainHelpFlag() {
	for i, arg := range os.Args[1:] {
		if arg == "-p" {
			os.Setenv("PORTCTRL_HELP_STYLE", "plain")
			os.Args[i+1] = "-h"
			return
		}
	}
}

func findUserConfig(args []string) string {
	for i, a := range args {
		if v, ok := strings.CutPrefix(a, "--config="); ok {
			return v
		}
		if a == "--config" && i+1 < len(args) {
			return args[i+1]
		}
	}
	return os.Getenv("PORTCTRL_CONFIG")
}

func help(options kong.HelpOptions, ctx *kong.Context) error {
	// PORTCTRL_HELP_STYLE: "plain", "compact", or auto-detect.
	style := strings.ToLower(os.Getenv("PORTCTRL_HELP_STYLE"))
	if style == "" {
		style = detectHelpStyle()
	}
	switch style {
	case "compact":
		options.Compact = true
		options.Tree = true
	default:
		options.Compact = false
	}
	if err := kong.DefaultHelpPrinter(options, ctx); err != nil {
		return err
	}
	if style != "plain" && ctx.Selected() == nil {
		_, err := fmt.Fprintf(ctx.Stdout, "\nPresets: %s\n", presetList())
		return err
	}
	return nil
}

func detectHelpStyle() string {
	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		fd = int(os.Stderr.Fd())
		if !term.IsTerminal(fd) {
			return "plain"
		}
	}
	if os.Getenv("TERM") == "dumb" {
		return "plain"
	}
	width, _, err := term.GetSize(fd)
	if err != nil || width <= 0 {
		return "compact"
	}
	if width >= 100 {
		return "full"
	}
	return "compact"
}
