package main

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/hpungsan/robolabel/internal/errors"
	"github.com/hpungsan/robolabel/internal/ops"
	"github.com/hpungsan/robolabel/internal/report"
	"github.com/hpungsan/robolabel/internal/web"
)

// shutdownGrace bounds how long serve waits for in-flight requests.
const shutdownGrace = 10 * time.Second

// newCLIApp creates the CLI application with all commands.
func newCLIApp(env *ops.Env) *cli.App {
	app := &cli.App{
		Name:    "robolabel",
		Usage:   "Label four-camera robot arm videos with a multimodal model",
		Version: Version,
		Commands: []*cli.Command{
			serveCmd(env),
			uploadCmd(env),
			fetchURLCmd(env),
			analyzeCmd(env),
			listCmd(env),
			analysesCmd(env),
			showCmd(env),
			promptCmd(env),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

// serveCmd creates the serve command.
func serveCmd(env *ops.Env) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP API and web UI",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "bind", Value: "0.0.0.0", Usage: "Address to listen on"},
			&cli.IntFlag{Name: "port", Aliases: []string{"p"}, Value: 8000, Usage: "Port to listen on"},
		},
		Action: func(c *cli.Context) error {
			srv, err := web.NewServer(env, Version, c.String("bind"), c.Int("port"))
			if err != nil {
				return outputError(err)
			}
			reclaimInterrupted(env)
			// c.Context is canceled by the signal handler in main.
			return web.Run(c.Context, srv, env.Logger, shutdownGrace)
		},
	}
}

// uploadCmd creates the upload command.
func uploadCmd(env *ops.Env) *cli.Command {
	return &cli.Command{
		Name:      "upload",
		Usage:     "Copy a local .mp4 file into the video store",
		ArgsUsage: "<file>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "name", Aliases: []string{"n"}, Usage: "Stored name (defaults to the file's base name)"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return outputError(errors.NewInvalidRequest("exactly one file path is required"))
			}
			path := c.Args().First()
			f, err := os.Open(path)
			if err != nil {
				if stderrors.Is(err, os.ErrNotExist) {
					return outputError(errors.NewNotFound("file", path))
				}
				return outputError(errors.NewInternal(err))
			}
			defer f.Close()

			name := c.String("name")
			if name == "" {
				name = filepath.Base(path)
			}
			output, err := ops.Upload(c.Context, env, ops.UploadInput{Filename: name, Reader: f})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c.App.Writer, output)
		},
	}
}

// fetchURLCmd creates the fetch-url command.
func fetchURLCmd(env *ops.Env) *cli.Command {
	return &cli.Command{
		Name:      "fetch-url",
		Usage:     "Download a video over HTTP(S) into the video store",
		ArgsUsage: "<url>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return outputError(errors.NewInvalidRequest("exactly one url is required"))
			}
			output, err := ops.FetchURL(c.Context, env, ops.FetchURLInput{URL: c.Args().First()})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c.App.Writer, output)
		},
	}
}

// analyzeCmd creates the analyze command.
func analyzeCmd(env *ops.Env) *cli.Command {
	return &cli.Command{
		Name:      "analyze",
		Usage:     "Label a stored video and print the action list",
		ArgsUsage: "<filename>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "resume", Usage: "Continue the latest failed analysis from its last checkpoint"},
			&cli.StringFlag{Name: "format", Aliases: []string{"f"}, Value: "json", Usage: "Output format: json|markdown"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return outputError(errors.NewInvalidRequest("exactly one filename is required"))
			}
			format, err := parseFormat(c.String("format"))
			if err != nil {
				return outputError(err)
			}

			filename := c.Args().First()
			output, err := ops.Analyze(c.Context, env, ops.AnalyzeInput{
				Filename: filename,
				Resume:   c.Bool("resume"),
			})
			if err != nil {
				return outputError(err)
			}

			if format == "markdown" {
				text := ""
				if len(output.Results) > 0 {
					text = output.Results[0].Description
				}
				_, err := io.WriteString(c.App.Writer, report.Markdown(filename, text))
				return err
			}
			return outputJSON(c.App.Writer, output)
		},
	}
}

// listCmd creates the list command.
func listCmd(env *ops.Env) *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List stored videos",
		Action: func(c *cli.Context) error {
			output, err := ops.ListFiles(c.Context, env)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c.App.Writer, output)
		},
	}
}

// analysesCmd creates the analyses command.
func analysesCmd(env *ops.Env) *cli.Command {
	return &cli.Command{
		Name:  "analyses",
		Usage: "List analyses, newest first",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "video", Usage: "Filter by video name"},
			&cli.StringFlag{Name: "status", Aliases: []string{"s"}, Usage: "Filter by status: running|completed|failed"},
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: ops.DefaultListLimit, Usage: "Maximum results"},
			&cli.IntFlag{Name: "offset", Aliases: []string{"o"}, Usage: "Skip N results"},
		},
		Action: func(c *cli.Context) error {
			output, err := ops.ListAnalyses(c.Context, env, ops.ListAnalysesInput{
				VideoName: c.String("video"),
				Status:    c.String("status"),
				Limit:     c.Int("limit"),
				Offset:    c.Int("offset"),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c.App.Writer, output)
		},
	}
}

// showCmd creates the show command.
func showCmd(env *ops.Env) *cli.Command {
	return &cli.Command{
		Name:      "show",
		Usage:     "Show one analysis",
		ArgsUsage: "<id>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "checkpoints", Usage: "Include per-group checkpoints"},
			&cli.StringFlag{Name: "format", Aliases: []string{"f"}, Value: "json", Usage: "Output format: json|markdown"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return outputError(errors.NewInvalidRequest("exactly one analysis id is required"))
			}
			format, err := parseFormat(c.String("format"))
			if err != nil {
				return outputError(err)
			}

			output, err := ops.GetAnalysis(c.Context, env, ops.GetAnalysisInput{
				ID:                 c.Args().First(),
				IncludeCheckpoints: c.Bool("checkpoints") || format == "markdown",
			})
			if err != nil {
				return outputError(err)
			}

			if format == "markdown" {
				text, partial := ops.ReportText(output)
				if partial {
					fmt.Fprintf(c.App.ErrWriter, "partial result: analysis %s after %d groups\n", output.Status, output.GroupsDone)
				}
				_, err := io.WriteString(c.App.Writer, report.Markdown(output.VideoName, text))
				return err
			}
			return outputJSON(c.App.Writer, output)
		},
	}
}

// promptCmd creates the prompt command.
func promptCmd(env *ops.Env) *cli.Command {
	return &cli.Command{
		Name:  "prompt",
		Usage: "Print the instruction template sent with every group",
		Action: func(c *cli.Context) error {
			fmt.Fprintf(c.App.ErrWriter, "version: %s\n", env.Template.Version)
			_, err := io.WriteString(c.App.Writer, env.Template.Text())
			return err
		},
	}
}

// Helper functions

// outputJSON writes v to w as indented JSON.
func outputJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		return cli.Exit(fmt.Sprintf("[%s] %s", appErr.Code, appErr.Message), 1)
	}
	return cli.Exit(err.Error(), 1)
}

// parseFormat validates an output format flag.
func parseFormat(s string) (string, error) {
	switch s {
	case "", "json":
		return "json", nil
	case "markdown", "md":
		return "markdown", nil
	default:
		return "", errors.NewInvalidRequest(fmt.Sprintf("format must be json or markdown, got %q", s))
	}
}
