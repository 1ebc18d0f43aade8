/*
Command line front end of the import pipeline: imports files the way the
engine does and reports the result of each request.
*/
package main

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/spaghettifunk/anima-import/engine"
	"github.com/spaghettifunk/anima-import/engine/core"
	"github.com/spaghettifunk/anima-import/engine/resources"
	"github.com/spaghettifunk/anima-import/engine/systems"
)

func main() {
	app := &cli.App{
		Name:  "anima-import",
		Usage: "Import textures, models, scripts and sessions",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "TOML configuration file",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Overrides the configured log level: debug, info, warn, error",
			},
		},
		Commands: []*cli.Command{
			importCommand(),
			watchCommand(),
			kindsCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(c *cli.Context) (engine.Config, error) {
	cfg := engine.DefaultConfig()
	if path := c.String("config"); path != "" {
		loaded, err := engine.LoadConfig(path)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	}
	if level := c.String("log-level"); level != "" {
		cfg.LogLevel = core.LogLevel(level)
	}
	return cfg, nil
}

func importCommand() *cli.Command {
	return &cli.Command{
		Name:      "import",
		Usage:     "Import files and print the outcome of every request",
		ArgsUsage: "<path...>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "kind",
				Usage: "Resource kind of every path; detected from the extension when empty",
			},
			&cli.StringFlag{
				Name:  "thumbnail-dir",
				Usage: "Write a PNG thumbnail of every imported file into this directory",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Give up waiting for imports after this long",
				Value: time.Minute,
			},
		},
		Action: importAction,
	}
}

func importAction(c *cli.Context) error {
	if c.NArg() == 0 {
		return cli.Exit("import needs at least one path", 2)
	}
	kind := resources.KindNone
	if name := c.String("kind"); name != "" {
		k, err := resources.ParseKind(name)
		if err != nil {
			return cli.Exit(err.Error(), 2)
		}
		kind = k
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	// paths are taken as given, nothing is indexed or watched
	cfg.AssetDir = ""
	cfg.Watch = false

	e, err := engine.New(cfg, nil)
	if err != nil {
		return err
	}
	if err := e.Initialize(); err != nil {
		return err
	}
	defer e.Shutdown()

	var requests []*systems.ImportRequest
	failed := 0
	for _, path := range c.Args().Slice() {
		r, err := e.Import(path, kind)
		if err != nil {
			fmt.Fprintf(c.App.ErrWriter, "FAIL %s: %s\n", path, err)
			failed++
			continue
		}
		requests = append(requests, r)
	}

	ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
	defer cancel()
	if err := e.Wait(ctx, 5*time.Millisecond); err != nil {
		return cli.Exit(fmt.Sprintf("imports did not finish: %s", err), 1)
	}

	thumbDir := c.String("thumbnail-dir")
	if thumbDir != "" {
		if err := os.MkdirAll(thumbDir, 0o755); err != nil {
			return err
		}
	}

	for _, r := range requests {
		if r.State() != systems.RequestCompleted {
			fmt.Fprintf(c.App.ErrWriter, "FAIL %s: %s\n", r.Path(), r.ErrorMessage())
			failed++
			continue
		}
		h, ok := e.Acquire(r.Path())
		if !ok {
			continue
		}
		fmt.Fprintf(c.App.Writer, "ok   %-8s %s %s (%s)\n", r.Kind(), r.Path(), describe(h.Resource), r.Elapsed().Round(time.Microsecond))
		h.Release()

		if thumbDir != "" {
			if err := writeThumbnail(e, r.Path(), thumbDir); err != nil {
				fmt.Fprintf(c.App.ErrWriter, "thumbnail of %s: %s\n", r.Path(), err)
			}
		}
	}

	m := e.Imports().Metrics()
	core.LogDebug("imports: %d completed, %d failed, %s on average", m.Completed, m.Failed, m.AverageDuration)
	if failed > 0 {
		return cli.Exit(fmt.Sprintf("%d of %d imports failed", failed, c.NArg()), 1)
	}
	return nil
}

func describe(res resources.Resource) string {
	switch r := res.(type) {
	case *resources.Texture:
		return fmt.Sprintf("%dx%d %s", r.Width, r.Height, r.Format)
	case *resources.Model:
		clips := r.ClipNames()
		if len(clips) == 0 {
			return fmt.Sprintf("%d nodes, radius %.2f", r.NodeCount(), r.Radius())
		}
		return fmt.Sprintf("%d nodes, radius %.2f, clips: %s", r.NodeCount(), r.Radius(), strings.Join(clips, ", "))
	case *resources.Script:
		return fmt.Sprintf("%d bytes", len(r.Text))
	case *resources.Session:
		return fmt.Sprintf("%d entries", len(r.Values))
	}
	return ""
}

func writeThumbnail(e *engine.Engine, path, dir string) error {
	thumb, ok := e.Thumbnail(path)
	if !ok {
		return fmt.Errorf("no thumbnail")
	}
	var out bytes.Buffer
	if err := png.Encode(&out, thumb.Image); err != nil {
		return err
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)) + ".png"
	return os.WriteFile(filepath.Join(dir, name), out.Bytes(), 0o644)
}

func watchCommand() *cli.Command {
	return &cli.Command{
		Name:      "watch",
		Usage:     "Import every asset of a directory and reimport them when they change",
		ArgsUsage: "<dir>",
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			if c.NArg() > 0 {
				cfg.AssetDir = c.Args().First()
			}
			cfg.Watch = true

			e, err := engine.New(cfg, nil)
			if err != nil {
				return err
			}
			if err := e.Initialize(); err != nil {
				return err
			}

			for _, info := range e.Assets().Assets(resources.KindNone) {
				if _, err := e.Import(info.Path, info.Kind); err != nil {
					core.LogWarn("cannot import '%s': %s", info.Path, err)
				}
			}

			// signal channel to capture system calls
			ctx, stop := signal.NotifyContext(c.Context, syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)
			defer stop()

			if err := e.Run(ctx, 50*time.Millisecond); err != nil {
				_ = e.Shutdown()
				return err
			}
			return e.Shutdown()
		},
	}
}

func kindsCommand() *cli.Command {
	return &cli.Command{
		Name:  "kinds",
		Usage: "List importable resource kinds and their extensions",
		Action: func(c *cli.Context) error {
			for _, k := range resources.Kinds() {
				fmt.Fprintf(c.App.Writer, "%-8s %s\n", k, strings.Join(resources.Extensions(k), " "))
			}
			return nil
		},
	}
}
