package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	archiver "github.com/RetroBat-Official/emulatorlauncher-sub011"
	"github.com/RetroBat-Official/emulatorlauncher-sub011/common"
)

func main() {
	app := &cli.App{
		Name:  "arc",
		Usage: "list and extract zip, 7z, rar, tar, squashfs and compressed files",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "Log debug output",
			},
			&cli.StringFlag{
				Name:    "password",
				Aliases: []string{"p"},
				Usage:   "Password of encrypted archives",
				EnvVars: []string{"ARC_PASSWORD"},
			},
			&cli.BoolFlag{
				Name:  "no-7z",
				Usage: "Do not use the 7z backend",
			},
		},
		Before: func(c *cli.Context) error {
			if c.Bool("verbose") {
				logrus.SetLevel(logrus.DebugLevel)
			}
			return nil
		},
		Commands: []*cli.Command{
			newListCommand(),
			newExtractCommand(),
			newCatCommand(),
			newSpaceCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		logrus.WithError(err).Fatal("arc failed")
	}
}

func newUnarchiver(c *cli.Context) *archiver.Unarchiver {
	opts := []archiver.Option{
		archiver.WithLogger(logrus.StandardLogger()),
		archiver.WithPassword(c.String("password")),
		archiver.WithMultithreadedGzip(),
	}
	if c.Bool("no-7z") {
		opts = append(opts, archiver.WithoutSevenZip())
	}
	return archiver.New(opts...)
}

func newListCommand() *cli.Command {
	return &cli.Command{
		Name:      "ls",
		Usage:     "List the entries of an archive",
		ArgsUsage: "<archive>",
		Action: func(c *cli.Context) error {
			path := c.Args().First()
			if path == "" {
				return fmt.Errorf("no archive specified")
			}

			a, err := newUnarchiver(c).Open(path)
			if err != nil {
				return err
			}
			defer a.Close()

			var total int64
			entries := a.Entries()
			for _, e := range entries {
				size := "-"
				if !e.IsDirectory {
					size = humanize.Bytes(uint64(e.Length))
					total += e.Length
				}
				fmt.Printf("%08x\t%s\t%s\t%s\n",
					e.CRC32,
					size,
					e.LastModified.Format("2006-01-02 15:04:05"),
					e,
				)
			}
			fmt.Printf("total %d entries, %s\n", len(entries), humanize.Bytes(uint64(total)))
			return nil
		},
	}
}

func newExtractCommand() *cli.Command {
	return &cli.Command{
		Name:      "extract",
		Usage:     "Extract an archive into a directory",
		ArgsUsage: "<archive> [destination]",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "keep-folder",
				Usage: "Keep a top-level folder wrapping the whole archive",
			},
			&cli.BoolFlag{
				Name:  "flat",
				Usage: "Write every file directly into the destination",
			},
			&cli.StringFlag{
				Name:  "file",
				Usage: "Extract only this entry or directory",
			},
			&cli.BoolFlag{
				Name:  "quiet",
				Usage: "Do not show a progress bar",
			},
		},
		Action: func(c *cli.Context) error {
			path, dest := c.Args().Get(0), c.Args().Get(1)
			if path == "" {
				return fmt.Errorf("usage: arc extract %s", c.Command.ArgsUsage)
			}
			if dest == "" {
				// game.tar.gz extracts to ./game
				dest = common.FolderNameFromFileName(path)
			}

			u := newUnarchiver(c)
			if !u.IsFreeDiskSpaceAvailableForExtraction(path, dest) {
				return fmt.Errorf("not enough free space in %s to extract %s", dest, path)
			}

			a, err := u.Open(path)
			if err != nil {
				return err
			}
			defer a.Close()

			opts := archiver.ExtractOptions{
				FileName: c.String("file"),
				Password: c.String("password"),
				Mode:     archiver.SkipRootFolder,
			}
			switch {
			case c.Bool("flat"):
				opts.Mode = archiver.Flat
			case c.Bool("keep-folder"):
				opts.Mode = archiver.Normal
			}

			if !c.Bool("quiet") {
				bar := progressbar.NewOptions(100,
					progressbar.OptionSetDescription("extracting"),
					progressbar.OptionSetWriter(os.Stderr),
					progressbar.OptionClearOnFinish(),
				)
				defer bar.Finish()
				opts.OnProgress = func(percent int) {
					_ = bar.Set(percent)
				}
			}

			return a.Extract(c.Context, dest, opts)
		},
	}
}

func newCatCommand() *cli.Command {
	return &cli.Command{
		Name:      "cat",
		Usage:     "Write the content of archive entries to standard output",
		ArgsUsage: "<archive> <entry>...",
		Action: func(c *cli.Context) error {
			if c.NArg() < 2 {
				return fmt.Errorf("usage: arc cat %s", c.Command.ArgsUsage)
			}

			a, err := newUnarchiver(c).Open(c.Args().First())
			if err != nil {
				return err
			}
			defer a.Close()

			for _, name := range c.Args().Tail() {
				if err := archiver.WriteEntry(c.Context, a, name, os.Stdout, c.String("password")); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func newSpaceCommand() *cli.Command {
	return &cli.Command{
		Name:      "space",
		Usage:     "Check that a destination has room for an archive's content",
		ArgsUsage: "<archive> <destination>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "on-error",
				Usage: "What to assume when free space cannot be determined: available or unavailable",
				Value: "available",
			},
		},
		Action: func(c *cli.Context) error {
			path, dest := c.Args().Get(0), c.Args().Get(1)
			if path == "" || dest == "" {
				return fmt.Errorf("usage: arc space %s", c.Command.ArgsUsage)
			}

			policy := archiver.DiskCheckFailOpen
			switch strings.ToLower(c.String("on-error")) {
			case "available":
			case "unavailable":
				policy = archiver.DiskCheckFailClosed
			default:
				return fmt.Errorf("invalid --on-error value %q", c.String("on-error"))
			}

			u := archiver.New(
				archiver.WithLogger(logrus.StandardLogger()),
				archiver.WithPassword(c.String("password")),
				archiver.WithDiskCheckPolicy(policy),
			)

			var required int64
			for _, e := range u.ListEntries(path) {
				required += e.Length
			}
			ok := u.IsFreeDiskSpaceAvailableForExtraction(path, dest)
			fmt.Printf("%s needs %s: available=%t\n", path, humanize.Bytes(uint64(required)), ok)
			if !ok {
				return cli.Exit("", 1)
			}
			return nil
		},
	}
}
