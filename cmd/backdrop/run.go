package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/guidoenr/backdrop/internal/app"
	"github.com/guidoenr/backdrop/internal/engine"
)

type runOptions struct {
	listen    string
	synthetic bool
	device    string
	headless  bool
	noColor   bool
	artwork   string
	title     string
	author    string
}

func newRunCmd(root *rootFlags) *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the effect engine with the terminal preview and settings channel",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBackdrop(cmd, root, opts)
		},
	}

	cmd.Flags().StringVar(&opts.listen, "listen", "", "Settings channel address (host:port)")
	cmd.Flags().BoolVar(&opts.synthetic, "no-audio", false, "Use the synthetic beat source instead of capture")
	cmd.Flags().StringVar(&opts.device, "audio-device", "", "Capture device name (substring match)")
	cmd.Flags().BoolVar(&opts.headless, "headless", false, "Disable the terminal preview")
	cmd.Flags().BoolVar(&opts.noColor, "no-color", false, "Disable ANSI color output")
	cmd.Flags().StringVar(&opts.artwork, "artwork", "", "Artwork URL or path of the initial track")
	cmd.Flags().StringVar(&opts.title, "title", "", "Title of the initial track")
	cmd.Flags().StringVar(&opts.author, "author", "", "Author of the initial track")

	return cmd
}

func runBackdrop(cmd *cobra.Command, root *rootFlags, opts *runOptions) error {
	cfg, err := root.load()
	if err != nil {
		return err
	}
	if opts.listen != "" {
		cfg.Listen = opts.listen
	}
	if opts.synthetic {
		cfg.Audio.Synthetic = true
	}
	if opts.device != "" {
		cfg.Audio.Device = opts.device
	}
	if opts.headless {
		cfg.Preview.Enabled = false
	}
	if opts.noColor {
		cfg.Preview.ANSI = false
	}
	if cfg.Preview.Enabled && root.logLevel == "" {
		// Logs share the terminal with the preview.
		cfg.Log.Level = "warn"
	}

	log, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}

	var track *engine.Track
	if opts.artwork != "" || opts.title != "" {
		track = &engine.Track{Artwork: opts.artwork, Title: opts.title, Author: opts.author}
	}

	a, err := app.New(cfg, app.Options{Log: log, Track: track})
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(); cerr != nil {
			log.Error(cerr, "cleanup failed")
		}
	}()

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := a.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("runtime error: %w", err)
	}
	return nil
}
