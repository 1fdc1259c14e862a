package main

import (
	"errors"
	"fmt"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/urfave/cli"

	"github.com/nullbrook/ds-core/internal/config"
	"github.com/nullbrook/ds-core/internal/machine"
	"github.com/nullbrook/ds-core/internal/ppu"
)

func main() {
	app := cli.NewApp()
	app.Name = "ndscore"
	app.Description = "A dual-CPU handheld console emulator core"
	app.Usage = "ndscore [options] <ROM file>"
	app.Version = "1.0.0"
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "rom", Usage: "Path to the gamecard ROM image"},
		cli.StringFlag{Name: "bios-a", Usage: "Path to CPU-A's BIOS image"},
		cli.StringFlag{Name: "bios-c", Usage: "Path to CPU-C's BIOS image"},
		cli.StringFlag{Name: "firmware", Usage: "Path to the SPI firmware image"},
		cli.StringFlag{Name: "config", Usage: "Path to a session config file (YAML)"},
		cli.BoolFlag{Name: "headless", Usage: "Run without an interactive terminal display"},
		cli.IntFlag{Name: "frames", Usage: "Number of frames to run in headless mode (required for headless)"},
		cli.IntFlag{Name: "snapshot-interval", Usage: "Save frame snapshots every N frames in headless mode (0 = disabled)"},
		cli.StringFlag{Name: "snapshot-dir", Usage: "Directory to save frame snapshots"},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		slog.Error("ndscore exited with an error", "error", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	romPath := c.String("rom")
	if romPath == "" {
		romPath = cfg.RomPath
	}
	if romPath == "" {
		if c.NArg() > 0 {
			romPath = c.Args().Get(0)
		} else {
			cli.ShowAppHelp(c)
			return errors.New("no ROM path provided")
		}
	}

	firmwarePath := firstNonEmpty(c.String("firmware"), cfg.FirmwarePath)
	var firmwareImage []byte
	if firmwarePath != "" {
		firmwareImage, err = os.ReadFile(firmwarePath)
		if err != nil {
			return fmt.Errorf("failed to read firmware image: %w", err)
		}
	}

	m := machine.New(slog.Default(), firmwareImage)

	if biosPath := firstNonEmpty(c.String("bios-a"), cfg.BiosAPath); biosPath != "" {
		image, err := os.ReadFile(biosPath)
		if err != nil {
			return fmt.Errorf("failed to read CPU-A BIOS image: %w", err)
		}
		m.LoadBIOSA(image)
	}
	if biosPath := firstNonEmpty(c.String("bios-c"), cfg.BiosCPath); biosPath != "" {
		image, err := os.ReadFile(biosPath)
		if err != nil {
			return fmt.Errorf("failed to read CPU-C BIOS image: %w", err)
		}
		m.LoadBIOSC(image)
	}

	rom, err := os.ReadFile(romPath)
	if err != nil {
		return fmt.Errorf("failed to read ROM image: %w", err)
	}
	m.LoadROM(rom, nil)
	m.Reset()

	if c.Bool("headless") {
		return runHeadless(c, m, cfg, romPath)
	}

	renderer, err := NewTerminalRenderer(m, cfg)
	if err != nil {
		return err
	}
	return renderer.Run()
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	path := c.String("config")
	if path == "" {
		cfg := &config.Config{}
		cfg.Defaults()
		return cfg, nil
	}
	return config.Load(path)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func runHeadless(c *cli.Context, m *machine.Machine, cfg *config.Config, romPath string) error {
	frames := c.Int("frames")
	if frames <= 0 {
		return errors.New("headless mode requires --frames with a positive value")
	}

	snapshotInterval := c.Int("snapshot-interval")
	if snapshotInterval == 0 {
		snapshotInterval = cfg.SnapshotInterval
	}
	snapshotDir := firstNonEmpty(c.String("snapshot-dir"), cfg.SnapshotDir)

	if snapshotInterval > 0 {
		if err := os.MkdirAll(snapshotDir, 0755); err != nil {
			return fmt.Errorf("failed to create snapshot directory: %w", err)
		}
	}

	romName := strings.TrimSuffix(filepath.Base(romPath), filepath.Ext(romPath))

	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})
	slog.SetDefault(slog.New(handler))

	m.PostThreadEvent(machine.ThreadEvent{Kind: machine.ThreadEventStart})
	m.DrainThreadEvents()

	slog.Info("running headless", "rom", romPath, "frames", frames, "snapshot_interval", snapshotInterval)

	for i := 0; i < frames; i++ {
		m.RunFrame()

		if snapshotInterval > 0 && (i+1)%snapshotInterval == 0 {
			if err := saveSnapshots(m, snapshotDir, romName, i+1); err != nil {
				slog.Error("failed to save snapshot", "frame", i+1, "error", err)
			}
		}
		if i%30 == 0 {
			slog.Info("frame progress", "completed", i+1, "total", frames)
		}
	}

	slog.Info("headless run completed", "frames", frames)
	return nil
}

func saveSnapshots(m *machine.Machine, dir, romName string, frame int) error {
	for _, e := range []struct {
		engine ppu.Engine
		suffix string
	}{{ppu.EngineA, "top"}, {ppu.EngineB, "bottom"}} {
		path := filepath.Join(dir, fmt.Sprintf("%s_frame_%d_%s.png", romName, frame, e.suffix))
		if err := savePNG(path, m.FrameBuffer(e.engine)); err != nil {
			return err
		}
	}
	return nil
}

func savePNG(path string, framebuffer []uint16) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return png.Encode(file, ppu.ToImage(framebuffer))
}
