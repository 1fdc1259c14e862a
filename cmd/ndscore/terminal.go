package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gdamore/tcell/v2"

	"github.com/nullbrook/ds-core/internal/config"
	"github.com/nullbrook/ds-core/internal/machine"
	"github.com/nullbrook/ds-core/internal/ppu"
	"github.com/nullbrook/ds-core/internal/timing"
)

const (
	screenWidth  = 256
	screenHeight = 192

	// Terminal characters are taller than wide; scale width more to keep
	// the 256x192 aspect ratio roughly honest.
	scaleX = 2
	scaleY = 1
)

var shadeChars = []rune{'█', '▓', '▒', '░'}

// TerminalRenderer draws both LCDs stacked vertically in a terminal and
// forwards a fixed key layout to the machine; debug/disassembly views are
// out of scope, so this stays close to the teacher's original (pre-debug)
// single-screen renderer rather than its later split-pane version.
type TerminalRenderer struct {
	screen  tcell.Screen
	machine *machine.Machine
	held    uint16
	running bool
}

func NewTerminalRenderer(m *machine.Machine, cfg *config.Config) (*TerminalRenderer, error) {
	screen, err := tcell.NewScreen()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize terminal: %v", err)
	}
	if err := screen.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize terminal: %v", err)
	}

	t := &TerminalRenderer{screen: screen, machine: m, running: true}
	return t, nil
}

// keyBit maps tcell key events to the host-facing key bitmask machine.SetKeys expects.
func keyBit(r rune) (bit uint16, ok bool) {
	switch r {
	case 'a':
		return 1 << 0, true
	case 's':
		return 1 << 1, true
	case '\t':
		return 1 << 2, true // select
	case '\r', '\n':
		return 1 << 3, true // start
	case 'q':
		return 1 << 9, true // L
	case 'w':
		return 1 << 8, true // R
	}
	return 0, false
}

func directionBit(k tcell.Key) (bit uint16, ok bool) {
	switch k {
	case tcell.KeyRight:
		return 1 << 4, true
	case tcell.KeyLeft:
		return 1 << 5, true
	case tcell.KeyUp:
		return 1 << 6, true
	case tcell.KeyDown:
		return 1 << 7, true
	}
	return 0, false
}

func (t *TerminalRenderer) Run() error {
	defer func() {
		slog.Info("finishing terminal session")
		t.screen.Fini()
	}()

	t.screen.SetStyle(tcell.StyleDefault.Background(tcell.ColorBlack).Foreground(tcell.ColorWhite))
	t.screen.Clear()

	go t.handleInput()

	limiter := timing.NewAdaptiveLimiter()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	t.machine.PostThreadEvent(machine.ThreadEvent{Kind: machine.ThreadEventStart})

	for t.running {
		select {
		case <-signals:
			t.running = false
			slog.Info("received signal to stop")
			return nil
		default:
		}

		limiter.WaitForNextFrame()
		t.machine.DrainThreadEvents()
		t.machine.RunFrame()
		t.render()
		t.screen.Show()
	}

	return nil
}

func (t *TerminalRenderer) handleInput() {
	for t.running {
		ev := t.screen.PollEvent()
		switch ev := ev.(type) {
		case *tcell.EventKey:
			if ev.Key() == tcell.KeyEscape || ev.Key() == tcell.KeyCtrlC {
				t.running = false
				return
			}
			if bit, ok := directionBit(ev.Key()); ok {
				t.held |= bit
			} else if bit, ok := keyBit(ev.Rune()); ok {
				t.held |= bit
			}
			t.machine.SetKeys(t.held)
		case *tcell.EventResize:
			t.screen.Sync()
		}
	}
}

func (t *TerminalRenderer) render() {
	t.screen.Clear()
	t.drawScreen(t.machine.FrameBuffer(ppu.EngineA), 0)
	t.drawScreen(t.machine.FrameBuffer(ppu.EngineB), screenHeight*scaleY+1)
}

func (t *TerminalRenderer) drawScreen(fb []uint16, yOffset int) {
	style := tcell.StyleDefault.Foreground(tcell.ColorWhite)
	for y := 0; y < screenHeight; y++ {
		for x := 0; x < screenWidth; x++ {
			px := fb[y*screenWidth+x]
			brightness := (int(px&0x1F) + int((px>>5)&0x1F) + int((px>>10)&0x1F)) / 3
			shade := 3 - brightness/8
			if shade < 0 {
				shade = 0
			}
			if shade > 3 {
				shade = 3
			}
			char := shadeChars[shade]
			screenX := x * scaleX
			screenY := yOffset + y*scaleY
			for sx := 0; sx < scaleX; sx++ {
				t.screen.SetContent(screenX+sx, screenY, char, nil, style)
			}
		}
	}
}
