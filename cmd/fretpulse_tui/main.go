package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/sirupsen/logrus"

	"github.com/cbegin/fretpulse-go"
	"github.com/cbegin/fretpulse-go/internal/config"
	"github.com/cbegin/fretpulse-go/internal/pattern"
	"github.com/cbegin/fretpulse-go/internal/player"
	"github.com/cbegin/fretpulse-go/internal/timing"
)

const tempoStep = 5

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7D56F4"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#666666"))
	cellStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFD700"))
	currentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#000000")).Background(lipgloss.Color("#00FF00")).Bold(true)
	onStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5555"))
	countStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FFD700")).Padding(0, 2)
)

type snapshotMsg player.Snapshot

type model struct {
	tr       *fretpulse.Trainer
	ch       <-chan player.Snapshot
	keys     []string
	selected int
	snap     player.Snapshot
	stats    timing.Stats
	lastHit  string
	message  string
	quitting bool
}

func listen(ch <-chan player.Snapshot) tea.Cmd {
	return func() tea.Msg {
		snap, ok := <-ch
		if !ok {
			return nil
		}
		return snapshotMsg(snap)
	}
}

func (m model) Init() tea.Cmd { return listen(m.ch) }

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case snapshotMsg:
		m.snap = player.Snapshot(msg)
		return m, listen(m.ch)
	case tea.KeyMsg:
		m.message = ""
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			m.tr.Stop()
			return m, tea.Quit
		case " ":
			if m.snap.IsIdle() {
				if err := m.tr.Play(context.Background()); err != nil {
					m.message = err.Error()
				}
			} else {
				m.tr.Stop()
			}
		case "p":
			switch {
			case m.snap.IsPlaying():
				m.tr.Pause()
			case m.snap.IsPaused():
				if !m.tr.Resume() {
					m.message = "audio is not available"
				}
			}
		case "+", "=":
			m.tr.SetTempo(m.snap.Tempo + tempoStep)
		case "-", "_":
			m.tr.SetTempo(m.snap.Tempo - tempoStep)
		case "l":
			m.tr.ToggleLoop()
		case "m":
			m.tr.ToggleMetronome()
		case "n":
			m.tr.ToggleNotesMuted()
		case "c":
			m.tr.ToggleCountdown()
		case "h":
			if ms, ok := m.tr.RecordHit(m.tr.Now()); ok {
				m.lastHit = fmt.Sprintf("%+.0fms %s", ms, timing.GradeOf(ms))
			} else {
				m.lastHit = "no note nearby"
			}
			m.stats = m.tr.TimingStats()
		case "up", "k":
			m = m.selectExercise(m.selected - 1)
		case "down", "j":
			m = m.selectExercise(m.selected + 1)
		}
		m.snap = m.tr.Snapshot()
	}
	return m, nil
}

func (m model) selectExercise(i int) model {
	if i < 0 || i >= len(m.keys) || i == m.selected {
		return m
	}
	if err := m.tr.LoadExercise(m.keys[i]); err != nil {
		m.message = err.Error()
		return m
	}
	m.selected = i
	m.stats = m.tr.TimingStats()
	m.lastHit = ""
	return m
}

func (m model) View() string {
	if m.quitting {
		return ""
	}
	p := m.tr.Pattern()
	s := m.snap

	var b strings.Builder
	b.WriteString(titleStyle.Render("fretpulse") + "  ")
	b.WriteString(fmt.Sprintf("%s  %s  %3d bpm\n\n", p.Name(), strings.ToUpper(s.Status.String()), s.Tempo))

	if s.IsCountingDown() {
		b.WriteString(countStyle.Render(fmt.Sprintf("%d", s.Countdown)) + "\n\n")
	}

	b.WriteString(renderTab(p, s.CurrentNoteIndex))
	b.WriteString("\n")
	b.WriteString(renderBeats(p, s))
	b.WriteString("\n\n")

	b.WriteString(fmt.Sprintf("loop %s  metronome %s  notes %s  countdown %s\n",
		onOff(s.IsLooping), onOff(s.IsMetronomeEnabled), onOff(!s.IsNotesMuted), onOff(s.IsCountdownEnabled)))
	b.WriteString(renderStats(m.stats, m.lastHit))

	b.WriteString("\n")
	for i, key := range m.keys {
		line := "  " + key
		if i == m.selected {
			line = onStyle.Render("> " + key)
		}
		b.WriteString(line + "\n")
	}

	if m.message != "" {
		b.WriteString("\n" + errorStyle.Render(m.message) + "\n")
	}
	b.WriteString("\n" + dimStyle.Render("space: play/stop • p: pause • +/-: tempo • l: loop • m: metronome • n: mute"))
	b.WriteString("\n" + dimStyle.Render("c: countdown • h: record hit • j/k: exercise • q: quit"))
	return b.String()
}

func onOff(on bool) string {
	if on {
		return onStyle.Render("on ")
	}
	return dimStyle.Render("off")
}

// renderTab draws the pattern as tablature with the sounding slot highlighted.
func renderTab(p *pattern.Pattern, current int) string {
	var b strings.Builder
	for _, str := range pattern.StringOrder {
		b.WriteString(dimStyle.Render(fmt.Sprintf("%s|", str)))
		for i := 0; i < p.Len(); i++ {
			n := p.At(i)
			cell := "---"
			if n.String == str {
				cell = fmt.Sprintf("%-3s", fmt.Sprintf("%d", n.Fret))
				cell = strings.ReplaceAll(cell, " ", "-")
			}
			switch {
			case i == current:
				b.WriteString(currentStyle.Render(cell))
			case n.String == str:
				b.WriteString(cellStyle.Render(cell))
			default:
				b.WriteString(dimStyle.Render(cell))
			}
			if (i+1)%p.NotesPerMeasure() == 0 {
				b.WriteString(dimStyle.Render("|"))
			}
		}
		b.WriteString("\n")
	}
	return b.String()
}

func renderBeats(p *pattern.Pattern, s player.Snapshot) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("%-22s", s.Position()))
	for beat := 0; beat < p.BeatsPerMeasure(); beat++ {
		for sub := 0; sub < p.NotesPerBeat(); sub++ {
			mark := "·"
			if sub == 0 {
				mark = "○"
			}
			if beat == s.CurrentBeat && sub == s.CurrentTriplet {
				b.WriteString(onStyle.Render("●"))
			} else {
				b.WriteString(dimStyle.Render(mark))
			}
		}
		b.WriteString(" ")
	}
	return b.String()
}

func renderStats(st timing.Stats, lastHit string) string {
	if st.Count == 0 {
		return dimStyle.Render("no hits recorded") + "\n"
	}
	var b strings.Builder
	b.WriteString(fmt.Sprintf("hits %d  early %d%%  on time %d%%  late %d%%  avg %+dms  last %s\n",
		st.Count, st.EarlyPct, st.OnTimePct, st.LatePct, st.AverageMs, lastHit))
	peak := 1
	for _, c := range st.Histogram {
		if c > peak {
			peak = c
		}
	}
	bars := []rune(" ▁▂▃▄▅▆▇█")
	for _, c := range st.Histogram {
		b.WriteRune(bars[c*(len(bars)-1)/peak])
	}
	b.WriteString(dimStyle.Render("  late ← → early") + "\n")
	return b.String()
}

func main() {
	var (
		configPath = flag.String("config", "", "path to a YAML settings file")
		exercise   = flag.String("exercise", "warmup", "exercise key to start with")
		backend    = flag.String("backend", "", "audio backend: ebiten|oto|null (empty = from config)")
	)
	flag.Parse()

	log := logrus.New()
	f, err := os.CreateTemp("", "fretpulse-*.log")
	if err == nil {
		log.SetOutput(f)
		defer f.Close()
	}

	cfg := config.Default()
	if *configPath != "" {
		if cfg, err = config.Load(*configPath); err != nil {
			logrus.WithError(err).Fatal("load config")
		}
	}
	if *backend != "" {
		cfg.Backend = *backend
	}

	tr, err := fretpulse.NewTrainer(fretpulse.WithConfig(cfg), fretpulse.WithLogger(log))
	if err != nil {
		logrus.WithError(err).Fatal("create trainer")
	}
	defer tr.Close()

	keys := cfg.Library()
	selected := 0
	for i, k := range keys {
		if k == *exercise {
			selected = i
		}
	}
	if len(keys) == 0 {
		logrus.Fatal("no exercises available")
	}
	if err := tr.LoadExercise(keys[selected]); err != nil {
		logrus.WithError(err).Fatal("load exercise")
	}

	m := model{
		tr:       tr,
		ch:       tr.Watch(),
		keys:     keys,
		selected: selected,
		snap:     tr.Snapshot(),
	}
	if _, err := tea.NewProgram(m, tea.WithAltScreen()).Run(); err != nil {
		logrus.WithError(err).Fatal("run")
	}
}
