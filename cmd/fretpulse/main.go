package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cbegin/fretpulse-go"
	"github.com/cbegin/fretpulse-go/internal/config"
	"github.com/cbegin/fretpulse-go/internal/player"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to a YAML settings file")
		exercise   = flag.String("exercise", "warmup", "exercise key (see -list)")
		tempo      = flag.Int("tempo", 0, "tempo in BPM (0 = from config)")
		loop       = flag.Bool("loop", false, "loop the exercise until -seconds elapses")
		seconds    = flag.Float64("seconds", 30, "with -loop, stop after this many seconds (0 = until interrupted)")
		metronome  = flag.Bool("metronome", false, "click on every beat")
		mute       = flag.Bool("mute", false, "mute the notes and keep the playhead running")
		countdown  = flag.Bool("countdown", false, "count in before playing")
		backend    = flag.String("backend", "", "audio backend: ebiten|oto|null (empty = from config)")
		sampleRate = flag.Int("sample-rate", 0, "output sample rate (0 = from config)")
		exportMIDI = flag.String("export-midi", "", "write the exercise as a MIDI file and exit")
		renderWAV  = flag.String("render-wav", "", "render one pass of the exercise to a WAV file and exit")
		list       = flag.Bool("list", false, "list the available exercises and exit")
		verbose    = flag.Bool("v", false, "debug logging")
	)
	flag.Parse()

	log := logrus.New()
	if *verbose {
		log.SetLevel(logrus.DebugLevel)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.WithError(err).Fatal("load config")
	}
	if *list {
		for _, key := range cfg.Library() {
			p, err := cfg.Exercise(key)
			if err != nil {
				log.WithError(err).WithField("exercise", key).Warn("skipping invalid exercise")
				continue
			}
			st := p.Stats(cfg.Tempo)
			fmt.Printf("%-22s %-30s %2d notes  %d per beat  %d strings  ~%ds at %d bpm\n",
				key, p.Name(), st.TotalNotes, p.NotesPerBeat(), st.StringsUsed, st.EstimatedSeconds, cfg.Tempo)
		}
		return
	}

	if *tempo > 0 {
		cfg.Tempo = *tempo
	}
	if *sampleRate > 0 {
		cfg.SampleRate = *sampleRate
	}
	if *backend != "" {
		cfg.Backend = *backend
	}
	cfg.Loop = *loop
	cfg.Metronome = *metronome
	cfg.NotesMuted = *mute
	cfg.Countdown = *countdown

	if *renderWAV != "" {
		if err := writeWAV(cfg, *exercise, *renderWAV); err != nil {
			log.WithError(err).Fatal("render")
		}
		log.WithField("path", *renderWAV).Info("rendered")
		return
	}

	tr, err := fretpulse.NewTrainer(fretpulse.WithConfig(cfg), fretpulse.WithLogger(log))
	if err != nil {
		log.WithError(err).Fatal("create trainer")
	}
	defer tr.Close()
	if err := tr.LoadExercise(*exercise); err != nil {
		log.WithError(err).Fatal("load exercise")
	}

	if *exportMIDI != "" {
		f, err := os.Create(*exportMIDI)
		if err != nil {
			log.WithError(err).Fatal("export")
		}
		if err := tr.ExportMIDI(f, 1); err != nil {
			_ = f.Close()
			log.WithError(err).Fatal("export")
		}
		if err := f.Close(); err != nil {
			log.WithError(err).Fatal("export")
		}
		log.WithField("path", *exportMIDI).Info("exported")
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	ch := tr.Watch()
	if err := tr.Play(ctx); err != nil {
		log.WithError(err).Fatal("play")
	}
	var deadline <-chan time.Time
	if *loop && *seconds > 0 {
		deadline = time.After(time.Duration(*seconds * float64(time.Second)))
	}

	p := tr.Pattern()
	started := false
	lastNote := -1
	for {
		select {
		case <-ctx.Done():
			tr.Stop()
			fmt.Println("interrupted")
			return
		case <-deadline:
			tr.Stop()
			fmt.Println("time is up")
			return
		case snap := <-ch:
			switch snap.Status {
			case player.Countdown:
				fmt.Printf("count in %d\n", snap.Countdown)
			case player.Playing:
				started = true
				if snap.CurrentNoteIndex >= 0 && snap.CurrentNoteIndex != lastNote {
					lastNote = snap.CurrentNoteIndex
					n := p.At(lastNote)
					fmt.Printf("%s  %-6s %s\n", snap.Position(), n.Label(), n.Technique)
				}
			case player.Idle:
				if started {
					fmt.Println("exercise completed")
					return
				}
			}
		}
	}
}

func loadConfig(path string) (config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func writeWAV(cfg config.Config, key string, path string) error {
	p, err := cfg.Exercise(key)
	if err != nil {
		return err
	}
	samples, err := fretpulse.RenderPattern(p, fretpulse.RenderOptions{
		SampleRate: cfg.SampleRate,
		Tempo:      cfg.Tempo,
		Metronome:  cfg.Metronome,
		NotesMuted: cfg.NotesMuted,
		Tone:       &cfg.Tone,
	})
	if err != nil {
		return err
	}
	return os.WriteFile(path, fretpulse.EncodeWAVFloat32LE(samples, cfg.SampleRate, 2), 0o644)
}
