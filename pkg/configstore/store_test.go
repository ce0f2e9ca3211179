package configstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/teslashibe/go-posebridge/internal/log"
	"github.com/teslashibe/go-posebridge/pkg/filter"
	"github.com/teslashibe/go-posebridge/pkg/pose"
	"github.com/teslashibe/go-posebridge/pkg/sink"
)

func oscSink(id string) sink.Descriptor {
	return sink.Descriptor{ID: id, Type: sink.TypeOSC, Host: "127.0.0.1", Port: 9000}
}

func TestLoadMissingFileWritesDefaults(t *testing.T) {
	for _, name := range []string{"config.json", "config.yaml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "nested", name)
			s := NewStore(path, log.Discard())
			if err := s.Load(); err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if _, err := os.Stat(path); err != nil {
				t.Fatalf("defaults not persisted: %v", err)
			}

			reloaded := NewStore(path, log.Discard())
			if err := reloaded.Load(); err != nil {
				t.Fatalf("reload error = %v", err)
			}
			cfg, _ := reloaded.Read()
			if cfg.Smoothing.Filter != filter.KindOneEuro {
				t.Errorf("filter = %q, want one-euro", cfg.Smoothing.Filter)
			}
			if cfg.Video.TargetFPS != 60 {
				t.Errorf("targetFps = %v, want 60", cfg.Video.TargetFPS)
			}
		})
	}
}

func TestLoadInvalidFileFallsBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	os.WriteFile(path, []byte(`{"server":{"smoothing":{"filter":"median"}}}`), 0o644)

	s := NewStore(path, log.Discard())
	if err := s.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	cfg, _ := s.Read()
	if cfg.Smoothing.Filter != filter.KindOneEuro {
		t.Errorf("filter = %q, want default", cfg.Smoothing.Filter)
	}
}

func TestWriteRoundTripsThroughDisk(t *testing.T) {
	for _, name := range []string{"config.json", "config.yml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			s := NewStore(path, log.Discard())

			cfg := Default()
			cfg.Smoothing = SmoothingConfig{Filter: filter.KindKalman, R: pose.Float(0.5), Q: pose.Float(0.1)}
			cfg.Sinks = []sink.Descriptor{oscSink("osc-1")}
			if _, err := s.Write(cfg); err != nil {
				t.Fatalf("Write() error = %v", err)
			}
			if err := s.SaveTrackerProfile("p1", TrackerProfile{Joint: pose.Hip, Offset: pose.Vector3{0, 1, 0}}); err != nil {
				t.Fatalf("SaveTrackerProfile() error = %v", err)
			}

			reloaded := NewStore(path, log.Discard())
			if err := reloaded.Load(); err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			got, _ := reloaded.Read()
			if got.Smoothing.Filter != filter.KindKalman || *got.Smoothing.R != 0.5 {
				t.Errorf("smoothing = %+v", got.Smoothing)
			}
			if len(got.Sinks) != 1 || got.Sinks[0].Namespace != sink.DefaultNamespace {
				t.Errorf("sinks = %+v", got.Sinks)
			}
			if p := reloaded.TrackerProfiles()["p1"]; p.Joint != pose.Hip || p.Offset[1] != 1 {
				t.Errorf("profile = %+v", p)
			}
		})
	}
}

func TestWriteRejectsInvalidAndKeepsPrevious(t *testing.T) {
	s := NewMemory(Default())
	tests := []struct {
		name   string
		mutate func(*ServerConfig)
	}{
		{"unknown filter", func(c *ServerConfig) { c.Smoothing.Filter = "median" }},
		{"zero fps", func(c *ServerConfig) { c.Video.TargetFPS = 0 }},
		{"bad ai smooth", func(c *ServerConfig) { c.Video.AISmooth = "sometimes" }},
		{"duplicate sinks", func(c *ServerConfig) { c.Sinks = []sink.Descriptor{oscSink("a"), oscSink("a")} }},
		{"kalman zero r", func(c *ServerConfig) {
			c.Smoothing = SmoothingConfig{Filter: filter.KindKalman, R: pose.Float(0)}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			if _, err := s.Write(cfg); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("Write() = %v, want ErrInvalidConfig", err)
			}
			cur, _ := s.Read()
			if cur.Smoothing.Filter != filter.KindOneEuro || cur.Video.TargetFPS != 60 {
				t.Errorf("config changed after rejected write: %+v", cur)
			}
		})
	}
}

func TestUpdateMergesVideo(t *testing.T) {
	s := NewMemory(Default())
	fps := 30.0
	cfg, err := s.Update(Patch{Video: &VideoPatch{TargetFPS: &fps}})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if cfg.Video.TargetFPS != 30 || cfg.Video.AISmooth != "auto" {
		t.Errorf("video = %+v", cfg.Video)
	}
	if cfg.FilterParams().Frequency != 30 {
		t.Errorf("filter frequency = %v, want 30", cfg.FilterParams().Frequency)
	}
}

func TestSinkCrud(t *testing.T) {
	s := NewMemory(Default())
	if _, err := s.AddSink(oscSink("a")); err != nil {
		t.Fatalf("AddSink() error = %v", err)
	}
	if _, err := s.AddSink(oscSink("a")); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("duplicate AddSink() = %v, want ErrInvalidConfig", err)
	}
	if _, err := s.RemoveSink("missing"); !errors.Is(err, ErrSinkNotFound) {
		t.Errorf("RemoveSink(missing) = %v, want ErrSinkNotFound", err)
	}
	left, err := s.RemoveSink("a")
	if err != nil || len(left) != 0 {
		t.Errorf("RemoveSink(a) = %v, %v", left, err)
	}
}

func TestReadReturnsCopy(t *testing.T) {
	s := NewMemory(Default())
	s.AddSink(oscSink("a"))
	cfg, _ := s.Read()
	cfg.Sinks[0].Host = "mutated"
	if s.Sinks()[0].Host != "127.0.0.1" {
		t.Error("Read() exposed internal sink slice")
	}
}

func TestFilterParamsDefaults(t *testing.T) {
	cfg := Default()
	cfg.Smoothing = SmoothingConfig{Filter: filter.KindKalman}
	p := cfg.FilterParams()
	d := filter.DefaultParams()
	if p.R != d.R || p.Q != d.Q {
		t.Errorf("kalman params = r %v q %v, want defaults", p.R, p.Q)
	}
}

func TestSaveTrackerProfileValidation(t *testing.T) {
	s := NewMemory(Default())
	if err := s.SaveTrackerProfile("", TrackerProfile{Joint: pose.Hip}); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("empty id = %v", err)
	}
	if err := s.SaveTrackerProfile("p", TrackerProfile{Joint: "tail"}); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("unknown joint = %v", err)
	}
}

func TestReloadSkipsOwnWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	s := NewStore(path, log.Discard())
	if err := s.Load(); err != nil {
		t.Fatal(err)
	}
	if _, err := s.AddSink(oscSink("a")); err != nil {
		t.Fatal(err)
	}
	if changed, err := s.Reload(); err != nil || changed {
		t.Errorf("Reload() after own write = %v, %v; want unchanged", changed, err)
	}

	os.WriteFile(path, []byte(`{"server":{"smoothing":{"filter":"kalman"},"video":{"targetFps":30,"aiSmooth":"off","sr":"off"}}}`), 0o644)
	changed, err := s.Reload()
	if err != nil || !changed {
		t.Fatalf("Reload() after edit = %v, %v", changed, err)
	}
	cfg, _ := s.Read()
	if cfg.Smoothing.Filter != filter.KindKalman || cfg.Video.TargetFPS != 30 {
		t.Errorf("config = %+v", cfg)
	}

	os.WriteFile(path, []byte(`{"server":{"smoothing":{"filter":"median"}}}`), 0o644)
	if _, err := s.Reload(); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("Reload() invalid = %v, want ErrInvalidConfig", err)
	}
	if cfg, _ := s.Read(); cfg.Smoothing.Filter != filter.KindKalman {
		t.Errorf("invalid edit replaced config: %q", cfg.Smoothing.Filter)
	}
}

func TestWatchAppliesOutsideEdits(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	s := NewStore(path, log.Discard())
	if err := s.Load(); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	changed := make(chan struct{}, 4)
	done := make(chan error, 1)
	go func() {
		done <- s.Watch(ctx, func() { changed <- struct{}{} })
	}()
	defer func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Watch() error = %v", err)
		}
	}()

	// Give the watcher time to register before editing.
	time.Sleep(100 * time.Millisecond)
	edited := "server:\n  smoothing:\n    filter: kalman\n  video:\n    targetFps: 24\n    aiSmooth: auto\n    sr: off\n"
	if err := os.WriteFile(path, []byte(edited), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case <-changed:
	case <-time.After(3 * time.Second):
		t.Fatal("no change notification")
	}
	cfg, _ := s.Read()
	if cfg.Video.TargetFPS != 24 || cfg.Smoothing.Filter != filter.KindKalman {
		t.Errorf("config = %+v", cfg)
	}
}

func TestConcurrentEditsAreNotLost(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "config.json"), log.Discard())
	if err := s.Load(); err != nil {
		t.Fatal(err)
	}

	const n = 40
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		i := i
		wg.Add(2)
		go func() {
			defer wg.Done()
			if _, err := s.AddSink(oscSink(fmt.Sprintf("osc-%d", i))); err != nil {
				t.Errorf("AddSink() error = %v", err)
			}
		}()
		go func() {
			defer wg.Done()
			fps := float64(10 + i)
			if _, err := s.Update(Patch{Video: &VideoPatch{TargetFPS: &fps}}); err != nil {
				t.Errorf("Update() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if got := len(s.Sinks()); got != n {
		t.Errorf("sinks = %d, want %d", got, n)
	}
}
