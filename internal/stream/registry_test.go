package stream

import (
	"errors"
	"testing"

	"github.com/vdetect/streamguard/internal/capture"
	"github.com/vdetect/streamguard/internal/settings"
	"github.com/vdetect/streamguard/pkg/types"
)

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	sets := testSettings(t)
	r := NewRegistry(sets, nil)
	r.newProcessor = func(id, url, name string) *Processor {
		return NewProcessor(Config{
			ID:       id,
			URL:      url,
			Name:     name,
			Settings: sets,
			OpenSource: func(url string) (capture.VideoSource, error) {
				return newFakeSource(), nil
			},
			NewPredictor: func(s settings.Settings) Predictor { return &fakePredictor{} },
		})
	}
	return r
}

func TestRegistryAddDuplicate(t *testing.T) {
	r := testRegistry(t)
	if err := r.Add("cam1", "http://example/1", "one"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := r.Add("cam1", "http://example/other", "other"); !errors.Is(err, ErrExists) {
		t.Fatalf("duplicate Add = %v, want ErrExists", err)
	}
	if got := r.Count(); got != 1 {
		t.Errorf("Count() = %d, want 1", got)
	}
}

func TestRegistryUnknownStream(t *testing.T) {
	r := testRegistry(t)
	if err := r.Remove("ghost"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Remove(ghost) = %v, want ErrNotFound", err)
	}
	if err := r.Start("ghost"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Start(ghost) = %v, want ErrNotFound", err)
	}
	if err := r.Stop("ghost"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Stop(ghost) = %v, want ErrNotFound", err)
	}
}

func TestRegistryRemoveStopsStream(t *testing.T) {
	r := testRegistry(t)
	if err := r.Add("cam1", "http://example/1", ""); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := r.Start("cam1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	p, _ := r.Get("cam1")

	if err := r.Remove("cam1"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if p.State() != StateStopped {
		t.Error("processor still running after Remove")
	}
	if r.Count() != 0 {
		t.Errorf("Count() = %d after Remove, want 0", r.Count())
	}
}

func TestRegistryListStatusSorted(t *testing.T) {
	r := testRegistry(t)
	for _, id := range []string{"b", "c", "a"} {
		if err := r.Add(id, "http://example/"+id, ""); err != nil {
			t.Fatalf("Add(%s): %v", id, err)
		}
	}

	statuses := r.ListStatus()
	if len(statuses) != 3 {
		t.Fatalf("ListStatus() len = %d, want 3", len(statuses))
	}
	for i, want := range []string{"a", "b", "c"} {
		if statuses[i].ID != want {
			t.Errorf("statuses[%d].ID = %s, want %s", i, statuses[i].ID, want)
		}
	}
}

func TestRegistryActiveCount(t *testing.T) {
	r := testRegistry(t)
	_ = r.Add("cam1", "http://example/1", "")
	_ = r.Add("cam2", "http://example/2", "")

	if got := r.ActiveCount(); got != 0 {
		t.Fatalf("ActiveCount() = %d before start, want 0", got)
	}
	if err := r.Start("cam1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer r.StopAll()

	if got := r.ActiveCount(); got != 1 {
		t.Errorf("ActiveCount() = %d, want 1", got)
	}
}

func TestRegistryDrainResultsMergedSorted(t *testing.T) {
	r := testRegistry(t)
	_ = r.Add("cam1", "http://example/1", "")
	_ = r.Add("cam2", "http://example/2", "")

	p1, _ := r.Get("cam1")
	p2, _ := r.Get("cam2")
	p1.enqueue(types.DetectionResult{StreamID: "cam1", Timestamp: 1})
	p1.enqueue(types.DetectionResult{StreamID: "cam1", Timestamp: 3})
	p2.enqueue(types.DetectionResult{StreamID: "cam2", Timestamp: 2})

	results := r.DrainResults()
	if len(results) != 3 {
		t.Fatalf("DrainResults() len = %d, want 3", len(results))
	}
	for i, want := range []float64{3, 2, 1} {
		if results[i].Timestamp != want {
			t.Errorf("results[%d].Timestamp = %v, want %v", i, results[i].Timestamp, want)
		}
	}

	if again := r.DrainResults(); len(again) != 0 {
		t.Errorf("second DrainResults() len = %d, want 0", len(again))
	}
}
