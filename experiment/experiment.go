// Package experiment manages run directories and argument persistence.
//
// A fresh run claims an empty directory and records its full configuration in
// args.json, so the run stays reproducible and resumable. On resume the
// persisted configuration is authoritative: supplied values that differ are
// reported as conflicts and overridden, never silently mixed.
package experiment

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"

	"github.com/google/uuid"
)

// ArgsFileName is the name of the persisted configuration file.
const ArgsFileName = "args.json"

// ErrRootNotEmpty is returned when a fresh run targets a non-empty directory.
var ErrRootNotEmpty = errors.New("experiment root is not empty")

// ErrNoArgs is returned when a resume finds no persisted configuration.
var ErrNoArgs = errors.New("no persisted args found")

// Args is the full tunable configuration of a training run.
type Args struct {
	RunID string `json:"run_id"`

	ExperimentRoot string `json:"experiment_root"`
	TrainSet       string `json:"train_set"`
	ImageRoot      string `json:"image_root"`
	TestSet        string `json:"test_set,omitempty"`

	BatchP       int `json:"batch_p"`
	BatchK       int `json:"batch_k"`
	EmbeddingDim int `json:"embedding_dim"`

	NetInputHeight int `json:"net_input_height"`
	NetInputWidth  int `json:"net_input_width"`
	PreCropHeight  int `json:"pre_crop_height"`
	PreCropWidth   int `json:"pre_crop_width"`

	Metric string `json:"metric"`
	Margin string `json:"margin"`

	LearningRate        float64 `json:"learning_rate"`
	TrainIterations     uint64  `json:"train_iterations"`
	DecayStartIteration uint64  `json:"decay_start_iteration"`
	CheckpointFrequency uint64  `json:"checkpoint_frequency"`

	LoadingThreads int  `json:"loading_threads"`
	FlipAugment    bool `json:"flip_augment"`
	RotateAugment  bool `json:"rotate_augment"`
	CropAugment    bool `json:"crop_augment"`
	DetailedLogs   bool `json:"detailed_logs"`

	Seed uint64 `json:"seed"`
}

// Conflict records one argument where the persisted run disagrees with the
// value supplied on resume. The persisted value wins.
type Conflict struct {
	Field     string
	Persisted any
	Supplied  any
}

func (c Conflict) String() string {
	return fmt.Sprintf("%s: persisted %v overrides supplied %v", c.Field, c.Persisted, c.Supplied)
}

func argsPath(root string) string {
	return filepath.Join(root, ArgsFileName)
}

// Fresh claims root for a new run: the directory must be empty or absent.
// A run UUID is generated and the configuration is persisted.
func Fresh(root string, args *Args) error {
	entries, err := os.ReadDir(root)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if len(entries) > 0 {
		return fmt.Errorf("%w: %s", ErrRootNotEmpty, root)
	}

	if err := os.MkdirAll(root, 0o750); err != nil {
		return fmt.Errorf("create experiment root: %w", err)
	}

	args.RunID = uuid.NewString()
	args.ExperimentRoot = root

	return save(root, args)
}

// Resume loads the persisted configuration from root and merges the supplied
// one into it. For every differing field the persisted value wins and a
// Conflict is returned; resume never fails on a mismatch.
func Resume(root string, supplied *Args) (*Args, []Conflict, error) {
	persisted, err := LoadArgs(root)
	if err != nil {
		return nil, nil, err
	}

	conflicts := diff(persisted, supplied)
	return persisted, conflicts, nil
}

// LoadArgs reads the persisted configuration from root.
func LoadArgs(root string) (*Args, error) {
	data, err := os.ReadFile(argsPath(root))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w in %s", ErrNoArgs, root)
	}
	if err != nil {
		return nil, err
	}

	var args Args
	if err := json.Unmarshal(data, &args); err != nil {
		return nil, fmt.Errorf("parse %s: %w", ArgsFileName, err)
	}
	return &args, nil
}

func save(root string, args *Args) error {
	data, err := json.MarshalIndent(args, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(argsPath(root), append(data, '\n'), 0o644)
}

// diff reports fields where supplied differs from persisted. RunID and
// ExperimentRoot are identity fields, not tunables, and are skipped.
func diff(persisted, supplied *Args) []Conflict {
	var conflicts []Conflict

	pv := reflect.ValueOf(*persisted)
	sv := reflect.ValueOf(*supplied)
	t := pv.Type()

	for i := 0; i < t.NumField(); i++ {
		name := t.Field(i).Name
		if name == "RunID" || name == "ExperimentRoot" {
			continue
		}

		p := pv.Field(i).Interface()
		s := sv.Field(i).Interface()
		if !reflect.DeepEqual(p, s) {
			conflicts = append(conflicts, Conflict{Field: name, Persisted: p, Supplied: s})
		}
	}

	return conflicts
}
