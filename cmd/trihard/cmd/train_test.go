package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/embedkit/trihard/experiment"
)

func validTrainArgs() *experiment.Args {
	return &experiment.Args{
		ExperimentRoot: "/tmp/exp",
		TrainSet:       "train.csv",
		ImageRoot:      "/tmp/images",
		EmbeddingDim:   128,
		NetInputHeight: 256,
		NetInputWidth:  128,
		PreCropHeight:  288,
		PreCropWidth:   144,
	}
}

func TestValidateArgs(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*experiment.Args)
		wantErr string
	}{
		{
			name:   "valid",
			mutate: func(a *experiment.Args) {},
		},
		{
			name:    "missing required paths",
			mutate:  func(a *experiment.Args) { a.TrainSet = "" },
			wantErr: "required",
		},
		{
			name:    "negative embedding dim",
			mutate:  func(a *experiment.Args) { a.EmbeddingDim = -1 },
			wantErr: "--embedding-dim must be positive",
		},
		{
			name:    "zero embedding dim",
			mutate:  func(a *experiment.Args) { a.EmbeddingDim = 0 },
			wantErr: "--embedding-dim must be positive",
		},
		{
			name:    "zero net input",
			mutate:  func(a *experiment.Args) { a.NetInputWidth = 0 },
			wantErr: "--net-input-height and --net-input-width must be positive",
		},
		{
			name: "pre-crop smaller than net input",
			mutate: func(a *experiment.Args) {
				a.CropAugment = true
				a.PreCropHeight = 200
			},
			wantErr: "must cover the net input",
		},
		{
			name: "small pre-crop without crop augment is fine",
			mutate: func(a *experiment.Args) {
				a.PreCropHeight = 200
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := validTrainArgs()
			tt.mutate(args)

			err := validateArgs(args)
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.ErrorContains(t, err, tt.wantErr)
			}
		})
	}
}
