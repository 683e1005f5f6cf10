// Package normalize shells out to an external loudness-normalization binary
// (ffmpeg's two-pass loudnorm filter) for the mastering stage (C8). This is
// a deliberate os/exec boundary, not a library call: the normalizer is an
// external CLI collaborator per SPEC_FULL.md, and no example repo imports
// an in-process audio DSP library.
package normalize

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"time"
)

// Options parameterizes the normalizer call.
type Options struct {
	Bin         string // path to ffmpeg, from NORMALIZER_BIN
	Timeout     time.Duration
	TargetLUFS  float64
	PeakCeiling float64 // dBTP
}

// Result carries the measured output of a normalization pass.
type Result struct {
	OutputPath     string
	LUFSIntegrated float64
	PeakDB         float64
	DurationSec    float64
}

// measurement mirrors ffmpeg's loudnorm first-pass JSON block.
type measurement struct {
	InputI       string `json:"input_i"`
	InputTP      string `json:"input_tp"`
	InputLRA     string `json:"input_lra"`
	InputThresh  string `json:"input_thresh"`
	OutputI      string `json:"output_i"`
	OutputTP     string `json:"output_tp"`
	TargetOffset string `json:"target_offset"`
}

var loudnormJSONRe = regexp.MustCompile(`(?s)\{.*\}`)

// Normalize runs two-pass loudnorm on inputPath, targeting opts.TargetLUFS
// and opts.PeakCeiling, writing the result to outputPath.
func Normalize(ctx context.Context, opts Options, inputPath, outputPath string) (*Result, error) {
	if opts.Bin == "" {
		opts.Bin = "ffmpeg"
	}
	if opts.Timeout == 0 {
		opts.Timeout = 300 * time.Second
	}

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	meas, err := measureLoudness(ctx, opts, inputPath)
	if err != nil {
		return nil, fmt.Errorf("loudnorm measurement pass: %w", err)
	}

	if err := applyLoudnorm(ctx, opts, inputPath, outputPath, meas); err != nil {
		return nil, fmt.Errorf("loudnorm apply pass: %w", err)
	}

	dur, err := probeDuration(ctx, opts.Bin, outputPath)
	if err != nil {
		dur = 0
	}

	integratedLUFS, _ := parseFloat(meas.OutputI)
	peakDB, _ := parseFloat(meas.OutputTP)

	return &Result{
		OutputPath:     outputPath,
		LUFSIntegrated: integratedLUFS,
		PeakDB:         peakDB,
		DurationSec:    dur,
	}, nil
}

func measureLoudness(ctx context.Context, opts Options, inputPath string) (*measurement, error) {
	filter := fmt.Sprintf("loudnorm=I=%.1f:TP=%.1f:print_format=json", opts.TargetLUFS, opts.PeakCeiling)
	cmd := exec.CommandContext(ctx, opts.Bin, "-i", inputPath, "-af", filter, "-f", "null", os.DevNull)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg measurement run: %w", err)
	}

	match := loudnormJSONRe.Find(stderr.Bytes())
	if match == nil {
		return nil, fmt.Errorf("no loudnorm JSON block in ffmpeg stderr")
	}

	var m measurement
	if err := json.Unmarshal(match, &m); err != nil {
		return nil, fmt.Errorf("parse loudnorm JSON: %w", err)
	}
	return &m, nil
}

func applyLoudnorm(ctx context.Context, opts Options, inputPath, outputPath string, meas *measurement) error {
	filter := fmt.Sprintf(
		"loudnorm=I=%.1f:TP=%.1f:measured_I=%s:measured_TP=%s:measured_LRA=%s:measured_thresh=%s:offset=%s:linear=true",
		opts.TargetLUFS, opts.PeakCeiling, meas.InputI, meas.InputTP, meas.InputLRA, meas.InputThresh, meas.TargetOffset,
	)
	cmd := exec.CommandContext(ctx, opts.Bin, "-y", "-i", inputPath, "-af", filter, outputPath)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg apply run: %w: %s", err, stderr.String())
	}
	return nil
}

var durationRe = regexp.MustCompile(`Duration:\s*(\d+):(\d+):(\d+\.\d+)`)

func probeDuration(ctx context.Context, bin, path string) (float64, error) {
	cmd := exec.CommandContext(ctx, bin, "-i", path)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	_ = cmd.Run() // ffmpeg with no output always exits non-zero; we only want stderr

	m := durationRe.FindStringSubmatch(stderr.String())
	if m == nil {
		return 0, fmt.Errorf("no duration found in ffmpeg output")
	}
	var hours, minutes float64
	var seconds float64
	fmt.Sscanf(m[1], "%f", &hours)
	fmt.Sscanf(m[2], "%f", &minutes)
	fmt.Sscanf(m[3], "%f", &seconds)
	return hours*3600 + minutes*60 + seconds, nil
}

func parseFloat(s string) (float64, error) {
	var f float64
	_, err := fmt.Sscanf(s, "%f", &f)
	return f, err
}
