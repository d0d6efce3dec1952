// Package runner supervises one evaluator subprocess per job: it clears the
// stale result artifact, launches the toolchain with a derived environment,
// enforces the wall-clock timeout, and reads the score artifact back.
package runner

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/modelforge/scoregate/internal/config"
	"github.com/modelforge/scoregate/pkg/models"
)

// Sentinel errors for the three ways a run ends badly.
var (
	ErrTimeout         = errors.New("evaluator run exceeded timeout")
	ErrEvaluatorFailed = errors.New("evaluator exited nonzero")
	ErrMissingResult   = errors.New("evaluator produced no usable result artifact")
)

const (
	progressPrefix = "progress:"
	stderrTailMax  = 2048
)

// Spec describes one evaluator invocation. Everything in it is derived from
// configuration plus the job; nothing is read from ambient state at run time.
type Spec struct {
	Command    string
	Args       []string
	Dir        string
	ExtraEnv   []string
	ResultPath string
	Timeout    time.Duration
}

// FromConfig derives the invocation for job from the scoring configuration.
// All paths come off the two configured roots; the GPU knobs and the model
// reference travel to the evaluator through its environment.
func FromConfig(cfg config.ScoringConfig, job *models.Job) Spec {
	return Spec{
		Command: cfg.PythonPath(),
		Args:    []string{cfg.EntrypointPath()},
		Dir:     cfg.EvaluatorRoot,
		ExtraEnv: []string{
			"CUDA_VISIBLE_DEVICES=" + cfg.GPU.VisibleDevices,
			"GPU_COUNT=" + strconv.Itoa(cfg.GPU.Count),
			"GPU_MEMORY_UTILIZATION=" + strconv.FormatFloat(cfg.GPU.MemoryUtilization, 'f', -1, 64),
			"JOB_ID=" + job.ID,
			"SUBMISSION_TYPE=" + job.SubmissionType,
			"MODEL_URL=" + job.Content,
		},
		ResultPath: cfg.ResultArtifactPath(),
		Timeout:    cfg.Timeout,
	}
}

// Runner executes evaluator specs. The zero value is not usable; construct
// with New.
type Runner struct{}

func New() *Runner {
	return &Runner{}
}

// Run executes one evaluator subprocess to completion and returns the score
// read from the result artifact. progress, if non-nil, receives evaluator
// stdout lines prefixed with "progress:" as they appear.
//
// The stale artifact is removed before launch so a prior run's score can
// never be attributed to this one. On timeout the whole process group is
// killed; there is no orphaned subprocess after Run returns.
func (r *Runner) Run(ctx context.Context, spec Spec, progress func(string)) (*models.Result, error) {
	if err := clearArtifact(spec.ResultPath); err != nil {
		return nil, fmt.Errorf("clear stale artifact: %w", err)
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if spec.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, spec.Timeout)
		defer cancel()
	}

	cmd := exec.Command(spec.Command, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = append(os.Environ(), spec.ExtraEnv...)
	configureProcessGroup(cmd)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: start: %v", ErrEvaluatorFailed, err)
	}

	// Drain stdout before Wait; Wait closes the pipe.
	stdoutDone := make(chan struct{})
	go func() {
		defer close(stdoutDone)
		scanLines(stdout, progress)
	}()

	waitErr := make(chan error, 1)
	go func() {
		<-stdoutDone
		waitErr <- cmd.Wait()
	}()

	select {
	case <-runCtx.Done():
		killProcessGroup(cmd)
		<-waitErr
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %s", ErrTimeout, spec.Timeout)
		}
		return nil, runCtx.Err()
	case err := <-waitErr:
		if err != nil {
			return nil, fmt.Errorf("%w: %v: %s", ErrEvaluatorFailed, err, stderrTail(stderr.String()))
		}
	}

	return readArtifact(spec.ResultPath)
}

// clearArtifact removes the previous run's result file and makes sure its
// directory exists for the next one.
func clearArtifact(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return os.MkdirAll(filepath.Dir(path), 0o755)
}

// scanLines forwards progress lines from the evaluator's stdout. Everything
// else is discarded; the evaluator's chatter is not ours to interpret.
func scanLines(r io.Reader, progress func(string)) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 256*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if progress == nil {
			continue
		}
		if rest, ok := strings.CutPrefix(strings.TrimSpace(line), progressPrefix); ok {
			progress(strings.TrimSpace(rest))
		}
	}
}

// readArtifact parses the evaluator's CSV artifact. The contract is opaque
// beyond this: a header row containing a "score" column, and a first data
// row whose score cell is the final score, taken verbatim. Remaining
// columns ride along as auxiliary metrics.
func readArtifact(path string) (*models.Result, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s not written", ErrMissingResult, path)
		}
		return nil, fmt.Errorf("open result artifact: %w", err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: malformed csv: %v", ErrMissingResult, err)
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("%w: no data rows in %s", ErrMissingResult, path)
	}

	header, data := rows[0], rows[1]
	scoreCol := -1
	for i, name := range header {
		if strings.EqualFold(strings.TrimSpace(name), "score") {
			scoreCol = i
			break
		}
	}
	if scoreCol == -1 || scoreCol >= len(data) {
		return nil, fmt.Errorf("%w: no score column in %s", ErrMissingResult, path)
	}

	score, err := strconv.ParseFloat(strings.TrimSpace(data[scoreCol]), 64)
	if err != nil {
		return nil, fmt.Errorf("%w: score %q is not numeric", ErrMissingResult, data[scoreCol])
	}

	result := &models.Result{Score: score}
	for i, name := range header {
		if i == scoreCol || i >= len(data) {
			continue
		}
		if result.Metrics == nil {
			result.Metrics = make(map[string]string)
		}
		result.Metrics[strings.TrimSpace(name)] = strings.TrimSpace(data[i])
	}
	return result, nil
}

func stderrTail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > stderrTailMax {
		s = s[len(s)-stderrTailMax:]
	}
	return s
}
