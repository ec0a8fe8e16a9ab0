package corpustune

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

const containerWorkspace = "/workspace"

// DockerTrainer runs the training command inside a container with the work
// directory bind-mounted at /workspace.
type DockerTrainer struct {
	client  *client.Client
	image   string
	command []string
	env     map[string]string
	workDir string
	memory  int64
	timeout time.Duration
	logger  *log.Logger
}

// NewDockerTrainer connects to the Docker daemon described by the environment.
func NewDockerTrainer(cfg TrainerConfig, workDir string, logger *log.Logger) (*DockerTrainer, error) {
	if cfg.Image == "" {
		return nil, errors.New("trainer image is required for docker trainer")
	}
	if len(cfg.Command) == 0 {
		return nil, errors.New("trainer command is required")
	}
	timeout, err := parseTimeout(cfg.Timeout)
	if err != nil {
		return nil, err
	}
	absWork, err := filepath.Abs(workDir)
	if err != nil {
		return nil, fmt.Errorf("resolve work dir: %w", err)
	}
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create Docker client: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := cli.Ping(pingCtx); err != nil {
		cli.Close()
		return nil, fmt.Errorf("connect to Docker: %w", err)
	}
	return &DockerTrainer{
		client:  cli,
		image:   cfg.Image,
		command: cfg.Command,
		env:     cfg.Env,
		workDir: absWork,
		memory:  cfg.MemoryLimit,
		timeout: timeout,
		logger:  logger,
	}, nil
}

// Close releases the Docker client.
func (t *DockerTrainer) Close() error {
	if t == nil || t.client == nil {
		return nil
	}
	return t.client.Close()
}

// Train implements Trainer.
func (t *DockerTrainer) Train(ctx context.Context, req TrainRequest) (TrainResult, error) {
	if err := prepareTrialDirs(req); err != nil {
		return TrainResult{}, err
	}
	inner, err := t.containerRequest(req)
	if err != nil {
		return TrainResult{}, err
	}
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}
	if err := t.ensureImage(ctx); err != nil {
		return TrainResult{}, fmt.Errorf("ensure image %s: %w", t.image, err)
	}

	resp, err := t.client.ContainerCreate(ctx,
		&container.Config{
			Image:      t.image,
			Cmd:        expandArgs(t.command, inner),
			Env:        trainEnv(inner, t.env),
			WorkingDir: containerWorkspace,
		},
		&container.HostConfig{
			Binds:     []string{t.workDir + ":" + containerWorkspace},
			Resources: container.Resources{Memory: t.memory},
		},
		nil, nil, "")
	if err != nil {
		return TrainResult{}, fmt.Errorf("create container: %w", err)
	}
	defer func() {
		_ = t.client.ContainerRemove(context.Background(), resp.ID, container.RemoveOptions{Force: true})
	}()

	logf(t.logger, "Trial %d: starting container %.12s from %s", req.Trial, resp.ID, t.image)
	if err := t.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return TrainResult{}, fmt.Errorf("start container: %w", err)
	}

	statusCh, errCh := t.client.ContainerWait(ctx, resp.ID, container.WaitConditionNotRunning)
	var exitCode int64
	select {
	case err := <-errCh:
		if err != nil {
			return TrainResult{}, fmt.Errorf("trial %d: wait for container: %w", req.Trial, err)
		}
	case status := <-statusCh:
		exitCode = status.StatusCode
	}

	stderr, err := t.saveLogs(ctx, resp.ID, filepath.Join(req.OutputDir, "train.log"))
	if err != nil {
		logf(t.logger, "Trial %d: could not collect container logs: %v", req.Trial, err)
	}
	if exitCode != 0 {
		return TrainResult{}, fmt.Errorf("trial %d: %w: exit code %d: %s", req.Trial, ErrTrainerFailed, exitCode, lastLines(stderr, 5))
	}
	return collectResult(req)
}

// containerRequest rewrites host paths to their location under /workspace.
func (t *DockerTrainer) containerRequest(req TrainRequest) (TrainRequest, error) {
	var err error
	mapPath := func(p string) string {
		if p == "" || err != nil {
			return p
		}
		abs, aerr := filepath.Abs(p)
		if aerr != nil {
			err = aerr
			return p
		}
		rel, rerr := filepath.Rel(t.workDir, abs)
		if rerr != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			err = fmt.Errorf("%s is outside the work dir %s", p, t.workDir)
			return p
		}
		return path.Join(containerWorkspace, filepath.ToSlash(rel))
	}
	out := req
	out.DatasetPath = mapPath(req.DatasetPath)
	out.OutputDir = mapPath(req.OutputDir)
	out.ModelDir = mapPath(req.ModelDir)
	out.LoggingDir = mapPath(req.LoggingDir)
	return out, err
}

func (t *DockerTrainer) ensureImage(ctx context.Context) error {
	images, err := t.client.ImageList(ctx, image.ListOptions{})
	if err != nil {
		return err
	}
	for _, img := range images {
		if slices.Contains(img.RepoTags, t.image) {
			return nil
		}
	}
	reader, err := t.client.ImagePull(ctx, t.image, image.PullOptions{})
	if err != nil {
		return err
	}
	defer reader.Close()
	_, err = io.Copy(io.Discard, reader)
	return err
}

// saveLogs writes the container output to logPath and returns stderr.
func (t *DockerTrainer) saveLogs(ctx context.Context, id, logPath string) (string, error) {
	rc, err := t.client.ContainerLogs(ctx, id, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return "", err
	}
	defer rc.Close()
	f, err := os.Create(logPath)
	if err != nil {
		return "", err
	}
	defer f.Close()
	var stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(f, io.MultiWriter(f, &stderr), rc); err != nil {
		return stderr.String(), err
	}
	return stderr.String(), nil
}
