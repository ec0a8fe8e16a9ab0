package corpustune

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"

	"cloud.google.com/go/storage"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/option"
)

// Model is a persisted model directory.
type Model struct {
	Dir   string   `json:"dir"`
	Files []string `json:"files"`
}

// Uploader publishes a model directory somewhere outside the work dir.
type Uploader interface {
	UploadDir(ctx context.Context, dir, prefix string) (int, error)
}

// ArtifactStore lays out trial directories and handles the winning model.
type ArtifactStore struct {
	root     string
	finalDir string
	prefix   string
	verifier ModelVerifier
	uploader Uploader
	logger   *log.Logger
}

// NewArtifactStore creates a store rooted at root. verifier and uploader are optional.
func NewArtifactStore(root string, cfg ArtifactConfig, verifier ModelVerifier, uploader Uploader, logger *log.Logger) *ArtifactStore {
	if root == "" {
		root = "."
	}
	return &ArtifactStore{
		root:     root,
		finalDir: cfg.FinalDir,
		prefix:   cfg.Prefix,
		verifier: verifier,
		uploader: uploader,
		logger:   logger,
	}
}

// TrialOutputDir returns results_trial_<n> under the root.
func (s *ArtifactStore) TrialOutputDir(n int) string {
	return filepath.Join(s.root, "results_trial_"+strconv.Itoa(n))
}

// TrialModelDir returns best_model_trial_<n> under the root.
func (s *ArtifactStore) TrialModelDir(n int) string {
	return filepath.Join(s.root, "best_model_trial_"+strconv.Itoa(n))
}

// LoadModel reopens a saved model directory.
func (s *ArtifactStore) LoadModel(dir string) (Model, error) {
	files, err := listFiles(dir)
	if err != nil {
		return Model{}, fmt.Errorf("load model %s: %w", dir, err)
	}
	if len(files) == 0 {
		return Model{}, fmt.Errorf("load model %s: no files", dir)
	}
	if s.verifier != nil {
		if err := s.verifier.VerifyModel(dir); err != nil {
			return Model{}, fmt.Errorf("load model %s: %w", dir, err)
		}
	}
	return Model{Dir: dir, Files: files}, nil
}

// Promote reloads the best trial's model, copies it to the final directory
// when one is configured, and uploads it when an uploader is set.
func (s *ArtifactStore) Promote(ctx context.Context, best TrialRecord) (Model, error) {
	model, err := s.LoadModel(best.ModelPath)
	if err != nil {
		return Model{}, err
	}
	if s.finalDir != "" {
		if err := copyDir(best.ModelPath, s.finalDir); err != nil {
			return Model{}, fmt.Errorf("copy best model: %w", err)
		}
		logf(s.logger, "Copied best model to %s", s.finalDir)
		model.Dir = s.finalDir
	}
	if s.uploader != nil {
		prefix := path.Join(s.prefix, "best_model_trial_"+strconv.Itoa(best.Number))
		n, err := s.uploader.UploadDir(ctx, model.Dir, prefix)
		if err != nil {
			return Model{}, fmt.Errorf("upload best model: %w", err)
		}
		logf(s.logger, "Uploaded %d model files to %s", n, prefix)
	}
	return model, nil
}

func listFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

func copyDir(src, dst string) error {
	files, err := listFiles(src)
	if err != nil {
		return err
	}
	for _, rel := range files {
		if err := copyFile(filepath.Join(src, filepath.FromSlash(rel)), filepath.Join(dst, filepath.FromSlash(rel))); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	tmp := dst + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dst)
}

// GCSUploader copies model files into a Google Cloud Storage bucket.
type GCSUploader struct {
	client *storage.Client
	bucket *storage.BucketHandle
}

// NewGCSUploader creates an uploader for bucket. An empty credentialsFile uses
// application default credentials.
func NewGCSUploader(ctx context.Context, bucket, credentialsFile string) (*GCSUploader, error) {
	if bucket == "" {
		return nil, errors.New("bucket name is required")
	}
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return &GCSUploader{client: client, bucket: client.Bucket(bucket)}, nil
}

// Close releases the storage client.
func (u *GCSUploader) Close() error {
	if u == nil || u.client == nil {
		return nil
	}
	return u.client.Close()
}

// UploadDir implements Uploader.
func (u *GCSUploader) UploadDir(ctx context.Context, dir, prefix string) (int, error) {
	files, err := listFiles(dir)
	if err != nil {
		return 0, err
	}
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(4)
	for _, rel := range files {
		eg.Go(func() error {
			return u.uploadFile(ctx, filepath.Join(dir, filepath.FromSlash(rel)), path.Join(prefix, rel))
		})
	}
	if err := eg.Wait(); err != nil {
		return 0, err
	}
	return len(files), nil
}

func (u *GCSUploader) uploadFile(ctx context.Context, src, name string) error {
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()
	w := u.bucket.Object(name).NewWriter(ctx)
	if _, err := io.Copy(w, f); err != nil {
		w.Close()
		return fmt.Errorf("upload %s: %w", name, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("upload %s: %w", name, err)
	}
	return nil
}
