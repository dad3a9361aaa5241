//go:build !NODOWNLOAD

package serverless

import (
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/gomlx/go-huggingface/hub"
	"github.com/phuslu/log"

	"github.com/knights-analytics/hugot-serverless/backends"
	"github.com/knights-analytics/hugot-serverless/util/fileutil"
)

// DownloadOptions is a struct of options that can be passed to DownloadModel.
type DownloadOptions struct {
	AuthToken             string
	Branch                string
	MaxRetries            int
	RetryInterval         time.Duration
	ConcurrentConnections int
	// TokenizerOnly skips the onnx graphs, for scoring contexts.
	TokenizerOnly bool
	Verbose       bool
}

// NewDownloadOptions creates new DownloadOptions struct with default values.
func NewDownloadOptions() DownloadOptions {
	return DownloadOptions{
		Branch:                "main",
		MaxRetries:            5,
		RetryInterval:         5 * time.Second,
		ConcurrentConnections: 5,
	}
}

// supportFiles are downloaded whenever the repo has them.
var supportFiles = map[string]bool{
	"config.json":             true,
	"generation_config.json":  true,
	"special_tokens_map.json": true,
	"tokenizer_config.json":   true,
	"spiece.model":            true,
}

// ModelDirectory is where DownloadModel stores modelName under destination.
func ModelDirectory(modelName string, destination string) string {
	modelP := modelName
	if strings.Contains(modelP, ":") {
		modelP = strings.Split(modelName, ":")[0]
	}
	return fileutil.PathJoinSafe(destination, strings.ReplaceAll(modelP, "/", "_"))
}

// ResolveModelPath returns modelName itself when it is an existing local or s3 path, the
// already downloaded copy under destination if there is one, and downloads it otherwise.
func ResolveModelPath(ctx context.Context, modelName string, destination string, options DownloadOptions) (string, error) {
	exists, err := fileutil.FileExists(modelName)
	if err == nil && exists {
		return modelName, nil
	}
	modelPath := ModelDirectory(modelName, destination)
	if exists, err = fileutil.FileExists(fileutil.PathJoinSafe(modelPath, "tokenizer.json")); err == nil && exists {
		return modelPath, nil
	}
	return DownloadModel(ctx, modelName, destination, options)
}

// DownloadModel downloads a seq2seq model (or only its tokenizer) from huggingface into destination.
// The repo is validated first: it must have a tokenizer.json and, unless TokenizerOnly is set, a
// config.json plus the encoder and decoder onnx graphs.
func DownloadModel(ctx context.Context, modelName string, destination string, options DownloadOptions) (string, error) {
	modelPath := ModelDirectory(modelName, destination)

	repo := hub.New(strings.Split(modelName, ":")[0])
	if options.AuthToken != "" {
		repo = repo.WithAuth(options.AuthToken)
	}
	if options.ConcurrentConnections > 0 {
		repo.MaxParallelDownload = options.ConcurrentConnections
	}
	if options.Verbose {
		repo.Verbosity = 1
		repo.WithProgressBar(true)
	} else {
		repo.Verbosity = 0
		repo.WithProgressBar(false)
	}
	if options.Branch != "" {
		repo.WithRevision(options.Branch)
	}

	downloadFiles, err := validateDownloadHfModel(ctx, repo, options)
	if err != nil {
		return "", err
	}
	if err = fileutil.CreateDir(modelPath); err != nil {
		return "", err
	}

	for i := 0; i < options.MaxRetries; i++ {
		downloadPaths, downloadErr := repo.DownloadFiles(downloadFiles...)
		if downloadErr != nil {
			log.Warn().Err(downloadErr).Int("attempt", i+1).Int("max_retries", options.MaxRetries).Msg("download attempt failed")
			if sleepErr := sleepContext(ctx, options.RetryInterval); sleepErr != nil {
				return "", sleepErr
			}
			continue
		}

		for j, downloadPath := range downloadPaths {
			truePath, symErr := filepath.EvalSymlinks(downloadPath)
			if symErr != nil {
				return "", symErr
			}
			if copyErr := fileutil.CopyFile(ctx, truePath, fileutil.PathJoinSafe(modelPath, path.Base(downloadFiles[j]))); copyErr != nil {
				return "", copyErr
			}
		}
		log.Info().Str("model", modelName).Str("path", modelPath).Msg("download completed")
		return modelPath, nil
	}
	return "", fmt.Errorf("failed to download %s after %d attempts", modelName, options.MaxRetries)
}

func validateDownloadHfModel(ctx context.Context, repo *hub.Repo, options DownloadOptions) ([]string, error) {
	for i := 0; i < options.MaxRetries; i++ {
		err := repo.DownloadInfo(false)
		if err == nil {
			break
		}
		log.Warn().Err(err).Int("attempt", i+1).Int("max_retries", options.MaxRetries).Msg("listing repo failed")
		if i+1 == options.MaxRetries {
			return nil, err
		}
		if sleepErr := sleepContext(ctx, options.RetryInterval); sleepErr != nil {
			return nil, sleepErr
		}
	}

	tokenizerPath := ""
	hasConfig := false
	var toDownload []string
	var allOnnx []string
	for fileName, err := range repo.IterFileNames() {
		if err != nil {
			return nil, err
		}
		baseFileName := filepath.Base(fileName)
		switch {
		case baseFileName == "tokenizer.json":
			tokenizerPath = fileName
		case supportFiles[baseFileName]:
			hasConfig = hasConfig || baseFileName == "config.json"
			toDownload = append(toDownload, fileName)
		case filepath.Ext(baseFileName) == ".onnx":
			allOnnx = append(allOnnx, fileName)
		}
	}

	var errs []error
	if tokenizerPath == "" {
		errs = append(errs, errors.New("model does not have a tokenizer.json file"))
	} else {
		toDownload = append(toDownload, tokenizerPath)
	}
	if !options.TokenizerOnly {
		if !hasConfig {
			errs = append(errs, errors.New("model does not have a config.json file"))
		}
		encoder, decoderInit, decoder, err := backends.SelectSeq2SeqOnnxFiles(allOnnx)
		if err != nil {
			errs = append(errs, fmt.Errorf("model is not an onnx seq2seq export: %w", err))
		} else {
			toDownload = append(toDownload, encoder, decoderInit, decoder)
		}
	}
	return toDownload, errors.Join(errs...)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
