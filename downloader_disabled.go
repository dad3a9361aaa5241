//go:build NODOWNLOAD

package serverless

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/knights-analytics/hugot-serverless/util/fileutil"
)

type DownloadOptions struct {
	AuthToken             string
	Branch                string
	MaxRetries            int
	RetryInterval         time.Duration
	ConcurrentConnections int
	TokenizerOnly         bool
	Verbose               bool
}

func NewDownloadOptions() DownloadOptions {
	return DownloadOptions{}
}

func ModelDirectory(modelName string, destination string) string {
	return fileutil.PathJoinSafe(destination, strings.ReplaceAll(strings.Split(modelName, ":")[0], "/", "_"))
}

func ResolveModelPath(_ context.Context, modelName string, _ string, _ DownloadOptions) (string, error) {
	exists, err := fileutil.FileExists(modelName)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", errors.New("model path does not exist and downloading is disabled, build without the NODOWNLOAD tag")
	}
	return modelName, nil
}

func DownloadModel(_ context.Context, _ string, _ string, _ DownloadOptions) (string, error) {
	return "", errors.New("downloading is disabled, build without the NODOWNLOAD tag")
}
