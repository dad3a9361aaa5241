package fileutil

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/viant/afs"
	"github.com/viant/afs/option"
	"github.com/viant/afs/storage"
	_ "github.com/viant/afsc/s3"
)

var fileSystem = afs.New()

const partSize = 64 * 1024 * 1024

// ReadFileBytes reads a local or remote (s3://) file fully into memory.
func ReadFileBytes(filename string) (out []byte, err error) {
	file, err := fileSystem.OpenURL(context.Background(), filename)
	if err != nil {
		return nil, err
	}
	defer func(file io.Closer) {
		err = errors.Join(err, file.Close())
	}(file)

	buf := &bytes.Buffer{}
	if _, readErr := io.Copy(buf, file); readErr != nil {
		return nil, readErr
	}
	return buf.Bytes(), nil
}

func GetPathType(path string) string {
	if strings.HasPrefix(path, "s3://") {
		return "S3"
	}
	return "os"
}

// PathJoinSafe wraps filepath.Join so that the double slash of s3:// prefixes survives.
func PathJoinSafe(elem ...string) string {
	switch GetPathType(elem[0]) {
	case "S3":
		basePath := strings.TrimSuffix(elem[0], "/")
		return basePath + "/" + filepath.ToSlash(filepath.Join(elem[1:]...))
	default:
		return filepath.Join(elem...)
	}
}

func FileExists(filename string) (bool, error) {
	return fileSystem.Exists(context.Background(), filename)
}

func FileStats(filename string) (os.FileInfo, error) {
	return fileSystem.Object(context.Background(), filename)
}

func CopyFile(ctx context.Context, from string, to string) error {
	return fileSystem.Copy(ctx, from, to, option.NewSource(option.NewStream(partSize, 0)), option.NewDest(option.NewSkipChecksum(true)))
}

func CreateDir(dirName string) error {
	return fileSystem.Create(context.Background(), dirName, os.ModePerm, true)
}

// WalkDir visits every object under URL.
func WalkDir(ctx context.Context, URL string, handler storage.OnVisit) error {
	return fileSystem.Walk(ctx, URL, handler)
}
