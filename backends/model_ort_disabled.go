//go:build !ORT && !ALL

package backends

import (
	"errors"

	"github.com/knights-analytics/hugot-serverless/options"
)

func createORTModelBackend(_ *Model, _ *options.Options) error {
	return errors.New("ORT is not enabled, build with the ORT tag")
}
