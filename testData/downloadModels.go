package main

import (
	"context"
	"os"

	serverless "github.com/knights-analytics/hugot-serverless"
	"github.com/knights-analytics/hugot-serverless/util/checks"
	"github.com/knights-analytics/hugot-serverless/util/fileutil"
)

// download the test models.

type downloadModel struct {
	name          string
	tokenizerOnly bool
}

var models = []downloadModel{
	{"Xenova/t5-small", false},
	{"google-t5/t5-small", true},
}

func main() {
	ok, err := fileutil.FileExists("./models")
	checks.Check(err)
	if ok {
		return
	}
	checks.Check(os.MkdirAll("./models", os.ModePerm))
	for _, m := range models {
		options := serverless.NewDownloadOptions()
		options.TokenizerOnly = m.tokenizerOnly
		options.AuthToken = os.Getenv("HF_TOKEN")
		_, dlErr := serverless.DownloadModel(context.Background(), m.name, "./models", options)
		checks.CheckWithMessage(dlErr, "downloading "+m.name)
	}
}
