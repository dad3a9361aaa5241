package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/phuslu/log"
	"github.com/urfave/cli/v2"

	serverless "github.com/knights-analytics/hugot-serverless"
	"github.com/knights-analytics/hugot-serverless/handlers"
	"github.com/knights-analytics/hugot-serverless/metrics"
	"github.com/knights-analytics/hugot-serverless/options"
	"github.com/knights-analytics/hugot-serverless/transport"
	"github.com/knights-analytics/hugot-serverless/util/fileutil"
)

const (
	modeLambda = "lambda"
	modeHTTP   = "http"

	handlerScore    = "score"
	handlerGenerate = "generate"
)

var modelName string
var tokenizerPath string
var backend string
var sharedLibraryDir string
var modelsDir string
var hfToken string
var mode string
var addr string
var inputPath string
var handlerName string
var logLevel string
var maxOrder int
var maxNewTokens int
var maxInputTokens int
var timeout time.Duration
var strictStatusCodes bool
var tokenizerOnly bool

// loadedContext is a model context ready to serve a handler.
type loadedContext interface {
	Handler() handlers.Invoker
	StrictStatusCodes() bool
	Ready() bool
}

var backendFlags = []cli.Flag{
	&cli.StringFlag{
		Name:        "backend",
		Usage:       "Inference backend, ORT (onnxruntime, needs the ORT build tag) or GO. Defaults to ORT when it is compiled in",
		Aliases:     []string{"b"},
		EnvVars:     []string{"HUGOT_BACKEND"},
		Destination: &backend,
		Value:       defaultBackend,
	},
	&cli.StringFlag{
		Name:        "onnxruntimeSharedLibrary",
		Usage:       "Directory holding the onnxruntime shared library",
		Aliases:     []string{"s"},
		EnvVars:     []string{"HUGOT_ORT_LIBRARY"},
		Destination: &sharedLibraryDir,
	},
	&cli.StringFlag{
		Name:        "modelFolder",
		Usage:       "Folder where to store downloaded models. Falls back to $HOME/hugot/models if not specified",
		Aliases:     []string{"f"},
		EnvVars:     []string{"HUGOT_MODELS_DIR"},
		Destination: &modelsDir,
	},
	&cli.StringFlag{
		Name:        "hfToken",
		Usage:       "Huggingface token for gated or private models",
		EnvVars:     []string{"HF_TOKEN"},
		Destination: &hfToken,
	},
	&cli.BoolFlag{
		Name:        "strict",
		Usage:       "Answer input errors with 400, timeouts with 504 and early requests with 503 instead of 500",
		EnvVars:     []string{"HUGOT_STRICT_STATUS"},
		Destination: &strictStatusCodes,
	},
}

var scoringFlags = []cli.Flag{
	&cli.StringFlag{
		Name:        "tokenizer",
		Usage:       "Directory (local or s3://) with tokenizer.json, or a huggingface model name",
		Aliases:     []string{"t"},
		EnvVars:     []string{"HUGOT_TOKENIZER_DIR"},
		Destination: &tokenizerPath,
		Value:       "google-t5/t5-small",
	},
	&cli.IntFlag{
		Name:        "maxOrder",
		Usage:       "Longest n-gram used by BLEU",
		Destination: &maxOrder,
		Value:       metrics.DefaultMaxOrder,
	},
}

var generationFlags = []cli.Flag{
	&cli.StringFlag{
		Name:        "model",
		Usage:       "Directory (local or s3://) with the onnx seq2seq export, or a huggingface model name",
		Aliases:     []string{"p"},
		EnvVars:     []string{"HUGOT_MODEL"},
		Destination: &modelName,
		Value:       "Xenova/t5-small",
	},
	&cli.IntFlag{
		Name:        "maxNewTokens",
		Usage:       "Maximum number of generated tokens, defaults to the model's generation config",
		Destination: &maxNewTokens,
	},
	&cli.IntFlag{
		Name:        "maxInputTokens",
		Usage:       "Truncate inputs to this many tokens, defaults to the model's position limit",
		Destination: &maxInputTokens,
	},
	&cli.DurationFlag{
		Name:        "timeout",
		Usage:       "Wall-clock budget of one generation request",
		EnvVars:     []string{"HUGOT_TIMEOUT"},
		Destination: &timeout,
		Value:       options.DefaultGenerationTimeout,
	},
}

var serveFlags = []cli.Flag{
	&cli.StringFlag{
		Name:        "mode",
		Usage:       "Host to serve on: lambda or http",
		Aliases:     []string{"m"},
		EnvVars:     []string{"HUGOT_MODE"},
		Destination: &mode,
		Value:       modeLambda,
	},
	&cli.StringFlag{
		Name:        "addr",
		Usage:       "Listen address in http mode",
		EnvVars:     []string{"HUGOT_ADDR"},
		Destination: &addr,
		Value:       ":8080",
	},
}

func concatFlags(groups ...[]cli.Flag) []cli.Flag {
	var flags []cli.Flag
	for _, g := range groups {
		flags = append(flags, g...)
	}
	return flags
}

var scoreCommand = &cli.Command{
	Name:  handlerScore,
	Usage: "Serve the BLEU scoring handler",
	Description: `Loads a tokenizer once and scores {"reference": "...", "candidate": "..."} request bodies.
				Responses are {"statusCode": 200, "body": "{\"bleu_score\": <float>}"}.`,
	Flags: concatFlags(backendFlags, scoringFlags, serveFlags),
	Action: func(cCtx *cli.Context) error {
		return serve(cCtx, handlerScore)
	},
}

var generateCommand = &cli.Command{
	Name:  handlerGenerate,
	Usage: "Serve the seq2seq generation handler",
	Description: `Loads a T5 style onnx export once and generates text for {"input_text": "..."} request bodies.
				Responses are {"statusCode": 200, "body": "{\"output_text\": \"...\"}"}.`,
	Flags: concatFlags(backendFlags, generationFlags, serveFlags),
	Action: func(cCtx *cli.Context) error {
		return serve(cCtx, handlerGenerate)
	},
}

var invokeCommand = &cli.Command{
	Name:  "invoke",
	Usage: "Run a single event through a handler",
	Description: `Reads one event, {"body": "<request json>"}, from --input or stdin and prints the response envelope.
				`,
	Flags: concatFlags(backendFlags, scoringFlags, generationFlags, []cli.Flag{
		&cli.StringFlag{
			Name:        "handler",
			Usage:       "score or generate",
			Destination: &handlerName,
			Required:    true,
		},
		&cli.StringFlag{
			Name:        "input",
			Usage:       "Path to the event json. If omitted, the event is read from stdin",
			Aliases:     []string{"i"},
			Destination: &inputPath,
		},
	}),
	Action: func(cCtx *cli.Context) error {
		var input io.Reader
		if inputPath != "" {
			eventBytes, err := fileutil.ReadFileBytes(inputPath)
			if err != nil {
				return err
			}
			input = bytes.NewReader(eventBytes)
		} else {
			if isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd()) {
				return errors.New("no event given, pass --input or pipe the event on stdin")
			}
			input = os.Stdin
		}

		session, err := newSession()
		if err != nil {
			return err
		}
		defer destroySession(session)

		loaded, err := load(cCtx.Context, session, handlerName)
		if err != nil {
			return err
		}
		return transport.InvokeOnce(cCtx.Context, handlerName, loaded.Handler(), loaded.StrictStatusCodes(), input, cCtx.App.Writer)
	},
}

var downloadCommand = &cli.Command{
	Name:  "download",
	Usage: "Download a seq2seq model or a tokenizer from huggingface",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:        "model",
			Usage:       "Huggingface model name",
			Aliases:     []string{"p"},
			EnvVars:     []string{"HUGOT_MODEL"},
			Destination: &modelName,
			Required:    true,
		},
		&cli.StringFlag{
			Name:        "modelFolder",
			Usage:       "Folder where to store downloaded models. Falls back to $HOME/hugot/models if not specified",
			Aliases:     []string{"f"},
			EnvVars:     []string{"HUGOT_MODELS_DIR"},
			Destination: &modelsDir,
		},
		&cli.StringFlag{
			Name:        "hfToken",
			EnvVars:     []string{"HF_TOKEN"},
			Destination: &hfToken,
		},
		&cli.BoolFlag{
			Name:        "tokenizerOnly",
			Usage:       "Only download the tokenizer files",
			Destination: &tokenizerOnly,
		},
	},
	Action: func(cCtx *cli.Context) error {
		dir, err := resolveModelsDir()
		if err != nil {
			return err
		}
		downloadOptions := newDownloadOptions()
		downloadOptions.TokenizerOnly = tokenizerOnly
		downloadOptions.Verbose = true
		modelPath, err := serverless.DownloadModel(cCtx.Context, modelName, dir, downloadOptions)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cCtx.App.Writer, modelPath)
		return err
	},
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "hugot-serverless",
		Usage: "BLEU scoring and seq2seq generation handlers for serverless hosts",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "logLevel",
				Usage:       "trace, debug, info, warn or error",
				EnvVars:     []string{"HUGOT_LOG_LEVEL"},
				Destination: &logLevel,
				Value:       "info",
			},
		},
		Before: func(_ *cli.Context) error {
			setupLogging(logLevel, os.Stderr)
			return nil
		},
		Commands: []*cli.Command{scoreCommand, generateCommand, invokeCommand, downloadCommand},
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newApp().RunContext(ctx, os.Args); err != nil {
		log.Error().Err(err).Msg("exiting")
		stop()
		os.Exit(1)
	}
}

// setupLogging writes human readable logs on a terminal and json everywhere else.
func setupLogging(level string, w *os.File) {
	log.DefaultLogger.Level = log.ParseLevel(level)
	if isatty.IsTerminal(w.Fd()) || isatty.IsCygwinTerminal(w.Fd()) {
		log.DefaultLogger.Writer = &log.ConsoleWriter{Writer: w, ColorOutput: true}
	} else {
		log.DefaultLogger.Writer = &log.IOWriter{Writer: w}
	}
}

func resolveModelsDir() (string, error) {
	if modelsDir != "" {
		return modelsDir, nil
	}
	userDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return fileutil.PathJoinSafe(userDir, "hugot", "models"), nil
}

func newDownloadOptions() serverless.DownloadOptions {
	downloadOptions := serverless.NewDownloadOptions()
	downloadOptions.AuthToken = hfToken
	return downloadOptions
}

func sessionOptions() []options.WithOption {
	var opts []options.WithOption
	if strings.ToUpper(backend) == options.BackendORT && sharedLibraryDir != "" {
		opts = append(opts, options.WithOnnxLibraryPath(sharedLibraryDir))
	}
	if maxNewTokens > 0 {
		opts = append(opts, options.WithMaxNewTokens(maxNewTokens))
	}
	if maxInputTokens > 0 {
		opts = append(opts, options.WithMaxInputTokens(maxInputTokens))
	}
	if timeout > 0 {
		opts = append(opts, options.WithGenerationTimeout(timeout))
	}
	if strictStatusCodes {
		opts = append(opts, options.WithStrictStatusCodes())
	}
	return opts
}

func newSession() (*serverless.Session, error) {
	switch strings.ToUpper(backend) {
	case options.BackendORT:
		return serverless.NewORTSession(sessionOptions()...)
	case options.BackendGO:
		return serverless.NewGoSession(sessionOptions()...)
	default:
		return nil, fmt.Errorf("backend %s not recognized, use ORT or GO", backend)
	}
}

func destroySession(session *serverless.Session) {
	session.LogStats()
	if err := session.Destroy(); err != nil {
		log.Error().Err(err).Msg("destroying session")
	}
}

// load builds the model context of the named handler, downloading named models first.
func load(ctx context.Context, session *serverless.Session, name string) (loadedContext, error) {
	dir, err := resolveModelsDir()
	if err != nil {
		return nil, err
	}
	downloadOptions := newDownloadOptions()
	start := time.Now()

	var loaded loadedContext
	switch name {
	case handlerScore:
		downloadOptions.TokenizerOnly = true
		path, resolveErr := serverless.ResolveModelPath(ctx, tokenizerPath, dir, downloadOptions)
		if resolveErr != nil {
			return nil, fmt.Errorf("%w: %w", serverless.ErrLoad, resolveErr)
		}
		loaded, err = serverless.NewScoringContext(session, path, metrics.WithMaxOrder(maxOrder))
	case handlerGenerate:
		path, resolveErr := serverless.ResolveModelPath(ctx, modelName, dir, downloadOptions)
		if resolveErr != nil {
			return nil, fmt.Errorf("%w: %w", serverless.ErrLoad, resolveErr)
		}
		loaded, err = serverless.NewGenerationContext(session, path)
	default:
		return nil, fmt.Errorf("handler %s not recognized, use %s or %s", name, handlerScore, handlerGenerate)
	}
	if err != nil {
		return nil, err
	}
	log.Info().Str("handler", name).Dur("load_time", time.Since(start)).Msg("model context loaded")
	return loaded, nil
}

func serve(cCtx *cli.Context, name string) error {
	if mode != modeLambda && mode != modeHTTP {
		return fmt.Errorf("mode %s not recognized, use %s or %s", mode, modeLambda, modeHTTP)
	}
	session, err := newSession()
	if err != nil {
		return err
	}
	defer destroySession(session)

	if mode == modeLambda {
		loaded, loadErr := load(cCtx.Context, session, name)
		if loadErr != nil {
			return loadErr
		}
		transport.StartLambda(name, loaded.Handler(), loaded.StrictStatusCodes())
		return nil
	}

	ctx, cancel := context.WithCancel(cCtx.Context)
	defer cancel()
	server := transport.NewHTTPServer(addr)
	server.StrictStatusCodes = strictStatusCodes
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.Serve(ctx)
	}()

	loaded, err := load(ctx, session, name)
	if err != nil {
		cancel()
		return errors.Join(err, <-serveErr)
	}
	server.Install(name, loaded.Handler())
	return <-serveErr
}
