//go:build !ORT && !ALL

package main

import "github.com/knights-analytics/hugot-serverless/options"

// onnxruntime is not compiled in, so the pure go backend is the only one that can start.
const defaultBackend = options.BackendGO
