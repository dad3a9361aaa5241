//go:build ORT || ALL

package main

import "github.com/knights-analytics/hugot-serverless/options"

const defaultBackend = options.BackendORT
