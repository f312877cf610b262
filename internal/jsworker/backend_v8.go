//go:build v8

package jsworker

import (
	"github.com/cryguy/taskworker/internal/core"
	"github.com/cryguy/taskworker/internal/v8engine"
)

// Engine names the JS engine this binary was built with.
const Engine = "v8"

func newRuntime(memoryLimitMB int) (core.JSRuntime, error) {
	return v8engine.New(memoryLimitMB)
}
