//go:build !v8

package jsworker

import (
	"github.com/cryguy/taskworker/internal/core"
	"github.com/cryguy/taskworker/internal/quickjs"
)

// Engine names the JS engine this binary was built with.
const Engine = "quickjs"

func newRuntime(memoryLimitMB int) (core.JSRuntime, error) {
	return quickjs.New(memoryLimitMB)
}
