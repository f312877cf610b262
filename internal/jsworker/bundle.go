package jsworker

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	esbuild "github.com/evanw/esbuild/pkg/api"
)

// moduleGlobal is where a compiled script leaves its default export.
const moduleGlobal = "globalThis.__worker_module__"

// unwrapDefault moves an ES module's default export up to moduleGlobal.
const unwrapDefault = "if(globalThis.__worker_module__&&globalThis.__worker_module__.default)globalThis.__worker_module__=globalThis.__worker_module__.default;\n"

// Bundle compiles the worker script at path, with everything it imports,
// into one classic script that assigns its exports to moduleGlobal.
func Bundle(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", path, err)
	}
	if _, err := os.Stat(abs); err != nil {
		return "", fmt.Errorf("reading worker script: %w", err)
	}

	result := esbuild.Build(esbuild.BuildOptions{
		EntryPoints:   []string{abs},
		AbsWorkingDir: filepath.Dir(abs),
		Bundle:        true,
		Format:        esbuild.FormatIIFE,
		GlobalName:    moduleGlobal,
		Write:         false,
		Platform:      esbuild.PlatformNeutral,
		Target:        esbuild.ES2022,
	})
	if len(result.Errors) > 0 {
		return "", fmt.Errorf("bundling %s: %s", filepath.Base(path), joinMessages(result.Errors))
	}
	if len(result.OutputFiles) == 0 {
		return "", fmt.Errorf("bundling %s produced no output", filepath.Base(path))
	}
	return string(result.OutputFiles[0].Contents) + unwrapDefault, nil
}

// Wrap compiles an in-memory ES module without resolving imports.
func Wrap(source string) (string, error) {
	result := esbuild.Transform(source, esbuild.TransformOptions{
		Format:     esbuild.FormatIIFE,
		GlobalName: moduleGlobal,
		Target:     esbuild.ES2022,
	})
	if len(result.Errors) > 0 {
		return "", fmt.Errorf("compiling worker script: %s", joinMessages(result.Errors))
	}
	return string(result.Code) + unwrapDefault, nil
}

func joinMessages(msgs []esbuild.Message) string {
	parts := make([]string, len(msgs))
	for i, m := range msgs {
		if m.Location != nil {
			parts[i] = fmt.Sprintf("%s:%d:%d: %s", m.Location.File, m.Location.Line, m.Location.Column, m.Text)
		} else {
			parts[i] = m.Text
		}
	}
	return strings.Join(parts, "; ")
}
