package jsbridge

import (
	"errors"
	"path/filepath"
	"strings"

	esbuild "github.com/evanw/esbuild/pkg/api"
)

// Transpile compiles TypeScript source to JavaScript. Sources whose name
// does not end in .ts are returned unchanged.
func Transpile(name, src string) (string, error) {
	if !strings.EqualFold(filepath.Ext(name), ".ts") {
		return src, nil
	}
	compiled := esbuild.Transform(src, esbuild.TransformOptions{
		Loader:     esbuild.LoaderTS,
		Sourcefile: name,
	})
	if len(compiled.Errors) > 0 {
		msgs := make([]string, 0, len(compiled.Errors))
		for _, e := range compiled.Errors {
			msgs = append(msgs, e.Text)
		}
		return "", errors.New("transpile " + name + ": " + strings.Join(msgs, "; "))
	}
	return string(compiled.Code), nil
}
