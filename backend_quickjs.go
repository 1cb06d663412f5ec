//go:build !v8

package jsbridge

import (
	"github.com/cryguy/jsbridge/internal/core"
	"github.com/cryguy/jsbridge/internal/quickjs"
)

const engineName = "quickjs"

func newRuntime(cfg core.Config) (core.JSRuntime, error) {
	rt, err := quickjs.New(cfg)
	if err != nil {
		return nil, err
	}
	return rt, nil
}
