//go:build v8

package jsbridge

import (
	"github.com/cryguy/jsbridge/internal/core"
	"github.com/cryguy/jsbridge/internal/v8engine"
)

const engineName = "v8"

func newRuntime(cfg core.Config) (core.JSRuntime, error) {
	rt, err := v8engine.New(cfg)
	if err != nil {
		return nil, err
	}
	return rt, nil
}
