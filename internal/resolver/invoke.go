package resolver

import (
	stderrors "errors"
	"fmt"
	"sort"

	"github.com/conneroisu/textform/internal/errors"
)

// invoke calls fn and turns a panic into an error. Panics signalling memory or
// stack exhaustion become fatal errors.
func invoke(fn func() error) (err error) {
	defer func() {
		v := recover()
		if v == nil {
			return
		}
		if errors.IsFatalPanic(v) {
			err = errors.NewFatalError("directive processor crashed", fmt.Errorf("%v", v))
			return
		}
		err = fmt.Errorf("panic: %v", v)
	}()

	return fn()
}

func asEngineError(err error, target **errors.EngineError) bool {
	return stderrors.As(err, target)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
