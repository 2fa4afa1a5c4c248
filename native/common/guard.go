package common

import "errors"

// ErrModulePaused is returned by Guard when the named module is paused.
var ErrModulePaused = errors.New("module paused")

// PauseView exposes the pause switchboard maintained by the node operator.
type PauseView interface {
	IsPaused(module string) bool
}

// Guard rejects operations on paused modules. A nil view or empty module name
// never blocks.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}
