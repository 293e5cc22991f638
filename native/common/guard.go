package common

import "errors"

// ErrModulePaused is returned when a guarded operation targets a paused module.
var ErrModulePaused = errors.New("module paused")

// PauseView exposes the pause switches maintained by governance/administration.
type PauseView interface {
	IsPaused(module string) bool
}

// Guard rejects the operation when the named module is paused. A nil view or
// empty module name disables the check.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}
