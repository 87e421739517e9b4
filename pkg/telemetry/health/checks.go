package health

import (
	"context"
	"errors"
	"fmt"
	"os"
)

// DirectoryCheck fails when dir is missing or not a directory.
func DirectoryCheck(dir string) CheckFunc {
	return func(context.Context) error {
		info, err := os.Stat(dir)
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return fmt.Errorf("%s is not a directory", dir)
		}
		return nil
	}
}

// ExecutableCheck fails when path is missing or not executable. An empty
// path is checked as the running binary.
func ExecutableCheck(path string) CheckFunc {
	return func(context.Context) error {
		target := path
		if target == "" {
			exe, err := os.Executable()
			if err != nil {
				return err
			}
			target = exe
		}
		info, err := os.Stat(target)
		if err != nil {
			return err
		}
		if info.Mode()&0o111 == 0 {
			return fmt.Errorf("%s is not executable", target)
		}
		return nil
	}
}

// ErrNotServing is returned by ServingCheck before the listener is up.
var ErrNotServing = errors.New("listener not accepting connections")

// ServingCheck fails until serving returns true.
func ServingCheck(serving func() bool) CheckFunc {
	return func(context.Context) error {
		if !serving() {
			return ErrNotServing
		}
		return nil
	}
}
