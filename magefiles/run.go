//go:build mage

package main

import (
	"fmt"

	"github.com/magefile/mage/mg"
)

type Test mg.Namespace

// Runs the unit tests with the race detector.
func (Test) Unit() error {
	fmt.Println("Run unit tests...")
	if _, err := executeCmd("go", withArgs("test", "-race", "./..."), withStream()); err != nil {
		return err
	}
	return nil
}

// Runs the unit tests with assertions turned into panics.
func (Test) Debug() error {
	fmt.Println("Run unit tests with the debug tag...")
	if _, err := executeCmd("go", withArgs("test", "-tags", "debug", "./..."), withStream()); err != nil {
		return err
	}
	return nil
}

type Run mg.Namespace

// Imports every asset of the given directory and keeps watching it.
func (Run) Watch(dir string) error {
	mg.Deps(Build.CLI)
	if _, err := executeCmd("bin/anima-import", withArgs("watch", dir), withStream()); err != nil {
		return err
	}
	return nil
}
