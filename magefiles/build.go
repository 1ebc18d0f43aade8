//go:build mage

package main

import (
	"github.com/magefile/mage/mg"
)

type Build mg.Namespace

// Tidies the module and builds the anima-import binary into bin/.
func (Build) CLI() error {
	if err := goTidy(); err != nil {
		return err
	}
	if _, err := executeCmd("go", withArgs("build", "-o", "bin/anima-import", "."), withStream()); err != nil {
		return err
	}
	return nil
}
