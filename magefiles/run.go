//go:build mage

package main

import (
	"fmt"
	"strconv"

	"github.com/magefile/mage/mg"
)

type Run mg.Namespace

// Runs the testbed on the software backend for the given number of frames.
func (Run) Soft(frames int) error {
	return runTestbed("soft", frames)
}

// Runs the testbed on the Vulkan backend for the given number of frames.
// Needs a Vulkan loader and a driver.
func (Run) Vulkan(frames int) error {
	return runTestbed("vulkan", frames)
}

func runTestbed(backend string, frames int) error {
	fmt.Printf("Run testbed on %s...\n", backend)
	_, err := executeCmd("go", withArgs("run", ".", "-backend", backend, "-frames", strconv.Itoa(frames), "-watch=false"), withStream())
	return err
}
