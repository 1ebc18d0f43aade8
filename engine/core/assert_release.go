//go:build !debug

package core

const debugAssertions = false
