//go:build debug

package core

const debugAssertions = true
