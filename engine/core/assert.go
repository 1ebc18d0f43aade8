package core

// Assert reports a broken programming contract. Builds tagged `debug` panic,
// everything else logs the violation and lets the caller handle err.
func Assert(cond bool, err error) error {
	if cond {
		return nil
	}
	if debugAssertions {
		panic(err)
	}
	LogError("assertion failed: %s", err)
	return err
}
