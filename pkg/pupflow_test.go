package pupflow_test

import (
	"testing"

	pupflow "github.com/getpup/pupflow/pkg"
)

func TestVersion(t *testing.T) {
	version := pupflow.Version()
	if version == "" {
		t.Error("Version() should return a non-empty string")
	}
}
