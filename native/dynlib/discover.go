package dynlib

import (
	"os"
	"path/filepath"
	"runtime"
)

// EnvLibraryPath overrides library discovery.
const EnvLibraryPath = "TOKENIZERS_LIB_PATH"

// LibraryName returns the platform file name of the engine library.
func LibraryName() string {
	switch runtime.GOOS {
	case "darwin":
		return "libtokenizers_sys.dylib"
	case "windows":
		return "tokenizers_sys.dll"
	default:
		return "libtokenizers_sys.so"
	}
}

// Discover resolves the library path: the environment override first, then
// the executable's directory, then the working directory, and finally the
// bare name so the dynamic loader can search its own paths.
func Discover() string {
	if p := os.Getenv(EnvLibraryPath); p != "" {
		return p
	}

	name := LibraryName()
	var dirs []string
	if exe, err := os.Executable(); err == nil {
		dirs = append(dirs, filepath.Dir(exe))
	}
	if wd, err := os.Getwd(); err == nil {
		dirs = append(dirs, wd)
	}
	for _, dir := range dirs {
		candidate := filepath.Join(dir, name)
		if fi, err := os.Stat(candidate); err == nil && !fi.IsDir() {
			return candidate
		}
	}
	return name
}
