package certs

import "os"

// sep mirrors the separator-concatenation idiom the teacher uses for
// its own certificate/config paths rather than filepath.Join, which
// would clean away the leading "." element; the separator itself is
// the host platform's.
var sep = string(os.PathSeparator)

// DefaultDir returns "./certificates" (with the platform's path
// separator and no trailing one), created if absent, per the
// external-interface default. It panics if the directory cannot be
// created, mirroring the teacher's GetCertsDir: a certificate
// directory we cannot create is not a recoverable condition for a
// peer that requires TLS.
func DefaultDir() (path string) {
	path = "." + sep + "certificates"
	err := os.MkdirAll(path, 0700)
	if err != nil {
		panic(err)
	}
	return path
}
