//go:build windows

package localipc

import "strings"

// pipeNamespacePrefix is the Windows named pipe filesystem namespace.
const pipeNamespacePrefix = `\\.\pipe\`

// resolvePath prepends the pipe namespace prefix if the caller did not
// already supply one. Idempotent: resolvePath(resolvePath(p)) == resolvePath(p).
func resolvePath(path string) (string, error) {
	if path == "" {
		return "", ErrPathIsNil
	}
	if strings.HasPrefix(path, pipeNamespacePrefix) {
		return path, nil
	}
	return pipeNamespacePrefix + path, nil
}
