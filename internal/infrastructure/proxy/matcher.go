package proxy

import (
	"strings"
)

// ParseServicePath splits path into the service segment that follows prefix
// and the remainder forwarded upstream. The remainder always starts with "/".
func ParseServicePath(prefix, path string) (service, rest string, ok bool) {
	prefix = strings.TrimRight(prefix, "/")
	if !strings.HasPrefix(path, prefix+"/") {
		return "", "", false
	}

	tail := path[len(prefix)+1:]
	service, rest, found := strings.Cut(tail, "/")
	if service == "" {
		return "", "", false
	}
	if !found {
		return service, "/", true
	}
	return service, "/" + rest, true
}
