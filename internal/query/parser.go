// internal/query/parser.go
package query

import (
	"fmt"
	"regexp"

	"github.com/andrewleech/mpy-devices/internal/model"
)

// os.uname() prints its fields as name='value' pairs, but quoting style
// varies across firmware builds. Both forms are tried per field; first
// match wins, and a field that matches neither is simply absent.
var identityPatterns = map[string][]*regexp.Regexp{
	"sysname":  fieldPatterns("sysname"),
	"nodename": fieldPatterns("nodename"),
	"release":  fieldPatterns("release"),
	"version":  fieldPatterns("version"),
	"machine":  fieldPatterns("machine"),
}

func fieldPatterns(field string) []*regexp.Regexp {
	return []*regexp.Regexp{
		regexp.MustCompile(field + `='([^']*)'`),
		regexp.MustCompile(field + `="([^"]*)"`),
	}
}

func extractField(text, field string) *string {
	for _, pattern := range identityPatterns[field] {
		if m := pattern.FindStringSubmatch(text); m != nil {
			value := m[1]
			return &value
		}
	}
	return nil
}

// ParseIdentity parses the textual os.uname() tuple into a typed
// identity. Missing fields degrade to absence rather than failing;
// only input with no recognizable field at all is an error.
func ParseIdentity(raw string) (*model.DeviceIdentity, error) {
	identity := &model.DeviceIdentity{
		Machine:  extractField(raw, "machine"),
		System:   extractField(raw, "sysname"),
		Release:  extractField(raw, "release"),
		Version:  extractField(raw, "version"),
		NodeName: extractField(raw, "nodename"),
	}

	if identity.Machine == nil && identity.System == nil && identity.Release == nil &&
		identity.Version == nil && identity.NodeName == nil {
		return nil, model.NewDeviceError(model.ErrorKindParse, "",
			fmt.Sprintf("not a uname tuple: %q", raw), nil)
	}

	return identity, nil
}
