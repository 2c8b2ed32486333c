// internal/util/names.go
// Validation and encoding helpers shared by the Topic Index and the Lattice
// Engine: topics and namespaces use the same dotted-identifier lexical rules
// (spec.md §3), and both need the "." -> "/" path-form mapping used in Admin
// API URLs.
package util

import "regexp"

// dottedName matches a single dotted identifier segment such as a topic or
// namespace name: "some.topic", "room-42.chat_log".
var dottedName = regexp.MustCompile(`^[A-Za-z0-9_-][A-Za-z0-9_.-]*$`)

// requestIDPattern matches the string form of a client request id.
var requestIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,36}$`)

// ValidName reports whether name is a legal topic or namespace identifier.
func ValidName(name string) bool {
    return name != "" && dottedName.MatchString(name)
}

// ValidRequestIDString reports whether s is a legal string-form request id.
func ValidRequestIDString(s string) bool {
    return requestIDPattern.MatchString(s)
}

// PathForm converts a dotted name to its URL path form ("a.b.c" -> "a/b/c").
func PathForm(name string) string {
    out := make([]byte, len(name))
    for i := 0; i < len(name); i++ {
        if name[i] == '.' {
            out[i] = '/'
        } else {
            out[i] = name[i]
        }
    }
    return string(out)
}

// DottedForm converts a URL path form back to dotted form ("a/b/c" -> "a.b.c").
func DottedForm(path string) string {
    out := make([]byte, len(path))
    for i := 0; i < len(path); i++ {
        if path[i] == '/' {
            out[i] = '.'
        } else {
            out[i] = path[i]
        }
    }
    return string(out)
}
